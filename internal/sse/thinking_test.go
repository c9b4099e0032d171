package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestOverrideThinkingIgnoresPlainModel(t *testing.T) {
	body := []byte(`{"model":"claude-opus-4-6"}`)
	out, err := OverrideThinkingFromModelName(body, "claude-opus-4-6")
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestOverrideThinkingOpus46GetsAdaptive(t *testing.T) {
	body := []byte(`{"model":"claude-opus-4-6-thinking"}`)
	out, err := OverrideThinkingFromModelName(body, "claude-opus-4-6-thinking")
	require.NoError(t, err)

	assert.Equal(t, "adaptive", gjson.GetBytes(out, "thinking.type").String())
	assert.Equal(t, int64(20000), gjson.GetBytes(out, "thinking.budget_tokens").Int())
	assert.Equal(t, "high", gjson.GetBytes(out, "output_config.effort").String())
}

func TestOverrideThinkingOtherModelGetsEnabled(t *testing.T) {
	body := []byte(`{"model":"claude-sonnet-4-thinking"}`)
	out, err := OverrideThinkingFromModelName(body, "claude-sonnet-4-thinking")
	require.NoError(t, err)

	assert.Equal(t, "enabled", gjson.GetBytes(out, "thinking.type").String())
	assert.Equal(t, int64(20000), gjson.GetBytes(out, "thinking.budget_tokens").Int())
	assert.False(t, gjson.GetBytes(out, "output_config.effort").Exists())
}
