package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleTextAndToolUse(t *testing.T) {
	var frame []byte
	frame = append(frame, encodeTestFrame(t, "assistantResponseEvent", []byte(`{"content":"hello"}`))...)
	frame = append(frame, encodeTestFrame(t, "toolUseEvent", []byte(`{"toolUseId":"t1","name":"bash","input":"{\"cmd\":\"ls\"}","stop":true}`))...)

	resp, usage := Assemble("msg_nostream", "claude-opus", frame, 5)

	require.Len(t, resp.Content, 2)
	assert.Equal(t, "text", resp.Content[0].Type)
	assert.Equal(t, "hello", resp.Content[0].Text)
	assert.Equal(t, "tool_use", resp.Content[1].Type)
	assert.Equal(t, "t1", resp.Content[1].ID)
	assert.Equal(t, "tool_use", resp.StopReason)
	assert.Equal(t, "tool_use", usage.StopReason)
}

func TestAssembleMalformedToolJSONFallsBackToEmptyObject(t *testing.T) {
	frame := encodeTestFrame(t, "toolUseEvent", []byte(`{"toolUseId":"t1","name":"bash","input":"not json","stop":true}`))

	resp, _ := Assemble("msg_bad", "claude-opus", frame, 5)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, map[string]any{}, resp.Content[0].Input)
}
