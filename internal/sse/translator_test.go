package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kiro-gateway/internal/eventstream"
)

func eventNames(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

func TestTranslatorTextOnly(t *testing.T) {
	tr := NewTranslator("msg_1", "claude-opus", 10)

	out := tr.Translate(eventstream.Event{Kind: eventstream.KindAssistantResponse, Content: "hi "})
	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta"}, eventNames(out))

	out = tr.Translate(eventstream.Event{Kind: eventstream.KindAssistantResponse, Content: "there"})
	assert.Equal(t, []string{"content_block_delta"}, eventNames(out))

	final := tr.Finalize()
	require.Len(t, final, 3) // content_block_stop, message_delta, message_stop
	assert.Equal(t, "content_block_stop", final[0].Name)
	assert.Equal(t, "message_delta", final[1].Name)
	assert.Equal(t, "message_stop", final[2].Name)
	assert.Equal(t, "end_turn", tr.StopReason())
}

func TestTranslatorToolUse(t *testing.T) {
	tr := NewTranslator("msg_2", "claude-opus", 10)

	out := tr.Translate(eventstream.Event{Kind: eventstream.KindToolUse, ToolUseID: "t1", ToolName: "bash", ToolInput: `{"cmd":`})
	assert.Equal(t, []string{"message_start", "content_block_start", "content_block_delta"}, eventNames(out))

	out = tr.Translate(eventstream.Event{Kind: eventstream.KindToolUse, ToolUseID: "t1", ToolInput: `"ls"}`, ToolStop: true})
	assert.Equal(t, []string{"content_block_delta", "content_block_stop"}, eventNames(out))

	assert.True(t, tr.sawToolUse)
	assert.Equal(t, "tool_use", tr.StopReason())
}

func TestTranslatorStopReasonPrecedence(t *testing.T) {
	tr := NewTranslator("msg_3", "claude-opus", 10)
	tr.Translate(eventstream.Event{Kind: eventstream.KindToolUse, ToolUseID: "t1", ToolStop: true})
	tr.Translate(eventstream.Event{Kind: eventstream.KindContextUsage, ContextUsagePercentage: 100})
	tr.Translate(eventstream.Event{Kind: eventstream.KindException, ExceptionType: "ContentLengthExceededException"})

	// exception beats context-window-exceeded beats tool_use
	assert.Equal(t, "max_tokens", tr.StopReason())
}

func TestTranslatorContextWindowExceededBeatsToolUse(t *testing.T) {
	tr := NewTranslator("msg_4", "claude-opus", 10)
	tr.Translate(eventstream.Event{Kind: eventstream.KindToolUse, ToolUseID: "t1", ToolStop: true})
	tr.Translate(eventstream.Event{Kind: eventstream.KindContextUsage, ContextUsagePercentage: 100})

	assert.Equal(t, "model_context_window_exceeded", tr.StopReason())
}

func TestTranslatorUsesUpstreamInputTokensWhenReported(t *testing.T) {
	tr := NewTranslator("msg_5", "claude-opus", 999)
	tr.Translate(eventstream.Event{Kind: eventstream.KindContextUsage, ContextUsagePercentage: 50})

	assert.Equal(t, 100000, tr.InputTokens())
	assert.Equal(t, "upstream(contextUsageEvent)", tr.TokenSource())
}

func TestTranslatorFallsBackToEstimate(t *testing.T) {
	tr := NewTranslator("msg_6", "claude-opus", 42)
	assert.Equal(t, 42, tr.InputTokens())
	assert.Equal(t, "local(estimate)", tr.TokenSource())
}
