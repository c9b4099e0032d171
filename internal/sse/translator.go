package sse

import (
	"strings"

	"kiro-gateway/internal/eventstream"
	"kiro-gateway/internal/tokencount"
)

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// Translator holds the running state of one response's translation from
// decoded upstream events into the Anthropic-style SSE sequence. One
// Translator is used per request, streaming or non-streaming alike.
type Translator struct {
	messageID string
	model     string

	started    bool
	nextIndex  int
	openBlock  blockKind
	openToolID string

	text        strings.Builder
	toolOrder   []string
	toolBuffers map[string]*strings.Builder
	toolNames   map[string]string

	sawToolUse           bool
	contextWindowExceed  bool
	hasException         bool
	exceptionStopReason  string
	contextUsageTokens   int
	contextUsageReported bool

	inputTokensEstimate int
}

// NewTranslator starts a translator for one response.
func NewTranslator(messageID, model string, inputTokensEstimate int) *Translator {
	return &Translator{
		messageID:           messageID,
		model:               model,
		toolBuffers:         map[string]*strings.Builder{},
		toolNames:           map[string]string{},
		inputTokensEstimate: inputTokensEstimate,
	}
}

// Translate processes one decoded upstream event and returns the SSE events
// it produces immediately. ContextUsage and Exception events produce no
// immediate output; they only influence Finalize.
func (t *Translator) Translate(ev eventstream.Event) []Event {
	switch ev.Kind {
	case eventstream.KindAssistantResponse:
		return t.onAssistantResponse(ev.Content)
	case eventstream.KindToolUse:
		return t.onToolUse(ev)
	case eventstream.KindContextUsage:
		t.contextUsageTokens = tokencount.FromContextUsagePercentage(ev.ContextUsagePercentage)
		t.contextUsageReported = true
		if ev.ContextUsagePercentage >= 100 {
			t.contextWindowExceed = true
		}
		return nil
	case eventstream.KindException:
		t.hasException = true
		if ev.ExceptionType == "ContentLengthExceededException" {
			t.exceptionStopReason = "max_tokens"
		} else {
			t.exceptionStopReason = "error"
		}
		return nil
	default:
		return nil
	}
}

func (t *Translator) onAssistantResponse(content string) []Event {
	var out []Event
	if t.openBlock == blockTool {
		out = append(out, t.closeBlock())
	}
	if t.openBlock == blockNone {
		out = append(out, t.ensureStarted()...)
		out = append(out, t.openTextBlock())
	}
	t.text.WriteString(content)
	out = append(out, Event{Name: "content_block_delta", Data: contentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: t.nextIndex - 1,
		Delta: textDelta{Type: "text_delta", Text: content},
	}})
	return out
}

func (t *Translator) onToolUse(ev eventstream.Event) []Event {
	var out []Event
	isNewTool := t.openToolID != ev.ToolUseID || t.openBlock != blockTool
	if isNewTool {
		if t.openBlock != blockNone {
			out = append(out, t.closeBlock())
		}
		out = append(out, t.ensureStarted()...)
		out = append(out, t.openToolBlock(ev.ToolUseID, ev.ToolName))
	}

	if ev.ToolInput != "" {
		buf := t.toolBuffers[ev.ToolUseID]
		buf.WriteString(ev.ToolInput)
		out = append(out, Event{Name: "content_block_delta", Data: contentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: t.nextIndex - 1,
			Delta: inputJSONDelta{Type: "input_json_delta", PartialJSON: ev.ToolInput},
		}})
	}

	if ev.ToolStop {
		t.sawToolUse = true
		out = append(out, t.closeBlock())
	}
	return out
}

func (t *Translator) ensureStarted() []Event {
	if t.started {
		return nil
	}
	t.started = true
	return []Event{{Name: "message_start", Data: messageStartEvent{
		Type: "message_start",
		Message: MessageStartPayload{
			ID:      t.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []ContentBlock{},
			Usage:   Usage{InputTokens: t.currentInputTokens()},
		},
	}}}
}

func (t *Translator) currentInputTokens() int {
	if t.contextUsageReported {
		return t.contextUsageTokens
	}
	return t.inputTokensEstimate
}

func (t *Translator) openTextBlock() Event {
	idx := t.nextIndex
	t.nextIndex++
	t.openBlock = blockText
	return Event{Name: "content_block_start", Data: contentBlockStartEvent{
		Type:         "content_block_start",
		Index:        idx,
		ContentBlock: ContentBlock{Type: "text", Text: ""},
	}}
}

func (t *Translator) openToolBlock(toolUseID, name string) Event {
	idx := t.nextIndex
	t.nextIndex++
	t.openBlock = blockTool
	t.openToolID = toolUseID
	t.toolOrder = append(t.toolOrder, toolUseID)
	t.toolBuffers[toolUseID] = &strings.Builder{}
	t.toolNames[toolUseID] = name
	return Event{Name: "content_block_start", Data: contentBlockStartEvent{
		Type:  "content_block_start",
		Index: idx,
		ContentBlock: ContentBlock{
			Type:  "tool_use",
			ID:    toolUseID,
			Name:  name,
			Input: map[string]any{},
		},
	}}
}

func (t *Translator) closeBlock() Event {
	idx := t.nextIndex - 1
	t.openBlock = blockNone
	t.openToolID = ""
	return Event{Name: "content_block_stop", Data: contentBlockStopEvent{Type: "content_block_stop", Index: idx}}
}

// StopReason applies the fixed precedence: explicit exception > context
// window exceeded > tool_use (if any tool block was emitted) > end_turn.
func (t *Translator) StopReason() string {
	switch {
	case t.hasException:
		return t.exceptionStopReason
	case t.contextWindowExceed:
		return "model_context_window_exceeded"
	case t.sawToolUse:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// InputTokens returns the final input token count: upstream's reported
// figure if ContextUsage was ever seen, else the local estimate.
func (t *Translator) InputTokens() int {
	return t.currentInputTokens()
}

// TokenSource labels which figure InputTokens used.
func (t *Translator) TokenSource() string {
	if t.contextUsageReported {
		return "upstream(contextUsageEvent)"
	}
	return "local(estimate)"
}

// OutputTokens estimates output tokens from the assembled text and tool-use
// JSON content.
func (t *Translator) OutputTokens() int {
	parts := []string{t.text.String()}
	for _, id := range t.toolOrder {
		parts = append(parts, t.toolBuffers[id].String())
	}
	return tokencount.EstimateTokensMulti(parts...)
}

// Finalize closes any still-open content block and returns the closing
// message_delta/message_stop pair. Safe to call exactly once at stream end.
func (t *Translator) Finalize() []Event {
	var out []Event
	if t.openBlock != blockNone {
		out = append(out, t.closeBlock())
	}
	if !t.started {
		out = append(out, t.ensureStarted()...)
	}
	reason := t.StopReason()
	out = append(out, Event{Name: "message_delta", Data: messageDeltaEvent{
		Type:  "message_delta",
		Delta: messageDeltaInner{StopReason: &reason},
		Usage: Usage{InputTokens: t.InputTokens(), OutputTokens: t.OutputTokens()},
	}})
	out = append(out, Event{Name: "message_stop", Data: messageStopEvent{Type: "message_stop"}})
	return out
}

// AssembledContentBlocks renders the final content blocks for non-streaming
// responses, parsing each tool-use buffer as JSON and falling back to an
// empty object on parse failure.
func (t *Translator) AssembledContentBlocks(parseJSON func(string) (any, bool)) []ContentBlock {
	var blocks []ContentBlock
	if t.text.Len() > 0 {
		blocks = append(blocks, ContentBlock{Type: "text", Text: t.text.String()})
	}
	for _, id := range t.toolOrder {
		raw := t.toolBuffers[id].String()
		input, ok := parseJSON(raw)
		if !ok {
			input = map[string]any{}
		}
		blocks = append(blocks, ContentBlock{
			Type:  "tool_use",
			ID:    id,
			Name:  t.toolNames[id],
			Input: input,
		})
	}
	return blocks
}
