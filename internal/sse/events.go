// Package sse translates decoded upstream events into an Anthropic-style
// Messages API SSE sequence, in both incremental and buffered delivery
// modes, and assembles the equivalent non-streaming JSON response.
package sse

// Usage mirrors the Anthropic usage object.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ContentBlock is a single block of the assembled (non-streaming) message.
type ContentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// MessageStartPayload is the "message" object nested in a message_start event.
type MessageStartPayload struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Event is one SSE frame: an event name plus its JSON-serializable payload.
type Event struct {
	Name string
	Data any
}

type messageStartEvent struct {
	Type    string              `json:"type"`
	Message MessageStartPayload `json:"message"`
}

type contentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type textDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type inputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type contentBlockDeltaEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

type contentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaInner struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageDeltaEvent struct {
	Type  string            `json:"type"`
	Delta messageDeltaInner `json:"delta"`
	Usage Usage             `json:"usage"`
}

type messageStopEvent struct {
	Type string `json:"type"`
}

type pingEvent struct {
	Type string `json:"type"`
}

// Ping is the keep-alive event both modes emit on their timer.
func Ping() Event {
	return Event{Name: "ping", Data: pingEvent{Type: "ping"}}
}
