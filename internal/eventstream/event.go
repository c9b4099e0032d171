package eventstream

import "github.com/tidwall/gjson"

// EventKind discriminates the typed upstream events this gateway understands.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindAssistantResponse
	KindToolUse
	KindContextUsage
	KindException
)

// Event is the typed form of a decoded Frame.
type Event struct {
	Kind EventKind

	// KindAssistantResponse
	Content string

	// KindToolUse
	ToolUseID string
	ToolName  string
	ToolInput string
	ToolStop  bool

	// KindContextUsage
	ContextUsagePercentage float64

	// KindException
	ExceptionType string
}

// FromFrame classifies a decoded frame by its ":event-type" header and
// extracts the fields this gateway cares about from the JSON payload.
// Anything not recognized decodes to KindUnknown and is safely ignored by
// the SSE emitter.
func FromFrame(f Frame) Event {
	switch f.EventType {
	case "assistantResponseEvent":
		return Event{Kind: KindAssistantResponse, Content: gjson.GetBytes(f.Payload, "content").String()}
	case "toolUseEvent":
		return Event{
			Kind:      KindToolUse,
			ToolUseID: gjson.GetBytes(f.Payload, "toolUseId").String(),
			ToolName:  gjson.GetBytes(f.Payload, "name").String(),
			ToolInput: gjson.GetBytes(f.Payload, "input").String(),
			ToolStop:  gjson.GetBytes(f.Payload, "stop").Bool(),
		}
	case "contextUsageEvent", "supplementaryWebLinksEvent":
		if pct := gjson.GetBytes(f.Payload, "contextUsagePercentage"); pct.Exists() {
			return Event{Kind: KindContextUsage, ContextUsagePercentage: pct.Float()}
		}
		return Event{Kind: KindUnknown}
	case "error", "exception", "invalidStateEvent":
		return Event{Kind: KindException, ExceptionType: gjson.GetBytes(f.Payload, "exceptionType").String()}
	default:
		return Event{Kind: KindUnknown}
	}
}
