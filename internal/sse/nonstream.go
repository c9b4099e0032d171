package sse

import (
	"encoding/json"

	"kiro-gateway/internal/eventstream"
)

// Response is the assembled body for a non-streaming POST /v1/messages call.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Assemble decodes a full (non-chunked) upstream event-stream body in one
// pass and builds the equivalent non-streaming Anthropic-style response.
// It reports the resulting FinalUsage so the caller can record it exactly
// once, mirroring the streaming paths.
func Assemble(messageID, model string, upstreamBody []byte, inputTokensEstimate int) (Response, FinalUsage) {
	tr := NewTranslator(messageID, model, inputTokensEstimate)

	decoder := eventstream.NewDecoder()
	_ = decoder.Feed(upstreamBody)
	frames, _ := decoder.Decode()
	for _, f := range frames {
		tr.Translate(eventstream.FromFrame(f))
	}

	blocks := tr.AssembledContentBlocks(func(raw string) (any, bool) {
		if raw == "" {
			return map[string]any{}, true
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, false
		}
		return v, true
	})

	resp := Response{
		ID:         messageID,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      model,
		StopReason: tr.StopReason(),
		Usage:      Usage{InputTokens: tr.InputTokens(), OutputTokens: tr.OutputTokens()},
	}

	usage := FinalUsage{
		InputTokens:  tr.InputTokens(),
		OutputTokens: tr.OutputTokens(),
		TokenSource:  tr.TokenSource(),
		StopReason:   tr.StopReason(),
	}
	return resp, usage
}
