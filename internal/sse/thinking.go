package sse

import (
	"strings"

	"github.com/tidwall/sjson"
)

// isOpus46 reports whether a model name belongs to the Opus 4.6 family,
// which gets adaptive-mode thinking instead of plain enabled-mode.
func isOpus46(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "opus-4-6") || strings.Contains(lower, "opus-4.6")
}

// OverrideThinkingFromModelName rewrites the request payload's thinking
// configuration when the model name itself signals a thinking-enabled
// variant. Opus 4.6-family models get adaptive thinking; every other
// thinking-suffixed model gets plain enabled thinking. Both get a 20000
// token budget. Opus 4.6 additionally gets output_config.effort="high".
func OverrideThinkingFromModelName(body []byte, model string) ([]byte, error) {
	if !strings.Contains(strings.ToLower(model), "thinking") {
		return body, nil
	}

	thinkingType := "enabled"
	if isOpus46(model) {
		thinkingType = "adaptive"
	}

	out, err := sjson.SetBytes(body, "thinking.type", thinkingType)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetBytes(out, "thinking.budget_tokens", 20000)
	if err != nil {
		return nil, err
	}

	if isOpus46(model) {
		out, err = sjson.SetBytes(out, "output_config.effort", "high")
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
