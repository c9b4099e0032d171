// Package upstream builds and dispatches requests to the upstream Kiro
// provider: wrapping the client's Anthropic-shaped body in Kiro's
// conversationState envelope, attaching the AWS event-stream binary
// response, and failing over across eligible credentials on transient
// errors.
package upstream

import (
	"fmt"

	"kiro-gateway/internal/credential"
	"kiro-gateway/internal/sse"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	endpointTemplate = "https://q.%s.amazonaws.com"
	contentType      = "application/x-amz-json-1.0"
	amzTarget        = "AmazonCodeWhispererStreamingService.GenerateAssistantResponse"
)

// Endpoint returns the regional Kiro streaming endpoint.
func Endpoint(apiRegion string) string {
	return fmt.Sprintf(endpointTemplate, apiRegion)
}

// BuildPayload wraps the client's Anthropic-format request body (with
// "stream" stripped and any thinking-model override applied) in Kiro's
// conversationState envelope, attaching the credential's profile ARN when
// present. origin is "AI_EDITOR" tried first, falling back to "CLI" on a
// 429 response.
func BuildPayload(anthropicBody []byte, cred *credential.Credential, origin string) ([]byte, error) {
	body, err := sjson.DeleteBytes(anthropicBody, "stream")
	if err != nil {
		return nil, fmt.Errorf("strip stream flag: %w", err)
	}

	model := gjson.GetBytes(body, "model").String()
	body, err = sse.OverrideThinkingFromModelName(body, model)
	if err != nil {
		return nil, fmt.Errorf("apply thinking override: %w", err)
	}

	if origin == "" {
		origin = "AI_EDITOR"
	}

	envelope := map[string]any{
		"conversationState": map[string]any{
			"currentMessage":  gjson.ParseBytes(body).Value(),
			"chatTriggerType": "MANUAL",
		},
		"source": "FeatureDev",
		"origin": origin,
	}

	cp := cred.Clone()
	if cp.ProfileARN != "" {
		envelope["profileArn"] = cp.ProfileARN
	}

	return sjson.SetBytes(nil, "", envelope)
}
