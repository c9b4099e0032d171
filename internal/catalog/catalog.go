// Package catalog is the static list of model ids the gateway exposes via
// GET /v1/models, matching the naming the thinking-override logic already
// recognizes (the opus-4-6 family).
package catalog

// Model is one entry in the GET /v1/models response.
type Model struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	MaxTokens   int    `json:"max_tokens"`
}

// createdAt is a fixed epoch for every static entry: there is no per-model
// release timestamp to report, and a stable value keeps responses
// deterministic across restarts.
const createdAt int64 = 1735689600

// Models is the full exposed catalog, priority/recency ordered.
var Models = []Model{
	{ID: "claude-opus-4-6", Object: "model", Created: createdAt, OwnedBy: "anthropic", DisplayName: "Claude Opus 4.6", Type: "text", MaxTokens: 8192},
	{ID: "claude-opus-4-6-thinking", Object: "model", Created: createdAt, OwnedBy: "anthropic", DisplayName: "Claude Opus 4.6 (Thinking)", Type: "text", MaxTokens: 8192},
	{ID: "claude-sonnet-4-5", Object: "model", Created: createdAt, OwnedBy: "anthropic", DisplayName: "Claude Sonnet 4.5", Type: "text", MaxTokens: 8192},
	{ID: "claude-sonnet-4-5-thinking", Object: "model", Created: createdAt, OwnedBy: "anthropic", DisplayName: "Claude Sonnet 4.5 (Thinking)", Type: "text", MaxTokens: 8192},
	{ID: "claude-haiku-4-5", Object: "model", Created: createdAt, OwnedBy: "anthropic", DisplayName: "Claude Haiku 4.5", Type: "text", MaxTokens: 8192},
}

// ByID finds a model by id, reporting whether it is in the exposed catalog.
func ByID(id string) (Model, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
