package llm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                string   `json:"id"`
	Provider          string   `json:"provider"`
	DisplayName       string   `json:"display_name"`
	ContextWindow     int      `json:"context_window"`
	MaxOutput         int      `json:"max_output"`
	SupportsReasoning bool     `json:"supports_reasoning"`
	SupportsEffort    bool     `json:"supports_effort"`
	Aliases           []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog. The service never calls a backend's
// models endpoint; the supported set is published from here.
var Models = []ModelInfo{
	{
		ID: "claude-opus-4-5-20251101", Provider: "anthropic", DisplayName: "Claude Opus 4.5",
		ContextWindow: 200000, MaxOutput: 32768,
		SupportsReasoning: true,
		// Back-compat for previously stored gateway-style ids.
		Aliases: []string{"anthropic/claude-opus-4.5", "anthropic/claude-opus-4"},
	},
	{
		ID: "claude-sonnet-4-5-20250929", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		SupportsReasoning: true,
		Aliases:           []string{"anthropic/claude-sonnet-4.5"},
	},
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, MaxOutput: 32768,
		SupportsReasoning: true, SupportsEffort: true,
		Aliases: []string{"openai/gpt-5.2"},
	},
	{
		ID: "gpt-5.2-mini", Provider: "openai", DisplayName: "GPT-5.2 Mini",
		ContextWindow: 1047576, MaxOutput: 16384,
		SupportsReasoning: true, SupportsEffort: true,
	},
}

// DefaultModelID is used when a turn request does not name a model.
const DefaultModelID = "claude-opus-4-5-20251101"

// GetModelInfo returns the catalog entry for a model id or alias, or nil if
// unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ListModels returns all known models, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		result := make([]ModelInfo, len(Models))
		copy(result, Models)
		return result
	}
	var result []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			result = append(result, m)
		}
	}
	return result
}
