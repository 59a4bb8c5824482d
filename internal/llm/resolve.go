package llm

// Effort is an enumerated reasoning effort hint. Backends that do not
// support a given level ignore it rather than fail.
type Effort string

const (
	EffortNone   Effort = "none"
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
	EffortXHigh  Effort = "xhigh"
)

// ValidEffort reports whether s is a known effort level or empty.
func ValidEffort(s Effort) bool {
	switch s {
	case "", EffortNone, EffortLow, EffortMedium, EffortHigh, EffortXHigh:
		return true
	}
	return false
}

// Tuning carries per-request model tuning hints.
type Tuning struct {
	ReasoningEffort Effort
}

// ModelOptions is a concrete backend invocation descriptor produced by
// Resolve. The agent loop copies it verbatim onto every Request for the turn.
type ModelOptions struct {
	Provider        string
	Model           string
	Headers         map[string]string
	ProviderOptions map[string]interface{}
	ReasoningEffort Effort
}

// AvailableModel is the public shape of a catalog entry.
type AvailableModel struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Resolve normalizes a logical model id plus tuning into a backend
// invocation descriptor. Unknown ids (including unknown aliases) return
// *UnsupportedModelError.
func Resolve(modelID string, tuning Tuning) (ModelOptions, error) {
	info := GetModelInfo(modelID)
	if info == nil {
		return ModelOptions{}, &UnsupportedModelError{ModelID: modelID}
	}
	if !ValidEffort(tuning.ReasoningEffort) {
		return ModelOptions{}, &ConfigurationError{SDKError: SDKError{
			Message: "unknown reasoning effort " + string(tuning.ReasoningEffort),
		}}
	}

	opts := ModelOptions{
		Provider: info.Provider,
		Model:    info.ID,
	}

	switch info.Provider {
	case "anthropic":
		// Fine-grained tool streaming plus prompt caching; effort is an
		// OpenAI-only knob and is dropped here.
		opts.Headers = map[string]string{
			"anthropic-beta": "fine-grained-tool-streaming-2025-05-14",
		}
		opts.ProviderOptions = map[string]interface{}{
			"cache_control": map[string]interface{}{"type": "ephemeral"},
		}
	case "openai":
		if info.SupportsEffort && tuning.ReasoningEffort != "" {
			opts.ReasoningEffort = tuning.ReasoningEffort
		}
	}

	return opts, nil
}

// ListAvailableModels publishes the supported model set from the static
// catalog. No network call is made.
func ListAvailableModels() []AvailableModel {
	out := make([]AvailableModel, 0, len(Models))
	for _, m := range Models {
		out = append(out, AvailableModel{ID: m.ID, Label: m.DisplayName})
	}
	return out
}
