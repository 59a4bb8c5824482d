package llm

import (
	"errors"
	"testing"
)

func TestResolveAnthropic(t *testing.T) {
	opts, err := Resolve("claude-opus-4-5-20251101", Tuning{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", opts.Provider)
	}
	if opts.Headers["anthropic-beta"] != "fine-grained-tool-streaming-2025-05-14" {
		t.Errorf("missing fine-grained streaming beta header, got %v", opts.Headers)
	}
	if opts.ProviderOptions["cache_control"] == nil {
		t.Error("expected ephemeral cache_control in provider options")
	}
}

func TestResolveAnthropicDropsEffort(t *testing.T) {
	opts, err := Resolve("claude-sonnet-4-5-20250929", Tuning{ReasoningEffort: EffortHigh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ReasoningEffort != "" {
		t.Errorf("effort should not propagate to anthropic, got %q", opts.ReasoningEffort)
	}
}

func TestResolveOpenAIEffort(t *testing.T) {
	opts, err := Resolve("gpt-5.2", Tuning{ReasoningEffort: EffortXHigh})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ReasoningEffort != EffortXHigh {
		t.Errorf("expected effort xhigh, got %q", opts.ReasoningEffort)
	}
}

func TestResolveAlias(t *testing.T) {
	opts, err := Resolve("openai/gpt-5.2", Tuning{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Model != "gpt-5.2" {
		t.Errorf("alias should normalize to canonical id, got %s", opts.Model)
	}
}

func TestResolveUnsupportedModel(t *testing.T) {
	_, err := Resolve("claude-1", Tuning{})
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	var unsupported *UnsupportedModelError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedModelError, got %T", err)
	}
	if unsupported.ModelID != "claude-1" {
		t.Errorf("expected model id in error, got %q", unsupported.ModelID)
	}
}

func TestResolveInvalidEffort(t *testing.T) {
	_, err := Resolve("gpt-5.2", Tuning{ReasoningEffort: "maximum"})
	if err == nil {
		t.Fatal("expected error for unknown effort level")
	}
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected *ConfigurationError, got %T", err)
	}
}

func TestListAvailableModels(t *testing.T) {
	models := ListAvailableModels()
	if len(models) != len(Models) {
		t.Fatalf("expected %d models, got %d", len(Models), len(models))
	}
	for _, m := range models {
		if m.ID == "" || m.Label == "" {
			t.Errorf("model entry missing fields: %+v", m)
		}
	}
}
