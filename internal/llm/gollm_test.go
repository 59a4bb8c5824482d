package llm

import (
	"errors"
	"testing"
)

func TestParseToolCallsFromText(t *testing.T) {
	text := `I'll create the sandbox now. [{"name": "create_sandbox", "arguments": {"timeout": 1200000}}]`
	calls := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "create_sandbox" {
		t.Errorf("unexpected name: %s", calls[0].Name)
	}
	if calls[0].ID == "" {
		t.Error("expected generated call id")
	}

	cleaned := stripToolCallJSON(text, calls)
	if cleaned != "I'll create the sandbox now." {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}
}

func TestParseToolCallsNone(t *testing.T) {
	if calls := parseToolCalls("just a plain answer"); calls != nil {
		t.Errorf("expected nil, got %v", calls)
	}
}

func TestParseToolCallsMalformed(t *testing.T) {
	if calls := parseToolCalls(`[{"name": "broken`); calls != nil {
		t.Errorf("malformed JSON should yield no calls, got %v", calls)
	}
}

func TestTranslateErrorClassification(t *testing.T) {
	a := &GollmAdapter{provider: "anthropic"}

	cases := []struct {
		raw       string
		retryable bool
		check     func(error) bool
	}{
		{"API error 401 unauthorized", false, func(err error) bool {
			var e *AuthenticationError
			return errors.As(err, &e)
		}},
		{"rate limit exceeded", true, func(err error) bool {
			var e *RateLimitError
			return errors.As(err, &e)
		}},
		{"prompt exceeds context length", false, func(err error) bool {
			var e *ContextLengthError
			return errors.As(err, &e)
		}},
		{"API error 500 internal server error", true, func(err error) bool {
			var e *ServerError
			return errors.As(err, &e)
		}},
		{"request timeout after 60s", true, func(err error) bool {
			var e *RequestTimeoutError
			return errors.As(err, &e)
		}},
		{"something inexplicable", true, func(err error) bool {
			var e *ProviderError
			return errors.As(err, &e)
		}},
	}

	for _, tc := range cases {
		got := a.translateError(errors.New(tc.raw))
		if !tc.check(got) {
			t.Errorf("%q: wrong error type %T", tc.raw, got)
		}
		if IsRetryable(got) != tc.retryable {
			t.Errorf("%q: IsRetryable = %v, want %v", tc.raw, IsRetryable(got), tc.retryable)
		}
	}
}

func TestOptionSetIsolation(t *testing.T) {
	a := &GollmAdapter{provider: "anthropic", model: "claude-opus-4-5-20251101", maxTokens: 8192}

	// A request with its own limits selects a distinct option set.
	limit := 64000
	model, maxTokens, effort := a.optionSet(Request{MaxTokens: &limit, ReasoningEffort: EffortLow})
	if maxTokens != 64000 || effort != "low" {
		t.Errorf("request overrides not applied: maxTokens=%d effort=%q", maxTokens, effort)
	}
	overridden := optionKey(model, maxTokens, effort)

	// A following request without overrides falls back to the defaults; the
	// previous request's settings must not carry over.
	model, maxTokens, effort = a.optionSet(Request{})
	if model != "claude-opus-4-5-20251101" || maxTokens != 8192 || effort != "" {
		t.Errorf("defaults not restored: model=%q maxTokens=%d effort=%q", model, maxTokens, effort)
	}
	if optionKey(model, maxTokens, effort) == overridden {
		t.Error("default and overridden requests must map to different option sets")
	}

	// EffortNone behaves like the unset default.
	if _, _, effort = a.optionSet(Request{ReasoningEffort: EffortNone}); effort != "" {
		t.Errorf("EffortNone should select the default set, got %q", effort)
	}
}

func TestTranslateErrorNil(t *testing.T) {
	a := &GollmAdapter{provider: "openai"}
	if err := a.translateError(nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
