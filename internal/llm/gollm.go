package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmAdapter implements ProviderAdapter on top of gollm. Request-level
// parameters (model, max tokens, reasoning effort) select a cached gollm.LLM
// instance configured for exactly that option set; instances are never
// mutated after creation, so concurrent streams cannot race on shared option
// state and one request's settings cannot leak into the next.
type GollmAdapter struct {
	provider  string
	model     string
	apiKey    string
	maxTokens int
	extra     []gollm.ConfigOption

	mu   sync.Mutex
	llms map[string]gollm.LLM // keyed by option-set signature
}

// GollmOption configures a GollmAdapter.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey    string
	model     string
	maxTokens int
	extra     []gollm.ConfigOption
}

// WithAPIKey sets the API key for the adapter.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model for the adapter.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithGollmOptions adds extra gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extra = append(c.extra, opts...) }
}

// NewGollmAdapter creates an adapter for the given provider. If apiKey is
// empty, gollm reads it from the provider's environment variable.
func NewGollmAdapter(provider, apiKey string, opts ...GollmOption) (*GollmAdapter, error) {
	cfg := &gollmConfig{apiKey: apiKey, maxTokens: 8192}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		for _, m := range Models {
			if m.Provider == provider {
				model = m.ID
				break
			}
		}
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no catalog model for provider %q", provider),
		}}
	}

	a := &GollmAdapter{
		provider:  provider,
		model:     model,
		apiKey:    cfg.apiKey,
		maxTokens: cfg.maxTokens,
		extra:     cfg.extra,
		llms:      make(map[string]gollm.LLM),
	}

	// Build the default instance eagerly so misconfiguration surfaces at
	// startup, not on the first turn.
	inner, err := a.newLLM(model, cfg.maxTokens, "")
	if err != nil {
		return nil, err
	}
	a.llms[optionKey(model, cfg.maxTokens, "")] = inner

	return a, nil
}

func optionKey(model string, maxTokens int, effort string) string {
	return fmt.Sprintf("%s/%d/%s", model, maxTokens, effort)
}

func (a *GollmAdapter) newLLM(model string, maxTokens int, effort string) (gollm.LLM, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(a.provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(maxTokens),
		gollm.SetMaxRetries(0), // retries are handled a level up
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if a.apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(a.apiKey))
	}
	opts = append(opts, a.extra...)

	inner, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create gollm LLM for provider %s: %w", a.provider, err)
	}
	if effort != "" {
		inner.SetOption("reasoning_effort", effort)
	}
	return inner, nil
}

// optionSet resolves the request-level parameters against the adapter's
// defaults. A request that omits a parameter always falls back to the
// default, never to whatever a previous request used.
func (a *GollmAdapter) optionSet(req Request) (model string, maxTokens int, effort string) {
	model = a.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens = a.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if req.ReasoningEffort != "" && req.ReasoningEffort != EffortNone {
		effort = string(req.ReasoningEffort)
	}
	return model, maxTokens, effort
}

// llmFor returns the instance configured for the request's option set,
// creating and caching it on first use.
func (a *GollmAdapter) llmFor(req Request) (gollm.LLM, error) {
	model, maxTokens, effort := a.optionSet(req)
	key := optionKey(model, maxTokens, effort)

	a.mu.Lock()
	defer a.mu.Unlock()
	if inner, ok := a.llms[key]; ok {
		return inner, nil
	}
	inner, err := a.newLLM(model, maxTokens, effort)
	if err != nil {
		return nil, err
	}
	a.llms[key] = inner
	return inner, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string { return a.provider }

// Complete sends a blocking request and returns the full response.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	inner, err := a.llmFor(req)
	if err != nil {
		return nil, err
	}
	prompt := a.translateRequest(req)

	text, err := inner.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// Stream sends a streaming request and returns a channel of StreamEvents.
// Tool calls surface in the terminal finish event's Response; text arrives
// as deltas.
func (a *GollmAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	inner, err := a.llmFor(req)
	if err != nil {
		return nil, err
	}
	prompt := a.translateRequest(req)

	ch := make(chan StreamEvent, 64)

	if !inner.SupportsStreaming() {
		go func() {
			defer close(ch)
			ch <- StreamEvent{Type: StreamStart}

			text, err := inner.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}

			resp := a.buildResponse(req, text)
			if t := resp.Text(); t != "" {
				ch <- StreamEvent{Type: TextDelta, Delta: t}
			}
			for _, tc := range resp.ToolCalls() {
				call := tc
				ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &call}
			}
			ch <- StreamEvent{
				Type:         StreamFinish,
				FinishReason: &resp.FinishReason,
				Usage:        &resp.Usage,
				Response:     resp,
			}
		}()
		return ch, nil
	}

	stream, err := inner.Stream(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		ch <- StreamEvent{Type: StreamStart}

		var fullText strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: a.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			ch <- StreamEvent{Type: TextDelta, Delta: token.Text}
			fullText.WriteString(token.Text)
		}

		resp := a.buildResponse(req, fullText.String())
		for _, tc := range resp.ToolCalls() {
			call := tc
			ch <- StreamEvent{Type: ToolCallEnd, ToolCall: &call}
		}
		ch <- StreamEvent{
			Type:         StreamFinish,
			FinishReason: &resp.FinishReason,
			Usage:        &resp.Usage,
			Response:     resp,
		}
	}()

	return ch, nil
}

// translateRequest converts a Request into a gollm Prompt.
func (a *GollmAdapter) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			systemPrompt += msg.TextContent() + "\n"
		case RoleUser:
			userParts = append(userParts, msg.TextContent())
		case RoleAssistant:
			if text := msg.TextContent(); text != "" {
				userParts = append(userParts, "[Assistant]: "+text)
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind == PartToolResult && part.ToolResult != nil {
					prefix := "[Tool Result]"
					if part.ToolResult.IsError {
						prefix = "[Tool Error]"
					}
					userParts = append(userParts, prefix+": "+part.ToolResult.Content)
				}
			}
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	var promptOpts []gollm.PromptOption
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.ToolDefs) > 0 {
		tools := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != nil {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice.Mode))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

// buildResponse constructs a Response from generated text, extracting any
// embedded tool call JSON.
func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	var content []Part
	toolCalls := parseToolCalls(text)
	if cleaned := stripToolCallJSON(text, toolCalls); cleaned != "" {
		content = append(content, TextPart(cleaned))
	}
	for _, tc := range toolCalls {
		content = append(content, Part{Kind: PartToolCall, ToolCall: &tc})
	}
	if len(content) == 0 {
		content = []Part{TextPart(text)}
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(toolCalls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	inTokens := estimateTokens(req)
	outTokens := len(text) / 4
	return &Response{
		ID:       "resp_" + uuid.New().String()[:8],
		Model:    model,
		Provider: a.provider,
		Message:  Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
		Usage: Usage{
			// gollm does not expose provider usage; approximate by length.
			InputTokens:  inTokens,
			OutputTokens: outTokens,
			TotalTokens:  inTokens + outTokens,
		},
	}
}

// parseToolCalls extracts tool calls that gollm returns embedded as JSON in
// the response text.
func parseToolCalls(text string) []ToolCallData {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	calls := make([]ToolCallData, 0, len(rawCalls))
	for _, rc := range rawCalls {
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

func stripToolCallJSON(text string, calls []ToolCallData) string {
	if len(calls) == 0 {
		return text
	}
	if idx := strings.Index(text, `[{"name"`); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// translateError converts a gollm error into the typed hierarchy.
func (a *GollmAdapter) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 401,
		}}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return &RateLimitError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 429, Retryable: true,
		}}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 413,
		}}
	case strings.Contains(lower, "400") || strings.Contains(lower, "invalid request"):
		return &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 400,
		}}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider, StatusCode: 500, Retryable: true,
		}}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	default:
		return &ProviderError{
			SDKError:  SDKError{Message: msg, Cause: err},
			Provider:  a.provider,
			Retryable: true,
		}
	}
}

// estimateTokens provides a rough token count from request messages.
func estimateTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Kind == PartText {
				total += len(part.Text) / 4
			}
		}
	}
	if total == 0 {
		total = 10
	}
	return total
}
