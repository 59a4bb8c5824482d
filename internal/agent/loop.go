package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/stream"
	"github.com/clark-labs/clark/internal/tools"
)

// maxSteps bounds the number of model calls per turn. Reaching it is a hard
// stop reported as ConditionStepLimit, distinct from normal completion.
const maxSteps = 20

// userFacingStreamError is the only message shown to the client when the
// model stream itself fails; full detail stays in the server log.
const userFacingStreamError = "Communication error with the AI"

// Condition is the terminal condition of a turn.
type Condition string

const (
	ConditionCompleted Condition = "completed"
	ConditionStepLimit Condition = "step-limit-exceeded"
	ConditionAborted   Condition = "aborted"
)

// TurnRequest is one client request to run a turn.
type TurnRequest struct {
	ConversationID  string
	Messages        []UIMessage
	ModelID         string
	ReasoningEffort llm.Effort

	// Tools overrides the loop's static registry for this turn, typically a
	// merge with connector-supplied tools. Nil means the static registry.
	Tools *tools.Registry

	// Closers are auxiliary connections opened for this turn (external tool
	// connectors). The loop closes them on finish and on abort.
	Closers []io.Closer
}

// TurnResult describes how a turn ended. Messages holds the logical messages
// the turn produced, ready for reconciliation.
type TurnResult struct {
	Condition Condition
	Messages  []UIMessage
	Model     string
	Usage     llm.Usage
}

// Loop is the turn controller. It is stateless across turns; all per-turn
// state lives on the stack of Run.
type Loop struct {
	client   *llm.Client
	registry *tools.Registry
	system   string
	retry    llm.RetryPolicy
	logger   *slog.Logger
}

// Registry returns the loop's static tool registry, the base for per-turn
// connector merges.
func (l *Loop) Registry() *tools.Registry { return l.registry }

// NewLoop creates a Loop over the given model client, static tool registry,
// and system prompt.
func NewLoop(client *llm.Client, registry *tools.Registry, systemPrompt string, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	policy := llm.DefaultRetryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		logger.Warn("retrying model stream", "attempt", attempt, "delay", delay, "error", err)
	}
	return &Loop{client: client, registry: registry, system: systemPrompt, retry: policy, logger: logger}
}

// Run executes one turn, streaming every event through w. The writer is
// always terminated before Run returns: Finish on completion or step limit,
// Error on a model stream fault. The returned result is valid in every case,
// including abort, so the caller can still reconcile the partial transcript.
func (l *Loop) Run(ctx context.Context, req TurnRequest, w *stream.Writer) (*TurnResult, error) {
	defer l.closeAuxiliary(req.Closers)

	modelID := req.ModelID
	if modelID == "" {
		modelID = llm.DefaultModelID
	}
	opts, err := llm.Resolve(modelID, llm.Tuning{ReasoningEffort: req.ReasoningEffort})
	if err != nil {
		return nil, err
	}
	info := llm.GetModelInfo(modelID)

	reg := req.Tools
	if reg == nil {
		reg = l.registry
	}

	history := ToModelMessages(req.Messages)
	if l.system != "" {
		history = append([]llm.Message{llm.SystemMessage(l.system)}, history...)
	}

	assistant := UIMessage{ID: uuid.New().String(), Role: "assistant"}
	result := &TurnResult{Model: info.DisplayName}

	for step := 0; step < maxSteps; step++ {
		request := llm.Request{
			Model:           opts.Model,
			Provider:        opts.Provider,
			Messages:        history,
			ToolDefs:        reg.Definitions(),
			ToolChoice:      &llm.ToolChoice{Mode: "auto"},
			ReasoningEffort: opts.ReasoningEffort,
			Headers:         opts.Headers,
			ProviderOptions: opts.ProviderOptions,
		}

		resp, streamErr := l.streamStep(ctx, request, w, &assistant)
		if streamErr != nil {
			l.logger.Error("model stream failed",
				"conversation_id", req.ConversationID, "step", step, "error", streamErr)
			w.Error(userFacingStreamError)
			result.Condition = ConditionAborted
			result.Messages = turnMessages(assistant)
			return result, nil
		}

		result.Usage = result.Usage.Add(resp.Usage)
		history = append(history, resp.Message)

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			w.Finish(info.DisplayName, result.Usage.TotalTokens)
			result.Condition = ConditionCompleted
			result.Messages = turnMessages(assistant)
			return result, nil
		}

		toolMessages := l.executeTools(ctx, reg, calls, req, history, opts, w, &assistant)
		history = append(history, toolMessages...)
	}

	// Step limit reached with the model still asking for tools. The partial
	// transcript is flushed and persisted like a normal turn.
	l.logger.Warn("turn stopped at step limit",
		"conversation_id", req.ConversationID, "steps", maxSteps)
	w.Finish(info.DisplayName, result.Usage.TotalTokens)
	result.Condition = ConditionStepLimit
	result.Messages = turnMessages(assistant)
	return result, nil
}

// turnMessages returns the messages the turn actually produced. An assistant
// message that never accumulated a part (a stream fault before any delta)
// has nothing worth persisting.
func turnMessages(assistant UIMessage) []UIMessage {
	if len(assistant.Parts) == 0 {
		return nil
	}
	return []UIMessage{assistant}
}

// streamStep runs one model call, forwarding deltas through the writer in
// emission order and recording the produced parts on the assistant message.
// Opening the stream is retried on retryable provider errors; once events
// flow, a fault aborts without retry. It returns the terminal response, or
// the stream fault.
func (l *Loop) streamStep(ctx context.Context, req llm.Request, w *stream.Writer, assistant *UIMessage) (*llm.Response, error) {
	events, err := llm.Retry(ctx, l.retry, func(ctx context.Context) (<-chan llm.StreamEvent, error) {
		return l.client.Stream(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	// Parts are recorded in delta arrival order; adjacent deltas of the
	// same kind coalesce into one part, an interleaving model produces
	// alternating parts.
	var parts []UIPart
	var partID string
	appendDelta := func(kind, delta string) string {
		if n := len(parts); n == 0 || parts[n-1].Type != kind {
			parts = append(parts, UIPart{Type: kind, Text: delta})
			partID = uuid.New().String()
			return partID
		}
		parts[len(parts)-1].Text += delta
		return partID
	}
	record := func(calls []llm.ToolCall) {
		for _, call := range calls {
			parts = append(parts, UIPart{
				Type:       "tool-" + call.Name,
				ToolCallID: call.ID,
				State:      StateInputAvailable,
				Input:      call.Arguments,
			})
		}
		assistant.Parts = append(assistant.Parts, parts...)
	}

	for ev := range events {
		switch ev.Type {
		case llm.TextDelta:
			if ev.Delta != "" {
				w.Text(appendDelta("text", ev.Delta), ev.Delta)
			}
		case llm.ReasoningDelta:
			if ev.Delta != "" {
				w.Reasoning(appendDelta("reasoning", ev.Delta), ev.Delta)
			}
		case llm.ToolCallStart:
			if ev.ToolCall != nil {
				w.ToolInputStart(ev.ToolCall.ID, ev.ToolCall.Name)
			}
		case llm.ToolCallEnd:
			if ev.ToolCall != nil {
				w.ToolInput(ev.ToolCall.ID, ev.ToolCall.Name, ev.ToolCall.Arguments)
			}
		case llm.StreamError:
			record(nil)
			return nil, ev.Err
		case llm.StreamFinish:
			if ev.Response == nil {
				return nil, &llm.StreamFaultError{SDKError: llm.SDKError{
					Message: "stream finished without a response",
				}}
			}
			record(ev.Response.ToolCalls())
			return ev.Response, nil
		}
	}

	// Channel closed without a finish event.
	record(nil)
	return nil, &llm.StreamFaultError{SDKError: llm.SDKError{
		Message: "stream ended without a finish event",
	}}
}

// executeTools fans out all requested calls, waits for every one, and
// returns their results as tool messages in request order. Execution order
// among the calls is unspecified; all writer appends stay serialized inside
// the writer itself.
func (l *Loop) executeTools(ctx context.Context, reg *tools.Registry, calls []llm.ToolCall,
	req TurnRequest, history []llm.Message, opts llm.ModelOptions,
	w *stream.Writer, assistant *UIMessage) []llm.Message {

	type outcome struct {
		content string
		isError bool
	}
	outcomes := make([]outcome, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call llm.ToolCall) {
			defer wg.Done()
			content, err := l.executeTool(ctx, reg, call, req, history, opts, w)
			if err != nil {
				outcomes[idx] = outcome{content: err.Error(), isError: true}
				return
			}
			outcomes[idx] = outcome{content: content}
		}(i, call)
	}
	wg.Wait()

	results := make([]llm.Message, len(calls))
	for i, call := range calls {
		out := outcomes[i]
		if out.isError {
			w.ToolErrorResult(call.ID, call.Name, out.content)
			if err := advanceToolPart(assistant, call.ID, StateOutputError, "", out.content); err != nil {
				l.logger.Warn("tool part bookkeeping failed", "tool", call.Name, "error", err)
			}
		} else {
			w.ToolOutput(call.ID, call.Name, out.content)
			if err := advanceToolPart(assistant, call.ID, StateOutputAvailable, out.content, ""); err != nil {
				l.logger.Warn("tool part bookkeeping failed", "tool", call.Name, "error", err)
			}
		}
		results[i] = llm.ToolResultMessage(call.ID, out.content, out.isError)
	}
	return results
}

// executeTool runs one call. Errors are returned, not raised further: the
// caller converts them into tool results the model can read and work around.
func (l *Loop) executeTool(ctx context.Context, reg *tools.Registry, call llm.ToolCall,
	req TurnRequest, history []llm.Message, opts llm.ModelOptions, w *stream.Writer) (string, error) {

	tool, ok := reg.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", call.Name)
	}
	return tool.Execute(ctx, tools.Invocation{
		ToolCallID:     call.ID,
		ConversationID: req.ConversationID,
		Arguments:      call.Arguments,
		Writer:         w,
		Messages:       history,
		ModelOptions:   opts,
	})
}

func (l *Loop) closeAuxiliary(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			l.logger.Warn("closing auxiliary connection failed", "error", err)
		}
	}
}
