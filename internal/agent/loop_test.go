package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/stream"
	"github.com/clark-labs/clark/internal/tools"
)

// scriptedAdapter replays one scripted response per model call. When the
// script runs out, the last entry repeats, which is how the step-bound tests
// simulate a model that never stops asking for tools.
type scriptedAdapter struct {
	mu           sync.Mutex
	responses    []llm.Response
	failAt       int // 1-based call index that emits a stream error; 0 = never
	startupFails int // number of leading calls that fail to open the stream
	calls        int
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	panic("loop uses streaming only")
}

func (a *scriptedAdapter) Stream(_ context.Context, _ llm.Request) (<-chan llm.StreamEvent, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	idx := call - 1
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	resp := a.responses[idx]
	a.mu.Unlock()

	if call <= a.startupFails {
		return nil, &llm.ProviderError{
			SDKError:  llm.SDKError{Message: "overloaded"},
			Provider:  "scripted",
			Retryable: true,
		}
	}

	ch := make(chan llm.StreamEvent, 8)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Type: llm.StreamStart}
		if a.failAt != 0 && call == a.failAt {
			ch <- llm.StreamEvent{Type: llm.TextDelta, Delta: "partial "}
			ch <- llm.StreamEvent{Type: llm.StreamError,
				Err: &llm.StreamFaultError{SDKError: llm.SDKError{Message: "connection reset"}}}
			return
		}
		if text := resp.Text(); text != "" {
			ch <- llm.StreamEvent{Type: llm.TextDelta, Delta: text}
		}
		for i := range resp.ToolCalls() {
			tc := resp.ToolCalls()[i]
			ch <- llm.StreamEvent{Type: llm.ToolCallStart, ToolCall: &tc}
			ch <- llm.StreamEvent{Type: llm.ToolCallEnd, ToolCall: &tc}
		}
		reason := llm.FinishReason{Reason: "stop"}
		ch <- llm.StreamEvent{Type: llm.StreamFinish, FinishReason: &reason,
			Response: &resp, Usage: &resp.Usage}
	}()
	return ch, nil
}

func textResponse(text string) llm.Response {
	return llm.Response{
		Message: llm.AssistantMessage(text),
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolCallResponse(callID, name, args string) llm.Response {
	return llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: []llm.Part{
			llm.ToolCallPart(callID, name, json.RawMessage(args)),
		}},
		Usage: llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

// echoTool records invocations and returns a fixed result.
type echoTool struct {
	mu   sync.Mutex
	runs int
	fail bool
	name string
}

func (e *echoTool) Name() string {
	if e.name != "" {
		return e.name
	}
	return "echo"
}
func (e *echoTool) Description() string                { return "echoes" }
func (e *echoTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (e *echoTool) Execute(_ context.Context, inv tools.Invocation) (string, error) {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()
	if e.fail {
		return "", &tools.ValidationError{Tool: e.Name(), Reason: "bad input"}
	}
	return "echoed", nil
}

func (e *echoTool) Runs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

type recordingCloser struct{ closed bool }

func (c *recordingCloser) Close() error { c.closed = true; return nil }

func testLoop(t *testing.T, adapter llm.ProviderAdapter, staticTools ...tools.Tool) *Loop {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := tools.NewRegistry(logger)
	for _, tool := range staticTools {
		reg.Register(tool)
	}
	client := llm.NewClient(llm.WithProvider("anthropic", adapter))
	return NewLoop(client, reg, "You are a coding assistant.", logger)
}

func testTurnWriter() *stream.Writer {
	return stream.NewWriter("turn-1", nil, slog.New(slog.DiscardHandler))
}

func TestLoopCompletesWithoutTools(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{textResponse("all done")}}
	loop := testLoop(t, adapter)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("hi")}}},
	}, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Condition != ConditionCompleted {
		t.Errorf("expected completed, got %s", result.Condition)
	}
	if result.Model != "Claude Opus 4.5" {
		t.Errorf("unexpected model label: %s", result.Model)
	}
	if len(result.Messages) != 1 || result.Messages[0].Parts[0].Text != "all done" {
		t.Errorf("unexpected turn messages: %+v", result.Messages)
	}

	events := w.Events()
	last := events[len(events)-1]
	if last.Type != stream.EventFinish {
		t.Fatalf("finish must be the last event, got %s", last.Type)
	}
	finish := last.Data.(stream.FinishData)
	if finish.Model != "Claude Opus 4.5" || finish.TotalTokens != 15 {
		t.Errorf("unexpected finish payload: %+v", finish)
	}
	if !w.Closed() {
		t.Error("writer should be closed after finish")
	}
}

func TestLoopExecutesToolsThenFinishes(t *testing.T) {
	tool := &echoTool{}
	adapter := &scriptedAdapter{responses: []llm.Response{
		toolCallResponse("call-1", "echo", `{"x":1}`),
		textResponse("used the tool"),
	}}
	loop := testLoop(t, adapter, tool)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("go")}}},
	}, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Condition != ConditionCompleted {
		t.Fatalf("expected completed, got %s", result.Condition)
	}
	if tool.Runs() != 1 {
		t.Errorf("tool should run exactly once, ran %d times", tool.Runs())
	}

	assistant := result.Messages[0]
	var toolPart *UIPart
	for i := range assistant.Parts {
		if assistant.Parts[i].IsToolPart() {
			toolPart = &assistant.Parts[i]
		}
	}
	if toolPart == nil {
		t.Fatal("assistant message is missing the tool part")
	}
	if toolPart.State != StateOutputAvailable || toolPart.Output != "echoed" {
		t.Errorf("tool part not advanced to output-available: %+v", toolPart)
	}

	// The writer saw the tool call announcement, the result, and the finish.
	var sawInput, sawOutput bool
	for _, ev := range w.Events() {
		switch ev.Type {
		case stream.EventToolInput:
			sawInput = ev.ID == "call-1"
		case stream.EventToolOutput:
			sawOutput = ev.ID == "call-1"
		}
	}
	if !sawInput || !sawOutput {
		t.Errorf("missing tool events: input=%v output=%v", sawInput, sawOutput)
	}

	// Token usage accumulates across both model calls.
	if result.Usage.TotalTokens != 30 {
		t.Errorf("expected 30 total tokens, got %d", result.Usage.TotalTokens)
	}
}

func TestLoopStopsAtStepLimit(t *testing.T) {
	tool := &echoTool{}
	// The script never produces a text-only answer, so every step requests
	// another tool call.
	adapter := &scriptedAdapter{responses: []llm.Response{
		toolCallResponse("call-1", "echo", `{}`),
	}}
	loop := testLoop(t, adapter, tool)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("loop forever")}}},
	}, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Condition != ConditionStepLimit {
		t.Fatalf("expected step-limit-exceeded, got %s", result.Condition)
	}
	if adapter.calls != maxSteps {
		t.Errorf("expected exactly %d model calls, got %d", maxSteps, adapter.calls)
	}
	if tool.Runs() != maxSteps {
		t.Errorf("expected %d tool runs, got %d", maxSteps, tool.Runs())
	}

	// The partial state is still flushed: finish is the terminal event and
	// the transcript is returned for persistence.
	events := w.Events()
	if events[len(events)-1].Type != stream.EventFinish {
		t.Error("partial state must still end with a finish event")
	}
	if len(result.Messages) != 1 || len(result.Messages[0].Parts) == 0 {
		t.Error("partial transcript should still be returned for persistence")
	}
}

func TestLoopStreamErrorAborts(t *testing.T) {
	adapter := &scriptedAdapter{
		responses: []llm.Response{textResponse("never sent")},
		failAt:    1,
	}
	loop := testLoop(t, adapter)
	closer := &recordingCloser{}
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("hi")}}},
		Closers:        []io.Closer{closer},
	}, w)
	if err != nil {
		t.Fatalf("stream faults are reported in-band, got error %v", err)
	}
	if result.Condition != ConditionAborted {
		t.Fatalf("expected aborted, got %s", result.Condition)
	}

	events := w.Events()
	last := events[len(events)-1]
	if last.Type != stream.EventError {
		t.Fatalf("expected terminal error event, got %s", last.Type)
	}
	if last.Data.(stream.ErrorData).Message != "Communication error with the AI" {
		t.Errorf("raw fault leaked to the client: %+v", last.Data)
	}

	// The partial text delta was flushed before the abort.
	sawDelta := false
	for _, ev := range events {
		if ev.Type == stream.EventTextDelta && ev.Delta == "partial " {
			sawDelta = true
		}
	}
	if !sawDelta {
		t.Error("partial transcript was not flushed")
	}
	if len(result.Messages) != 1 || result.Messages[0].Parts[0].Text != "partial " {
		t.Errorf("partial text should be persisted: %+v", result.Messages)
	}

	if !closer.closed {
		t.Error("auxiliary connections must be closed on abort")
	}
	if !w.Closed() {
		t.Error("writer should be closed after abort")
	}
}

func TestLoopToolErrorBecomesResult(t *testing.T) {
	tool := &echoTool{fail: true}
	adapter := &scriptedAdapter{responses: []llm.Response{
		toolCallResponse("call-1", "echo", `{}`),
		textResponse("recovered"),
	}}
	loop := testLoop(t, adapter, tool)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("go")}}},
	}, w)
	if err != nil {
		t.Fatalf("tool errors must not abort the turn, got %v", err)
	}
	if result.Condition != ConditionCompleted {
		t.Fatalf("expected completed, got %s", result.Condition)
	}

	assistant := result.Messages[0]
	var toolPart *UIPart
	for i := range assistant.Parts {
		if assistant.Parts[i].IsToolPart() {
			toolPart = &assistant.Parts[i]
		}
	}
	if toolPart == nil || toolPart.State != StateOutputError {
		t.Fatalf("tool part should be output-error: %+v", toolPart)
	}
	if !strings.Contains(toolPart.ErrorText, "bad input") {
		t.Errorf("error text should carry the cause: %q", toolPart.ErrorText)
	}

	sawError := false
	for _, ev := range w.Events() {
		if ev.Type == stream.EventToolError && ev.ID == "call-1" {
			sawError = true
		}
	}
	if !sawError {
		t.Error("missing tool error event")
	}
}

func TestLoopUnknownToolBecomesResult(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{
		toolCallResponse("call-1", "no_such_tool", `{}`),
		textResponse("ok"),
	}}
	loop := testLoop(t, adapter)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("go")}}},
	}, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Condition != ConditionCompleted {
		t.Errorf("expected completed, got %s", result.Condition)
	}
}

func TestLoopRejectsUnsupportedModel(t *testing.T) {
	adapter := &scriptedAdapter{responses: []llm.Response{textResponse("unused")}}
	loop := testLoop(t, adapter)
	w := testTurnWriter()

	_, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		ModelID:        "nonexistent-model",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("hi")}}},
	}, w)
	var unsupported *llm.UnsupportedModelError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedModelError, got %v", err)
	}
	if adapter.calls != 0 {
		t.Error("no model call may happen for an unknown model id")
	}
	if len(w.Events()) != 0 {
		t.Error("no events may be written for an unknown model id")
	}
}

// rawAdapter replays a fixed event sequence once per call.
type rawAdapter struct {
	events []llm.StreamEvent
}

func (a *rawAdapter) Name() string { return "raw" }

func (a *rawAdapter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	panic("loop uses streaming only")
}

func (a *rawAdapter) Stream(context.Context, llm.Request) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent, len(a.events)+1)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Type: llm.StreamStart}
		for _, ev := range a.events {
			ch <- ev
		}
	}()
	return ch, nil
}

func TestLoopPreservesDeltaArrivalOrder(t *testing.T) {
	// A model that interleaves text and reasoning must come back as
	// alternating parts, not one reasoning block followed by one text block.
	resp := textResponse("Let me look. Found it.")
	reason := llm.FinishReason{Reason: "stop"}
	adapter := &rawAdapter{events: []llm.StreamEvent{
		{Type: llm.TextDelta, Delta: "Let me look. "},
		{Type: llm.ReasoningDelta, Delta: "checking "},
		{Type: llm.ReasoningDelta, Delta: "the files"},
		{Type: llm.TextDelta, Delta: "Found it."},
		{Type: llm.StreamFinish, FinishReason: &reason, Response: &resp, Usage: &resp.Usage},
	}}
	loop := testLoop(t, adapter)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("hi")}}},
	}, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := result.Messages[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d: %+v", len(parts), parts)
	}
	if parts[0].Type != "text" || parts[0].Text != "Let me look. " {
		t.Errorf("unexpected first part: %+v", parts[0])
	}
	if parts[1].Type != "reasoning" || parts[1].Text != "checking the files" {
		t.Errorf("adjacent reasoning deltas should coalesce: %+v", parts[1])
	}
	if parts[2].Type != "text" || parts[2].Text != "Found it." {
		t.Errorf("unexpected trailing part: %+v", parts[2])
	}
}

func TestLoopRetriesStreamStartup(t *testing.T) {
	adapter := &scriptedAdapter{
		responses:    []llm.Response{textResponse("recovered")},
		startupFails: 1,
	}
	loop := testLoop(t, adapter)
	loop.retry = llm.RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 1}
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("hi")}}},
	}, w)
	if err != nil {
		t.Fatalf("retryable startup failure should be absorbed, got %v", err)
	}
	if result.Condition != ConditionCompleted {
		t.Fatalf("expected completed, got %s", result.Condition)
	}
	if adapter.calls != 2 {
		t.Errorf("expected one failed and one successful open, got %d calls", adapter.calls)
	}

	events := w.Events()
	if events[len(events)-1].Type != stream.EventFinish {
		t.Error("turn should end with a finish event after retry")
	}
}

func TestLoopParallelToolFanOut(t *testing.T) {
	tool := &echoTool{}
	resp := llm.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: []llm.Part{
			llm.ToolCallPart("call-1", "echo", json.RawMessage(`{}`)),
			llm.ToolCallPart("call-2", "echo", json.RawMessage(`{}`)),
		}},
		Usage: llm.Usage{TotalTokens: 15},
	}
	adapter := &scriptedAdapter{responses: []llm.Response{resp, textResponse("done")}}
	loop := testLoop(t, adapter, tool)
	w := testTurnWriter()

	result, err := loop.Run(context.Background(), TurnRequest{
		ConversationID: "conv-1",
		Messages:       []UIMessage{{ID: "u1", Role: "user", Parts: []UIPart{TextUIPart("go")}}},
	}, w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.Runs() != 2 {
		t.Errorf("both calls should execute, ran %d", tool.Runs())
	}

	// Both tool parts reach a terminal state exactly once.
	terminal := 0
	for _, part := range result.Messages[0].Parts {
		if part.IsToolPart() && part.State == StateOutputAvailable {
			terminal++
		}
	}
	if terminal != 2 {
		t.Errorf("expected two terminal tool parts, got %d", terminal)
	}
}
