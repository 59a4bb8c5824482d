package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/stream"
)

func provisionSandbox(t *testing.T, provider *sandbox.FakeProvider) *sandbox.FakeSandbox {
	t.Helper()
	if _, err := provider.Create(context.Background(), sandbox.CreateOptions{}); err != nil {
		t.Fatalf("create sandbox: %v", err)
	}
	return provider.Sandboxes()[0]
}

func TestRunCommandWaitLifecycle(t *testing.T) {
	provider := sandbox.NewFakeProvider()
	sb := provisionSandbox(t, provider)
	sb.Results["npm"] = sandbox.CommandResult{ExitCode: 0, Stdout: "added 12 packages"}

	tool := NewRunCommandTool(provider, discardLogger())
	w := newTestWriter()

	result, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1",
		Arguments:  json.RawMessage(`{"sandboxId":"` + sb.ID() + `","command":"npm","args":["install"]}`),
		Writer:     w,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "exit code 0") || !strings.Contains(result, "added 12 packages") {
		t.Errorf("unexpected result: %q", result)
	}

	events := dataEvents(w, stream.KindRunCommand)
	if len(events) != 3 {
		t.Fatalf("expected executing, waiting, done; got %d events", len(events))
	}
	statuses := []string{
		events[0].Data.(stream.RunCommandData).Status,
		events[1].Data.(stream.RunCommandData).Status,
		events[2].Data.(stream.RunCommandData).Status,
	}
	want := []string{stream.CommandExecuting, stream.CommandWaiting, stream.CommandDone}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], statuses[i])
		}
	}
	final := events[2].Data.(stream.RunCommandData)
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Errorf("done event should carry exit code, got %+v", final)
	}
	if final.CommandID == "" {
		t.Error("done event should carry the command id")
	}
}

func TestRunCommandStreamsLogLines(t *testing.T) {
	provider := sandbox.NewFakeProvider()
	sb := provisionSandbox(t, provider)
	sb.Results["npm"] = sandbox.CommandResult{ExitCode: 0}
	sb.LogLines["npm"] = []sandbox.LogLine{
		{Data: "npm warn deprecated", Stream: "stderr"},
		{Data: "added 12 packages", Stream: "stdout"},
	}

	tool := NewRunCommandTool(provider, discardLogger())
	w := newTestWriter()

	_, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1",
		Arguments:  json.RawMessage(`{"sandboxId":"` + sb.ID() + `","command":"npm","args":["install"]}`),
		Writer:     w,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := dataEvents(w, stream.KindRunCommandLogs)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log line events, got %d", len(lines))
	}
	first := lines[0].Data.(stream.RunCommandLogsData)
	if first.Line != "npm warn deprecated" || first.Stream != "stderr" {
		t.Errorf("unexpected first line: %+v", first)
	}
	if first.CommandID == "" || first.SandboxID != sb.ID() {
		t.Errorf("log line missing correlation ids: %+v", first)
	}

	// Every log line lands before the terminal done event.
	status := dataEvents(w, stream.KindRunCommand)
	done := status[len(status)-1]
	if done.Data.(stream.RunCommandData).Status != stream.CommandDone {
		t.Fatalf("expected done terminal event, got %+v", done.Data)
	}
	for _, line := range lines {
		if line.Seq > done.Seq {
			t.Errorf("log line emitted after done: seq %d > %d", line.Seq, done.Seq)
		}
	}
}

func TestRunCommandDetached(t *testing.T) {
	provider := sandbox.NewFakeProvider()
	sb := provisionSandbox(t, provider)

	tool := NewRunCommandTool(provider, discardLogger())
	w := newTestWriter()

	result, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1",
		Arguments: json.RawMessage(`{"sandboxId":"` + sb.ID() +
			`","command":"npm","args":["run","dev"],"detached":true}`),
		Writer: w,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "detached mode") {
		t.Errorf("unexpected result: %q", result)
	}

	events := dataEvents(w, stream.KindRunCommand)
	last := events[len(events)-1].Data.(stream.RunCommandData)
	if last.Status != stream.CommandRunning {
		t.Errorf("detached command should end with running, got %s", last.Status)
	}
	if len(sb.Commands) != 1 || !sb.Commands[0].Detached {
		t.Errorf("command not started detached: %+v", sb.Commands)
	}
}

func TestRunCommandUnknownSandbox(t *testing.T) {
	tool := NewRunCommandTool(sandbox.NewFakeProvider(), discardLogger())
	w := newTestWriter()

	result, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1",
		Arguments:  json.RawMessage(`{"sandboxId":"sbx-missing","command":"ls"}`),
		Writer:     w,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "no such sandbox") {
		t.Errorf("result should explain the failure, got %q", result)
	}

	events := dataEvents(w, stream.KindRunCommand)
	last := events[len(events)-1].Data.(stream.RunCommandData)
	if last.Status != stream.CommandError {
		t.Errorf("expected error status, got %s", last.Status)
	}
}

func TestRunCommandMissingInput(t *testing.T) {
	tool := NewRunCommandTool(sandbox.NewFakeProvider(), discardLogger())
	_, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1", Arguments: json.RawMessage(`{"command":"ls"}`), Writer: newTestWriter(),
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestWaitToolLifecycle(t *testing.T) {
	tool := NewWaitTool()
	w := newTestWriter()

	result, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1", Arguments: json.RawMessage(`{"time_ms": 5}`), Writer: w,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "5 ms") {
		t.Errorf("unexpected result: %q", result)
	}

	events := dataEvents(w, stream.KindWait)
	if len(events) != 2 {
		t.Fatalf("expected waiting + completed, got %d", len(events))
	}
	if events[0].Data.(stream.WaitData).Status != stream.WaitWaiting ||
		events[1].Data.(stream.WaitData).Status != stream.WaitCompleted {
		t.Errorf("unexpected lifecycle: %+v", events)
	}
}

func TestWaitToolRejectsLongWaits(t *testing.T) {
	tool := NewWaitTool()
	_, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1", Arguments: json.RawMessage(`{"time_ms": 60000}`), Writer: newTestWriter(),
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected validation error for 60s wait, got %v", err)
	}
}

func TestGetSandboxURL(t *testing.T) {
	provider := sandbox.NewFakeProvider()
	sb := provisionSandbox(t, provider)

	tool := NewGetSandboxURLTool(provider)
	w := newTestWriter()

	result, err := tool.Execute(context.Background(), Invocation{
		ToolCallID: "call-1",
		Arguments:  json.RawMessage(`{"sandboxId":"` + sb.ID() + `","port":3000}`),
		Writer:     w,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "https://"+sb.ID()+"-3000.fake.dev") {
		t.Errorf("unexpected result: %q", result)
	}

	events := dataEvents(w, stream.KindGetSandboxURL)
	if len(events) != 2 {
		t.Fatalf("expected loading + done, got %d", len(events))
	}
	final := events[1].Data.(stream.GetSandboxURLData)
	if final.Status != stream.URLDone || final.URL == "" {
		t.Errorf("unexpected terminal event: %+v", final)
	}
}
