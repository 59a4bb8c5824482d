package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/clark-labs/clark/internal/stream"
)

const (
	waitDefaultMs = 1000
	waitMaxMs     = 30000
)

// WaitTool pauses the turn for a bounded amount of time, typically so a dev
// server can boot before the next command runs.
type WaitTool struct{}

// NewWaitTool creates the wait tool.
func NewWaitTool() *WaitTool { return &WaitTool{} }

func (t *WaitTool) Name() string { return "wait" }

func (t *WaitTool) Description() string {
	return "Waits for a specified amount of time in milliseconds."
}

func (t *WaitTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"time_ms": map[string]interface{}{
				"type":        "number",
				"maximum":     waitMaxMs,
				"description": "The amount of time to wait in milliseconds. At most 30 seconds.",
			},
		},
	}
}

type waitInput struct {
	TimeMs *int `json:"time_ms"`
}

func (t *WaitTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input waitInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}

	timeMs := waitDefaultMs
	if input.TimeMs != nil {
		timeMs = *input.TimeMs
	}
	if timeMs < 0 || timeMs > waitMaxMs {
		return "", &ValidationError{Tool: t.Name(),
			Reason: fmt.Sprintf("time_ms must be between 0 and %d", waitMaxMs)}
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindWait,
		stream.WaitData{Status: stream.WaitWaiting, TimeMs: timeMs})

	select {
	case <-time.After(time.Duration(timeMs) * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindWait,
		stream.WaitData{Status: stream.WaitCompleted, TimeMs: timeMs})

	return fmt.Sprintf("Waited for %d ms.", timeMs), nil
}
