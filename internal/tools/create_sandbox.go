package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/stream"
)

// Sandbox lifetime bounds in milliseconds.
const (
	sandboxTimeoutMinMs     = 600000  // 10 minutes
	sandboxTimeoutMaxMs     = 2700000 // 45 minutes
	sandboxTimeoutDefaultMs = 1200000 // 20 minutes
	sandboxMaxPorts         = 2
)

// resourceRecorder is the slice of the resource repository this tool needs.
type resourceRecorder interface {
	Create(ctx context.Context, res *store.Resource) error
}

// CreateSandboxTool provisions a fresh sandbox and records it as a
// conversation resource.
type CreateSandboxTool struct {
	provider  sandbox.Provider
	resources resourceRecorder
	logger    *slog.Logger
}

// NewCreateSandboxTool wires the tool to a sandbox provider and the resource
// repository.
func NewCreateSandboxTool(provider sandbox.Provider, resources resourceRecorder, logger *slog.Logger) *CreateSandboxTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateSandboxTool{provider: provider, resources: resources, logger: logger}
}

func (t *CreateSandboxTool) Name() string { return "create_sandbox" }

func (t *CreateSandboxTool) Description() string {
	return "Creates a new sandbox to run commands, write files, and preview the application. " +
		"Create a sandbox before generating files or running commands."
}

func (t *CreateSandboxTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timeout": map[string]interface{}{
				"type": "number",
				"description": fmt.Sprintf(
					"Maximum time in milliseconds the sandbox stays active before shutting down. "+
						"Minimum %d (10 minutes), maximum %d (45 minutes). Defaults to %d (20 minutes).",
					sandboxTimeoutMinMs, sandboxTimeoutMaxMs, sandboxTimeoutDefaultMs),
			},
			"ports": map[string]interface{}{
				"type":     "array",
				"items":    map[string]interface{}{"type": "number"},
				"maxItems": sandboxMaxPorts,
				"description": "Network ports to expose from the sandbox, e.g. 3000 for Next.js. " +
					"At most 2 ports.",
			},
			"env": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"type": "string"},
				"description": "Environment variables to set in the sandbox, e.g. secrets obtained " +
					"from earlier tool calls.",
			},
		},
	}
}

type createSandboxInput struct {
	Timeout *int64            `json:"timeout"`
	Ports   []int             `json:"ports"`
	Env     map[string]string `json:"env"`
}

func (in *createSandboxInput) validate() error {
	if in.Timeout != nil && (*in.Timeout < sandboxTimeoutMinMs || *in.Timeout > sandboxTimeoutMaxMs) {
		return fmt.Errorf("timeout %dms outside [%d, %d]", *in.Timeout, sandboxTimeoutMinMs, sandboxTimeoutMaxMs)
	}
	if len(in.Ports) > sandboxMaxPorts {
		return fmt.Errorf("at most %d ports may be exposed, got %d", sandboxMaxPorts, len(in.Ports))
	}
	return nil
}

func (t *CreateSandboxTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input createSandboxInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}
	if err := input.validate(); err != nil {
		return "", &ValidationError{Tool: t.Name(), Reason: err.Error()}
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindCreateSandbox,
		stream.CreateSandboxData{Status: stream.SandboxLoading})

	timeoutMs := int64(sandboxTimeoutDefaultMs)
	if input.Timeout != nil {
		timeoutMs = *input.Timeout
	}

	sb, err := t.provider.Create(ctx, sandbox.CreateOptions{
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
		Ports:   input.Ports,
		Env:     input.Env,
	})
	if err != nil {
		rich := NewRichError("creating sandbox", map[string]any{
			"timeout": timeoutMs, "ports": input.Ports,
		}, err)
		inv.Writer.Data(inv.ToolCallID, stream.KindCreateSandbox,
			stream.CreateSandboxData{Status: stream.SandboxError, Error: rich.Message})
		t.logger.Error("sandbox creation failed", "error", err)
		return rich.ModelText(), nil
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindCreateSandbox,
		stream.CreateSandboxData{Status: stream.SandboxDone, SandboxID: sb.ID()})

	metadata, _ := json.Marshal(map[string]any{
		"sandboxId": sb.ID(),
		"timeout":   timeoutMs,
		"ports":     input.Ports,
	})
	err = t.resources.Create(ctx, &store.Resource{
		ConversationID: inv.ConversationID,
		Kind:           store.ResourceSandbox,
		Data:           metadata,
	})
	if err != nil {
		// The sandbox exists and is usable; the missing record only affects
		// the resources listing.
		t.logger.Warn("failed to record sandbox resource",
			"sandbox_id", sb.ID(), "error", err)
	}

	return fmt.Sprintf("Sandbox created with ID: %s.\n"+
		"You can now upload files, run commands, and access services on the exposed ports.", sb.ID()), nil
}
