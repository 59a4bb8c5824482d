package tools

import (
	"context"
	"fmt"

	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/stream"
)

// GetSandboxURLTool resolves the public URL for a port exposed by a sandbox.
type GetSandboxURLTool struct {
	provider sandbox.Provider
}

// NewGetSandboxURLTool wires the tool to a sandbox provider.
func NewGetSandboxURLTool(provider sandbox.Provider) *GetSandboxURLTool {
	return &GetSandboxURLTool{provider: provider}
}

func (t *GetSandboxURLTool) Name() string { return "get_sandbox_url" }

func (t *GetSandboxURLTool) Description() string {
	return "Returns the public URL for a port exposed by a sandbox, so the user can preview " +
		"the running application."
}

func (t *GetSandboxURLTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"sandboxId", "port"},
		"properties": map[string]interface{}{
			"sandboxId": map[string]interface{}{
				"type":        "string",
				"description": "The ID of the sandbox.",
			},
			"port": map[string]interface{}{
				"type":        "number",
				"description": "The exposed port to resolve, e.g. 3000.",
			},
		},
	}
}

type getSandboxURLInput struct {
	SandboxID string `json:"sandboxId"`
	Port      int    `json:"port"`
}

func (t *GetSandboxURLTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input getSandboxURLInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}
	if input.SandboxID == "" || input.Port == 0 {
		return "", &ValidationError{Tool: t.Name(), Reason: "sandboxId and port are required"}
	}

	inv.Writer.Data(inv.ToolCallID, stream.KindGetSandboxURL,
		stream.GetSandboxURLData{Status: stream.URLLoading})

	sb, err := t.provider.Get(ctx, input.SandboxID)
	if err != nil {
		rich := NewRichError("getting sandbox by id", map[string]any{"sandboxId": input.SandboxID}, err)
		// The kind has no error status; terminate with done and no url,
		// the failure detail travels in the tool result.
		inv.Writer.Data(inv.ToolCallID, stream.KindGetSandboxURL,
			stream.GetSandboxURLData{Status: stream.URLDone})
		return rich.ModelText(), nil
	}

	url := "https://" + sb.Domain(input.Port)
	inv.Writer.Data(inv.ToolCallID, stream.KindGetSandboxURL,
		stream.GetSandboxURLData{Status: stream.URLDone, URL: url})

	return fmt.Sprintf("The sandbox URL for port %d is: %s", input.Port, url), nil
}
