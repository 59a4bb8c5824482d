package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/stream"
)

// RunCommandTool executes a command inside an existing sandbox, streaming
// its output lines as progress while the command runs.
type RunCommandTool struct {
	provider sandbox.Provider
	logger   *slog.Logger
}

// NewRunCommandTool wires the tool to a sandbox provider.
func NewRunCommandTool(provider sandbox.Provider, logger *slog.Logger) *RunCommandTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunCommandTool{provider: provider, logger: logger}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Runs a command inside an existing sandbox. Use detached for long-running processes " +
		"like dev servers; otherwise the tool waits for the command to exit and returns its output."
}

func (t *RunCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"sandboxId", "command"},
		"properties": map[string]interface{}{
			"sandboxId": map[string]interface{}{
				"type":        "string",
				"description": "The ID of the sandbox to run the command in.",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The executable to run, e.g. 'npm'.",
			},
			"args": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Arguments for the command, e.g. ['install'].",
			},
			"sudo": map[string]interface{}{
				"type":        "boolean",
				"description": "Run the command as root.",
			},
			"detached": map[string]interface{}{
				"type": "boolean",
				"description": "Start the command and return immediately without waiting for it " +
					"to exit. Use for servers and watchers.",
			},
		},
	}
}

type runCommandInput struct {
	SandboxID string   `json:"sandboxId"`
	Command   string   `json:"command"`
	Args      []string `json:"args"`
	Sudo      bool     `json:"sudo"`
	Detached  bool     `json:"detached"`
}

func (t *RunCommandTool) Execute(ctx context.Context, inv Invocation) (string, error) {
	var input runCommandInput
	if err := decodeArgs(t.Name(), inv.Arguments, &input); err != nil {
		return "", err
	}
	if input.SandboxID == "" || input.Command == "" {
		return "", &ValidationError{Tool: t.Name(), Reason: "sandboxId and command are required"}
	}

	base := stream.RunCommandData{
		SandboxID: input.SandboxID,
		Command:   input.Command,
		Args:      input.Args,
	}

	emit := func(status, commandID string, exitCode *int, errMsg string) {
		data := base
		data.Status = status
		data.CommandID = commandID
		data.ExitCode = exitCode
		data.Error = errMsg
		inv.Writer.Data(inv.ToolCallID, stream.KindRunCommand, data)
	}

	emit(stream.CommandExecuting, "", nil, "")

	sb, err := t.provider.Get(ctx, input.SandboxID)
	if err != nil {
		rich := NewRichError("getting sandbox by id", map[string]any{"sandboxId": input.SandboxID}, err)
		emit(stream.CommandError, "", nil, rich.Message)
		return rich.ModelText(), nil
	}

	cmd, err := sb.RunCommand(ctx, sandbox.RunCommandOptions{
		Cmd:      input.Command,
		Args:     input.Args,
		Sudo:     input.Sudo,
		Detached: input.Detached,
	})
	if err != nil {
		rich := NewRichError("running command", map[string]any{
			"sandboxId": input.SandboxID, "command": input.Command, "args": input.Args,
		}, err)
		emit(stream.CommandError, "", nil, rich.Message)
		return rich.ModelText(), nil
	}

	if input.Detached {
		emit(stream.CommandRunning, cmd.ID(), nil, "")
		return fmt.Sprintf("Command `%s %s` started in detached mode with ID %s. "+
			"It keeps running in the background.",
			input.Command, strings.Join(input.Args, " "), cmd.ID()), nil
	}

	emit(stream.CommandWaiting, cmd.ID(), nil, "")

	// Forward live output into the turn stream while waiting. Clients that
	// reconnect mid-command fetch the same lines from the command logs
	// endpoint instead.
	logsDone := make(chan struct{})
	if logs, logsErr := cmd.Logs(ctx); logsErr != nil {
		t.logger.Warn("command log streaming unavailable",
			"sandbox_id", input.SandboxID, "command_id", cmd.ID(), "error", logsErr)
		close(logsDone)
	} else {
		go func() {
			defer close(logsDone)
			for line := range logs {
				inv.Writer.Data(inv.ToolCallID, stream.KindRunCommandLogs, stream.RunCommandLogsData{
					SandboxID: input.SandboxID,
					CommandID: cmd.ID(),
					Stream:    line.Stream,
					Line:      line.Data,
				})
			}
		}()
	}

	result, err := cmd.Wait(ctx)
	<-logsDone
	if err != nil {
		rich := NewRichError("waiting for command", map[string]any{
			"sandboxId": input.SandboxID, "commandId": cmd.ID(),
		}, err)
		emit(stream.CommandError, cmd.ID(), nil, rich.Message)
		return rich.ModelText(), nil
	}

	emit(stream.CommandDone, cmd.ID(), &result.ExitCode, "")

	var sb2 strings.Builder
	fmt.Fprintf(&sb2, "Command `%s %s` finished with exit code %d.",
		input.Command, strings.Join(input.Args, " "), result.ExitCode)
	if result.Stdout != "" {
		fmt.Fprintf(&sb2, "\nStdout:\n%s", result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintf(&sb2, "\nStderr:\n%s", result.Stderr)
	}
	return sb2.String(), nil
}
