// Package sandbox abstracts the remote execution environment used to build
// and preview generated applications. The interface is provider-neutral so
// the backing service can be swapped without touching tool code.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// CreateOptions configures a new sandbox.
type CreateOptions struct {
	Timeout time.Duration
	Ports   []int
	Env     map[string]string
}

// RunCommandOptions describes one command invocation inside a sandbox.
type RunCommandOptions struct {
	Cmd      string
	Args     []string
	Sudo     bool
	Detached bool
}

// WriteFile is one file to place into a sandbox.
type WriteFile struct {
	Path    string
	Content []byte
}

// LogLine is one line of command output.
type LogLine struct {
	Data   string `json:"data"`
	Stream string `json:"stream"` // "stdout" or "stderr"
}

// CommandResult is the outcome of a finished command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Command is a handle to a running or finished sandbox command.
type Command interface {
	ID() string
	Wait(ctx context.Context) (*CommandResult, error)
	Logs(ctx context.Context) (<-chan LogLine, error)
}

// Sandbox is a handle to a live sandbox.
type Sandbox interface {
	ID() string
	Domain(port int) string
	RunCommand(ctx context.Context, opts RunCommandOptions) (Command, error)
	GetCommand(ctx context.Context, cmdID string) (Command, error)
	WriteFiles(ctx context.Context, files []WriteFile) error
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)
}

// Provider creates and retrieves sandboxes.
type Provider interface {
	Create(ctx context.Context, opts CreateOptions) (Sandbox, error)
	Get(ctx context.Context, sandboxID string) (Sandbox, error)
}

// APIError is a fault from the sandbox service carrying a machine-readable
// code alongside the human message.
type APIError struct {
	Code       string
	Message    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sandbox api error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sandbox api error (status %d): %s", e.StatusCode, e.Message)
}

// AsAPIError unwraps err into an *APIError if it is one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
