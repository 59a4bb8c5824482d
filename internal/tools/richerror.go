package tools

import (
	"fmt"

	"github.com/clark-labs/clark/internal/sandbox"
)

// RichError is the uniform failure shape surfaced to the model and the
// client. Raw provider error shapes never leak past it.
type RichError struct {
	Message string         `json:"message"`
	Action  string         `json:"action"`
	Args    map[string]any `json:"args,omitempty"`
}

func (e *RichError) Error() string {
	return fmt.Sprintf("error %s: %s", e.Action, e.Message)
}

// NewRichError wraps err with the action being attempted and its arguments.
// Sandbox API errors contribute their machine-readable code to the message.
func NewRichError(action string, args map[string]any, err error) *RichError {
	message := err.Error()
	if apiErr, ok := sandbox.AsAPIError(err); ok && apiErr.Code != "" {
		message = fmt.Sprintf("%s (code: %s)", apiErr.Message, apiErr.Code)
	}
	return &RichError{Message: message, Action: action, Args: args}
}

// ModelText renders the error as text the model can read and act on.
func (e *RichError) ModelText() string {
	text := fmt.Sprintf("Error while %s: %s", e.Action, e.Message)
	for key, value := range e.Args {
		text += fmt.Sprintf("\n  %s: %v", key, value)
	}
	return text
}
