// Package tools hosts the registry and the built-in tools the agent loop can
// dispatch. Each tool validates its own input before doing any work, streams
// progress through the turn's event writer, and returns text the model reads
// as the tool result.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/stream"
)

// Invocation carries the per-call context a tool needs: the correlation id
// for progress events, the owning conversation, the raw model-provided
// arguments, the turn's event writer, and the message history for composite
// tools that call the model themselves.
type Invocation struct {
	ToolCallID     string
	ConversationID string
	Arguments      json.RawMessage
	Writer         *stream.Writer
	Messages       []llm.Message
	ModelOptions   llm.ModelOptions
}

// Tool is one dispatchable capability.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{} // JSON Schema
	Execute(ctx context.Context, inv Invocation) (string, error)
}

// ValidationError marks tool input rejected before execution started.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input for tool %s: %s", e.Tool, e.Reason)
}

// Registry holds the tools available to a turn. Static tools are registered
// at startup; connector-provided tools are merged per request and never
// shadow a static name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a static tool. Registering a duplicate name panics: static
// tool names are fixed at startup and a collision is a programming error.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic(fmt.Sprintf("tool %q registered twice", t.Name()))
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the serializable tool metadata sent to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// WithConnectorTools returns a request-scoped registry containing the static
// tools plus extra. A connector tool whose name collides with a static tool
// is skipped: static wins.
func (r *Registry) WithConnectorTools(extra []Tool) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := NewRegistry(r.logger)
	for _, name := range r.order {
		merged.tools[name] = r.tools[name]
		merged.order = append(merged.order, name)
	}
	for _, t := range extra {
		if _, exists := merged.tools[t.Name()]; exists {
			r.logger.Warn("connector tool shadows static tool, skipping",
				"tool", t.Name())
			continue
		}
		merged.tools[t.Name()] = t
		merged.order = append(merged.order, t.Name())
	}
	return merged
}

// decodeArgs unmarshals raw tool arguments into dst, mapping failures to
// ValidationError so they are rejected before execution.
func decodeArgs(toolName string, raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Tool: toolName, Reason: err.Error()}
	}
	return nil
}
