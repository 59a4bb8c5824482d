package connect

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/tools"
)

// connectionLister is the slice of the connection repository the manager
// needs.
type connectionLister interface {
	ListEnabled(ctx context.Context) ([]store.Connection, error)
}

// Manager dials the enabled connections at turn start and adapts their
// remote tools into the registry's Tool interface.
type Manager struct {
	connections connectionLister
	logger      *slog.Logger
}

// NewManager creates a Manager over the connection repository.
func NewManager(connections connectionLister, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{connections: connections, logger: logger}
}

// Open dials every enabled connection and returns the merged tool list plus
// the closers the loop must release when the turn ends. A connection that
// fails to dial is skipped with a log line; the turn proceeds without its
// tools.
func (m *Manager) Open(ctx context.Context) ([]tools.Tool, []io.Closer) {
	records, err := m.connections.ListEnabled(ctx)
	if err != nil {
		m.logger.Error("listing enabled connections failed", "error", err)
		return nil, nil
	}

	var out []tools.Tool
	var closers []io.Closer
	for _, record := range records {
		var auth Auth
		if len(record.Auth) > 0 {
			if err := json.Unmarshal(record.Auth, &auth); err != nil {
				m.logger.Warn("connection has malformed auth config, skipping",
					"connection", record.Name, "error", err)
				continue
			}
		}

		conn, err := Dial(ctx, record.Name, record.URL, auth)
		if err != nil {
			m.logger.Warn("dialing connection failed, continuing without it",
				"connection", record.Name, "error", err)
			continue
		}
		closers = append(closers, conn)
		for _, remote := range conn.Tools() {
			out = append(out, &connectorTool{conn: conn, spec: remote})
		}
	}
	return out, closers
}

// connectorTool adapts one remote tool to the registry's Tool interface.
type connectorTool struct {
	conn *Connector
	spec RemoteTool
}

func (t *connectorTool) Name() string        { return t.spec.Name }
func (t *connectorTool) Description() string { return t.spec.Description }

func (t *connectorTool) Parameters() map[string]interface{} {
	if t.spec.InputSchema == nil {
		return map[string]interface{}{"type": "object"}
	}
	return t.spec.InputSchema
}

func (t *connectorTool) Execute(ctx context.Context, inv tools.Invocation) (string, error) {
	return t.conn.CallTool(ctx, t.spec.Name, inv.Arguments)
}
