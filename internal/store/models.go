package store

import (
	"encoding/json"
	"time"
)

// Conversation is one chat thread. Ordering in listings follows UpdatedAt,
// which every message upsert touches.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one stored conversation message. ExternalID is assigned by the
// client/orchestrator and is the upsert key; ID is internal only.
type Message struct {
	ID             int64           `json:"-"`
	ExternalID     string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           string          `json:"role"`
	Parts          json.RawMessage `json:"parts"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Resource records an external artifact provisioned during a conversation,
// such as a sandbox, an auth application, or a database.
type Resource struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversationId"`
	Kind           string          `json:"kind"`
	Data           json.RawMessage `json:"data"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Resource kinds.
const (
	ResourceSandbox  = "sandbox"
	ResourceAuthApp  = "auth-app"
	ResourceDatabase = "database"
)

// Connection is a runtime-configured external tool provider. Enabled
// connections are dialed at turn start and their tools merged into the
// registry for that turn.
type Connection struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	URL       string          `json:"url"`
	Enabled   bool            `json:"enabled"`
	Auth      json.RawMessage `json:"auth,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
