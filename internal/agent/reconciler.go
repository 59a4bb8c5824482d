package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/clark-labs/clark/internal/store"
)

// messageUpserter is the slice of the message repository the reconciler uses.
type messageUpserter interface {
	UpsertByExternalID(ctx context.Context, msg *store.Message) error
}

// conversationToucher bumps a conversation's recency timestamp.
type conversationToucher interface {
	Touch(ctx context.Context, id string) error
}

// Reconciler commits a turn's messages to durable storage exactly once per
// logical message. The message id is the upsert key, so re-delivering the
// same turn overwrites rather than duplicates.
type Reconciler struct {
	messages      messageUpserter
	conversations conversationToucher
	logger        *slog.Logger
}

// NewReconciler creates a Reconciler over the given repositories.
func NewReconciler(messages messageUpserter, conversations conversationToucher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{messages: messages, conversations: conversations, logger: logger}
}

// Reconcile upserts every message in final whose id is not in the turn-start
// snapshot, touching the conversation's updatedAt per successful upsert.
// Persistence is best-effort per message: a failure is logged and the rest of
// the batch still commits. Callers do not retry; a later replay of the same
// turn self-heals through the upsert.
func (r *Reconciler) Reconcile(ctx context.Context, conversationID string, snapshot map[string]bool, final []UIMessage) {
	for _, msg := range final {
		if snapshot[msg.ID] {
			continue
		}

		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			r.logger.Error("marshaling message parts failed",
				"conversation_id", conversationID, "message_id", msg.ID, "error", err)
			continue
		}

		row := &store.Message{
			ExternalID:     msg.ID,
			ConversationID: conversationID,
			Role:           msg.Role,
			Parts:          parts,
			Metadata:       []byte(msg.Metadata),
		}
		if err := r.messages.UpsertByExternalID(ctx, row); err != nil {
			r.logger.Error("persisting message failed",
				"conversation_id", conversationID, "message_id", msg.ID, "error", err)
			continue
		}
		if err := r.conversations.Touch(ctx, conversationID); err != nil {
			r.logger.Warn("touching conversation failed",
				"conversation_id", conversationID, "error", err)
		}
	}
}
