package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clark-labs/clark/internal/agent"
	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/stream"
)

// chatRequest is the turn request body.
type chatRequest struct {
	ConversationID  string            `json:"conversationId"`
	Messages        []agent.UIMessage `json:"messages"`
	ModelID         string            `json:"modelId"`
	ReasoningEffort llm.Effort        `json:"reasoningEffort"`
}

// chat runs one agent turn and streams its events as SSE. Validation happens
// before any model or tool work: an unknown model id is a plain 400.
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages are required"})
		return
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = llm.DefaultModelID
	}
	if llm.GetModelInfo(modelID) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Model %s not found.", modelID)})
		return
	}
	if !llm.ValidEffort(req.ReasoningEffort) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reasoning effort"})
		return
	}

	conversationID, err := h.ensureConversation(c.Request.Context(), req.ConversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Snapshot what is already stored so the reconciler only writes messages
	// this turn adds or changes.
	stored, err := h.messages.ListByConversationID(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snapshot := make(map[string]bool, len(stored))
	for _, msg := range stored {
		snapshot[msg.ExternalID] = true
	}

	turn := agent.TurnRequest{
		ConversationID:  conversationID,
		Messages:        req.Messages,
		ModelID:         modelID,
		ReasoningEffort: req.ReasoningEffort,
	}
	if h.connectors != nil {
		extra, closers := h.connectors.Open(c.Request.Context())
		if len(extra) > 0 {
			turn.Tools = h.loop.Registry().WithConnectorTools(extra)
		}
		turn.Closers = closers
	}

	writer := stream.NewWriter(uuid.New().String(), h.replay, h.logger)
	events, cancel := writer.Subscribe(0)
	defer cancel()

	// The turn keeps running on the server even if the client goes away, so
	// the transcript is still reconciled. done closes only after
	// reconciliation so the stream's DONE marker means fully committed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.WithoutCancel(c.Request.Context())
		result, err := h.loop.Run(ctx, turn, writer)
		if err != nil {
			// Resolve was validated above; an error here means the writer
			// never produced events. Close it so the SSE loop ends.
			h.logger.Error("turn failed before streaming", "error", err)
			writer.Error("Communication error with the AI")
			return
		}
		final := append(append([]agent.UIMessage{}, req.Messages...), result.Messages...)
		h.reconciler.Reconcile(ctx, conversationID, snapshot, final)
	}()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Header().Set("X-Conversation-Id", conversationID)
	c.Status(http.StatusOK)

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("encoding stream event failed", "seq", ev.Seq, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			// Client went away; the goroutine above finishes the turn.
			return
		}
		flusher.Flush()
	}
	<-done
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

// ensureConversation returns an existing conversation's id or creates one.
func (h *Handler) ensureConversation(ctx context.Context, id string) (string, error) {
	if id == "" {
		conv := &store.Conversation{ID: uuid.New().String()}
		if err := h.conversations.Create(ctx, conv); err != nil {
			return "", err
		}
		return conv.ID, nil
	}
	_, err := h.conversations.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		conv := &store.Conversation{ID: id, CreatedAt: time.Now().UTC()}
		if err := h.conversations.Create(ctx, conv); err != nil {
			return "", err
		}
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
