// Package httpapi exposes the orchestration layer over HTTP: a streaming
// chat endpoint, the model catalog, and CRUD for conversations and external
// tool connections.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clark-labs/clark/internal/agent"
	"github.com/clark-labs/clark/internal/connect"
	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/stream"
)

// Handler wires HTTP routes to the agent loop and the repositories.
type Handler struct {
	loop          *agent.Loop
	reconciler    *agent.Reconciler
	connectors    *connect.Manager
	conversations *store.ConversationRepo
	messages      *store.MessageRepo
	resources     *store.ResourceRepo
	connections   *store.ConnectionRepo
	sandboxes     sandbox.Provider
	replay        stream.ReplayStore
	logger        *slog.Logger
}

// Options bundles the handler's dependencies. Connectors and Replay may be
// nil; the chat endpoint then runs with static tools only and in-memory
// replay.
type Options struct {
	Loop          *agent.Loop
	Reconciler    *agent.Reconciler
	Connectors    *connect.Manager
	Conversations *store.ConversationRepo
	Messages      *store.MessageRepo
	Resources     *store.ResourceRepo
	Connections   *store.ConnectionRepo
	Sandboxes     sandbox.Provider
	Replay        stream.ReplayStore
	Logger        *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		loop:          opts.Loop,
		reconciler:    opts.Reconciler,
		connectors:    opts.Connectors,
		conversations: opts.Conversations,
		messages:      opts.Messages,
		resources:     opts.Resources,
		connections:   opts.Connections,
		sandboxes:     opts.Sandboxes,
		replay:        opts.Replay,
		logger:        logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/chat", h.chat)
	api.GET("/models", h.listModels)

	api.GET("/chats", h.listChats)
	api.GET("/chats/:id", h.getChat)
	api.PATCH("/chats/:id", h.renameChat)
	api.DELETE("/chats/:id", h.deleteChat)
	api.GET("/chats/:id/messages", h.getChatMessages)
	api.GET("/chats/:id/resources", h.getChatResources)

	api.GET("/connections", h.listConnections)
	api.POST("/connections", h.createConnection)
	api.PATCH("/connections/:id", h.updateConnection)
	api.DELETE("/connections/:id", h.deleteConnection)

	api.GET("/sandboxes/:id/commands/:cmd/logs", h.commandLogs)
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": llm.ListAvailableModels()})
}

func (h *Handler) listChats(c *gin.Context) {
	chats, err := h.conversations.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if chats == nil {
		chats = make([]store.Conversation, 0)
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) getChat(c *gin.Context) {
	chat, err := h.conversations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat})
}

func (h *Handler) renameChat(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err := h.conversations.Rename(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteChat(c *gin.Context) {
	if err := h.conversations.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getChatMessages(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.conversations.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	messages, err := h.messages.ListByConversationID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = make([]store.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) getChatResources(c *gin.Context) {
	resources, err := h.resources.ListByConversationID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if resources == nil {
		resources = make([]store.Resource, 0)
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

func (h *Handler) listConnections(c *gin.Context) {
	connections, err := h.connections.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if connections == nil {
		connections = make([]store.Connection, 0)
	}
	c.JSON(http.StatusOK, gin.H{"connections": connections})
}

func (h *Handler) createConnection(c *gin.Context) {
	var conn store.Connection
	if err := c.ShouldBindJSON(&conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if conn.Name == "" || conn.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and url are required"})
		return
	}
	if err := h.connections.Create(c.Request.Context(), &conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"connection": conn})
}

func (h *Handler) updateConnection(c *gin.Context) {
	existing, err := h.connections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var patch store.Connection
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	if patch.URL != "" {
		existing.URL = patch.URL
	}
	existing.Enabled = patch.Enabled
	if patch.Auth != nil {
		existing.Auth = patch.Auth
	}
	if err := h.connections.Update(c.Request.Context(), existing); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connection": existing})
}

func (h *Handler) deleteConnection(c *gin.Context) {
	if err := h.connections.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
