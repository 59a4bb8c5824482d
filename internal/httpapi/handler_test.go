package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/clark-labs/clark/internal/agent"
	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/tools"
)

// scriptedAdapter streams one canned response per model call.
type scriptedAdapter struct {
	responses []llm.Response
	calls     int
}

func (a *scriptedAdapter) Name() string { return "anthropic" }

func (a *scriptedAdapter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	panic("streaming only")
}

func (a *scriptedAdapter) Stream(context.Context, llm.Request) (<-chan llm.StreamEvent, error) {
	idx := a.calls
	if idx >= len(a.responses) {
		idx = len(a.responses) - 1
	}
	a.calls++
	resp := a.responses[idx]

	ch := make(chan llm.StreamEvent, 4)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Type: llm.StreamStart}
		if text := resp.Text(); text != "" {
			ch <- llm.StreamEvent{Type: llm.TextDelta, Delta: text}
		}
		reason := llm.FinishReason{Reason: "stop"}
		ch <- llm.StreamEvent{Type: llm.StreamFinish, FinishReason: &reason, Response: &resp}
	}()
	return ch, nil
}

type testEnv struct {
	router  *gin.Engine
	db      *sql.DB
	adapter *scriptedAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	adapter := &scriptedAdapter{responses: []llm.Response{{
		Message: llm.AssistantMessage("hello there"),
		Usage:   llm.Usage{TotalTokens: 12},
	}}}
	client := llm.NewClient(llm.WithProvider("anthropic", adapter))
	registry := tools.NewRegistry(logger)
	loop := agent.NewLoop(client, registry, "You are a coding assistant.", logger)

	messages := store.NewMessageRepo(db)
	conversations := store.NewConversationRepo(db)

	handler := NewHandler(Options{
		Loop:          loop,
		Reconciler:    agent.NewReconciler(messages, conversations, logger),
		Conversations: conversations,
		Messages:      messages,
		Resources:     store.NewResourceRepo(db),
		Connections:   store.NewConnectionRepo(db),
		Sandboxes:     sandbox.NewFakeProvider(),
		Logger:        logger,
	})

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testEnv{router: router, db: db, adapter: adapter}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body struct {
		Models []llm.AvailableModel `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Models) == 0 {
		t.Error("model list should not be empty")
	}
}

func TestChatRejectsUnknownModel(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/chat", gin.H{
		"modelId": "nonexistent-model",
		"messages": []gin.H{{
			"id": "u1", "role": "user",
			"parts": []gin.H{{"type": "text", "text": "hi"}},
		}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.adapter.calls != 0 {
		t.Error("no model call may happen for an unknown model id")
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/chat", gin.H{
		"conversationId": "conv-1",
		"messages": []gin.H{{
			"id": "u1", "role": "user",
			"parts": []gin.H{{"type": "text", "text": "hi"}},
		}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "hello there") {
		t.Errorf("stream missing model text: %s", body)
	}
	if !strings.Contains(body, `"finish"`) {
		t.Errorf("stream missing finish event: %s", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]") {
		t.Errorf("stream should end with the DONE marker: %s", body)
	}

	// The reconciler persisted both the user message and the assistant reply.
	messages, err := store.NewMessageRepo(env.db).ListByConversationID(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(messages))
	}
	if messages[0].Role != "user" || messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", messages[0].Role, messages[1].Role)
	}
}

func TestChatReplayDoesNotDuplicate(t *testing.T) {
	env := newTestEnv(t)
	req := gin.H{
		"conversationId": "conv-1",
		"messages": []gin.H{{
			"id": "u1", "role": "user",
			"parts": []gin.H{{"type": "text", "text": "hi"}},
		}},
	}
	env.do(t, http.MethodPost, "/api/chat", req)
	env.do(t, http.MethodPost, "/api/chat", req)

	messages, err := store.NewMessageRepo(env.db).ListByConversationID(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	// The user message is upserted once; each turn produces its own
	// assistant message.
	users := 0
	for _, msg := range messages {
		if msg.Role == "user" {
			users++
		}
	}
	if users != 1 {
		t.Errorf("replayed user message must not duplicate, got %d rows", users)
	}
}

func TestChatCRUD(t *testing.T) {
	env := newTestEnv(t)

	// Run a turn to create the conversation.
	env.do(t, http.MethodPost, "/api/chat", gin.H{
		"conversationId": "conv-1",
		"messages": []gin.H{{
			"id": "u1", "role": "user",
			"parts": []gin.H{{"type": "text", "text": "hi"}},
		}},
	})

	rec := env.do(t, http.MethodGet, "/api/chats", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "conv-1") {
		t.Fatalf("list chats failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPatch, "/api/chats/conv-1", gin.H{"title": "My app"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("rename failed: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/chats/conv-1", nil)
	if !strings.Contains(rec.Body.String(), "My app") {
		t.Errorf("rename not visible: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/chats/conv-1/messages", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "assistant") {
		t.Errorf("messages listing failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/chats/conv-1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/chats/conv-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestConnectionCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/connections", gin.H{
		"name": "docs", "url": "https://mcp.example.com", "enabled": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Connection store.Connection `json:"connection"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = env.do(t, http.MethodPatch, "/api/connections/"+created.Connection.ID, gin.H{
		"enabled": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"enabled":true`) {
		t.Errorf("connection should be disabled: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/api/connections/"+created.Connection.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/connections", nil)
	if strings.Contains(rec.Body.String(), "docs") {
		t.Errorf("deleted connection still listed: %s", rec.Body.String())
	}
}
