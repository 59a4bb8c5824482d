package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 256

// Writer is the single ordered sink for one turn. Every producer (model
// stream forwarding, tool progress emitters, the finish path) appends through
// it; appends are serialized and sequence numbers assigned under one lock, so
// the order subscribers observe is exactly arrival order. Progress events are
// side-channel: they never wait on the model stream.
type Writer struct {
	turnID string
	store  ReplayStore
	logger *slog.Logger

	mu     sync.Mutex
	seq    int64
	buffer []Event
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewWriter creates a Writer for one turn. store may be nil, in which case
// replay is served from the in-process buffer only.
func NewWriter(turnID string, store ReplayStore, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		turnID: turnID,
		store:  store,
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// TurnID returns the id of the turn this writer serves.
func (w *Writer) TurnID() string { return w.turnID }

// Append assigns the next sequence number to ev and delivers it. After Close
// it is a no-op.
func (w *Writer) Append(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.seq++
	ev.Seq = w.seq
	w.buffer = append(w.buffer, ev)

	if w.store != nil {
		if err := w.store.Append(context.Background(), w.turnID, ev); err != nil {
			w.logger.Warn("replay store append failed",
				"turn_id", w.turnID, "seq", ev.Seq, "error", err)
		}
	}

	for id, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber fell behind its buffer; drop it. It can
			// re-subscribe from the last seq it processed.
			w.logger.Warn("dropping slow stream subscriber",
				"turn_id", w.turnID, "subscriber", id)
			close(ch)
			delete(w.subs, id)
		}
	}
}

// Text appends a model text delta for the part with the given id.
func (w *Writer) Text(partID, delta string) {
	w.Append(Event{Type: EventTextDelta, ID: partID, Delta: delta})
}

// Reasoning appends a model reasoning delta for the part with the given id.
func (w *Writer) Reasoning(partID, delta string) {
	w.Append(Event{Type: EventReasoningDelta, ID: partID, Delta: delta})
}

// ToolInputStart announces a tool call whose arguments are still streaming.
func (w *Writer) ToolInputStart(toolCallID, toolName string) {
	w.Append(Event{Type: EventToolInputStart, ID: toolCallID, ToolName: toolName})
}

// ToolInput announces that a tool call's arguments are complete.
func (w *Writer) ToolInput(toolCallID, toolName string, args any) {
	w.Append(Event{Type: EventToolInput, ID: toolCallID, ToolName: toolName, Data: args})
}

// ToolOutput appends a tool's final result.
func (w *Writer) ToolOutput(toolCallID, toolName string, output any) {
	w.Append(Event{Type: EventToolOutput, ID: toolCallID, ToolName: toolName, Data: output})
}

// ToolErrorResult appends a tool's failure result.
func (w *Writer) ToolErrorResult(toolCallID, toolName string, errData any) {
	w.Append(Event{Type: EventToolError, ID: toolCallID, ToolName: toolName, Data: errData})
}

// Data appends a tool progress event for the given kind, correlated by
// toolCallID. Progress events bypass model-stream ordering entirely.
func (w *Writer) Data(toolCallID string, kind DataKind, payload any) {
	w.Append(Event{Type: EventTypeFor(kind), ID: toolCallID, Data: payload})
}

// Finish appends the terminal event of a successful turn and closes the
// writer. It must be the last event subscribers see.
func (w *Writer) Finish(model string, totalTokens int) {
	w.Append(Event{Type: EventFinish, Data: FinishData{
		Model:       model,
		TotalTokens: totalTokens,
		CreatedAt:   time.Now().UTC(),
	}})
	w.Close()
}

// Error appends a terminal error event with a user-visible message and
// closes the writer.
func (w *Writer) Error(message string) {
	w.Append(Event{Type: EventError, Data: ErrorData{Message: message}})
	w.Close()
}

// Subscribe returns a channel that first replays every buffered event with
// Seq > fromSeq and then receives live events in order. The cancel func
// detaches the subscriber. Pass fromSeq 0 to receive the whole turn.
func (w *Writer) Subscribe(fromSeq int64) (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	backlog := make([]Event, 0)
	for _, ev := range w.buffer {
		if ev.Seq > fromSeq {
			backlog = append(backlog, ev)
		}
	}

	ch := make(chan Event, subscriberBuffer+len(backlog))
	for _, ev := range backlog {
		ch <- ev
	}

	if w.closed {
		close(ch)
		return ch, func() {}
	}

	id := w.nextID
	w.nextID++
	w.subs[id] = ch

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if ch, ok := w.subs[id]; ok {
			close(ch)
			delete(w.subs, id)
		}
	}
	return ch, cancel
}

// Events returns the events appended so far, in order.
func (w *Writer) Events() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Event, len(w.buffer))
	copy(out, w.buffer)
	return out
}

// Closed reports whether the writer has terminated.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close terminates the stream and closes all subscriber channels. Safe to
// call multiple times.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
	if w.store != nil {
		if err := w.store.Expire(context.Background(), w.turnID, replayTTL); err != nil {
			w.logger.Warn("replay store expire failed", "turn_id", w.turnID, "error", err)
		}
	}
}
