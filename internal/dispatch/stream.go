package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Emitter receives named progress events as the state machine advances.
// Streaming is an observability side-channel only: emitting never changes
// which state comes next.
type Emitter interface {
	Emit(event string, data map[string]any)
}

// NopEmitter discards events, for non-streaming dispatches.
type NopEmitter struct{}

func (NopEmitter) Emit(string, map[string]any) {}

// SSEEmitter writes each event as a server-sent-event frame and flushes
// immediately so the client sees progress in real time.
type SSEEmitter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// NewSSEEmitter prepares the response for event streaming. It returns nil
// when the writer cannot flush, in which case callers fall back to the
// non-streaming response shape.
func NewSSEEmitter(w http.ResponseWriter) *SSEEmitter {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSEEmitter{w: w, f: f}
}

func (e *SSEEmitter) Emit(event string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.w, "event: %s\n", event)
	if data == nil {
		data = map[string]any{}
	}
	payload, _ := json.Marshal(data)
	fmt.Fprintf(e.w, "data: %s\n\n", payload)
	e.f.Flush()
}
