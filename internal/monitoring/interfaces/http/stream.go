package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	monitoringapp "solar-fleet/internal/monitoring/application"
)

const streamBuffer = 16

// SSEBroker fans out alert events to connected stream clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan streamEvent]struct{}
}

type streamEvent struct {
	name    string
	payload []byte
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan streamEvent]struct{})}
}

// Notify implements AlertNotifier.
func (b *SSEBroker) Notify(_ context.Context, event monitoringapp.AlertEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.broadcast(streamEvent{name: event.Type, payload: payload})
}

// subscribe registers a new client channel.
func (b *SSEBroker) subscribe() chan streamEvent {
	if b == nil {
		return nil
	}
	ch := make(chan streamEvent, streamBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// unsubscribe removes and closes a client channel. Closing happens under the
// broker lock so broadcast never sends on a closed channel.
func (b *SSEBroker) unsubscribe(ch chan streamEvent) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(event streamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/fleet/alerts/stream. Each event is named
// after its lifecycle type: raised, cleared or escalated.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.subscribe()
	defer h.broker.unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + event.name + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(event.payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
