package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	alerts "terrarium-cloud/internal/alerts/domain"
	"terrarium-cloud/internal/auth"
)

type subscriber struct {
	sourceID string
	ch       chan []byte
}

// SSEBroker fans out alert records to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]subscriber
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]subscriber)}
}

// Notify implements the dispatcher notifier.
func (b *SSEBroker) Notify(_ context.Context, record alerts.AlertRecord) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	b.broadcast(record.SourceID, payload)
}

// Subscribe registers a client channel. An empty sourceID receives every source.
func (b *SSEBroker) Subscribe(sourceID string) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = subscriber{sourceID: sourceID, ch: ch}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

func (b *SSEBroker) broadcast(sourceID string, payload []byte) {
	b.mu.Lock()
	targets := make([]chan []byte, 0, len(b.clients))
	for ch, sub := range b.clients {
		if sub.sourceID == "" || sub.sourceID == sourceID {
			targets = append(targets, ch)
		}
	}
	b.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
		}
	}
}

// StreamHandler serves the SSE alert stream.
type StreamHandler struct {
	broker *SSEBroker
	owners auth.SourceOwnerResolver
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker, owners auth.SourceOwnerResolver) *StreamHandler {
	return &StreamHandler{broker: broker, owners: owners}
}

// ServeHTTP handles GET /api/v1/alerts/stream?source_id=.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" && auth.SubjectFromContext(r.Context()) != "" && auth.RoleFromContext(r.Context()) != auth.RoleAdmin {
		http.Error(w, "source_id is required", http.StatusBadRequest)
		return
	}
	if err := auth.EnsureSourceAccess(r.Context(), h.owners, sourceID); err != nil {
		auth.RespondAccessError(w, err)
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

	ch := h.broker.Subscribe(sourceID)
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alert\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
