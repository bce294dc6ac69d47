// Package stream fans order lifecycle events out to websocket
// subscribers. Delivery is best-effort: a slow subscriber is dropped
// rather than allowed to block order processing.
package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trustflow/internal/domain"
	"trustflow/internal/observability"
)

const (
	subscriberBuffer = 16
	writeWait        = 10 * time.Second
)

// Hub broadcasts order events to all live subscribers.
type Hub struct {
	logger *log.Logger

	mu   sync.Mutex
	subs map[chan domain.OrderEvent]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[chan domain.OrderEvent]struct{}),
	}
}

// Publish delivers the event to every subscriber. Subscribers whose
// buffers are full miss the event.
func (h *Hub) Publish(e domain.OrderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			observability.RecordStreamDrop()
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// must be called exactly once when done.
func (h *Hub) Subscribe() (<-chan domain.OrderEvent, func()) {
	ch := make(chan domain.OrderEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	observability.SetStreamSubscribers(len(h.subs))
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		observability.SetStreamSubscribers(len(h.subs))
		h.mu.Unlock()
	}
	return ch, cancel
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is read-only public data; cross-origin dashboards may
	// subscribe.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades the request and streams order events as JSON frames
// until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("stream: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Subscribe()
	defer cancel()

	// Reader goroutine: only to detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
