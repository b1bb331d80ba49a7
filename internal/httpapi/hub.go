package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

// Hub fans store and sync notifications out to connected UI clients over
// websockets. It implements stubs.Notifier; delivery is best effort and a
// slow subscriber drops messages rather than blocking the core.
type Hub struct {
	logger stubs.Logger

	mu          sync.Mutex
	subscribers map[chan stubs.Notification]struct{}
}

const (
	subscriberBuffer = 32
	writeTimeout     = 5 * time.Second
)

func NewHub(logger stubs.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: map[chan stubs.Notification]struct{}{},
	}
}

func (h *Hub) Notify(n stubs.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

// SubscriberCount reports the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) subscribe() chan stubs.Notification {
	ch := make(chan stubs.Notification, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan stubs.Notification) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger == nil {
		return
	}
	h.logger.Printf(format, args...)
}

func (h *Hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logf("websocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case n := <-ch:
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
