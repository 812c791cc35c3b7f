// Package hub streams EventBus events to browsers over Server-Sent Events.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"hearth/internal/logging"
	"hearth/internal/metrics"
	"hearth/internal/service"
)

// DefaultKeepAlive is how often an idle stream gets a comment line.
const DefaultKeepAlive = 30 * time.Second

// client represents a connected SSE client
type client struct {
	id     string
	events chan []byte
}

// Hub manages SSE client connections
type Hub struct {
	bus       *service.EventBus
	keepAlive time.Duration
	log       zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	nextID  atomic.Uint64
}

// New creates a Hub fed by bus.
func New(bus *service.EventBus) *Hub {
	return &Hub{
		bus:       bus,
		keepAlive: DefaultKeepAlive,
		log:       logging.Component("hub"),
		clients:   make(map[*client]struct{}),
	}
}

// String names the hub in the supervisor tree.
func (h *Hub) String() string { return "sse-hub" }

// Serve relays bus events to clients until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context) error {
	events := make(chan service.Event, 256)
	h.bus.Subscribe(events)
	defer h.bus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			h.Broadcast(ev)
		}
	}
}

// Broadcast sends an event to all connected clients. Slow clients miss it.
func (h *Hub) Broadcast(ev service.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to marshal event")
		return
	}
	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, data))

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.events <- msg:
		default:
			h.log.Warn().Str("client", c.id).Str("type", string(ev.Type)).Msg("SSE client is slow, skipping event")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SSEClients.Set(float64(n))
	h.log.Debug().Str("client", c.id).Int("total", n).Msg("SSE client connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SSEClients.Set(float64(n))
	h.log.Debug().Str("client", c.id).Int("total", n).Msg("SSE client disconnected")
}

// ServeHTTP handles SSE connections
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Streams outlive the server's WriteTimeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Debug().Err(err).Msg("could not clear write deadline")
	}

	c := &client{
		id:     strconv.FormatUint(h.nextID.Add(1), 10),
		events: make(chan []byte, 64),
	}
	h.register(c)
	defer h.unregister(c)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.events:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
