// Package websocket terminates client WebSocket connections and delivers
// broadcast payloads to the sockets owned by this instance.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/domain"
)

var (
	ErrHubClosed          = errors.New("hub is closed")
	ErrAlreadyAttached    = errors.New("connection already attached")
	errNotAttachedLocally = errors.New("connection not attached to this instance")
)

// Hub maps connection IDs to the live sockets of this instance.
// It is the local DeliveryClient: Send writes to the socket and returns once written.
type Hub struct {
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics

	mu      sync.RWMutex
	clients map[domain.ConnectionID]*clientWriter
	closed  bool
}

var _ domain.DeliveryClient = (*Hub)(nil)

func NewHub(clock clockwork.Clock, m *metrics.WebSocketMetrics) *Hub {
	return &Hub{
		clock:   clock,
		metrics: m,
		clients: make(map[domain.ConnectionID]*clientWriter),
	}
}

// Attach starts a writer for conn under id.
func (h *Hub) Attach(id domain.ConnectionID, conn *ws.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, exists := h.clients[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyAttached, id)
	}

	h.clients[id] = newClientWriter(conn, h.clock, h.metrics)
	h.metrics.ActiveConnections.Inc()
	slog.Debug("Connection attached", "connection_id", id)
	return nil
}

// Detach stops the writer for id and closes its socket. Unknown ids are ignored.
func (h *Hub) Detach(id domain.ConnectionID) {
	if cw := h.remove(id); cw != nil {
		cw.stop()
	}
}

// DetachWithReason is Detach with a close frame carrying reason.
func (h *Hub) DetachWithReason(id domain.ConnectionID, reason string) {
	if cw := h.remove(id); cw != nil {
		cw.stopGraceful(reason)
	}
}

func (h *Hub) remove(id domain.ConnectionID) *clientWriter {
	h.mu.Lock()
	defer h.mu.Unlock()

	cw, ok := h.clients[id]
	if !ok {
		return nil
	}
	delete(h.clients, id)
	h.metrics.ActiveConnections.Dec()
	return cw
}

// Send writes payload to the socket of id. It fails when id has no socket here,
// the send buffer is full, the write fails or ctx expires first.
//
// A failed send evicts the socket: the caller prunes the record, and a socket
// without a record would never be reached again. Cancellation by the caller is
// not a failure of the client and leaves the socket attached.
func (h *Hub) Send(ctx context.Context, id domain.ConnectionID, payload []byte) error {
	h.mu.RLock()
	cw, ok := h.clients[id]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %w: %s", domain.ErrDeliveryFailed, errNotAttachedLocally, id)
	}

	err := cw.send(ctx, payload)
	if err != nil && !errors.Is(err, context.Canceled) {
		h.evict(id, cw, err)
	}
	return err
}

// evict detaches cw if it is still the writer of id. The close frame is sent in
// the background so Send returns without waiting on a stuck socket.
func (h *Hub) evict(id domain.ConnectionID, cw *clientWriter, cause error) {
	h.mu.Lock()
	current, ok := h.clients[id]
	if !ok || current != cw {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)
	h.metrics.ActiveConnections.Dec()
	h.mu.Unlock()

	slog.Info("Evicting connection after failed delivery", "connection_id", id, "error", cause)
	go cw.stopGraceful(ReasonDeliveryFailed)
}

// Touch records inbound activity for id so the idle timer restarts.
func (h *Hub) Touch(id domain.ConnectionID) {
	h.mu.RLock()
	cw, ok := h.clients[id]
	h.mu.RUnlock()

	if ok {
		cw.recordActivity()
	}
}

// Has reports whether id has a live socket on this instance.
func (h *Hub) Has(id domain.ConnectionID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[id]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close sends a close frame with reason to every client and rejects further attaches.
func (h *Hub) Close(reason string) {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[domain.ConnectionID]*clientWriter)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, cw := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.stopGraceful(reason)
		}()
	}
	wg.Wait()

	h.metrics.ActiveConnections.Sub(float64(len(clients)))
	slog.Info("Hub closed", "connections", len(clients))
}
