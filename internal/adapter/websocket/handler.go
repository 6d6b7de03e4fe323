package websocket

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/correlation"
)

const (
	maxMessageSize    = 128 * 1024
	disconnectTimeout = 5 * time.Second

	// Close reasons sent to clients.
	ReasonConnectFailed  = "Failed to connect"
	ReasonShutdown       = "Server shutting down"
	ReasonDeliveryFailed = "Delivery failed"
)

// ConnectionService is the lifecycle and broadcast surface the handler drives.
type ConnectionService interface {
	Connect(ctx context.Context, id domain.ConnectionID) error
	Disconnect(ctx context.Context, id domain.ConnectionID) error
	Broadcast(ctx context.Context, origin *domain.ConnectionID, raw []byte) (domain.BroadcastResult, error)
}

// Handler upgrades HTTP requests to WebSocket connections. Every connection gets
// a fresh ID, is registered through the service, and every frame it sends is
// broadcast with that connection as origin.
type Handler struct {
	upgrader ws.Upgrader
	hub      *Hub
	svc      ConnectionService
	limits   *ConnectionLimits
	metrics  *metrics.WebSocketMetrics
}

func NewHandler(hub *Hub, svc ConnectionService, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, m *metrics.WebSocketMetrics) *Handler {
	return &Handler{
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		hub:     hub,
		svc:     svc,
		limits:  limits,
		metrics: m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if ok, reason := h.limits.Acquire(ip); !ok {
		h.metrics.RejectedConnections.WithLabelValues(string(reason)).Inc()
		slog.Warn("WebSocket connection rejected", "reason", reason, "remote_ip", ip)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer h.limits.Release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		slog.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	id := domain.ConnectionID(uuid.NewString())
	ctx := context.WithoutCancel(r.Context())

	if err := h.hub.Attach(id, conn); err != nil {
		slog.Warn("Failed to attach connection", "connection_id", id, "error", err)
		closeMsg := ws.FormatCloseMessage(ws.CloseTryAgainLater, ReasonShutdown)
		_ = conn.WriteControl(ws.CloseMessage, closeMsg, time.Now().Add(writeDeadline))
		_ = conn.Close()
		return
	}

	if err := h.svc.Connect(ctx, id); err != nil {
		h.hub.DetachWithReason(id, ReasonConnectFailed)
		return
	}

	defer func() {
		h.hub.Detach(id)
		disconnectCtx, cancel := context.WithTimeout(ctx, disconnectTimeout)
		defer cancel()
		_ = h.svc.Disconnect(disconnectCtx, id)
	}()

	h.readLoop(ctx, id, conn)
}

// readLoop runs until the socket fails or is closed. Frames are broadcast in
// arrival order; the next frame is not read until the previous broadcast finished.
func (h *Handler) readLoop(ctx context.Context, id domain.ConnectionID, conn *ws.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway, ws.CloseNoStatusReceived) {
				slog.Debug("WebSocket read failed", "connection_id", id, "error", err)
			}
			return
		}

		h.metrics.MessagesReceived.Inc()
		h.hub.Touch(id)

		origin := id
		msgCtx := correlation.WithID(ctx, correlation.NewID())
		if _, err := h.svc.Broadcast(msgCtx, &origin, data); err != nil {
			slog.ErrorContext(msgCtx, "Broadcast from connection failed", "connection_id", id, "error", err)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
