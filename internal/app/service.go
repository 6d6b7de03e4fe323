package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/correlation"
)

// Dispatcher fans a message out to all registered connections.
type Dispatcher interface {
	Broadcast(ctx context.Context, origin *domain.ConnectionID, raw []byte) (domain.BroadcastResult, error)
}

// Service is the application layer. It owns the connection lifecycle and
// is the single entry point for broadcasts from every transport.
type Service struct {
	store      domain.ConnectionStore
	dispatcher Dispatcher
}

func NewService(store domain.ConnectionStore, dispatcher Dispatcher) *Service {
	return &Service{store: store, dispatcher: dispatcher}
}

// Connect registers a newly opened connection.
func (s *Service) Connect(ctx context.Context, id domain.ConnectionID) error {
	if err := s.store.Add(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to connect", "connection_id", id, "error", err)
		return fmt.Errorf("failed to register connection %s: %w", id, err)
	}
	slog.DebugContext(ctx, "Connection registered", "connection_id", id)
	return nil
}

// Disconnect removes a closed connection. Removing an unknown id succeeds.
func (s *Service) Disconnect(ctx context.Context, id domain.ConnectionID) error {
	if err := s.store.Remove(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to disconnect", "connection_id", id, "error", err)
		return fmt.Errorf("failed to unregister connection %s: %w", id, err)
	}
	slog.DebugContext(ctx, "Connection unregistered", "connection_id", id)
	return nil
}

// Broadcast delivers raw to every registered connection. origin may be nil.
func (s *Service) Broadcast(ctx context.Context, origin *domain.ConnectionID, raw []byte) (domain.BroadcastResult, error) {
	ctx, _ = correlation.Ensure(ctx)

	result, err := s.dispatcher.Broadcast(ctx, origin, raw)
	if err != nil {
		return result, fmt.Errorf("broadcast failed: %w", err)
	}

	if result.Pruned > 0 || result.Failed > 0 {
		slog.InfoContext(ctx, "Broadcast pruned dead connections",
			"delivered", result.Delivered,
			"pruned", result.Pruned,
			"failed", result.Failed,
		)
	}
	return result, nil
}

// Connections lists the ids currently in the registry.
func (s *Service) Connections(ctx context.Context) ([]domain.ConnectionID, error) {
	ids, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return ids, nil
}
