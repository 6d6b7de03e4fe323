package httpserver

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/fanout/internal/domain"
	apperrors "github.com/pscheid92/fanout/internal/platform/errors"
)

type broadcastResponse struct {
	Status    string `json:"status"`
	Delivered int    `json:"delivered"`
	Pruned    int    `json:"pruned"`
	Failed    int    `json:"failed"`
}

type connectionsResponse struct {
	Count int                   `json:"count"`
	IDs   []domain.ConnectionID `json:"ids"`
}

func (s *Server) registerAPIRoutes() {
	rateLimit := newRateLimiter(s.config.BroadcastRateLimit, s.config.BroadcastRateBurst)
	bodyLimit := middleware.BodyLimit(maxBroadcastBodySize)

	s.echo.POST("/api/broadcast", s.handleBroadcast, rateLimit, bodyLimit)
	s.echo.GET("/api/connections", s.handleConnections)
}

// handleBroadcast fans the raw request body out to every connection. The
// optional "origin" query parameter marks one connection as the sender.
func (s *Server) handleBroadcast(c echo.Context) error {
	ctx := c.Request().Context()

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}

	var origin *domain.ConnectionID
	if c.QueryParams().Has("origin") {
		value := c.QueryParam("origin")
		if value == "" {
			return apperrors.ValidationError("origin must not be empty")
		}
		id := domain.ConnectionID(value)
		origin = &id
	}

	result, err := s.app.Broadcast(ctx, origin, raw)
	if err != nil {
		return err
	}

	resp := broadcastResponse{
		Status:    "success",
		Delivered: result.Delivered,
		Pruned:    result.Pruned,
		Failed:    result.Failed,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleConnections(c echo.Context) error {
	ids, err := s.app.Connections(c.Request().Context())
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []domain.ConnectionID{}
	}

	if err := c.JSON(http.StatusOK, connectionsResponse{Count: len(ids), IDs: ids}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
