package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/config"
)

type mockAppService struct {
	broadcastFn   func(ctx context.Context, origin *domain.ConnectionID, raw []byte) (domain.BroadcastResult, error)
	connectionsFn func(ctx context.Context) ([]domain.ConnectionID, error)
}

func (m *mockAppService) Broadcast(ctx context.Context, origin *domain.ConnectionID, raw []byte) (domain.BroadcastResult, error) {
	if m.broadcastFn != nil {
		return m.broadcastFn(ctx, origin, raw)
	}
	return domain.BroadcastResult{}, nil
}

func (m *mockAppService) Connections(ctx context.Context) ([]domain.ConnectionID, error) {
	if m.connectionsFn != nil {
		return m.connectionsFn(ctx)
	}
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		Port:               "0",
		InstanceID:         "node-1",
		BroadcastRateLimit: 100,
		BroadcastRateBurst: 100,
	}
}

func newTestServer(t *testing.T, app appService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo:             echo.New(),
		config:           testConfig(),
		app:              app,
		websocketHandler: http.NotFoundHandler(),
		metrics:          metrics.NewSet(),
		clock:            clockwork.NewFakeClock(),
	}
	srv.startTime = srv.clock.Now()

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withConfig(fn func(*config.Config)) func(*Server) {
	return func(s *Server) {
		fn(s.config)
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(srv *Server, handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware(srv.metrics.HTTP)(handler)(c)
}
