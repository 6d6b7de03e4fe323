package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/adapter/httpserver"
	"github.com/pscheid92/fanout/internal/adapter/memory"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/adapter/postgres"
	"github.com/pscheid92/fanout/internal/adapter/redis"
	"github.com/pscheid92/fanout/internal/adapter/websocket"
	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/broadcast"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/config"
	"github.com/pscheid92/fanout/internal/platform/logging"
	"github.com/pscheid92/fanout/internal/platform/retry"
	"github.com/pscheid92/fanout/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const (
	connectTimeout  = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

type connectionStore interface {
	app.RecordStore
	Ping(ctx context.Context) error
}

// instanceRemover is implemented by shared stores that can drop every record of one instance.
type instanceRemover interface {
	RemoveInstance(ctx context.Context, instanceID string) (int64, error)
}

type backend struct {
	store connectionStore
	rdb   *goredis.Client
	close func()
}

var connectPolicy = retry.Policy{
	MaxAttempts:    6,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
	OnRetry: func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Backend not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	},
}

func classifyConnectError(err error) retry.Action {
	if errors.Is(err, redis.ErrInvalidURL) || errors.Is(err, postgres.ErrInvalidURL) {
		return retry.Stop
	}
	return retry.Retry
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics) *goredis.Client {
	rdb, err := retry.Do(ctx, connectPolicy, classifyConnectError, func(ctx context.Context) (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL, m)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Redis connected")
	return rdb
}

func setupBackend(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m *metrics.StoreMetrics) backend {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var b backend
	closers := []func(){}

	// Redis backs the store in redis mode and carries the delivery relay for shared stores.
	relayOverRedis := cfg.StoreBackend == config.BackendPostgres && cfg.RelayEnabled && cfg.RedisURL != ""
	if cfg.StoreBackend == config.BackendRedis || relayOverRedis {
		rdb := setupRedis(ctx, cfg, m)
		b.rdb = rdb
		closers = append(closers, func() { _ = rdb.Close() })
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		b.store = redis.NewConnectionStore(b.rdb, cfg.RedisPrefix, cfg.InstanceID, clock)

	case config.BackendPostgres:
		pool, err := retry.Do(ctx, connectPolicy, classifyConnectError, func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, cfg.DatabaseURL, m)
		})
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		b.store = postgres.NewConnectionStore(pool, cfg.InstanceID)
		closers = append(closers, pool.Close)

	default:
		b.store = memory.NewConnectionStore(clock, cfg.InstanceID)
	}

	b.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	slog.Info("Connection store ready", "backend", cfg.StoreBackend)
	return b
}

// setupDelivery returns the hub itself, or a relay in front of it when connections
// may live on other instances.
func setupDelivery(ctx context.Context, cfg *config.Config, b backend, hub *websocket.Hub) (domain.DeliveryClient, *redis.Relay) {
	if b.rdb == nil || !cfg.RelayEnabled || cfg.StoreBackend == config.BackendMemory {
		return hub, nil
	}

	relay := redis.NewRelay(b.rdb, b.store, hub, b.store, cfg.InstanceID, cfg.RedisPrefix)
	if err := relay.Start(ctx); err != nil {
		slog.Error("Failed to start delivery relay", "error", err)
		os.Exit(1)
	}
	return relay, relay
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, hub *websocket.Hub, relay *redis.Relay, reconciler *app.OrphanReconciler, store connectionStore, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		reconciler.Stop()
		hub.Close(websocket.ReasonShutdown)

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if relay != nil {
			if err := relay.Close(); err != nil {
				slog.Error("Failed to close delivery relay", "error", err)
			}
		}

		// Sockets are gone; drop whatever records their disconnects did not.
		if remover, ok := store.(instanceRemover); ok {
			removed, err := remover.RemoveInstance(shutdownCtx, cfg.InstanceID)
			if err != nil {
				slog.Error("Failed to remove instance connections", "error", err)
			} else if removed > 0 {
				slog.Info("Removed leftover instance connections", "count", removed)
			}
		}

		cancel()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.InstanceID)
	slog.Info("Application starting", "version", version.Get().String(), "env", cfg.AppEnv, "port", cfg.Port, "backend", cfg.StoreBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewSet()

	b := setupBackend(ctx, cfg, clock, m.Store)
	defer b.close()

	hub := websocket.NewHub(clock, m.WebSocket)
	delivery, relay := setupDelivery(ctx, cfg, b, hub)

	dispatcher := broadcast.NewDispatcher(b.store, delivery, clock, broadcast.Config{
		Concurrency:     cfg.BroadcastConcurrency,
		DeliveryTimeout: cfg.DeliveryTimeout,
		PruneTimeout:    cfg.PruneTimeout,
		Metrics:         m.Broadcast,
		OnPruneFailure: func(id domain.ConnectionID, err error) {
			slog.Warn("Failed to prune dead connection", "connection_id", id, "error", err)
		},
	})
	appSvc := app.NewService(b.store, dispatcher)

	reconciler := app.NewOrphanReconciler(b.store, hub, cfg.InstanceID, cfg.ReconcileInterval, clock)
	reconciler.Start(ctx)

	limits := websocket.NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP)
	wsHandler := websocket.NewHandler(hub, appSvc, limits, websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()), m.WebSocket)

	healthChecks := []httpserver.HealthCheck{{Name: "store", Check: b.store.Ping}}
	if relay != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "relay", Check: relay.Ping})
	}

	srv := httpserver.NewServer(cfg, appSvc, wsHandler, m, healthChecks, clock)

	done := runGracefulShutdown(cfg, srv, hub, relay, reconciler, b.store, cancel)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
