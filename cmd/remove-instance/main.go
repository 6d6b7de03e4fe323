// Command remove-instance drops every connection record owned by one instance
// from a shared store. Use it after an instance died without shutting down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/fanout/internal/adapter/metrics"
	"github.com/pscheid92/fanout/internal/adapter/postgres"
	"github.com/pscheid92/fanout/internal/adapter/redis"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/logging"
	"github.com/pscheid92/fanout/internal/platform/version"
)

const timeout = 2 * time.Minute

type instanceStore interface {
	domain.ConnectionStore
	domain.ConnectionRecordReader
	RemoveInstance(ctx context.Context, instanceID string) (int64, error)
}

func main() {
	var (
		backend     = flag.String("backend", envOr("STORE_BACKEND", "redis"), "Store backend: redis or postgres (or set STORE_BACKEND env)")
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		redisPrefix = flag.String("prefix", envOr("REDIS_PREFIX", "fanout"), "Redis key prefix (or set REDIS_PREFIX env)")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "PostgreSQL URL (or set DATABASE_URL env)")
		instanceID  = flag.String("instance", "", "Instance ID whose connections are removed")
		dryRun      = flag.Bool("dry-run", false, "Only count matching connections")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		return
	}
	if *instanceID == "" {
		log.Fatal("Instance ID required (--instance)")
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(os.Stdout, level, "text"))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	store, closeStore, err := openStore(ctx, *backend, *redisURL, *redisPrefix, *databaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer closeStore()

	if err := run(ctx, store, *instanceID, *dryRun); err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}
}

func openStore(ctx context.Context, backend, redisURL, prefix, databaseURL string) (instanceStore, func(), error) {
	// Metrics are collected on a private registry that is never served.
	m := metrics.NewSet().Store

	switch backend {
	case "redis":
		if redisURL == "" {
			return nil, nil, errors.New("redis URL required (--redis or REDIS_URL env)")
		}
		rdb, err := redis.NewClient(ctx, redisURL, m)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to Redis", "url", sanitizeURL(redisURL), "prefix", prefix)
		// The instance ID passed here only tags new records; this tool never adds any.
		return redis.NewConnectionStore(rdb, prefix, "remove-instance", clockwork.NewRealClock()), func() { _ = rdb.Close() }, nil

	case "postgres":
		if databaseURL == "" {
			return nil, nil, errors.New("database URL required (--database or DATABASE_URL env)")
		}
		pool, err := postgres.Connect(ctx, databaseURL, m)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Connected to PostgreSQL", "url", sanitizeURL(databaseURL))
		return postgres.NewConnectionStore(pool, "remove-instance"), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend %q (want redis or postgres)", backend)
	}
}

func run(ctx context.Context, store instanceStore, instanceID string, dryRun bool) error {
	start := time.Now()
	slog.Info("Starting cleanup", "instance_id", instanceID, "dry_run", dryRun)

	if dryRun {
		matched, scanned, err := countOwned(ctx, store, instanceID)
		if err != nil {
			return err
		}
		slog.Info("Dry run summary", "scanned", scanned, "matched", matched, "duration_ms", time.Since(start).Milliseconds())
		return nil
	}

	removed, err := store.RemoveInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to remove connections of %s: %w", instanceID, err)
	}
	slog.Info("Cleanup summary", "removed", removed, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func countOwned(ctx context.Context, store instanceStore, instanceID string) (matched, scanned int, err error) {
	ids, err := store.ListAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list connections: %w", err)
	}

	for _, id := range ids {
		scanned++
		record, err := store.Record(ctx, id)
		if errors.Is(err, domain.ErrConnectionNotFound) {
			continue
		}
		if err != nil {
			return matched, scanned, fmt.Errorf("failed to read %s: %w", id, err)
		}
		if record.InstanceID == instanceID {
			slog.Debug("Would remove connection", "connection_id", id, "connected_at", record.ConnectedAt.Format(time.RFC3339))
			matched++
		}
	}
	return matched, scanned, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// sanitizeURL hides the password for logging.
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparsable>"
	}
	return u.Redacted()
}
