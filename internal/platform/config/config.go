package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// InstanceID names this process in shared stores. Defaults to a random UUID.
	InstanceID   string `env:"INSTANCE_ID"`
	StoreBackend string `env:"STORE_BACKEND" default:"memory"`
	RedisURL     string `env:"REDIS_URL"`
	RedisPrefix  string `env:"REDIS_PREFIX" default:"fanout"`
	DatabaseURL  string `env:"DATABASE_URL"`
	RelayEnabled bool   `env:"RELAY_ENABLED" default:"true"`

	BroadcastConcurrency int           `env:"BROADCAST_CONCURRENCY" default:"0"`
	DeliveryTimeout      time.Duration `env:"DELIVERY_TIMEOUT" default:"5s"`
	PruneTimeout         time.Duration `env:"PRUNE_TIMEOUT" default:"5s"`
	BroadcastRateLimit   float64       `env:"BROADCAST_RATE_LIMIT" default:"10"`
	BroadcastRateBurst   int           `env:"BROADCAST_RATE_BURST" default:"20"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int `env:"MAX_CONNECTIONS_PER_IP" default:"100"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" default:"1m"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when STORE_BACKEND is redis")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres; got %q", cfg.StoreBackend)
	}

	if cfg.BroadcastConcurrency < 0 {
		return errors.New("BROADCAST_CONCURRENCY must not be negative")
	}
	if cfg.DeliveryTimeout <= 0 {
		return errors.New("DELIVERY_TIMEOUT must be positive")
	}
	if cfg.PruneTimeout <= 0 {
		return errors.New("PRUNE_TIMEOUT must be positive")
	}
	if cfg.BroadcastRateLimit <= 0 || cfg.BroadcastRateBurst < 1 {
		return errors.New("BROADCAST_RATE_LIMIT must be positive and BROADCAST_RATE_BURST at least 1")
	}
	if cfg.MaxWebSocketConnections < 1 || cfg.MaxConnectionsPerIP < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.ReconcileInterval < time.Second {
		return errors.New("RECONCILE_INTERVAL must be at least 1s")
	}

	return nil
}
