package session

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/config"
)

// NewStore builds the configured session store backend
func NewStore(cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "memory", "":
		logger.Info("Using in-memory session store", zap.Duration("ttl", cfg.SessionTTL))
		return NewMemoryStore(cfg.SessionTTL), nil
	case "redis":
		return NewRedisStore(RedisConfig{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			TTL:          cfg.SessionTTL,
		}, logger)
	case "postgres":
		return NewPostgresStore(PostgresConfig{
			DatabaseURL:     cfg.Postgres.URL,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
			TTL:             cfg.SessionTTL,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
