package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/logger"
)

// RedisConfig contains Redis store configuration
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
	TTL          time.Duration
}

// RedisStore keeps sessions as JSON values with a TTL refreshed on every save
type RedisStore struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config RedisConfig, log *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.MinIdleConns = config.MinIdleConns

	store := newRedisStoreWithClient(redis.NewClient(opts), config, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Redis session store initialized",
		zap.String("redis_url", logger.RedactURL(config.URL)),
		zap.Int("pool_size", opts.PoolSize),
		zap.Duration("ttl", config.TTL))

	return store, nil
}

func newRedisStoreWithClient(client *redis.Client, config RedisConfig, log *zap.Logger) *RedisStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "veil"
	}
	return &RedisStore{client: client, config: config, logger: log}
}

func (r *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:session:%s", r.config.KeyPrefix, id)
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Error("Corrupted session entry, deleting", zap.String("session_id", id), zap.Error(err))
		r.client.Del(ctx, r.key(id))
		return nil, ErrNotFound
	}
	s.normalize()

	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(s.ID), data, r.config.TTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session saved",
		zap.String("session_id", s.ID),
		zap.Int("mappings", len(s.Mappings)),
		zap.Int("custom_words", len(s.CustomWords)))

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Count returns the number of stored sessions under the key prefix
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+":session:*", 0).Iterator()

	n := 0
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan session keys: %w", err)
	}
	return n, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
