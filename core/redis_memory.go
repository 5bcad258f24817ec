// Package core provides a Redis-backed implementation of the Memory
// interface. The coordination engine itself never requires Redis; the
// surrounding application may hand a RedisMemory to a composite pipeline so
// that memoized provider responses survive across coordinator runs within
// the process lifetime and are shared between application workers.
//
// Keys are namespaced to prevent collisions with other users of the same
// Redis instance:
//   - "synaxis:memo:<key>"
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisMemory implements the Memory interface on top of go-redis
type RedisMemory struct {
	client    *redis.Client
	namespace string
	logger    Logger
}

// RedisMemoryOptions configures the Redis-backed memory
type RedisMemoryOptions struct {
	// RedisURL is the connection URL (e.g. "redis://localhost:6379/3")
	RedisURL string

	// Namespace prefixes every key; defaults to "synaxis:memo"
	Namespace string

	// Logger is optional
	Logger Logger
}

// NewRedisMemory connects to Redis and verifies the connection with a ping
func NewRedisMemory(opts RedisMemoryOptions) (*RedisMemory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}

	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		logger.Error("Failed to parse Redis URL", map[string]interface{}{
			"error":     err.Error(),
			"redis_url": opts.RedisURL,
		})
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to connect to Redis", map[string]interface{}{
			"error": err.Error(),
			"addr":  redisOpt.Addr,
		})
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisOpt.Addr, err)
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "synaxis:memo"
	}

	logger.Info("Redis memory connected", map[string]interface{}{
		"addr":      redisOpt.Addr,
		"db":        redisOpt.DB,
		"namespace": namespace,
	})

	return &RedisMemory{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}, nil
}

// NewRedisMemoryFromClient wraps an existing client. Used by tests and by
// applications that manage their own connection pool.
func NewRedisMemoryFromClient(client *redis.Client, namespace string) *RedisMemory {
	if namespace == "" {
		namespace = "synaxis:memo"
	}
	return &RedisMemory{
		client:    client,
		namespace: namespace,
		logger:    &NoOpLogger{},
	}
}

// SetLogger configures the logger
func (r *RedisMemory) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

func (r *RedisMemory) formatKey(key string) string {
	return fmt.Sprintf("%s:%s", r.namespace, key)
}

// Get retrieves a value. Missing keys return an empty string without error,
// matching MemoryStore semantics.
func (r *RedisMemory) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a value with optional TTL
func (r *RedisMemory) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.formatKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (r *RedisMemory) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.formatKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Exists checks whether a key exists
func (r *RedisMemory) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %q: %w", key, err)
	}
	return n > 0, nil
}

// HealthCheck verifies Redis connectivity
func (r *RedisMemory) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisMemory) Close() error {
	return r.client.Close()
}
