package blob

import (
	"context"
	"errors"
	"ingest/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore implements Store using Redis with a per-key TTL
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed blob store
func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return nil, err
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	log.Info().
		Str("address", cfg.Address).
		Str("prefix", cfg.Prefix).
		Int("db", cfg.DB).
		Dur("ttl", ttl).
		Msg("Redis blob store initialized successfully")

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    ttl,
	}, nil
}

// formatKey adds the prefix to the key
func (s *RedisStore) formatKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Store writes the upload with the configured TTL
func (s *RedisStore) Store(ctx context.Context, taskID string, data []byte) (string, error) {
	key := KeyForTask(taskID)

	start := time.Now()
	err := s.client.Set(ctx, s.formatKey(key), data, s.ttl).Err()
	duration := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Int("size", len(data)).
			Dur("duration", duration).
			Msg("Error storing blob in Redis")
		return "", err
	}

	log.Debug().
		Str("key", key).
		Int("size", len(data)).
		Dur("ttl", s.ttl).
		Dur("duration", duration).
		Msg("Stored blob")

	return key, nil
}

// Get retrieves the upload bytes
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	result, err := s.client.Get(ctx, s.formatKey(key)).Bytes()
	duration := time.Since(start)

	if errors.Is(err, redis.Nil) {
		log.Warn().
			Str("key", key).
			Dur("duration", duration).
			Msg("Blob not found")
		return nil, ErrBlobNotFound
	} else if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("duration", duration).
			Msg("Error getting blob from Redis")
		return nil, err
	}

	log.Debug().
		Str("key", key).
		Int("size", len(result)).
		Dur("duration", duration).
		Msg("Retrieved blob")

	return result, nil
}

// Delete removes the upload; absent keys are a no-op
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	deleted, err := s.client.Del(ctx, s.formatKey(key)).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error deleting blob from Redis")
		return err
	}

	if deleted > 0 {
		log.Debug().Str("key", key).Msg("Deleted blob")
	} else {
		log.Debug().Str("key", key).Msg("Blob already absent on delete")
	}

	return nil
}

// Exists reports whether the key currently resolves
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.formatKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Ping tests the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
