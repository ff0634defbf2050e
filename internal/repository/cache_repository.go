package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

const cacheNamespace = "registrar"

// GPAKey is the cache key of a student's GPA summary.
func GPAKey(studentID string) string {
	return fmt.Sprintf("%s:gpa:%s", cacheNamespace, studentID)
}

// PassRateKey is the cache key of a section's pass rate.
func PassRateKey(sectionID string) string {
	return fmt.Sprintf("%s:passrate:%s", cacheNamespace, sectionID)
}

// TranscriptKey is the cache key of a student's transcript.
func TranscriptKey(studentID string) string {
	return fmt.Sprintf("%s:transcript:%s", cacheNamespace, studentID)
}

// StudentAggregatePatterns are the invalidation globs a grade change
// touches: the student's GPA and transcript plus the section's pass rate.
func StudentAggregatePatterns(studentID, sectionID string) []string {
	return []string{
		GPAKey(studentID) + "*",
		PassRateKey(sectionID) + "*",
		TranscriptKey(studentID) + "*",
	}
}

// CacheRepository caches computed aggregates (GPA, pass rate,
// transcripts) in Redis. A nil client degrades every operation to a
// no-op miss so the API keeps serving without Redis.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// DeleteByPattern removes cached entries matching the provided pattern.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	deleted := 0
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	if deleted > 0 {
		r.logger.Debug("cache entries invalidated", zap.String("pattern", pattern), zap.Int("count", deleted))
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
