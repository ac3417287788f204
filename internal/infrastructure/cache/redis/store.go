// Package redis backs the exact-match answer cache, the classifier cache,
// the rate-limit counters and the job result store with one Redis
// connection. Every consumer treats the store as optional: when Redis is
// down the features it powers switch off, the pipeline keeps answering.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dobongcare/welfare-chatbot/internal/core/domain"
)

const resultKeyPrefix = "result:"

// Store implements ports.CacheStore and ports.ResultStore.
type Store struct {
	client *redis.Client
}

func New(rawURL string) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "redis ping", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.WrapError(domain.ErrTemporary, "redis get", err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis set", err)
	}
	return nil
}

// IncrWindow bumps a fixed-window counter. The TTL is attached only when
// the key has none yet, so the window never slides.
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, domain.WrapError(domain.ErrTemporary, "redis incr window", err)
	}
	return incr.Val(), nil
}

// DeletePattern removes every key matching the glob pattern and returns the
// number deleted.
func (s *Store) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	batch := make([]string, 0, 200)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		deleted += n
		batch = batch[:0]
		return err
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, domain.WrapError(domain.ErrTemporary, "redis delete pattern", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, domain.WrapError(domain.ErrTemporary, "redis scan", err)
	}
	if err := flush(); err != nil {
		return deleted, domain.WrapError(domain.ErrTemporary, "redis delete pattern", err)
	}
	return deleted, nil
}

// SaveResult stores a finished job result with bounded retention.
func (s *Store) SaveResult(ctx context.Context, jobID string, result domain.JobResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	if err := s.client.Set(ctx, resultKeyPrefix+jobID, payload, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis save result", err)
	}
	return nil
}

// GetResult fetches a job result. ok=false means pending or expired.
func (s *Store) GetResult(ctx context.Context, jobID string) (*domain.JobResult, bool, error) {
	raw, err := s.client.Get(ctx, resultKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrTemporary, "redis get result", err)
	}
	var result domain.JobResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal job result: %w", err)
	}
	return &result, true, nil
}
