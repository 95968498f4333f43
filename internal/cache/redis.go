package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"crop-planner/internal/models"
	"crop-planner/internal/resilience"
)

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to addr, retrying the initial ping.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	err := resilience.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return rdb.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*models.ViewState, error) {
	data, err := s.rdb.Get(ctx, stateKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var state models.ViewState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode view state: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, state *models.ViewState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode view state: %w", err)
	}
	return s.rdb.Set(ctx, stateKey(sessionID), data, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, stateKey(sessionID)).Err()
}

// IsRateLimited counts requests per key in a fixed one-minute window.
func (s *RedisStore) IsRateLimited(ctx context.Context, key string, maxRequests int) bool {
	rlKey := fmt.Sprintf("ratelimit:%s", key)
	limitWindow := 60 * time.Second

	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, rlKey)
	pipe.Expire(ctx, rlKey, limitWindow)
	_, err := pipe.Exec(ctx)

	if err != nil {
		return false
	}

	return incr.Val() > int64(maxRequests)
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
