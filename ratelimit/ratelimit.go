package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "ratelimit"

// Result describes the outcome of a single fixed-window check.
type Result struct {
	Limited           bool
	Remaining         int
	ResetAfterSeconds int
}

// CounterStore increments the counter behind key and returns the
// post-increment count. Increments must be atomic with respect to
// concurrent calls for the same key; expireAt bounds the key's lifetime.
type CounterStore interface {
	Incr(ctx context.Context, key string, expireAt time.Time) (int64, error)
}

// Limiter implements fixed-window rate limiting over a CounterStore.
// Buckets with different prefixes never share counters.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// New creates a limiter backed by the given counter store.
func New(store CounterStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// NewWithClock is New with an injectable clock for tests.
func NewWithClock(store CounterStore, now func() time.Time) *Limiter {
	return &Limiter{store: store, now: now}
}

// Check increments the counter for (bucket, identity) in the current window
// and evaluates the limit. The increment always happens, regardless of the
// outcome, so abuse is recorded even for requests rejected downstream.
func (l *Limiter) Check(ctx context.Context, bucket, identity string, limit int, window time.Duration) (Result, error) {
	nowMs := l.now().UnixMilli()
	windowMs := window.Milliseconds()
	windowIndex := nowMs / windowMs
	windowEndMs := (windowIndex + 1) * windowMs

	key := fmt.Sprintf("%s:%s:%s:%d", keyPrefix, bucket, identity, windowIndex)

	count, err := l.store.Incr(ctx, key, time.UnixMilli(windowEndMs))
	if err != nil {
		return Result{}, err
	}

	resetAfter := (windowEndMs - nowMs + 999) / 1000
	if resetAfter < 0 {
		resetAfter = 0
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Limited:           count > int64(limit),
		Remaining:         remaining,
		ResetAfterSeconds: int(resetAfter),
	}, nil
}

// RedisCounterStore keeps window counters in Redis. INCR is atomic, so the
// same fixed-window keys work unchanged across multiple instances.
type RedisCounterStore struct {
	redis *redis.Client
}

// NewRedisCounterStore wraps a Redis client as a CounterStore.
func NewRedisCounterStore(rdb *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{redis: rdb}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// Keys are window-indexed, so the expiry only garbage-collects;
	// set it on the first hit in the window.
	if count == 1 {
		if err := s.redis.PExpireAt(ctx, key, expireAt).Err(); err != nil {
			return count, err
		}
	}

	return count, nil
}

type memoryCounter struct {
	count    int64
	expireAt time.Time
}

// MemoryCounterStore keeps window counters in process memory, for tests and
// single-instance deployments without Redis. Increments are serialized per
// store with a mutex.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	ops      int
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*memoryCounter)}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	c, ok := s.counters[key]
	if !ok || now.After(c.expireAt) {
		c = &memoryCounter{expireAt: expireAt}
		s.counters[key] = c
	}
	c.count++

	// Opportunistic sweep of rolled-over windows.
	s.ops++
	if s.ops%1024 == 0 {
		for k, v := range s.counters {
			if now.After(v.expireAt) {
				delete(s.counters, k)
			}
		}
	}

	return c.count, nil
}

// Len reports the number of live counter keys (expired keys included until
// the next sweep).
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// WindowKey builds the counter key for an identity at an explicit window
// index, mirroring Check's internal key derivation. Exposed for tests.
func WindowKey(bucket, identity string, windowIndex int64) string {
	return keyPrefix + ":" + bucket + ":" + identity + ":" + strconv.FormatInt(windowIndex, 10)
}
