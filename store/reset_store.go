package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Yutman/Nexus-Trade/model"
	"github.com/Yutman/Nexus-Trade/utils"

	"github.com/go-redis/redis/v8"
)

const (
	resetTokenKeyPrefix = "reset:token:"
	resetUserKeyPrefix  = "reset:user:"
)

// ResetStore persists live reset tokens, keyed by fingerprint. At most one
// token is live per account; storing a new one invalidates the old.
type ResetStore interface {
	// Put stores the token and deletes any prior token for the same account.
	Put(ctx context.Context, token *model.ResetToken) error

	// GetByFingerprint returns the live token for the fingerprint. Expired
	// tokens are indistinguishable from absent ones.
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.ResetToken, error)

	// IncrementAttempts returns the post-increment attempt count.
	IncrementAttempts(ctx context.Context, fingerprint string) (int, error)

	Delete(ctx context.Context, fingerprint, userID string) error
}

// RedisResetStore stores tokens as JSON under reset:token:<fingerprint>
// with a reset:user:<userID> index enforcing one live token per account.
// Both keys carry the token's remaining lifetime as their TTL.
type RedisResetStore struct {
	redis *redis.Client
}

// NewRedisResetStore creates a Redis-backed reset token store.
func NewRedisResetStore(rdb *redis.Client) *RedisResetStore {
	return &RedisResetStore{redis: rdb}
}

func (s *RedisResetStore) Put(ctx context.Context, token *model.ResetToken) error {
	// Drop the account's previous token so the old raw token can no longer
	// resolve.
	prior, err := s.redis.Get(ctx, resetUserKeyPrefix+token.UserID).Result()
	if err == nil && prior != "" && prior != token.Fingerprint {
		s.redis.Del(ctx, resetTokenKeyPrefix+prior)
	} else if err != nil && err != redis.Nil {
		return err
	}

	data, err := json.Marshal(token)
	if err != nil {
		return err
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	if err := s.redis.Set(ctx, resetTokenKeyPrefix+token.Fingerprint, data, ttl).Err(); err != nil {
		return err
	}
	return s.redis.Set(ctx, resetUserKeyPrefix+token.UserID, token.Fingerprint, ttl).Err()
}

func (s *RedisResetStore) GetByFingerprint(ctx context.Context, fingerprint string) (*model.ResetToken, error) {
	token, err := s.load(ctx, fingerprint)
	if err != nil {
		return nil, err
	}

	if token.Expired(time.Now()) {
		return nil, utils.ErrResetNotFound
	}
	return token, nil
}

func (s *RedisResetStore) IncrementAttempts(ctx context.Context, fingerprint string) (int, error) {
	token, err := s.load(ctx, fingerprint)
	if err != nil {
		return 0, err
	}

	token.Attempts++

	data, err := json.Marshal(token)
	if err != nil {
		return 0, err
	}

	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, resetTokenKeyPrefix+fingerprint, data, ttl).Err(); err != nil {
		return 0, err
	}

	return token.Attempts, nil
}

func (s *RedisResetStore) Delete(ctx context.Context, fingerprint, userID string) error {
	return s.redis.Del(ctx, resetTokenKeyPrefix+fingerprint, resetUserKeyPrefix+userID).Err()
}

func (s *RedisResetStore) load(ctx context.Context, fingerprint string) (*model.ResetToken, error) {
	data, err := s.redis.Get(ctx, resetTokenKeyPrefix+fingerprint).Result()
	if err == redis.Nil {
		return nil, utils.ErrResetNotFound
	} else if err != nil {
		return nil, err
	}

	var token model.ResetToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

var _ ResetStore = (*RedisResetStore)(nil)
