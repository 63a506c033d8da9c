package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Yutman/Nexus-Trade/cache"
	"github.com/Yutman/Nexus-Trade/model"
	"github.com/Yutman/Nexus-Trade/utils"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	userKeyPrefix       = "user:"
	emailIndexKeyPrefix = "user:email:"
)

// UserStore is the persistence surface the reset flow depends on. The flow
// never reads plaintext passwords; it only mutates the credential hash.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, userID string) (*model.User, error)

	UpdateCredentialHash(ctx context.Context, userID, passwordHash string) error

	// Save is used by fixtures and account bootstrap, not by the reset flow.
	Save(ctx context.Context, user *model.User) error
}

// RedisUserStore stores user documents as JSON under user:<id> with a
// user:email:<email> index key.
type RedisUserStore struct {
	redis *redis.Client
	cache *cache.Cache
}

// NewRedisUserStore creates a Redis-backed user store. cache may be nil.
func NewRedisUserStore(rdb *redis.Client, c *cache.Cache) *RedisUserStore {
	return &RedisUserStore{redis: rdb, cache: c}
}

// FindByEmail resolves the email index and loads the user document.
func (s *RedisUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	userID, err := s.redis.Get(ctx, emailIndexKeyPrefix+email).Result()
	if err == redis.Nil {
		return nil, utils.ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	return s.FindByID(ctx, userID)
}

// FindByID loads the user document, through the cache when one is wired.
func (s *RedisUserStore) FindByID(ctx context.Context, userID string) (*model.User, error) {
	key := userKeyPrefix + userID

	if cached, found := s.cache.Get(key); found {
		if user, ok := cached.(model.User); ok {
			u := user
			return &u, nil
		}
	}

	data, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, utils.ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Failed to unmarshal user document")
		return nil, err
	}

	s.cache.Set(key, user, 1)
	return &user, nil
}

func (s *RedisUserStore) UpdateCredentialHash(ctx context.Context, userID, passwordHash string) error {
	user, err := s.loadForUpdate(ctx, userID)
	if err != nil {
		return err
	}

	user.PasswordHash = passwordHash
	return s.save(ctx, user)
}

// Save persists the user document and its email index. A missing ID is
// filled with a fresh UUID.
func (s *RedisUserStore) Save(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	if err := s.save(ctx, user); err != nil {
		return err
	}

	return s.redis.Set(ctx, emailIndexKeyPrefix+user.Email, user.ID, 0).Err()
}

// loadForUpdate bypasses the cache so writes start from the stored document.
func (s *RedisUserStore) loadForUpdate(ctx context.Context, userID string) (*model.User, error) {
	data, err := s.redis.Get(ctx, userKeyPrefix+userID).Result()
	if err == redis.Nil {
		return nil, utils.ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *RedisUserStore) save(ctx context.Context, user *model.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, userKeyPrefix+user.ID, data, 0).Err(); err != nil {
		return err
	}

	// Mutations invalidate the cached copy.
	s.cache.Delete(userKeyPrefix + user.ID)
	return nil
}

var _ UserStore = (*RedisUserStore)(nil)

// IsNotFound reports whether err means a user or reset token lookup missed.
func IsNotFound(err error) bool {
	return errors.Is(err, utils.ErrUserNotFound) || errors.Is(err, utils.ErrResetNotFound)
}
