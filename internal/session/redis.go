package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moyuka/groundedchat/internal/models"
	"github.com/moyuka/groundedchat/internal/redis"
)

const sessionKeyPrefix = "chat:session:"

// RedisStore persists each session as one JSON document under a single key,
// mirroring the document-store shape {id, session_id, created_at, messages}.
type RedisStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a redis-backed session store. A zero ttl keeps
// sessions until explicitly overwritten.
func NewRedisStore(cache *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if cache == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisStore{cache: cache, ttl: ttl}, nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := s.cache.Get(ctx, sessionKeyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return models.NewSession(sessionID), nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Messages == nil {
		sess.Messages = []models.Message{}
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.SessionID == "" {
		return errors.New("session id is required")
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.cache.Set(ctx, sessionKeyPrefix+sess.SessionID, string(raw), s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
