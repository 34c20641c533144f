package session

import (
	"context"
	"sync"

	"github.com/moyuka/groundedchat/internal/models"
)

// Store loads and saves whole sessions keyed by session id. A missing
// session loads as an empty one; Save replaces the stored record.
type Store interface {
	Load(ctx context.Context, sessionID string) (*models.Session, error)
	Save(ctx context.Context, sess *models.Session) error
}

// MemoryStore keeps sessions in process memory. Used in tests and as a
// throwaway backend for local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session)}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[sessionID]
	if !ok {
		return models.NewSession(sessionID), nil
	}
	return cloneSession(stored), nil
}

func (s *MemoryStore) Save(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = cloneSession(sess)
	return nil
}

func cloneSession(sess *models.Session) *models.Session {
	copied := *sess
	copied.Messages = make([]models.Message, len(sess.Messages))
	copy(copied.Messages, sess.Messages)
	return &copied
}
