package history

import (
	"context"
	"sync"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// MemoryStore keeps histories in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[domain.UserID]domain.History
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[domain.UserID]domain.History)}
}

func (s *MemoryStore) Load(_ context.Context, userID domain.UserID) (domain.History, error) {
	if userID.IsAnonymous() {
		return domain.History{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[userID].Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, userID domain.UserID, h domain.History) error {
	if userID.IsAnonymous() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[userID] = h.Clone()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}
