package userstore

import (
	"context"
	"strings"
	"sync"
)

// User is a user record held by MemoryStore
type User struct {
	ID     string
	Claims map[string][]string
}

// MemoryStore keeps users in memory
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]User
	separator string
}

// NewMemoryStore creates a store joining multi-valued attributes with cfg's separator
func NewMemoryStore(cfg RealmConfig, users ...User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]User, len(users)), separator: cfg.Separator()}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// Put adds or replaces a user
func (s *MemoryStore) Put(u User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *MemoryStore) UserClaimValues(ctx context.Context, userID string, claimURIs []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := make(map[string]string, len(claimURIs))
	for _, uri := range claimURIs {
		if values, ok := u.Claims[uri]; ok && len(values) > 0 {
			out[uri] = strings.Join(values, s.separator)
		}
	}
	return out, nil
}
