package token

import (
	"context"
	"sync"
)

// MemoryStore keeps access token records in memory
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*AccessToken
}

// NewMemoryStore creates a store seeded with tokens
func NewMemoryStore(tokens ...*AccessToken) *MemoryStore {
	s := &MemoryStore{tokens: make(map[string]*AccessToken, len(tokens))}
	for _, t := range tokens {
		s.tokens[t.TokenIdentifier] = t
	}
	return s
}

func (s *MemoryStore) AccessToken(ctx context.Context, tokenID string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, t *AccessToken) error {
	cp := *t
	s.mu.Lock()
	s.tokens[t.TokenIdentifier] = &cp
	s.mu.Unlock()
	return nil
}
