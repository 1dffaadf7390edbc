package grantcache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/project-kessel/userinfo/internal/clock"
)

// Memory is an in-process Cache with optional expiry
type Memory struct {
	ttl     time.Duration
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryOption configures Memory
type MemoryOption func(*Memory)

// WithClock sets the clock used for expiry
func WithClock(clk clock.Clock) MemoryOption {
	return func(m *Memory) {
		m.clock = clk
	}
}

// NewMemory creates a cache whose entries live for ttl. Zero means no expiry.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		ttl:     ttl,
		clock:   clock.NewSystemClock(),
		entries: make(map[string]memoryEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(ctx context.Context, tokenID string) (*Entry, error) {
	m.mu.RLock()
	e, ok := m.entries[tokenID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if !e.expiresAt.IsZero() && !m.clock.Now().Before(e.expiresAt) {
		m.mu.Lock()
		// Another writer may have replaced it meanwhile
		if cur, ok := m.entries[tokenID]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, tokenID)
		}
		m.mu.Unlock()
		return nil, nil
	}
	return e.entry, nil
}

func (m *Memory) Put(ctx context.Context, e *Entry) error {
	if e == nil || e.TokenID == "" {
		return errors.New("grant cache entry requires a token id")
	}
	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.clock.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[e.TokenID] = memoryEntry{entry: e, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	delete(m.entries, tokenID)
	m.mu.Unlock()
	return nil
}

// Load implements Loader so that Memory can back a Distributed cache
func (m *Memory) Load(ctx context.Context, tokenID string) (*Entry, error) {
	return m.Get(ctx, tokenID)
}

// Cleanup removes expired entries
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, id)
		}
	}
}

// Size returns the number of stored entries, expired ones included
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RunCleanup calls Cleanup every interval until ctx is done
func (m *Memory) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.Cleanup()
		}
	}
}
