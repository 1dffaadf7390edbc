// Package grantcache caches the user attributes captured when an access
// token was granted, keyed by the token identifier. UserInfo requests read
// it to avoid a user store lookup.
package grantcache

import (
	"context"

	"github.com/project-kessel/userinfo/internal/sp"
)

// Attribute is a user attribute released to the client at grant time
type Attribute struct {
	Claim sp.ClaimMapping `json:"claim"`
	Value string          `json:"value"`
}

// Entry is what the cache holds for one access token
type Entry struct {
	TokenID    string      `json:"token_id"`
	Subject    string      `json:"subject,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Cache stores grant entries by token identifier. Implementations are safe
// for concurrent use.
type Cache interface {
	// Get returns the entry for tokenID, or nil when there is none
	Get(ctx context.Context, tokenID string) (*Entry, error)

	// Put stores e under e.TokenID
	Put(ctx context.Context, e *Entry) error

	// Remove drops the entry for tokenID
	Remove(ctx context.Context, tokenID string) error
}

// Noop never holds anything
type Noop struct{}

func (Noop) Get(ctx context.Context, tokenID string) (*Entry, error) { return nil, nil }

func (Noop) Put(ctx context.Context, e *Entry) error { return nil }

func (Noop) Remove(ctx context.Context, tokenID string) error { return nil }
