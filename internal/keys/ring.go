package keys

import (
	"context"
	"crypto"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/project-kessel/userinfo/internal/clock"
)

// StoredKey is a private key with its metadata
type StoredKey struct {
	ID        KeyID
	Algorithm Algorithm
	KeyType   KeyType
	Signer    crypto.Signer
	CreatedAt time.Time
}

// KeyStore persists a ring's keys, active key first
type KeyStore interface {
	Load(ctx context.Context) ([]StoredKey, error)
	Save(ctx context.Context, keys []StoredKey) error
}

// RingConfig configures a KeyRing
type RingConfig struct {
	KeyType KeyType

	// Algorithm defaults to DefaultAlgorithm(KeyType)
	Algorithm Algorithm

	// Retain is how many retired keys stay published after a rotation
	Retain int

	// Store persists keys across restarts. Nil keeps keys in memory only.
	Store KeyStore

	Clock clock.Clock
}

// KeyRing signs with one active key and keeps a bounded number of retired
// keys published for verification.
type KeyRing struct {
	mu        sync.RWMutex
	keyType   KeyType
	algorithm Algorithm
	retain    int
	store     KeyStore
	clock     clock.Clock
	keys      []StoredKey
}

// NewKeyRing loads the ring from its store, generating the first key when
// the store is empty or absent
func NewKeyRing(ctx context.Context, cfg RingConfig) (*KeyRing, error) {
	alg := cfg.Algorithm
	if alg == "" {
		var err error
		if alg, err = DefaultAlgorithm(cfg.KeyType); err != nil {
			return nil, err
		}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	r := &KeyRing{
		keyType:   cfg.KeyType,
		algorithm: alg,
		retain:    max(cfg.Retain, 0),
		store:     cfg.Store,
		clock:     clk,
	}

	if r.store != nil {
		loaded, err := r.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
		for _, k := range loaded {
			if k.KeyType != r.keyType || k.Algorithm != r.algorithm {
				return nil, fmt.Errorf("stored key %s is %s/%s, expected %s/%s", k.ID, k.KeyType, k.Algorithm, r.keyType, r.algorithm)
			}
		}
		r.keys = loaded
	}

	if len(r.keys) == 0 {
		if err := r.Rotate(ctx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Rotate generates a new active key and retires the previous one
func (r *KeyRing) Rotate(ctx context.Context) error {
	signer, err := GenerateKey(r.keyType)
	if err != nil {
		return err
	}
	key := StoredKey{
		ID:        KeyID(uuid.NewString()),
		Algorithm: r.algorithm,
		KeyType:   r.keyType,
		Signer:    signer,
		CreatedAt: r.clock.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]StoredKey{key}, r.keys...)
	if len(next) > r.retain+1 {
		next = next[:r.retain+1]
	}
	if r.store != nil {
		if err := r.store.Save(ctx, next); err != nil {
			return fmt.Errorf("failed to save signing keys: %w", err)
		}
	}
	r.keys = next
	return nil
}

// RunRotation rotates every interval until ctx is done
func (r *KeyRing) RunRotation(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := r.Rotate(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

func (r *KeyRing) CurrentSigner(ctx context.Context) (crypto.Signer, KeyID, Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.keys) == 0 {
		return nil, "", "", ErrNoSigningKey
	}
	k := r.keys[0]
	return k.Signer, k.ID, k.Algorithm, nil
}

func (r *KeyRing) PublicKeys(ctx context.Context) ([]PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PublicKey, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, PublicKey{
			KeyID:     k.ID,
			Algorithm: k.Algorithm,
			Use:       "sig",
			Key:       k.Signer.Public(),
		})
	}
	return out, nil
}
