package config

import (
	"context"
	"fmt"
	"time"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/fs"
	"github.com/project-kessel/userinfo/internal/keys"
)

// Signing is the configured key ring and its rotation schedule
type Signing struct {
	Ring *keys.KeyRing

	RotationInterval    time.Duration
	JWKSRefreshInterval time.Duration
}

// NewSigning creates the key ring signing UserInfo responses. It returns
// nil when signing is disabled.
func NewSigning(ctx context.Context, cfg SigningConfig, filesystem fs.FileSystem, clk clock.Clock) (*Signing, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	keyType := keys.KeyType(cfg.KeyType)
	if keyType == "" {
		keyType = keys.KeyTypeECP256
	}

	ringCfg := keys.RingConfig{
		KeyType:   keyType,
		Algorithm: keys.Algorithm(cfg.Algorithm),
		Retain:    cfg.Retain,
		Clock:     clk,
	}
	if cfg.KeyFile != "" {
		store, err := keys.NewDiskStore(cfg.KeyFile, filesystem)
		if err != nil {
			return nil, err
		}
		ringCfg.Store = store
	}

	ring, err := keys.NewKeyRing(ctx, ringCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create key ring: %w", err)
	}

	s := &Signing{Ring: ring}
	if cfg.RotationInterval != "" {
		if s.RotationInterval, err = time.ParseDuration(cfg.RotationInterval); err != nil {
			return nil, fmt.Errorf("invalid signing.rotation_interval: %w", err)
		}
	}
	if cfg.JWKSRefreshInterval != "" {
		if s.JWKSRefreshInterval, err = time.ParseDuration(cfg.JWKSRefreshInterval); err != nil {
			return nil, fmt.Errorf("invalid signing.jwks_refresh_interval: %w", err)
		}
	}
	return s, nil
}
