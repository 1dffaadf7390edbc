package config

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang/groupcache"

	"github.com/project-kessel/userinfo/internal/clock"
	"github.com/project-kessel/userinfo/internal/grantcache"
	"github.com/project-kessel/userinfo/internal/retriever"
	"github.com/project-kessel/userinfo/internal/server"
)

// GrantCache is a configured grant cache and its background duties
type GrantCache struct {
	Cache grantcache.Cache

	// Peers serves groupcache peer requests; nil unless distributed
	Peers http.Handler

	memory          *grantcache.Memory
	cleanupInterval time.Duration
}

// Run performs periodic cleanup until ctx is done. It returns immediately
// when the cache needs none.
func (g *GrantCache) Run(ctx context.Context) {
	if g.memory == nil || g.cleanupInterval <= 0 {
		return
	}
	g.memory.RunCleanup(ctx, g.cleanupInterval)
}

// NewGrantCache creates the grant cache. The distributed cache reads
// through to an in-memory store of this instance and registers the
// process-wide groupcache peer picker, so it can be built once per process.
func NewGrantCache(ctx context.Context, cfg GrantCacheConfig, clk clock.Clock) (*GrantCache, error) {
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	var ttl time.Duration
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid grant_cache.ttl: %w", err)
		}
		ttl = d
	}
	cleanup := ttl
	if cfg.CleanupInterval != "" {
		d, err := time.ParseDuration(cfg.CleanupInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid grant_cache.cleanup_interval: %w", err)
		}
		cleanup = d
	}

	switch cfg.Type {
	case "none":
		if len(cfg.Entries) > 0 {
			return nil, fmt.Errorf("grant_cache.entries require a cache")
		}
		return &GrantCache{Cache: grantcache.Noop{}}, nil
	case "in_memory", "":
		memory := grantcache.NewMemory(ttl, grantcache.WithClock(clk))
		if err := seedGrants(ctx, memory, cfg.Entries); err != nil {
			return nil, err
		}
		return &GrantCache{Cache: memory, memory: memory, cleanupInterval: cleanup}, nil
	case "distributed":
		memory := grantcache.NewMemory(ttl, grantcache.WithClock(clk))
		if err := seedGrants(ctx, memory, cfg.Entries); err != nil {
			return nil, err
		}
		distributed := grantcache.NewDistributed(memory, grantcache.DistributedConfig{
			GroupName:      cfg.GroupName,
			CacheSizeBytes: cfg.CacheSize,
			TTL:            ttl,
			Clock:          clk,
		})
		g := &GrantCache{Cache: distributed, memory: memory, cleanupInterval: cleanup}
		if cfg.Self != "" {
			pool := groupcache.NewHTTPPoolOpts(strings.TrimSuffix(cfg.Self, "/"), &groupcache.HTTPPoolOptions{
				BasePath: server.CachePeerPath,
			})
			peers := make([]string, 0, len(cfg.Peers))
			for _, p := range cfg.Peers {
				peers = append(peers, strings.TrimSuffix(p, "/"))
			}
			pool.Set(peers...)
			g.Peers = pool
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown grant cache type: %s (supported: in_memory, distributed, none)", cfg.Type)
	}
}

func seedGrants(ctx context.Context, cache grantcache.Cache, entries []GrantEntryConfig) error {
	for _, e := range entries {
		if e.TokenID == "" {
			return fmt.Errorf("grant cache entry requires token_id")
		}
		entry := &grantcache.Entry{TokenID: e.TokenID, Subject: e.Subject}
		for _, a := range e.Attributes {
			entry.Attributes = append(entry.Attributes, grantcache.Attribute{Claim: a.Claim, Value: a.Value})
		}
		if err := cache.Put(ctx, entry); err != nil {
			return fmt.Errorf("failed to seed grant %s: %w", e.TokenID, err)
		}
	}
	return nil
}

// NewRetriever creates the claim retriever for cached grants
func NewRetriever(cfg ClaimsConfig) (retriever.Retriever, error) {
	switch cfg.Retriever.Type {
	case "default", "":
		return retriever.NewDefault(cfg.MultiAttributeSeparator), nil
	case "cel":
		if cfg.Retriever.Script == "" {
			return nil, fmt.Errorf("cel retriever requires script")
		}
		return retriever.NewCEL(cfg.Retriever.Script, cfg.MultiAttributeSeparator)
	default:
		return nil, fmt.Errorf("unknown retriever type: %s (supported: default, cel)", cfg.Retriever.Type)
	}
}
