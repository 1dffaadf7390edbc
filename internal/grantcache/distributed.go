package grantcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/groupcache"

	"github.com/project-kessel/userinfo/internal/clock"
)

// Loader reads entries from the authoritative store on a cache miss
type Loader interface {
	// Load returns the entry for tokenID, or nil when there is none
	Load(ctx context.Context, tokenID string) (*Entry, error)
}

// Writer is implemented by loaders that also accept writes
type Writer interface {
	Put(ctx context.Context, e *Entry) error
	Remove(ctx context.Context, tokenID string) error
}

var errNotCached = errors.New("grant cache: no entry")

// DistributedConfig configures a Distributed cache
type DistributedConfig struct {
	// GroupName must be unique in the process (default "grant-cache")
	GroupName string

	// CacheSizeBytes bounds the local share of the cache (default 64MB)
	CacheSizeBytes int64

	// TTL bounds how long a loaded entry is served. Zero means until evicted.
	TTL time.Duration

	Clock clock.Clock
}

// Distributed is a read-through Cache shared by a groupcache peer group.
// Writes go to the backing Loader. Entries already loaded by peers stay
// visible until their TTL window ends.
type Distributed struct {
	group  *groupcache.Group
	loader Loader
	ttl    time.Duration
	clock  clock.Clock
}

// NewDistributed creates the groupcache group over loader. It panics if a
// group with the same name already exists.
func NewDistributed(loader Loader, cfg DistributedConfig) *Distributed {
	if cfg.GroupName == "" {
		cfg.GroupName = "grant-cache"
	}
	if cfg.CacheSizeBytes == 0 {
		cfg.CacheSizeBytes = 64 << 20
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystemClock()
	}

	getter := groupcache.GetterFunc(func(ctx context.Context, key string, dest groupcache.Sink) error {
		entry, err := loader.Load(ctx, stripTTLSuffix(key))
		if err != nil {
			return fmt.Errorf("load grant entry: %w", err)
		}
		if entry == nil {
			return errNotCached
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode grant entry: %w", err)
		}
		return dest.SetBytes(b)
	})

	return &Distributed{
		group:  groupcache.NewGroup(cfg.GroupName, cfg.CacheSizeBytes, getter),
		loader: loader,
		ttl:    cfg.TTL,
		clock:  cfg.Clock,
	}
}

func (d *Distributed) Get(ctx context.Context, tokenID string) (*Entry, error) {
	var b []byte
	if err := d.group.Get(ctx, d.key(tokenID), groupcache.AllocatingByteSliceSink(&b)); err != nil {
		// Errors from remote peers arrive as text
		if errors.Is(err, errNotCached) || strings.Contains(err.Error(), errNotCached.Error()) {
			return nil, nil
		}
		return nil, fmt.Errorf("groupcache get: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode grant entry: %w", err)
	}
	return &e, nil
}

func (d *Distributed) Put(ctx context.Context, e *Entry) error {
	w, ok := d.loader.(Writer)
	if !ok {
		return errors.New("grant cache backing store is read-only")
	}
	return w.Put(ctx, e)
}

func (d *Distributed) Remove(ctx context.Context, tokenID string) error {
	w, ok := d.loader.(Writer)
	if !ok {
		return errors.New("grant cache backing store is read-only")
	}
	return w.Remove(ctx, tokenID)
}

// key appends the current TTL window so that entries roll over when the
// window changes.
func (d *Distributed) key(tokenID string) string {
	if d.ttl <= 0 {
		return tokenID
	}
	window := roundToInterval(d.clock.Now(), d.ttl)
	return fmt.Sprintf("%s%s%d", tokenID, ttlMarker, window.Unix())
}

const ttlMarker = ":ttl:"

func roundToInterval(t time.Time, interval time.Duration) time.Time {
	n := interval.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/n)*n)
}

func stripTTLSuffix(key string) string {
	if i := strings.LastIndex(key, ttlMarker); i >= 0 {
		return key[:i]
	}
	return key
}
