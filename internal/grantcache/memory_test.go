package grantcache

import (
	"context"
	"testing"
	"time"

	"github.com/project-kessel/userinfo/internal/clock"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("returns stored entries until they expire", func(t *testing.T) {
		clk := clock.NewFixtureClock(start)
		c := NewMemory(5*time.Minute, WithClock(clk))

		if err := c.Put(ctx, &Entry{TokenID: "t1", Subject: "alice"}); err != nil {
			t.Fatalf("put: %v", err)
		}

		got, err := c.Get(ctx, "t1")
		if err != nil || got == nil || got.Subject != "alice" {
			t.Fatalf("expected entry for t1, got %v %v", got, err)
		}

		clk.Advance(5 * time.Minute)
		got, err = c.Get(ctx, "t1")
		if err != nil || got != nil {
			t.Errorf("expected expired entry to miss, got %v %v", got, err)
		}
		if c.Size() != 0 {
			t.Errorf("expected expired entry to be dropped on read, size %d", c.Size())
		}
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		clk := clock.NewFixtureClock(start)
		c := NewMemory(0, WithClock(clk))
		_ = c.Put(ctx, &Entry{TokenID: "t1"})

		clk.Advance(24 * time.Hour)
		if got, _ := c.Get(ctx, "t1"); got == nil {
			t.Error("expected entry without ttl to survive")
		}
	})

	t.Run("miss returns nil without error", func(t *testing.T) {
		c := NewMemory(time.Minute)
		got, err := c.Get(ctx, "missing")
		if got != nil || err != nil {
			t.Errorf("expected nil, nil; got %v, %v", got, err)
		}
	})

	t.Run("rejects entries without token id", func(t *testing.T) {
		c := NewMemory(time.Minute)
		if err := c.Put(ctx, &Entry{}); err == nil {
			t.Error("expected error")
		}
		if err := c.Put(ctx, nil); err == nil {
			t.Error("expected error for nil entry")
		}
	})

	t.Run("remove", func(t *testing.T) {
		c := NewMemory(time.Minute)
		_ = c.Put(ctx, &Entry{TokenID: "t1"})
		_ = c.Remove(ctx, "t1")
		if got, _ := c.Get(ctx, "t1"); got != nil {
			t.Error("expected entry to be removed")
		}
	})

	t.Run("cleanup drops only expired entries", func(t *testing.T) {
		clk := clock.NewFixtureClock(start)
		c := NewMemory(time.Minute, WithClock(clk))
		_ = c.Put(ctx, &Entry{TokenID: "old"})
		clk.Advance(30 * time.Second)
		_ = c.Put(ctx, &Entry{TokenID: "new"})
		clk.Advance(45 * time.Second)

		c.Cleanup()
		if c.Size() != 1 {
			t.Fatalf("expected 1 entry after cleanup, got %d", c.Size())
		}
		if got, _ := c.Get(ctx, "new"); got == nil {
			t.Error("expected unexpired entry to remain")
		}
	})

	t.Run("run cleanup on ticker", func(t *testing.T) {
		clk := clock.NewFixtureClock(start)
		c := NewMemory(time.Minute, WithClock(clk))
		_ = c.Put(ctx, &Entry{TokenID: "t1"})

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			c.RunCleanup(runCtx, 30*time.Second)
			close(done)
		}()

		deadline := time.Now().Add(2 * time.Second)
		for c.Size() != 0 && time.Now().Before(deadline) {
			clk.Advance(30 * time.Second)
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		<-done

		if c.Size() != 0 {
			t.Errorf("expected background cleanup to drop expired entry, size %d", c.Size())
		}
	})
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}
	if err := c.Put(ctx, &Entry{TokenID: "t1"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, err := c.Get(ctx, "t1"); got != nil || err != nil {
		t.Errorf("noop cache must never hit, got %v %v", got, err)
	}
}
