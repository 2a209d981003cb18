package rate

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowAndReset(t *testing.T) {
	lim := NewMemory(2, time.Minute)
	ctx := context.Background()
	now := time.Now()

	if allowed, _, err := lim.Allow(ctx, "wallet", now); err != nil || !allowed {
		t.Fatalf("expected first attempt allowed")
	}
	if allowed, _, err := lim.Allow(ctx, "wallet", now); err != nil || !allowed {
		t.Fatalf("expected second attempt allowed")
	}

	allowed, retryAfter, err := lim.Allow(ctx, "wallet", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected third attempt limited")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected retryAfter > 0")
	}

	later := now.Add(2 * time.Minute)
	if allowed, _, err := lim.Allow(ctx, "wallet", later); err != nil || !allowed {
		t.Fatalf("expected allow after window reset")
	}
}

func TestMemoryLimiterCleanup(t *testing.T) {
	lim := NewMemory(1, time.Second)
	ctx := context.Background()
	now := time.Now()

	if allowed, _, _ := lim.Allow(ctx, "stale", now); !allowed {
		t.Fatalf("expected allow")
	}
	if len(lim.entries) != 1 {
		t.Fatalf("expected one tracked entry")
	}

	later := now.Add(2 * time.Second)
	lim.Allow(ctx, "fresh", later)
	if len(lim.entries) != 1 {
		t.Fatalf("expected stale entry evicted, got %d entries", len(lim.entries))
	}
}
