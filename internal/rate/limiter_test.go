package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, cfg), mr
}

func TestSignInBudget(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{
		MaxSignInAttempts: 3,
		SignInCooldown:    time.Minute,
	})

	for i := 0; i < 3; i++ {
		if err := l.RecordSignInFailure(ctx, "alice@example.com", ""); err != nil {
			t.Fatalf("attempt %d should be allowed: %v", i, err)
		}
	}
	if err := l.RecordSignInFailure(ctx, "alice@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckSignIn(ctx, "alice@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("check should report limit, got %v", err)
	}

	if err := l.ResetSignIn(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckSignIn(ctx, "alice@example.com", ""); err != nil {
		t.Fatalf("check after reset: %v", err)
	}
}

func TestRefreshWindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, Config{
		MaxRefreshAttempts: 2,
		RefreshCooldown:    time.Minute,
	})

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "h1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "h1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckRefresh(ctx, "h1"); err != nil {
		t.Fatalf("refresh after window: %v", err)
	}
}

func TestPrefixIsolatesDeployments(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := Config{MaxRefreshAttempts: 1, RefreshCooldown: time.Minute}
	cfg.Prefix = "app-a"
	a := New(rdb, cfg)
	cfg.Prefix = "app-b"
	b := New(rdb, cfg)

	// Exhaust deployment A's budget for the handle.
	if err := a.CheckRefresh(ctx, "h1"); err != nil {
		t.Fatalf("first refresh on a: %v", err)
	}
	if err := a.CheckRefresh(ctx, "h1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on a, got %v", err)
	}

	// Deployment B shares the Redis but not the counters.
	if err := b.CheckRefresh(ctx, "h1"); err != nil {
		t.Fatalf("b must not be throttled by a's counters: %v", err)
	}

	if !mr.Exists("app-a:rf:h1") || !mr.Exists("app-b:rf:h1") {
		t.Fatal("counters must live under their deployment prefix")
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	ctx := context.Background()
	var l *Limiter

	if err := l.CheckSignIn(ctx, "x", "1.2.3.4"); err != nil {
		t.Fatalf("nil limiter CheckSignIn: %v", err)
	}
	if err := l.CheckRefresh(ctx, "h"); err != nil {
		t.Fatalf("nil limiter CheckRefresh: %v", err)
	}
}
