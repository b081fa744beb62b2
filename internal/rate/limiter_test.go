package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	l, err := New(client, Config{Prefix: "test", Max: max, Window: window})
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l, mr
}

func TestHitWindow(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := l.Check(ctx, "ip:1"); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.Hit(ctx, "ip:1"); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	if err := l.Check(ctx, "ip:1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from Check, got %v", err)
	}
	if err := l.Hit(ctx, "ip:1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from Hit, got %v", err)
	}
	if err := l.Check(ctx, "ip:2"); err != nil {
		t.Fatalf("keys are independent: %v", err)
	}

	if ttl := mr.TTL("test:ip:1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window TTL set on first hit, got %v", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if n, err := l.Attempts(ctx, "ip:1"); err != nil || n != 0 {
		t.Fatalf("expected window to reset, got %d %v", n, err)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, 1, time.Minute)

	_ = l.Hit(ctx, "k")
	if err := l.Check(ctx, "k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	if err := l.Reset(ctx, "k"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "k"); err != nil {
		t.Fatalf("expected budget after reset, got %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	if err := l.Hit(ctx, "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := l.Attempts(ctx, "k"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	if _, err := New(nil, Config{Max: 1, Window: time.Second}); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := New(client, Config{Max: 0, Window: time.Second}); err == nil {
		t.Fatal("expected error for zero Max")
	}
}
