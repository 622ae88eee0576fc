package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "ip-2") {
		t.Fatalf("other keys keep their own budget")
	}
}

func TestFixedWindowLimiterSharedClient(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	login, err := NewFixedWindowLimiter(client, "test:login", 1, time.Minute)
	if err != nil {
		t.Fatalf("new login limiter: %v", err)
	}
	signup, err := NewFixedWindowLimiter(client, "test:signup", 1, time.Minute)
	if err != nil {
		t.Fatalf("new signup limiter: %v", err)
	}
	ctx := context.Background()
	if !login.Allow(ctx, "ip") || !signup.Allow(ctx, "ip") {
		t.Fatalf("prefixes must not share counters")
	}
	if login.Allow(ctx, "ip") {
		t.Fatalf("second login should be blocked")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	srv.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedis(t *testing.T) {
	if limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second); err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
	if limiter, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil || limiter != nil {
		t.Fatalf("expected constructor error for nil client")
	}
}
