package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestConfigOptions(t *testing.T) {
	opts, err := Config{Host: "cache", Port: 6380, Password: "pw", DB: 2}.options()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Errorf("unexpected options %+v", opts)
	}

	opts, err = Config{URL: "redis://:secret@redis.internal:6379/3", Host: "ignored"}.options()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "redis.internal:6379" || opts.Password != "secret" || opts.DB != 3 {
		t.Errorf("url should win over host fields, got %+v", opts)
	}

	if _, err := (Config{URL: "http://nope"}).options(); err == nil {
		t.Error("expected error for non-redis url")
	}
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := New(ctx, Config{Host: "127.0.0.1", Port: 1}, zap.NewNop())
	if err == nil {
		client.Close()
		t.Fatal("expected ping failure")
	}
}

func TestClient_KeyPrefix(t *testing.T) {
	client, mr := setupTestRedis(t)
	prefixed := client.WithPrefix("canteen")

	if got := prefixed.key("ratelimit", "operator:a"); got != "canteen:ratelimit:operator:a" {
		t.Errorf("unexpected key %q", got)
	}
	if got := client.key("push", "subscriptions"); got != "push:subscriptions" {
		t.Errorf("unprefixed client should not add a namespace, got %q", got)
	}

	limiter := NewRateLimiter(prefixed, zap.NewNop(), RateLimitConfig{Limit: 5, Window: time.Minute})
	if _, err := limiter.Allow(context.Background(), "operator:a"); err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !mr.Exists("canteen:ratelimit:operator:a") {
		t.Errorf("expected namespaced key, have %v", mr.Keys())
	}
}
