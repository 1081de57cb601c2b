package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("FORCE_HIGH_URGENCY", "")
	t.Setenv("PUSH_SEND_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if !cfg.ForceHighUrgency {
		t.Error("expected high urgency to be forced by default")
	}
	if cfg.PushSendTimeout != 5*time.Second {
		t.Errorf("expected 5s send timeout, got %s", cfg.PushSendTimeout)
	}
	if cfg.PushTTL != 86400 {
		t.Errorf("expected ttl 86400, got %d", cfg.PushTTL)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "production")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	t.Setenv("FORCE_HIGH_URGENCY", "false")
	t.Setenv("PUSH_SEND_TIMEOUT", "2s")
	t.Setenv("PUSH_MAX_CONCURRENCY", "16")
	t.Setenv("DATABASE_URL", "postgres://canteen@db:5432/canteen")
	t.Setenv("REDIS_KEY_PREFIX", "canteen-staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}
	if cfg.VAPIDPublicKey != "pub" || cfg.VAPIDPrivateKey != "priv" {
		t.Errorf("vapid keys not read: %q %q", cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	}
	if cfg.ForceHighUrgency {
		t.Error("expected high urgency override disabled")
	}
	if cfg.PushSendTimeout != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.PushSendTimeout)
	}
	if cfg.PushMaxConcurrency != 16 {
		t.Errorf("expected 16, got %d", cfg.PushMaxConcurrency)
	}
	if cfg.DatabaseURL != "postgres://canteen@db:5432/canteen" {
		t.Errorf("unexpected database url %q", cfg.DatabaseURL)
	}
	if cfg.RedisKeyPrefix != "canteen-staging" {
		t.Errorf("unexpected redis prefix %q", cfg.RedisKeyPrefix)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "eighty"},
		{"REDIS_PORT", "x"},
		{"FORCE_HIGH_URGENCY", "maybe"},
		{"PUSH_SEND_TIMEOUT", "5"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}
