package redis

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())

	result, err := svc.CheckOrReserve(context.Background(), "send-advanced", "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_DuplicateRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "send-advanced", "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	if _, err := svc.CheckOrReserve(ctx, "send-advanced", "key-1"); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_CachedResult(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	stored := &IdempotencyResult{
		StatusCode: 200,
		Body:       json.RawMessage(`{"success":true,"sentCount":3}`),
	}

	if err := svc.Store(ctx, "send-advanced", "key-1", stored); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "send-advanced", "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected cached result")
	}
	if result.StatusCode != 200 {
		t.Errorf("expected 200, got %d", result.StatusCode)
	}
	if string(result.Body) != `{"success":true,"sentCount":3}` {
		t.Errorf("unexpected body %s", result.Body)
	}
	if result.CreatedAt == 0 {
		t.Error("created_at should be set on store")
	}
}

func TestIdempotencyService_ScopeIsolation(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "send-advanced", "same-key"); err != nil {
		t.Fatalf("first scope failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "send-custom-template", "same-key")
	if err != nil {
		t.Fatalf("second scope should succeed: %v", err)
	}
	if result != nil {
		t.Fatal("second scope should get nil (new request)")
	}
}

func TestIdempotencyService_ReleaseAllowsRetry(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "send-advanced", "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if err := svc.Release(ctx, "send-advanced", "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "send-advanced", "key-1")
	if err != nil {
		t.Fatalf("reserve after release failed: %v", err)
	}
	if result != nil {
		t.Fatalf("released key should be free, got %+v", result)
	}
}
