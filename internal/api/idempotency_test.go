package api

import (
	"net/http"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/redis"
	"github.com/lalithlochan/canteen/internal/targeting"
)

var advancedBody = map[string]any{
	"targetType": "role",
	"values":     []string{"student"},
	"title":      "Menu",
	"body":       "New menu is up",
}

func TestSendAdvanced_IdempotentReplay(t *testing.T) {
	idem := redis.NewIdempotencyService(newTestRedis(t), zap.NewNop())
	env := newTestEnv(t, func(d *Deps) { d.Idempotency = idem })
	headers := map[string]string{"Idempotency-Key": "broadcast-1"}

	first := env.do(t, "POST", "/v1/admin/notifications/send-advanced", advancedBody, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}

	second := env.do(t, "POST", "/v1/admin/notifications/send-advanced", advancedBody, headers)
	if second.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("replayed response should be marked")
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replayed body %q differs from %q", second.Body.String(), first.Body.String())
	}
	if n := env.dispatcher.count("advanced"); n != 1 {
		t.Errorf("expected a single dispatch, got %d", n)
	}
}

func TestSendAdvanced_ScopesAreIndependent(t *testing.T) {
	idem := redis.NewIdempotencyService(newTestRedis(t), zap.NewNop())
	env := newTestEnv(t, func(d *Deps) { d.Idempotency = idem })
	headers := map[string]string{"Idempotency-Key": "shared"}

	env.do(t, "POST", "/v1/admin/notifications/send-advanced", advancedBody, headers)
	rec := env.do(t, "POST", "/v1/admin/notifications/send-custom-template", map[string]any{
		"templateId": "tpl", "targetType": "all",
	}, headers)

	if rec.Code != http.StatusOK || rec.Header().Get("X-Idempotency-Replayed") != "" {
		t.Errorf("custom template send must not replay an advanced send")
	}
	if env.dispatcher.count("custom") != 1 {
		t.Error("custom template send should have dispatched")
	}
}

func TestSendAdvanced_FailureReleasesKey(t *testing.T) {
	idem := redis.NewIdempotencyService(newTestRedis(t), zap.NewNop())
	env := newTestEnv(t, func(d *Deps) { d.Idempotency = idem })
	headers := map[string]string{"Idempotency-Key": "retry-me"}

	env.dispatcher.err = targeting.ErrDirectoryUnavailable
	if rec := env.do(t, "POST", "/v1/admin/notifications/send-advanced", advancedBody, headers); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	env.dispatcher.err = nil
	rec := env.do(t, "POST", "/v1/admin/notifications/send-advanced", advancedBody, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry after failure: expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Idempotency-Replayed") != "" {
		t.Error("failed attempt must not be cached")
	}
	if n := env.dispatcher.count("advanced"); n != 2 {
		t.Errorf("expected two dispatch attempts, got %d", n)
	}
}

func TestSendAdvanced_InFlightDuplicate(t *testing.T) {
	idem := redis.NewIdempotencyService(newTestRedis(t), zap.NewNop())
	env := newTestEnv(t, func(d *Deps) { d.Idempotency = idem })

	if cached, err := idem.CheckOrReserve(t.Context(), scopeSendAdvanced, "busy"); err != nil || cached != nil {
		t.Fatalf("reserve: %v %v", cached, err)
	}

	rec := env.do(t, "POST", "/v1/admin/notifications/send-advanced", advancedBody, map[string]string{"Idempotency-Key": "busy"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	if env.dispatcher.count("advanced") != 0 {
		t.Error("in-flight duplicate must not dispatch")
	}
}
