package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/circuitbreaker"
	"github.com/lalithlochan/canteen/internal/dispatch"
	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/redis"
	"github.com/lalithlochan/canteen/internal/subscription"
	"github.com/lalithlochan/canteen/internal/targeting"
	"github.com/lalithlochan/canteen/internal/templates"
)

// Idempotency scopes, one per broadcast route.
const (
	scopeSendAdvanced = "send-advanced"
	scopeSendCustom   = "send-custom-template"
)

// BroadcastRequest is the body of send-all, send-test and send-role.
type BroadcastRequest struct {
	Title  string `json:"title" validate:"required,max=120"`
	Body   string `json:"body" validate:"required,max=500"`
	URL    string `json:"url,omitempty"`
	UserID int64  `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (req BroadcastRequest) message() dispatch.Message {
	return dispatch.Message{Title: req.Title, Body: req.Body, URL: req.URL}
}

// AdvancedRequest is the body of send-advanced.
type AdvancedRequest struct {
	TargetType         string   `json:"targetType" validate:"required,target_type"`
	Values             []string `json:"values"`
	Title              string   `json:"title" validate:"required,max=120"`
	Body               string   `json:"body" validate:"required,max=500"`
	Priority           string   `json:"priority" validate:"omitempty,priority"`
	RequireInteraction bool     `json:"requireInteraction"`
	URL                string   `json:"url,omitempty"`
}

// CustomSendRequest is the body of send-custom-template.
type CustomSendRequest struct {
	TemplateID string            `json:"templateId" validate:"required"`
	TargetType string            `json:"targetType" validate:"required,target_type"`
	Values     []string          `json:"values"`
	CustomData map[string]string `json:"customData,omitempty"`
}

// BroadcastResponse acknowledges a simple broadcast.
type BroadcastResponse struct {
	dispatch.Result
	Message string `json:"message"`
}

// StatsResponse is returned by GET /v1/admin/notifications/stats.
type StatsResponse struct {
	subscription.Stats
	Configured        bool                   `json:"configured"`
	PublicKey         *string                `json:"publicKey"`
	KeysGenerated     bool                   `json:"keysGenerated"`
	TemplatesDegraded bool                   `json:"templatesDegraded"`
	Breakers          []circuitbreaker.Stats `json:"breakers"`
}

// Stats handles GET /v1/admin/notifications/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:             h.subs.Stats(),
		Configured:        h.keys.IsConfigured(),
		KeysGenerated:     h.keys.Generated(),
		TemplatesDegraded: h.templates.Degraded(),
		Breakers:          []circuitbreaker.Stats{},
	}
	if resp.Configured {
		k := h.keys.PublicKey()
		resp.PublicKey = &k
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.Stats()
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// SendAll handles POST /v1/admin/notifications/send-all
func (h *Handler) SendAll(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}

	res := h.dispatcher.SendToAll(r.Context(), req.message())
	h.logger.Info("broadcast to all sent",
		zap.String("operator", operator(r)),
		zap.Int("sent", res.SentCount),
	)
	h.writeJSON(w, http.StatusOK, BroadcastResponse{Result: res, Message: "Notification sent to all subscribers"})
}

// SendTest handles POST /v1/admin/notifications/send-test
func (h *Handler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "userId is required")
		return
	}

	res := h.dispatcher.SendToUser(r.Context(), req.UserID, req.message())
	h.writeJSON(w, http.StatusOK, BroadcastResponse{Result: res, Message: "Test notification sent"})
}

// SendRole handles POST /v1/admin/notifications/send-role
func (h *Handler) SendRole(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "role is required")
		return
	}

	res := h.dispatcher.SendToRole(r.Context(), req.Role, req.message())
	h.logger.Info("broadcast to role sent",
		zap.String("operator", operator(r)),
		zap.String("role", req.Role),
		zap.Int("sent", res.SentCount),
	)
	h.writeJSON(w, http.StatusOK, BroadcastResponse{Result: res, Message: "Notification sent to " + req.Role})
}

// SendAdvanced handles POST /v1/admin/notifications/send-advanced
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) SendAdvanced(w http.ResponseWriter, r *http.Request) {
	var req AdvancedRequest
	if !h.decode(w, r, &req) {
		return
	}

	criteria := targeting.Criteria{TargetType: targeting.TargetType(req.TargetType), Values: req.Values}
	msg := dispatch.Message{
		Title:              req.Title,
		Body:               req.Body,
		URL:                req.URL,
		Priority:           templates.Priority(req.Priority),
		RequireInteraction: req.RequireInteraction,
	}

	h.sendIdempotent(w, r, scopeSendAdvanced, func(ctx context.Context) (dispatch.Result, error) {
		return h.dispatcher.SendWithAdvancedTargeting(ctx, criteria, msg)
	})
}

// SendCustomTemplate handles POST /v1/admin/notifications/send-custom-template
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) SendCustomTemplate(w http.ResponseWriter, r *http.Request) {
	var req CustomSendRequest
	if !h.decode(w, r, &req) {
		return
	}

	criteria := targeting.Criteria{TargetType: targeting.TargetType(req.TargetType), Values: req.Values}

	h.sendIdempotent(w, r, scopeSendCustom, func(ctx context.Context) (dispatch.Result, error) {
		return h.dispatcher.SendCustomTemplateNotification(ctx, req.TemplateID, criteria, req.CustomData)
	})
}

// sendIdempotent runs send at most once per Idempotency-Key within scope.
// Only successful results are cached; a failed send releases the key so the
// operator can retry.
func (h *Handler) sendIdempotent(w http.ResponseWriter, r *http.Request, scope string, send func(context.Context) (dispatch.Result, error)) {
	ctx := r.Context()
	key := r.Header.Get("Idempotency-Key")
	owned := false

	if key != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, scope, key)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			owned = true
		}
	}

	res, err := send(ctx)
	if err != nil {
		if owned {
			if relErr := h.idempotency.Release(context.WithoutCancel(ctx), scope, key); relErr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(relErr))
			}
		}
		h.writeSendError(w, err)
		return
	}

	h.logger.Info("targeted broadcast sent",
		zap.String("scope", scope),
		zap.String("operator", operator(r)),
		zap.Int("sent", res.SentCount),
		zap.Int("targets", res.TargetCount),
		zap.Int("pruned", res.PrunedCount),
	)

	body, err := json.Marshal(res)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode result", "")
		return
	}

	if owned {
		result := &redis.IdempotencyResult{StatusCode: http.StatusOK, Body: body}
		if err := h.idempotency.Store(context.WithoutCancel(ctx), scope, key, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", key),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, targeting.ErrUnknownTargetType):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown target type", err.Error())
	case errors.Is(err, dispatch.ErrTemplateNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Custom template not found", "")
	case errors.Is(err, dispatch.ErrTemplateDisabled):
		h.writeError(w, http.StatusBadRequest, "template_disabled", "Custom template is disabled", "")
	case errors.Is(err, targeting.ErrDirectoryUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "directory_unavailable", "User directory unavailable", "")
	default:
		h.logger.Error("broadcast failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to send notification", "")
	}
}
