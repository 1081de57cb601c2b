package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/sqs"
	"github.com/lalithlochan/canteen/internal/subscription"
)

// SubscribeRequest is the body of POST /v1/push/subscriptions.
type SubscribeRequest struct {
	Subscription struct {
		Endpoint string `json:"endpoint" validate:"required,url"`
		Keys     struct {
			P256dh string `json:"p256dh" validate:"required"`
			Auth   string `json:"auth" validate:"required"`
		} `json:"keys"`
	} `json:"subscription"`
	UserID     int64                    `json:"userId" validate:"required,gt=0"`
	UserRole   string                   `json:"userRole" validate:"required"`
	DeviceInfo *subscription.DeviceInfo `json:"deviceInfo,omitempty"`
}

// OrderStatusRequest is the body of POST /v1/orders/{orderNumber}/status.
type OrderStatusRequest struct {
	UserID  int64  `json:"userId" validate:"required,gt=0"`
	Status  string `json:"status" validate:"required"`
	Message string `json:"message,omitempty"`
}

// PublicKey handles GET /v1/push/public-key
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	var key *string
	if h.keys.IsConfigured() {
		k := h.keys.PublicKey()
		key = &k
	}
	h.writeJSON(w, http.StatusOK, map[string]*string{"publicKey": key})
}

// Subscribe handles POST /v1/push/subscriptions
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}

	endpoint := subscription.Endpoint{
		URL: req.Subscription.Endpoint,
		Keys: subscription.Keys{
			P256dh: req.Subscription.Keys.P256dh,
			Auth:   req.Subscription.Keys.Auth,
		},
	}
	id := h.subs.Add(r.Context(), endpoint, req.UserID, req.UserRole, req.DeviceInfo)
	metrics.SetSubscriptions(h.subs.Stats().Total)

	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Unsubscribe handles DELETE /v1/push/subscriptions/{id}
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if !h.subs.Remove(r.Context(), id) {
		h.writeError(w, http.StatusNotFound, "not_found", "Subscription not found", "")
		return
	}
	metrics.SetSubscriptions(h.subs.Stats().Total)

	w.WriteHeader(http.StatusNoContent)
}

// OrderStatus handles POST /v1/orders/{orderNumber}/status. With a queue
// configured the event is enqueued and 202 returned; otherwise the
// notification is sent before responding.
func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderNumber := chi.URLParam(r, "orderNumber")

	var req OrderStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	if h.orders == nil {
		res := h.dispatcher.SendOrderUpdate(ctx, req.UserID, orderNumber, req.Status, req.Message)
		h.writeJSON(w, http.StatusOK, res)
		return
	}

	event := sqs.OrderEvent{
		OrderNumber: orderNumber,
		UserID:      req.UserID,
		Status:      req.Status,
		Message:     req.Message,
	}
	msgID, err := h.orders.Enqueue(ctx, event)
	if err != nil {
		if errors.Is(err, sqs.ErrInvalidEvent) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order event", err.Error())
			return
		}
		h.logger.Error("failed to enqueue order event",
			zap.Error(err),
			zap.String("order_number", orderNumber),
		)
		h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue order event", "")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":    true,
		"messageId": msgID,
	})
}
