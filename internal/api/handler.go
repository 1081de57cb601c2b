// Package api exposes the subscription, order hook and operator endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/circuitbreaker"
	"github.com/lalithlochan/canteen/internal/dispatch"
	"github.com/lalithlochan/canteen/internal/redis"
	"github.com/lalithlochan/canteen/internal/sqs"
	"github.com/lalithlochan/canteen/internal/subscription"
	"github.com/lalithlochan/canteen/internal/targeting"
	"github.com/lalithlochan/canteen/internal/templates"
	"github.com/lalithlochan/canteen/internal/validate"
)

// OperatorHeader carries the operator identity set by the upstream gateway.
const OperatorHeader = "X-Operator-ID"

// Keys reports the signing key state.
type Keys interface {
	IsConfigured() bool
	Generated() bool
	PublicKey() string
}

// Subscriptions is the registry as seen by the API.
type Subscriptions interface {
	Add(ctx context.Context, endpoint subscription.Endpoint, userID int64, role string, device *subscription.DeviceInfo) string
	Remove(ctx context.Context, id string) bool
	Stats() subscription.Stats
}

// TemplateStore manages order-status templates.
type TemplateStore interface {
	All() []templates.Template
	Get(status string) (templates.Template, bool)
	Create(ctx context.Context, t templates.Template) (bool, error)
	Update(ctx context.Context, t templates.Template) (bool, error)
	Delete(ctx context.Context, status string) (bool, error)
	Degraded() bool
}

// CustomTemplateStore manages operator-authored templates.
type CustomTemplateStore interface {
	List(ctx context.Context) ([]templates.CustomTemplate, error)
	Get(ctx context.Context, id string) (*templates.CustomTemplate, error)
	Create(ctx context.Context, t templates.CustomTemplate, operator string) (*templates.CustomTemplate, error)
	Update(ctx context.Context, id string, t templates.CustomTemplate) (*templates.CustomTemplate, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Dispatcher sends notifications.
type Dispatcher interface {
	SendToUser(ctx context.Context, userID int64, msg dispatch.Message) dispatch.Result
	SendToRole(ctx context.Context, role string, msg dispatch.Message) dispatch.Result
	SendToAll(ctx context.Context, msg dispatch.Message) dispatch.Result
	SendWithAdvancedTargeting(ctx context.Context, c targeting.Criteria, msg dispatch.Message) (dispatch.Result, error)
	SendOrderUpdate(ctx context.Context, userID int64, orderNumber, status, override string) dispatch.Result
	SendCustomTemplateNotification(ctx context.Context, templateID string, c targeting.Criteria, customData map[string]string) (dispatch.Result, error)
}

// OrderQueue accepts order events for asynchronous delivery.
type OrderQueue interface {
	Enqueue(ctx context.Context, e sqs.OrderEvent) (string, error)
}

// BreakerStats reports per-host circuit breaker state.
type BreakerStats interface {
	Stats() []circuitbreaker.Stats
}

// Pinger is a backing service /health reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Deps groups the collaborators of a Handler. Orders, Breakers,
// Idempotency and Checks are optional.
type Deps struct {
	Keys          Keys
	Subscriptions Subscriptions
	Templates     TemplateStore
	Custom        CustomTemplateStore
	Dispatcher    Dispatcher
	Validator     *validate.Validator
	Orders        OrderQueue
	Breakers      BreakerStats
	Idempotency   *redis.IdempotencyService
	Checks        map[string]Pinger // by name, e.g. "redis", "postgres"
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	keys        Keys
	subs        Subscriptions
	templates   TemplateStore
	custom      CustomTemplateStore
	dispatcher  Dispatcher
	validator   *validate.Validator
	orders      OrderQueue                // nil dispatches order updates inline
	breakers    BreakerStats              // nil if transport is unprotected
	idempotency *redis.IdempotencyService // nil if Redis not configured
	checks      map[string]Pinger
}

// NewHandler creates a new API handler
func NewHandler(d Deps, logger *zap.Logger) *Handler {
	return &Handler{
		logger:      logger,
		keys:        d.Keys,
		subs:        d.Subscriptions,
		templates:   d.Templates,
		custom:      d.Custom,
		dispatcher:  d.Dispatcher,
		validator:   d.Validator,
		orders:      d.Orders,
		breakers:    d.Breakers,
		idempotency: d.Idempotency,
		checks:      d.Checks,
	}
}

// decode reads a JSON body into v and validates it. On failure the error
// response has been written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}

	if err := h.validator.Struct(v); err != nil {
		var fields validate.FieldErrors
		if errors.As(err, &fields) {
			writeProblem(w, ErrorResponse{
				Type:   "validation_error",
				Title:  "Invalid request body",
				Status: http.StatusBadRequest,
				Errors: fields,
			})
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p ErrorResponse) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func operator(r *http.Request) string {
	if id := r.Header.Get(OperatorHeader); id != "" {
		return id
	}
	return "unknown"
}
