package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/redis"
)

// NewRouter mounts every route. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/push/public-key", h.PublicKey)
		r.Post("/push/subscriptions", h.Subscribe)
		r.Delete("/push/subscriptions/{id}", h.Unsubscribe)

		r.Post("/orders/{orderNumber}/status", h.OrderStatus)

		r.Route("/admin/notifications", func(r chi.Router) {
			r.Use(RateLimitMiddleware(limiter, logger, OperatorKeyFunc))

			r.Get("/stats", h.Stats)

			r.Get("/templates", h.ListTemplates)
			r.Post("/templates", h.CreateTemplate)
			r.Get("/templates/{status}", h.GetTemplate)
			r.Put("/templates/{status}", h.UpdateTemplate)
			r.Delete("/templates/{status}", h.DeleteTemplate)

			r.Get("/custom-templates", h.ListCustomTemplates)
			r.Post("/custom-templates", h.CreateCustomTemplate)
			r.Get("/custom-templates/{id}", h.GetCustomTemplate)
			r.Put("/custom-templates/{id}", h.UpdateCustomTemplate)
			r.Delete("/custom-templates/{id}", h.DeleteCustomTemplate)

			r.Post("/send-all", h.SendAll)
			r.Post("/send-test", h.SendTest)
			r.Post("/send-role", h.SendRole)
			r.Post("/send-advanced", h.SendAdvanced)
			r.Post("/send-custom-template", h.SendCustomTemplate)
		})
	})

	r.Get("/health", h.Health)

	r.Handle("/metrics", metrics.Handler())

	return r
}
