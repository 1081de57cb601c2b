package api

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// Health pings every configured backing service. Services that were never
// connected are not listed and do not fail the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	var failed []string
	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := h.checks[name].Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Warn("health check failed", zap.String("service", name), zap.Error(err))
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		h.writeError(w, http.StatusServiceUnavailable, "unhealthy", "Service unavailable",
			"unreachable: "+strings.Join(failed, ", "))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
