package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/templates"
)

// TemplateRequest is the body for creating or updating an order-status
// template. Status is taken from the URL on update.
type TemplateRequest struct {
	Status             string `json:"status"`
	Title              string `json:"title" validate:"required,max=120"`
	Message            string `json:"message" validate:"required,max=500"`
	Icon               string `json:"icon"`
	Priority           string `json:"priority" validate:"omitempty,priority"`
	RequireInteraction bool   `json:"requireInteraction"`
	Enabled            *bool  `json:"enabled"`
}

func (req TemplateRequest) template(status string) templates.Template {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return templates.Template{
		Status:             status,
		Title:              req.Title,
		Message:            req.Message,
		Icon:               req.Icon,
		Priority:           templates.Priority(req.Priority),
		RequireInteraction: req.RequireInteraction,
		Enabled:            enabled,
	}
}

// CustomTemplateRequest is the body for creating or updating a custom template.
type CustomTemplateRequest struct {
	Name               string `json:"name" validate:"required,max=100"`
	Title              string `json:"title" validate:"required,max=120"`
	Message            string `json:"message" validate:"required,max=500"`
	Icon               string `json:"icon"`
	Priority           string `json:"priority" validate:"omitempty,priority"`
	RequireInteraction bool   `json:"requireInteraction"`
	Enabled            *bool  `json:"enabled"`
}

func (req CustomTemplateRequest) template() templates.CustomTemplate {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return templates.CustomTemplate{
		Name:               req.Name,
		Title:              req.Title,
		Message:            req.Message,
		Icon:               req.Icon,
		Priority:           templates.Priority(req.Priority),
		RequireInteraction: req.RequireInteraction,
		Enabled:            enabled,
	}
}

// ListTemplates handles GET /v1/admin/notifications/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":     h.templates.All(),
		"degraded": h.templates.Degraded(),
	})
}

// GetTemplate handles GET /v1/admin/notifications/templates/{status}
func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := h.templates.Get(chi.URLParam(r, "status"))
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// CreateTemplate handles POST /v1/admin/notifications/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Status == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "status is required")
		return
	}

	created, err := h.templates.Create(r.Context(), req.template(req.Status))
	if err != nil {
		h.logger.Error("failed to create template", zap.Error(err), zap.String("status", req.Status))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create template", "")
		return
	}
	if !created {
		h.writeError(w, http.StatusConflict, "conflict", "Template already exists",
			"a template for status "+req.Status+" already exists")
		return
	}

	t, _ := h.templates.Get(req.Status)
	h.writeJSON(w, http.StatusCreated, t)
}

// UpdateTemplate handles PUT /v1/admin/notifications/templates/{status}
func (h *Handler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")

	var req TemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.templates.Update(r.Context(), req.template(status))
	if err != nil {
		h.logger.Error("failed to update template", zap.Error(err), zap.String("status", status))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update template", "")
		return
	}
	if !updated {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}

	t, _ := h.templates.Get(status)
	h.writeJSON(w, http.StatusOK, t)
}

// DeleteTemplate handles DELETE /v1/admin/notifications/templates/{status}
func (h *Handler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	status := chi.URLParam(r, "status")

	deleted, err := h.templates.Delete(r.Context(), status)
	if err != nil {
		h.logger.Error("failed to delete template", zap.Error(err), zap.String("status", status))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete template", "")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "not_found", "Template not found", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListCustomTemplates handles GET /v1/admin/notifications/custom-templates
func (h *Handler) ListCustomTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.custom.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list custom templates", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list custom templates", "")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  list,
		"count": len(list),
	})
}

// GetCustomTemplate handles GET /v1/admin/notifications/custom-templates/{id}
func (h *Handler) GetCustomTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.custom.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get custom template", zap.Error(err), zap.String("id", id))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get custom template", "")
		return
	}
	if t == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Custom template not found", "")
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

// CreateCustomTemplate handles POST /v1/admin/notifications/custom-templates
func (h *Handler) CreateCustomTemplate(w http.ResponseWriter, r *http.Request) {
	var req CustomTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.custom.Create(r.Context(), req.template(), operator(r))
	if err != nil {
		h.logger.Error("failed to create custom template", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create custom template", "")
		return
	}

	h.writeJSON(w, http.StatusCreated, t)
}

// UpdateCustomTemplate handles PUT /v1/admin/notifications/custom-templates/{id}
func (h *Handler) UpdateCustomTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CustomTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}

	t, err := h.custom.Update(r.Context(), id, req.template())
	if err != nil {
		h.logger.Error("failed to update custom template", zap.Error(err), zap.String("id", id))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update custom template", "")
		return
	}
	if t == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Custom template not found", "")
		return
	}

	h.writeJSON(w, http.StatusOK, t)
}

// DeleteCustomTemplate handles DELETE /v1/admin/notifications/custom-templates/{id}
func (h *Handler) DeleteCustomTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.custom.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to delete custom template", zap.Error(err), zap.String("id", id))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete custom template", "")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "not_found", "Custom template not found", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
