package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/templates"
)

// TemplateRepository stores order-status and custom notification templates.
type TemplateRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// ListTemplates returns every order-status template
func (r *TemplateRepository) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	query := `
		SELECT id, status, title, message, icon, priority,
		       require_interaction, enabled, updated_at
		FROM notification_templates
		ORDER BY status
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []templates.Template
	for rows.Next() {
		var t templates.Template
		err := rows.Scan(
			&t.ID,
			&t.Status,
			&t.Title,
			&t.Message,
			&t.Icon,
			&t.Priority,
			&t.RequireInteraction,
			&t.Enabled,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}

// InsertTemplate inserts a template. Status is unique.
func (r *TemplateRepository) InsertTemplate(ctx context.Context, t templates.Template) error {
	query := `
		INSERT INTO notification_templates (
			id, status, title, message, icon, priority,
			require_interaction, enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		t.ID,
		t.Status,
		t.Title,
		t.Message,
		t.Icon,
		t.Priority,
		t.RequireInteraction,
		t.Enabled,
		t.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert template",
			zap.Error(err),
			zap.String("status", t.Status),
		)
		return fmt.Errorf("insert template: %w", err)
	}

	return nil
}

// UpdateTemplate rewrites the template with the same status and reports
// whether a row matched.
func (r *TemplateRepository) UpdateTemplate(ctx context.Context, t templates.Template) (bool, error) {
	query := `
		UPDATE notification_templates
		SET title = $1, message = $2, icon = $3, priority = $4,
		    require_interaction = $5, enabled = $6, updated_at = $7
		WHERE status = $8
	`

	result, err := r.db.Pool().Exec(ctx, query,
		t.Title,
		t.Message,
		t.Icon,
		t.Priority,
		t.RequireInteraction,
		t.Enabled,
		t.UpdatedAt,
		t.Status,
	)
	if err != nil {
		r.logger.Error("failed to update template",
			zap.Error(err),
			zap.String("status", t.Status),
		)
		return false, fmt.Errorf("update template: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteTemplate removes the template for status
func (r *TemplateRepository) DeleteTemplate(ctx context.Context, status string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM notification_templates WHERE status = $1`, status)
	if err != nil {
		return false, fmt.Errorf("delete template: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

const customTemplateColumns = `
	id, name, title, message, icon, priority, require_interaction,
	enabled, created_by, created_at, updated_at
`

func scanCustomTemplate(row pgx.Row) (*templates.CustomTemplate, error) {
	var t templates.CustomTemplate
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Title,
		&t.Message,
		&t.Icon,
		&t.Priority,
		&t.RequireInteraction,
		&t.Enabled,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListCustomTemplates returns custom templates, newest first
func (r *TemplateRepository) ListCustomTemplates(ctx context.Context) ([]templates.CustomTemplate, error) {
	query := `SELECT ` + customTemplateColumns + ` FROM custom_templates ORDER BY created_at DESC`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query custom templates: %w", err)
	}
	defer rows.Close()

	out := []templates.CustomTemplate{}
	for rows.Next() {
		t, err := scanCustomTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custom template: %w", err)
		}
		out = append(out, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return out, nil
}

// GetCustomTemplate returns the template with id, or nil if there is none
func (r *TemplateRepository) GetCustomTemplate(ctx context.Context, id string) (*templates.CustomTemplate, error) {
	query := `SELECT ` + customTemplateColumns + ` FROM custom_templates WHERE id = $1`

	t, err := scanCustomTemplate(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("failed to get custom template",
			zap.Error(err),
			zap.String("template_id", id),
		)
		return nil, fmt.Errorf("query custom template: %w", err)
	}

	return t, nil
}

// InsertCustomTemplate inserts a custom template
func (r *TemplateRepository) InsertCustomTemplate(ctx context.Context, t templates.CustomTemplate) error {
	query := `
		INSERT INTO custom_templates (` + customTemplateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		t.ID,
		t.Name,
		t.Title,
		t.Message,
		t.Icon,
		t.Priority,
		t.RequireInteraction,
		t.Enabled,
		t.CreatedBy,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert custom template: %w", err)
	}

	return nil
}

// UpdateCustomTemplate rewrites the editable fields of a custom template
func (r *TemplateRepository) UpdateCustomTemplate(ctx context.Context, t templates.CustomTemplate) (bool, error) {
	query := `
		UPDATE custom_templates
		SET name = $1, title = $2, message = $3, icon = $4, priority = $5,
		    require_interaction = $6, enabled = $7, updated_at = $8
		WHERE id = $9
	`

	result, err := r.db.Pool().Exec(ctx, query,
		t.Name,
		t.Title,
		t.Message,
		t.Icon,
		t.Priority,
		t.RequireInteraction,
		t.Enabled,
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update custom template: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteCustomTemplate removes a custom template
func (r *TemplateRepository) DeleteCustomTemplate(ctx context.Context, id string) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM custom_templates WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete custom template: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
