package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Directory answers targeting queries against the users table.
type Directory struct {
	db     *DB
	logger *zap.Logger
}

// NewDirectory creates a user directory backed by PostgreSQL.
func NewDirectory(db *DB, logger *zap.Logger) *Directory {
	return &Directory{db: db, logger: logger}
}

// AllUserIDs returns every user id.
func (d *Directory) AllUserIDs(ctx context.Context) ([]int64, error) {
	return d.ids(ctx, `SELECT id FROM users ORDER BY id`)
}

// UserIDsByRole returns users whose role is in roles.
func (d *Directory) UserIDsByRole(ctx context.Context, roles []string) ([]int64, error) {
	return d.ids(ctx, `SELECT id FROM users WHERE role = ANY($1) ORDER BY id`, roles)
}

// UserIDsByDepartment returns users whose department code is in departments.
func (d *Directory) UserIDsByDepartment(ctx context.Context, departments []string) ([]int64, error) {
	return d.ids(ctx, `SELECT id FROM users WHERE department = ANY($1) ORDER BY id`, departments)
}

// UserIDsByYear returns users whose current study year is in years.
func (d *Directory) UserIDsByYear(ctx context.Context, years []int) ([]int64, error) {
	return d.ids(ctx, `SELECT id FROM users WHERE study_year = ANY($1) ORDER BY id`, years)
}

// UserIDsByRegisterNumber returns students matching any register number.
func (d *Directory) UserIDsByRegisterNumber(ctx context.Context, numbers []string) ([]int64, error) {
	return d.ids(ctx, `SELECT id FROM users WHERE register_number = ANY($1) ORDER BY id`, numbers)
}

// UserIDsByStaffID returns staff matching any staff id.
func (d *Directory) UserIDsByStaffID(ctx context.Context, staffIDs []string) ([]int64, error) {
	return d.ids(ctx, `SELECT id FROM users WHERE staff_id = ANY($1) ORDER BY id`, staffIDs)
}

func (d *Directory) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := d.db.Pool().Query(ctx, query, args...)
	if err != nil {
		d.logger.Error("user directory query failed", zap.Error(err))
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return ids, nil
}
