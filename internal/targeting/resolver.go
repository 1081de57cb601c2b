// Package targeting turns a declarative audience description into the set of
// user ids a broadcast should reach.
package targeting

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// TargetType selects how Criteria.Values are interpreted.
type TargetType string

const (
	TargetAll             TargetType = "all"
	TargetRole            TargetType = "role"
	TargetDepartment      TargetType = "department"
	TargetYear            TargetType = "year"
	TargetSpecificUsers   TargetType = "specific_users"
	TargetRegisterNumbers TargetType = "register_numbers"
	TargetStaffIDs        TargetType = "staff_ids"
)

// Types lists every supported target type.
var Types = []TargetType{
	TargetAll, TargetRole, TargetDepartment, TargetYear,
	TargetSpecificUsers, TargetRegisterNumbers, TargetStaffIDs,
}

var (
	ErrUnknownTargetType    = errors.New("unknown target type")
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
)

// Criteria describes who should receive a broadcast.
type Criteria struct {
	TargetType TargetType `json:"targetType"`
	Values     []string   `json:"values"`
}

// Directory is the read side of the user table.
type Directory interface {
	AllUserIDs(ctx context.Context) ([]int64, error)
	UserIDsByRole(ctx context.Context, roles []string) ([]int64, error)
	UserIDsByDepartment(ctx context.Context, departments []string) ([]int64, error)
	UserIDsByYear(ctx context.Context, years []int) ([]int64, error)
	UserIDsByRegisterNumber(ctx context.Context, numbers []string) ([]int64, error)
	UserIDsByStaffID(ctx context.Context, staffIDs []string) ([]int64, error)
}

// Resolver expands Criteria against a Directory. It has no side effects.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver. dir may be nil; only specific_users then
// resolves.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the distinct user ids matched by c, in the order the
// directory returned them. Any type other than all with no usable values
// yields an empty result and no error.
func (r *Resolver) Resolve(ctx context.Context, c Criteria) ([]int64, error) {
	values := lo.Compact(lo.Map(c.Values, func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))

	if c.TargetType == TargetSpecificUsers {
		// Trusted ids straight from the operator: no directory lookup, so an
		// id with no user simply matches no subscriptions later on.
		return lo.Uniq(parseInts[int64](values)), nil
	}

	if !lo.Contains(Types, c.TargetType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTargetType, c.TargetType)
	}

	if c.TargetType != TargetAll && len(values) == 0 {
		return []int64{}, nil
	}

	if r.dir == nil {
		return nil, ErrDirectoryUnavailable
	}

	var (
		ids []int64
		err error
	)

	switch c.TargetType {
	case TargetAll:
		ids, err = r.dir.AllUserIDs(ctx)
	case TargetRole:
		ids, err = r.dir.UserIDsByRole(ctx, values)
	case TargetDepartment:
		ids, err = r.dir.UserIDsByDepartment(ctx, values)
	case TargetYear:
		years := parseInts[int](values)
		if len(years) == 0 {
			return []int64{}, nil
		}
		ids, err = r.dir.UserIDsByYear(ctx, years)
	case TargetRegisterNumbers:
		ids, err = r.dir.UserIDsByRegisterNumber(ctx, values)
	case TargetStaffIDs:
		ids, err = r.dir.UserIDsByStaffID(ctx, values)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.TargetType, err)
	}

	return lo.Uniq(ids), nil
}

// parseInts keeps the values that parse as base-10 integers.
func parseInts[T int | int64](values []string) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, T(n))
	}
	return out
}
