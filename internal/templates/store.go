package templates

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Repository is the durable home of order-status templates.
type Repository interface {
	ListTemplates(ctx context.Context) ([]Template, error)
	InsertTemplate(ctx context.Context, t Template) error
	UpdateTemplate(ctx context.Context, t Template) (bool, error)
	DeleteTemplate(ctx context.Context, status string) (bool, error)
}

// Store caches templates in memory over a Repository. Mutations hold the
// write lock across the repository call, so readers never see a template
// whose persistence is still in flight.
type Store struct {
	mu       sync.RWMutex
	cache    map[string]Template
	repo     Repository
	degraded bool
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a template store. repo may be nil, in which case the
// store runs on in-memory defaults after Init.
func NewStore(repo Repository, logger *zap.Logger) *Store {
	return &Store{
		cache:  make(map[string]Template),
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Init loads templates from the repository, seeding the defaults when it is
// empty. An unreachable repository leaves the store on in-memory defaults in
// degraded mode; startup is never blocked.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		s.useDefaultsLocked("no template repository configured")
		return
	}

	existing, err := s.repo.ListTemplates(ctx)
	if err != nil {
		s.logger.Warn("template repository unreachable", zap.Error(err))
		s.useDefaultsLocked("template repository unreachable")
		return
	}

	if len(existing) > 0 {
		s.cache = lo.SliceToMap(existing, func(t Template) (string, Template) {
			return t.Status, t
		})
		s.degraded = false
		s.logger.Info("notification templates loaded", zap.Int("count", len(existing)))
		return
	}

	seeded := make(map[string]Template)
	for _, t := range Defaults() {
		t.ID = uuid.NewString()
		t.UpdatedAt = s.now().UTC()
		if err := s.repo.InsertTemplate(ctx, t); err != nil {
			s.logger.Warn("failed to seed default template",
				zap.String("status", t.Status),
				zap.Error(err),
			)
			s.useDefaultsLocked("seeding default templates failed")
			return
		}
		seeded[t.Status] = t
	}

	s.cache = seeded
	s.degraded = false
	s.logger.Info("default notification templates seeded", zap.Int("count", len(seeded)))
}

func (s *Store) useDefaultsLocked(reason string) {
	s.cache = make(map[string]Template)
	for _, t := range Defaults() {
		t.ID = uuid.NewString()
		t.UpdatedAt = s.now().UTC()
		s.cache[t.Status] = t
	}
	s.degraded = true
	s.logger.Warn("template store running in degraded mode; edits will not survive a restart",
		zap.String("reason", reason),
	)
}

// Degraded reports whether the store is running without its repository.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// All returns a snapshot of every template ordered by status.
func (s *Store) All() []Template {
	s.mu.RLock()
	out := lo.Values(s.cache)
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Template) int { return strings.Compare(a.Status, b.Status) })
	return out
}

// Get returns the template for status.
func (s *Store) Get(status string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cache[status]
	return t, ok
}

// Create adds a template. It returns false when the status already exists.
func (s *Store) Create(ctx context.Context, t Template) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[t.Status]; exists {
		return false, nil
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	t.UpdatedAt = s.now().UTC()

	if !s.degraded && s.repo != nil {
		if err := s.repo.InsertTemplate(ctx, t); err != nil {
			return false, fmt.Errorf("insert template %q: %w", t.Status, err)
		}
	}

	s.cache[t.Status] = t
	s.logger.Info("notification template created", zap.String("status", t.Status))
	return true, nil
}

// Update replaces the fields of the template with the same status. The id
// and status are kept. It returns false when the status does not exist.
func (s *Store) Update(ctx context.Context, t Template) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.cache[t.Status]
	if !exists {
		return false, nil
	}

	t.ID = current.ID
	if t.Priority == "" {
		t.Priority = current.Priority
	}
	t.UpdatedAt = s.now().UTC()

	if !s.degraded && s.repo != nil {
		ok, err := s.repo.UpdateTemplate(ctx, t)
		if err != nil {
			return false, fmt.Errorf("update template %q: %w", t.Status, err)
		}
		if !ok {
			// Row vanished underneath us; drop the stale cache entry.
			delete(s.cache, t.Status)
			return false, nil
		}
	}

	s.cache[t.Status] = t
	s.logger.Info("notification template updated",
		zap.String("status", t.Status),
		zap.Bool("enabled", t.Enabled),
	)
	return true, nil
}

// Delete removes the template for status and reports whether one existed.
func (s *Store) Delete(ctx context.Context, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[status]; !exists {
		return false, nil
	}

	if !s.degraded && s.repo != nil {
		if _, err := s.repo.DeleteTemplate(ctx, status); err != nil {
			return false, fmt.Errorf("delete template %q: %w", status, err)
		}
	}

	delete(s.cache, status)
	s.logger.Info("notification template deleted", zap.String("status", status))
	return true, nil
}
