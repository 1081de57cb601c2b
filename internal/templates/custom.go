package templates

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// CustomRepository persists custom templates.
type CustomRepository interface {
	ListCustomTemplates(ctx context.Context) ([]CustomTemplate, error)
	GetCustomTemplate(ctx context.Context, id string) (*CustomTemplate, error)
	InsertCustomTemplate(ctx context.Context, t CustomTemplate) error
	UpdateCustomTemplate(ctx context.Context, t CustomTemplate) (bool, error)
	DeleteCustomTemplate(ctx context.Context, id string) (bool, error)
}

// CustomStore manages operator-authored templates on top of a repository.
type CustomStore struct {
	repo   CustomRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewCustomStore creates a custom template store.
func NewCustomStore(repo CustomRepository, logger *zap.Logger) *CustomStore {
	return &CustomStore{repo: repo, logger: logger, now: time.Now}
}

// List returns every custom template, newest first.
func (s *CustomStore) List(ctx context.Context) ([]CustomTemplate, error) {
	return s.repo.ListCustomTemplates(ctx)
}

// Get returns the template with id, or (nil, nil) when there is none.
func (s *CustomStore) Get(ctx context.Context, id string) (*CustomTemplate, error) {
	return s.repo.GetCustomTemplate(ctx, id)
}

// Create assigns an id and timestamps and stores the template on behalf of
// operator.
func (s *CustomStore) Create(ctx context.Context, t CustomTemplate, operator string) (*CustomTemplate, error) {
	now := s.now().UTC()
	t.ID = uuid.NewString()
	t.CreatedBy = operator
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}

	if err := s.repo.InsertCustomTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("insert custom template: %w", err)
	}

	s.logger.Info("custom template created",
		zap.String("template_id", t.ID),
		zap.String("name", t.Name),
		zap.String("created_by", operator),
	)
	return &t, nil
}

// Update replaces the editable fields of template id. It returns (nil, nil)
// when the template does not exist.
func (s *CustomStore) Update(ctx context.Context, id string, t CustomTemplate) (*CustomTemplate, error) {
	current, err := s.repo.GetCustomTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	t.ID = current.ID
	t.CreatedBy = current.CreatedBy
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = s.now().UTC()
	if t.Priority == "" {
		t.Priority = current.Priority
	}

	ok, err := s.repo.UpdateCustomTemplate(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("update custom template: %w", err)
	}
	if !ok {
		return nil, nil
	}

	return &t, nil
}

// Delete removes template id and reports whether it existed.
func (s *CustomStore) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.repo.DeleteCustomTemplate(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete custom template: %w", err)
	}
	if ok {
		s.logger.Info("custom template deleted", zap.String("template_id", id))
	}
	return ok, nil
}

// MemoryCustomRepository keeps custom templates in process memory. It backs
// the CustomStore when PostgreSQL is not available.
type MemoryCustomRepository struct {
	mu    sync.RWMutex
	items map[string]CustomTemplate
}

// NewMemoryCustomRepository creates an empty in-memory repository.
func NewMemoryCustomRepository() *MemoryCustomRepository {
	return &MemoryCustomRepository{items: make(map[string]CustomTemplate)}
}

func (m *MemoryCustomRepository) ListCustomTemplates(ctx context.Context) ([]CustomTemplate, error) {
	m.mu.RLock()
	out := lo.Values(m.items)
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b CustomTemplate) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (m *MemoryCustomRepository) GetCustomTemplate(ctx context.Context, id string) (*CustomTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryCustomRepository) InsertCustomTemplate(ctx context.Context, t CustomTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[t.ID]; exists {
		return fmt.Errorf("custom template %s already exists", t.ID)
	}
	m.items[t.ID] = t
	return nil
}

func (m *MemoryCustomRepository) UpdateCustomTemplate(ctx context.Context, t CustomTemplate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[t.ID]; !exists {
		return false, nil
	}
	m.items[t.ID] = t
	return true, nil
}

func (m *MemoryCustomRepository) DeleteCustomTemplate(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[id]; !exists {
		return false, nil
	}
	delete(m.items, id)
	return true, nil
}
