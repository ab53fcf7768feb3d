package template

import (
	"context"
	"fmt"
	"sync"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

// Error Contract:
// - FindBySubject returns ErrNotFound when the subject has no template
// - Save returns ErrConflict when expectedVersion does not match the stored
//   version (0 means the template must not exist yet)
// - Infrastructure failures are returned wrapped with context

// InMemoryStore keeps templates in memory for tests and development.
type InMemoryStore struct {
	mu        sync.RWMutex
	templates map[id.SubjectID]*models.FaceTemplate
}

// NewInMemory constructs an empty in-memory template store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{templates: make(map[id.SubjectID]*models.FaceTemplate)}
}

func (s *InMemoryStore) FindBySubject(_ context.Context, subjectID id.SubjectID) (*models.FaceTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[subjectID]
	if !ok {
		return nil, fmt.Errorf("face template not found: %w", sentinel.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, t *models.FaceTemplate, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.templates[t.SubjectID]
	switch {
	case !exists && expectedVersion != 0:
		return fmt.Errorf("face template %s: expected version %d but none stored: %w", t.SubjectID, expectedVersion, sentinel.ErrConflict)
	case exists && current.Version != expectedVersion:
		return fmt.Errorf("face template %s: version %d != %d: %w", t.SubjectID, current.Version, expectedVersion, sentinel.ErrConflict)
	}
	t.Version = expectedVersion + 1
	s.templates[t.SubjectID] = t.Clone()
	return nil
}
