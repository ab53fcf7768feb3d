package event

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

// Error Contract:
// - FindByTokenHash returns ErrNotFound for unknown hashes
// - RedeemToken returns ErrNotFound, ErrExpired or ErrAlreadyUsed (wrapped)
// - Append returns ErrConflict for a duplicate event id or token hash

// InMemoryStore is an append-only event log for tests and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	events  []*models.RecognitionEvent
	byToken map[string]*models.RecognitionEvent
	ids     map[id.EventID]struct{}
}

// NewInMemory constructs an empty in-memory event log.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byToken: make(map[string]*models.RecognitionEvent),
		ids:     make(map[id.EventID]struct{}),
	}
}

func (s *InMemoryStore) Append(_ context.Context, e *models.RecognitionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ids[e.ID]; dup {
		return fmt.Errorf("recognition event %s: %w", e.ID, sentinel.ErrConflict)
	}
	if e.HasToken() {
		if _, dup := s.byToken[e.VerificationTokenHash]; dup {
			return fmt.Errorf("verification token hash: %w", sentinel.ErrConflict)
		}
	}
	stored := e.Clone()
	s.events = append(s.events, stored)
	s.ids[e.ID] = struct{}{}
	if stored.HasToken() {
		s.byToken[stored.VerificationTokenHash] = stored
	}
	return nil
}

func (s *InMemoryStore) FindByTokenHash(_ context.Context, hash string) (*models.RecognitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byToken[hash]
	if !ok {
		return nil, fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
	}
	return e.Clone(), nil
}

// RedeemToken validates and marks the token used under the write lock.
func (s *InMemoryStore) RedeemToken(_ context.Context, hash string, now time.Time) (*models.RecognitionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byToken[hash]
	if !ok {
		return nil, fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
	}
	if err := e.ValidateForRedeem(now); err != nil {
		return e.Clone(), err
	}
	e.MarkRedeemed(now)
	return e.Clone(), nil
}

// ListBySubject returns the newest events first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subjectID id.SubjectID, limit int) ([]*models.RecognitionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.RecognitionEvent
	for _, e := range s.events {
		if e.SubjectID == subjectID {
			out = append(out, e.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
