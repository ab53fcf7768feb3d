package challenge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this error pattern:
// - Return ErrNotFound when the challenge does not exist or belongs to another subject
// - Return ErrExpired, ErrAlreadyUsed, ErrMismatch or ErrLimitExceeded (wrapped) from Consume
// - Return wrapped errors with context for infrastructure failures

// InMemoryStore keeps challenges in memory for tests and single-node development.
type InMemoryStore struct {
	mu         sync.RWMutex
	challenges map[id.ChallengeID]*models.Challenge
}

// NewInMemory constructs an empty in-memory challenge ledger.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		challenges: make(map[id.ChallengeID]*models.Challenge),
	}
}

func (s *InMemoryStore) Create(_ context.Context, c *models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.challenges[c.ID]; exists {
		return fmt.Errorf("challenge %s: %w", c.ID, sentinel.ErrConflict)
	}
	s.challenges[c.ID] = c.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, challengeID id.ChallengeID) (*models.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[challengeID]
	if !ok {
		return nil, fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
	}
	return c.Clone(), nil
}

// Consume validates and spends the challenge under the write lock, so two
// concurrent callers can never both succeed.
func (s *InMemoryStore) Consume(_ context.Context, p models.ConsumeParams) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[p.ID]
	if !ok || c.SubjectID != p.SubjectID {
		return nil, fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
	}
	if err := c.Consume(p); err != nil {
		return c.Clone(), err
	}
	return c.Clone(), nil
}

// DeleteExpired removes challenges past expiry as of now. Consumed challenges
// are kept until now-retention so audit records can still be correlated.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-retention)
	deleted := 0
	for key, c := range s.challenges {
		if expiredForSweep(c, now, cutoff) {
			delete(s.challenges, key)
			deleted++
		}
	}
	return deleted, nil
}

func expiredForSweep(c *models.Challenge, now, cutoff time.Time) bool {
	if c.UsedAt != nil {
		return c.UsedAt.Before(cutoff)
	}
	return c.ExpiresAt.Before(now)
}
