// Package sweeper removes expired challenges from the ledger in the
// background. Consume enforces expiry on its own; the sweep only bounds
// storage.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"veriface/internal/biometrics/metrics"
)

// Store is the part of the challenge ledger the sweeper needs.
type Store interface {
	DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Sweeper periodically deletes unconsumed challenges past expiry and consumed
// challenges past the audit retention window.
type Sweeper struct {
	store     Store
	interval  time.Duration
	retention time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     func() time.Time
}

// Option configures the Sweeper.
type Option func(*Sweeper)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the wall clock passed to the store.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New builds a sweeper. retention is how long consumed challenges are kept
// for correlation with recognition events.
func New(store Store, interval, retention time.Duration, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("challenge store is required")
	}
	if interval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}
	s := &Sweeper{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepAt(ctx, s.clock()); err != nil {
				s.logger.ErrorContext(ctx, "challenge sweep failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepAt performs one sweep as of now.
// Exported for testability; Run passes wall-clock time.
func (s *Sweeper) SweepAt(ctx context.Context, now time.Time) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx, now, s.retention)
	if err != nil {
		return 0, fmt.Errorf("sweep expired challenges: %w", err)
	}
	if deleted > 0 {
		s.metrics.AddSwept(deleted)
		s.logger.InfoContext(ctx, "swept expired challenges", "deleted", deleted)
	}
	return deleted, nil
}
