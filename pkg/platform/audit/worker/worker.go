// Package worker forwards audit events from the Postgres outbox to a sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	audit "veriface/pkg/platform/audit"
)

const (
	defaultBatchSize = 100
	defaultRetention = 24 * time.Hour
)

// Outbox is the durable side of the relay.
type Outbox interface {
	Pending(ctx context.Context, limit int) ([]audit.OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Transactor scopes one relay batch. Pending rows stay locked until the batch
// commits.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Worker drains the outbox into a sink with at-least-once delivery.
type Worker struct {
	outbox    Outbox
	sink      audit.Store
	tx        Transactor
	interval  time.Duration
	batchSize int
	retention time.Duration
	logger    *slog.Logger
	clock     func() time.Time
}

type Option func(*Worker)

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithRetention controls how long published entries are kept.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.retention = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

func NewWorker(outbox Outbox, sink audit.Store, tx Transactor, interval time.Duration, opts ...Option) (*Worker, error) {
	if outbox == nil {
		return nil, errors.New("outbox is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if tx == nil {
		return nil, errors.New("transactor is required")
	}
	if interval <= 0 {
		return nil, errors.New("relay interval must be positive")
	}
	w := &Worker{
		outbox:    outbox,
		sink:      sink,
		tx:        tx,
		interval:  interval,
		batchSize: defaultBatchSize,
		retention: defaultRetention,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run relays on every tick until ctx is cancelled. Failed batches are retried
// on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err)
			}
		}
	}
}

// RelayOnce forwards one batch and prunes old published entries. Exported for
// testability.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	var relayed int
	var sinkErr error
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := w.outbox.Pending(ctx, w.batchSize)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(entries))
		for _, entry := range entries {
			if err := w.sink.Append(ctx, entry.Event); err != nil {
				// Entries forwarded so far are still marked; the rest stay pending.
				sinkErr = err
				break
			}
			ids = append(ids, entry.ID)
		}
		relayed = len(ids)
		return w.outbox.MarkPublished(ctx, ids, w.clock())
	})
	if err != nil {
		return 0, fmt.Errorf("relay outbox batch: %w", err)
	}
	if sinkErr != nil {
		return relayed, fmt.Errorf("forward audit event: %w", sinkErr)
	}

	if n, err := w.outbox.DeletePublishedBefore(ctx, w.clock().Add(-w.retention)); err != nil {
		w.logger.WarnContext(ctx, "failed to prune published audit outbox", "error", err)
	} else if n > 0 {
		w.logger.DebugContext(ctx, "pruned published audit outbox", "count", n)
	}
	if relayed > 0 {
		w.logger.DebugContext(ctx, "relayed audit events", "count", relayed)
	}
	return relayed, nil
}
