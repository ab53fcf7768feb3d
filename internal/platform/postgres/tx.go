package postgres

import (
	"context"
	"database/sql"
	"time"

	dErrors "veriface/pkg/domain-errors"
	txcontext "veriface/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// Transactor runs a function inside a database transaction. The transaction
// travels in the context so stores pick it up through their execer.
type Transactor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTransactor constructs a Transactor over db.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db, timeout: defaultTxTimeout}
}

func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
