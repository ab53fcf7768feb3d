package challenge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"veriface/internal/biometrics/models"
	"veriface/internal/platform/postgres"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
	txcontext "veriface/pkg/platform/tx"
)

const challengeColumns = `id, subject_id, nonce_hash, action, liveness_actions, key_id,
	created_at, expires_at, used_at, attempts, ip_address, user_agent`

// PostgresStore persists challenges in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed challenge ledger.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) txcontext.Executor {
	return txcontext.Exec(ctx, s.db)
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Challenge) error {
	query := `
		INSERT INTO biometric_challenges (` + challengeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID),
		string(c.SubjectID),
		c.NonceHash,
		string(c.Action),
		pq.Array(livenessToStrings(c.LivenessActions)),
		c.KeyID,
		c.CreatedAt,
		c.ExpiresAt,
		c.UsedAt,
		c.Attempts,
		c.IPAddress,
		c.UserAgent,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("challenge %s: %w", c.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM biometric_challenges WHERE id = $1`
	c, err := scanChallenge(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(challengeID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find challenge: %w", err)
	}
	return c, nil
}

// Consume spends the challenge with a single conditional UPDATE...RETURNING.
// Only when that matches no row does it lock the row to classify the failure
// and count the attempt.
func (s *PostgresStore) Consume(ctx context.Context, p models.ConsumeParams) (*models.Challenge, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}
	query := `
		UPDATE biometric_challenges
		SET used_at = $5
		WHERE id = $1
		  AND subject_id = $2
		  AND nonce_hash = $3
		  AND action = $4
		  AND used_at IS NULL
		  AND expires_at > $5
		  AND attempts < $6
		RETURNING ` + challengeColumns
	c, err := scanChallenge(s.db.QueryRowContext(ctx, query,
		uuid.UUID(p.ID),
		string(p.SubjectID),
		models.HashSecret(p.Nonce),
		string(p.Action),
		p.Now,
		maxAttempts,
	))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	return s.recordFailedConsume(ctx, p)
}

func (s *PostgresStore) recordFailedConsume(ctx context.Context, p models.ConsumeParams) (*models.Challenge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume classification: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `SELECT ` + challengeColumns + ` FROM biometric_challenges WHERE id = $1 FOR UPDATE`
	c, err := scanChallenge(tx.QueryRowContext(ctx, query, uuid.UUID(p.ID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lock challenge: %w", err)
	}
	if c.SubjectID != p.SubjectID {
		return nil, fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
	}

	consumeErr := c.Consume(p)
	_, err = tx.ExecContext(ctx, `
		UPDATE biometric_challenges
		SET attempts = $2, expires_at = $3, used_at = $4
		WHERE id = $1
	`, uuid.UUID(c.ID), c.Attempts, c.ExpiresAt, c.UsedAt)
	if err != nil {
		return nil, fmt.Errorf("record consume attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume attempt: %w", err)
	}
	return c, consumeErr
}

// DeleteExpired removes unconsumed challenges past expiry and consumed ones
// older than the audit retention window.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM biometric_challenges
		WHERE (used_at IS NULL AND expires_at < $1)
		   OR (used_at IS NOT NULL AND used_at < $2)
	`, now, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired challenges rows affected: %w", err)
	}
	return int(rows), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var (
		c         models.Challenge
		rawID     uuid.UUID
		subjectID string
		action    string
		liveness  []string
		usedAt    sql.NullTime
		ip, ua    sql.NullString
	)
	if err := row.Scan(
		&rawID,
		&subjectID,
		&c.NonceHash,
		&action,
		pq.Array(&liveness),
		&c.KeyID,
		&c.CreatedAt,
		&c.ExpiresAt,
		&usedAt,
		&c.Attempts,
		&ip,
		&ua,
	); err != nil {
		return nil, err
	}
	c.ID = id.ChallengeID(rawID)
	c.SubjectID = id.SubjectID(subjectID)
	c.Action = models.Action(action)
	c.LivenessActions = stringsToLiveness(liveness)
	if usedAt.Valid {
		t := usedAt.Time
		c.UsedAt = &t
	}
	c.IPAddress = ip.String
	c.UserAgent = ua.String
	return &c, nil
}

func livenessToStrings(actions []models.LivenessAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	return out
}

func stringsToLiveness(values []string) []models.LivenessAction {
	out := make([]models.LivenessAction, len(values))
	for i, v := range values {
		out[i] = models.LivenessAction(v)
	}
	return out
}
