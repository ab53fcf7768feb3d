package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"veriface/internal/biometrics/models"
	"veriface/internal/platform/postgres"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
	txcontext "veriface/pkg/platform/tx"
)

const eventColumns = `id, subject_id, event_type, status, reason, challenge_id, score, threshold,
	verification_token_hash, verification_token_expires_at, verification_token_used_at,
	ip_address, user_agent, metadata, created_at`

// PostgresStore persists recognition events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event log.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e *models.RecognitionEvent) error {
	metadata, err := json.Marshal(nonNilMetadata(e.Metadata))
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	var challengeID *uuid.UUID
	if !e.ChallengeID.IsNil() {
		u := uuid.UUID(e.ChallengeID)
		challengeID = &u
	}
	var tokenHash *string
	if e.HasToken() {
		tokenHash = &e.VerificationTokenHash
	}

	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO recognition_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		uuid.UUID(e.ID),
		string(e.SubjectID),
		string(e.EventType),
		string(e.Status),
		e.Reason,
		challengeID,
		e.Score,
		e.Threshold,
		tokenHash,
		e.VerificationTokenExpiresAt,
		e.VerificationTokenUsedAt,
		e.IPAddress,
		e.UserAgent,
		metadata,
		e.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("recognition event %s: %w", e.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("append recognition event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByTokenHash(ctx context.Context, hash string) (*models.RecognitionEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM recognition_events WHERE verification_token_hash = $1`
	e, err := scanEvent(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find event by token: %w", err)
	}
	return e, nil
}

// RedeemToken marks the token used with a conditional UPDATE...RETURNING and
// only falls back to a read to explain why nothing matched.
func (s *PostgresStore) RedeemToken(ctx context.Context, hash string, now time.Time) (*models.RecognitionEvent, error) {
	query := `
		UPDATE recognition_events
		SET verification_token_used_at = $2
		WHERE verification_token_hash = $1
		  AND verification_token_used_at IS NULL
		  AND verification_token_expires_at > $2
		RETURNING ` + eventColumns
	e, err := scanEvent(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, hash, now))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("redeem verification token: %w", err)
	}

	current, err := s.FindByTokenHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := current.ValidateForRedeem(now); err != nil {
		return current, err
	}
	// The row was redeemed between the UPDATE and the read.
	return current, fmt.Errorf("verification token already used: %w", sentinel.ErrAlreadyUsed)
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID id.SubjectID, limit int) ([]*models.RecognitionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM recognition_events
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(subjectID), limit)
	if err != nil {
		return nil, fmt.Errorf("list recognition events: %w", err)
	}
	defer rows.Close()

	var out []*models.RecognitionEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recognition event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recognition events: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.RecognitionEvent, error) {
	var (
		e           models.RecognitionEvent
		rawID       uuid.UUID
		subjectID   string
		eventType   string
		status      string
		challengeID uuid.NullUUID
		score       sql.NullFloat64
		threshold   sql.NullFloat64
		tokenHash   sql.NullString
		expiresAt   sql.NullTime
		usedAt      sql.NullTime
		ip, ua      sql.NullString
		metadata    []byte
	)
	if err := row.Scan(
		&rawID,
		&subjectID,
		&eventType,
		&status,
		&e.Reason,
		&challengeID,
		&score,
		&threshold,
		&tokenHash,
		&expiresAt,
		&usedAt,
		&ip,
		&ua,
		&metadata,
		&e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.ID = id.EventID(rawID)
	e.SubjectID = id.SubjectID(subjectID)
	e.EventType = models.EventType(eventType)
	e.Status = models.EventStatus(status)
	if challengeID.Valid {
		e.ChallengeID = id.ChallengeID(challengeID.UUID)
	}
	e.Score = nullFloat(score)
	e.Threshold = nullFloat(threshold)
	e.VerificationTokenHash = tokenHash.String
	e.VerificationTokenExpiresAt = nullTime(expiresAt)
	e.VerificationTokenUsedAt = nullTime(usedAt)
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return &e, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
