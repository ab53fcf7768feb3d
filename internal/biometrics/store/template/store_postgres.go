package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
	txcontext "veriface/pkg/platform/tx"
)

const templateColumns = `subject_id, embeddings, centroid, embedding_count, embedding_dim,
	model_name, model_version, last_confidence, version, created_at, updated_at`

// PostgresStore persists face templates in PostgreSQL.
// Sealed embeddings are stored as a BYTEA[] in retention order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed template store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subjectID id.SubjectID) (*models.FaceTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM face_templates WHERE subject_id = $1`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	t, err := scanTemplate(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, string(subjectID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("face template not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find face template: %w", err)
	}
	return t, nil
}

// Save inserts (expectedVersion 0) or updates the template guarded by its
// version, so a concurrent enrollment can never be silently overwritten.
func (s *PostgresStore) Save(ctx context.Context, t *models.FaceTemplate, expectedVersion int64) error {
	exec := txcontext.Exec(ctx, s.db)
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = exec.ExecContext(ctx, `
			INSERT INTO face_templates (`+templateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
			ON CONFLICT (subject_id) DO NOTHING
		`,
			string(t.SubjectID),
			embeddingsArray(t.Embeddings),
			t.Centroid,
			t.EmbeddingCount,
			t.EmbeddingDim,
			t.ModelName,
			t.ModelVersion,
			t.LastConfidence,
			t.CreatedAt,
			t.UpdatedAt,
		)
	} else {
		res, err = exec.ExecContext(ctx, `
			UPDATE face_templates SET
				embeddings = $2,
				centroid = $3,
				embedding_count = $4,
				embedding_dim = $5,
				model_name = $6,
				model_version = $7,
				last_confidence = $8,
				updated_at = $9,
				version = version + 1
			WHERE subject_id = $1 AND version = $10
		`,
			string(t.SubjectID),
			embeddingsArray(t.Embeddings),
			t.Centroid,
			t.EmbeddingCount,
			t.EmbeddingDim,
			t.ModelName,
			t.ModelVersion,
			t.LastConfidence,
			t.UpdatedAt,
			expectedVersion,
		)
	}
	if err != nil {
		return fmt.Errorf("save face template: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save face template rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("face template %s changed concurrently: %w", t.SubjectID, sentinel.ErrConflict)
	}
	t.Version = expectedVersion + 1
	return nil
}

func embeddingsArray(embeddings [][]byte) pq.ByteaArray {
	if embeddings == nil {
		return pq.ByteaArray{}
	}
	return pq.ByteaArray(embeddings)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*models.FaceTemplate, error) {
	var (
		t          models.FaceTemplate
		subjectID  string
		embeddings pq.ByteaArray
		confidence sql.NullFloat64
	)
	if err := row.Scan(
		&subjectID,
		&embeddings,
		&t.Centroid,
		&t.EmbeddingCount,
		&t.EmbeddingDim,
		&t.ModelName,
		&t.ModelVersion,
		&confidence,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.SubjectID = id.SubjectID(subjectID)
	t.Embeddings = [][]byte(embeddings)
	if confidence.Valid {
		c := confidence.Float64
		t.LastConfidence = &c
	}
	return &t, nil
}
