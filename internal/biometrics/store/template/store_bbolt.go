package template

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

var templatesBucket = []byte("face_templates")

// BoltStore keeps templates in an embedded bbolt file, one JSON document per
// subject. bbolt serializes writers, so the version check and the write
// happen in one transaction. Not suitable when several instances share
// templates; use the Postgres store for that.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the bbolt file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(templatesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create templates bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

type boltTemplate struct {
	SubjectID      string    `json:"subject_id"`
	Embeddings     [][]byte  `json:"embeddings"`
	Centroid       []byte    `json:"centroid"`
	EmbeddingCount int       `json:"embedding_count"`
	EmbeddingDim   int       `json:"embedding_dim"`
	ModelName      string    `json:"model_name"`
	ModelVersion   string    `json:"model_version"`
	LastConfidence *float64  `json:"last_confidence,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *BoltStore) FindBySubject(_ context.Context, subjectID id.SubjectID) (*models.FaceTemplate, error) {
	var doc *boltTemplate
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		doc, err = readTemplate(tx, subjectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("face template not found: %w", sentinel.ErrNotFound)
	}
	return doc.toModel(), nil
}

func (s *BoltStore) Save(_ context.Context, t *models.FaceTemplate, expectedVersion int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		current, err := readTemplate(tx, t.SubjectID)
		if err != nil {
			return err
		}
		switch {
		case current == nil && expectedVersion != 0:
			return fmt.Errorf("face template %s: expected version %d but none stored: %w", t.SubjectID, expectedVersion, sentinel.ErrConflict)
		case current != nil && current.Version != expectedVersion:
			return fmt.Errorf("face template %s: version %d != %d: %w", t.SubjectID, current.Version, expectedVersion, sentinel.ErrConflict)
		}

		doc := fromModel(t)
		doc.Version = expectedVersion + 1
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode face template: %w", err)
		}
		if err := tx.Bucket(templatesBucket).Put([]byte(t.SubjectID), raw); err != nil {
			return fmt.Errorf("put face template: %w", err)
		}
		t.Version = doc.Version
		return nil
	})
}

func readTemplate(tx *bbolt.Tx, subjectID id.SubjectID) (*boltTemplate, error) {
	raw := tx.Bucket(templatesBucket).Get([]byte(subjectID))
	if raw == nil {
		return nil, nil
	}
	var doc boltTemplate
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode face template %s: %w", subjectID, err)
	}
	return &doc, nil
}

func fromModel(t *models.FaceTemplate) *boltTemplate {
	return &boltTemplate{
		SubjectID:      string(t.SubjectID),
		Embeddings:     t.Embeddings,
		Centroid:       t.Centroid,
		EmbeddingCount: t.EmbeddingCount,
		EmbeddingDim:   t.EmbeddingDim,
		ModelName:      t.ModelName,
		ModelVersion:   t.ModelVersion,
		LastConfidence: t.LastConfidence,
		Version:        t.Version,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (d *boltTemplate) toModel() *models.FaceTemplate {
	return &models.FaceTemplate{
		SubjectID:      id.SubjectID(d.SubjectID),
		Embeddings:     d.Embeddings,
		Centroid:       d.Centroid,
		EmbeddingCount: d.EmbeddingCount,
		EmbeddingDim:   d.EmbeddingDim,
		ModelName:      d.ModelName,
		ModelVersion:   d.ModelVersion,
		LastConfidence: d.LastConfidence,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
