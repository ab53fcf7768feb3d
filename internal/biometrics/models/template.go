package models

import (
	"time"

	id "veriface/pkg/domain"
)

// ModelInfo pins embeddings to the recognition model that produced them.
// Embeddings from different models are never compared.
type ModelInfo struct {
	Name    string
	Version string
	Dim     int
}

// Equal reports whether two model descriptors are interchangeable.
func (m ModelInfo) Equal(other ModelInfo) bool {
	return m.Name == other.Name && m.Version == other.Version && m.Dim == other.Dim
}

// FaceTemplate is the enrolled biometric template of one subject.
// Embeddings and Centroid hold sealed vectors; the store never sees plaintext.
type FaceTemplate struct {
	SubjectID      id.SubjectID
	Embeddings     [][]byte
	Centroid       []byte
	EmbeddingCount int
	EmbeddingDim   int
	ModelName      string
	ModelVersion   string
	LastConfidence *float64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewFaceTemplate returns an empty template for a first enrollment.
func NewFaceTemplate(subjectID id.SubjectID, model ModelInfo, now time.Time) *FaceTemplate {
	return &FaceTemplate{
		SubjectID:    subjectID,
		EmbeddingDim: model.Dim,
		ModelName:    model.Name,
		ModelVersion: model.Version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Model returns the recognition model the template is pinned to.
func (t *FaceTemplate) Model() ModelInfo {
	return ModelInfo{Name: t.ModelName, Version: t.ModelVersion, Dim: t.EmbeddingDim}
}

// IsEnrolled reports whether the template has a usable centroid.
func (t *FaceTemplate) IsEnrolled() bool {
	return t != nil && len(t.Embeddings) > 0 && len(t.Centroid) > 0
}

// ResetForModel discards all embeddings and pins the template to a new model.
// Used only when model migration is enabled.
func (t *FaceTemplate) ResetForModel(model ModelInfo, now time.Time) {
	t.Embeddings = nil
	t.Centroid = nil
	t.EmbeddingDim = model.Dim
	t.ModelName = model.Name
	t.ModelVersion = model.Version
	t.LastConfidence = nil
	t.UpdatedAt = now
}

// AppendEmbedding adds a sealed embedding, pruning the oldest past maxRetained,
// and replaces the sealed centroid.
func (t *FaceTemplate) AppendEmbedding(sealed, centroid []byte, maxRetained int, now time.Time) {
	t.Embeddings = append(t.Embeddings, sealed)
	if maxRetained > 0 && len(t.Embeddings) > maxRetained {
		t.Embeddings = append([][]byte(nil), t.Embeddings[len(t.Embeddings)-maxRetained:]...)
	}
	t.Centroid = centroid
	t.EmbeddingCount++
	t.UpdatedAt = now
}

// RecordConfidence stores the confidence of the latest accepted capture.
func (t *FaceTemplate) RecordConfidence(confidence float64, now time.Time) {
	c := confidence
	t.LastConfidence = &c
	t.UpdatedAt = now
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (t *FaceTemplate) Clone() *FaceTemplate {
	cp := *t
	cp.Embeddings = make([][]byte, len(t.Embeddings))
	for i, e := range t.Embeddings {
		cp.Embeddings[i] = append([]byte(nil), e...)
	}
	cp.Centroid = append([]byte(nil), t.Centroid...)
	cp.LastConfidence = cloneFloat(t.LastConfidence)
	return &cp
}
