package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/recognition"
	"veriface/internal/biometrics/vector"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

// maxTemplateRetries bounds the merge retry on a version conflict. The
// recognition call is never repeated.
const maxTemplateRetries = 3

// EnrollResult summarizes a successful enrollment. No token is issued.
type EnrollResult struct {
	EventID          id.EventID
	EmbeddingCount   int
	RetainedCount    int
	ModelName        string
	ModelVersion     string
	DetectConfidence float64
}

// Enroll consumes an ENROLL challenge, analyzes the capture and folds the new
// embedding into the subject's template.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	ctx, span := s.tracer.Start(ctx, "biometrics.Enroll", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID.String()),
		attribute.String("challenge_id", req.ChallengeID.String()),
	))
	defer span.End()

	a := s.begin(ctx, models.EventEnroll, CaptureRequest(req))
	tmpl, analysis, err := s.enroll(ctx, a, CaptureRequest(req))
	if err != nil {
		return nil, s.finishFailure(ctx, span, a, err)
	}

	ev := a.event(models.StatusSuccess, "")
	ev.Score = float64Ptr(analysis.Quality.AvgConfidence)
	if err := s.recordSuccess(ctx, span, a, ev); err != nil {
		return nil, err
	}
	return &EnrollResult{
		EventID:          ev.ID,
		EmbeddingCount:   tmpl.EmbeddingCount,
		RetainedCount:    len(tmpl.Embeddings),
		ModelName:        tmpl.ModelName,
		ModelVersion:     tmpl.ModelVersion,
		DetectConfidence: analysis.Quality.AvgConfidence,
	}, nil
}

func (s *Service) enroll(ctx context.Context, a *attempt, req CaptureRequest) (*models.FaceTemplate, *recognition.Analysis, error) {
	challenge, err := s.consume(ctx, req, models.ActionEnroll)
	if err != nil {
		return nil, nil, err
	}
	capture, err := s.open(a, challenge, req.Payload)
	if err != nil {
		return nil, nil, err
	}
	analysis, err := s.analyze(ctx, a, challenge, capture)
	if err != nil {
		return nil, nil, err
	}
	if !analysis.Liveness.Passed {
		return nil, nil, newFailure(ReasonLivenessFailed, models.StatusFailure, nil).
			withPublicMessage(msgEnrollmentFailed)
	}
	if analysis.Spoof.Suspicious {
		return nil, nil, newFailure(ReasonLivenessFailed, models.StatusSuspicious, spoofError(analysis.Spoof)).
			withPublicMessage(msgEnrollmentFailed)
	}

	tmpl, err := s.mergeEmbedding(ctx, req.SubjectID, analysis)
	if err != nil {
		return nil, nil, err
	}
	return tmpl, analysis, nil
}

// mergeEmbedding appends the embedding to the subject's template under the
// subject lock, retrying the read-modify-write when another process saved a
// newer version first.
func (s *Service) mergeEmbedding(ctx context.Context, subjectID id.SubjectID, analysis *recognition.Analysis) (*models.FaceTemplate, error) {
	var saved *models.FaceTemplate
	err := s.locks.withLock(ctx, subjectID, func(ctx context.Context) error {
		var lastErr error
		for range maxTemplateRetries {
			lastErr = s.tx.RunInTx(ctx, func(ctx context.Context) error {
				tmpl, err := s.applyEmbedding(ctx, subjectID, analysis)
				if err != nil {
					return err
				}
				saved = tmpl
				return nil
			})
			if !errors.Is(lastErr, sentinel.ErrConflict) {
				return lastErr
			}
			s.logger.WarnContext(ctx, "template version conflict, retrying merge",
				"subject_id", subjectID,
			)
		}
		return lastErr
	})
	if err == nil {
		return saved, nil
	}
	if _, ok := AsFailure(err); ok {
		return nil, err
	}
	return nil, storageUnavailable("save face template", err)
}

func (s *Service) applyEmbedding(ctx context.Context, subjectID id.SubjectID, analysis *recognition.Analysis) (*models.FaceTemplate, error) {
	now := s.now(ctx)
	tmpl, err := s.templates.FindBySubject(ctx, subjectID)
	var expectedVersion int64
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		tmpl = models.NewFaceTemplate(subjectID, analysis.Model, now)
	case err != nil:
		return nil, err
	default:
		expectedVersion = tmpl.Version
		if !tmpl.Model().Equal(analysis.Model) {
			if !s.cfg.AllowModelMigration {
				return nil, modelMismatch(tmpl.Model(), analysis.Model)
			}
			s.logger.InfoContext(ctx, "migrating face template to new model",
				"subject_id", subjectID,
				"from_model", tmpl.ModelName+"@"+tmpl.ModelVersion,
				"to_model", analysis.Model.Name+"@"+analysis.Model.Version,
			)
			tmpl.ResetForModel(analysis.Model, now)
		}
	}

	owner := subjectID.String()
	retained := make([][]float64, 0, len(tmpl.Embeddings)+1)
	for _, sealed := range tmpl.Embeddings {
		raw, err := s.sealer.Open(owner, sealed)
		if err != nil {
			return nil, fmt.Errorf("open stored embedding: %w", err)
		}
		v, err := vector.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode stored embedding: %w", err)
		}
		retained = append(retained, v)
	}
	retained = append(retained, analysis.Embedding)
	if limit := s.cfg.MaxTemplateEmbeddings; limit > 0 && len(retained) > limit {
		retained = retained[len(retained)-limit:]
	}

	centroid, err := vector.Mean(retained)
	if err != nil {
		return nil, newFailure(ReasonInvalidCapture, models.StatusFailure, err)
	}
	sealedEmbedding, err := s.sealer.Seal(owner, vector.Encode(analysis.Embedding))
	if err != nil {
		return nil, fmt.Errorf("seal embedding: %w", err)
	}
	sealedCentroid, err := s.sealer.Seal(owner, vector.Encode(centroid))
	if err != nil {
		return nil, fmt.Errorf("seal centroid: %w", err)
	}

	tmpl.AppendEmbedding(sealedEmbedding, sealedCentroid, s.cfg.MaxTemplateEmbeddings, now)
	tmpl.RecordConfidence(analysis.Quality.AvgConfidence, now)
	if err := s.templates.Save(ctx, tmpl, expectedVersion); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func modelMismatch(stored, got models.ModelInfo) *Failure {
	return newFailure(ReasonModelMismatch, models.StatusFailure, fmt.Errorf(
		"template model %s@%s/%d, capture model %s@%s/%d",
		stored.Name, stored.Version, stored.Dim, got.Name, got.Version, got.Dim,
	))
}

func spoofError(sp recognition.Spoof) error {
	return fmt.Errorf("spoof suspected: %s (stability %.3f)", sp.Reason, sp.StabilityScore)
}
