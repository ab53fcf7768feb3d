package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/recognition"
	"veriface/internal/biometrics/vector"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

// VerifyResult carries the proof token. Token is the only copy of the raw
// value; the event log keeps its hash.
type VerifyResult struct {
	Token     string
	ExpiresAt time.Time
	Score     float64
	EventID   id.EventID
}

// Verify consumes a VERIFY challenge, compares the capture with the enrolled
// centroid and mints a single-use proof token on acceptance.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "biometrics.Verify", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID.String()),
		attribute.String("challenge_id", req.ChallengeID.String()),
	))
	defer span.End()

	a := s.begin(ctx, models.EventVerify, CaptureRequest(req))
	score, err := s.verify(ctx, a, CaptureRequest(req))
	if err != nil {
		return nil, s.finishFailure(ctx, span, a, err)
	}

	token, hash, err := newProofToken()
	if err != nil {
		return nil, storageUnavailable("mint proof token", err)
	}
	expiresAt := s.now(ctx).Add(s.cfg.ProofTokenTTL)

	ev := a.event(models.StatusSuccess, "")
	ev.Score = float64Ptr(score)
	ev.Threshold = float64Ptr(s.cfg.Threshold)
	ev.AttachToken(hash, expiresAt)
	if err := s.recordSuccess(ctx, span, a, ev); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Float64("score", score))

	return &VerifyResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Score:     score,
		EventID:   ev.ID,
	}, nil
}

// verify runs the VERIFY path up to the accept decision and returns the
// similarity score of an accepted capture.
func (s *Service) verify(ctx context.Context, a *attempt, req CaptureRequest) (float64, error) {
	challenge, err := s.consume(ctx, req, models.ActionVerify)
	if err != nil {
		return 0, err
	}
	capture, err := s.open(a, challenge, req.Payload)
	if err != nil {
		return 0, err
	}

	tmpl, err := s.templates.FindBySubject(ctx, req.SubjectID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return 0, newFailure(ReasonNotEnrolled, models.StatusFailure, err)
	case err != nil:
		return 0, storageUnavailable("load face template", err)
	case !tmpl.IsEnrolled():
		return 0, newFailure(ReasonNotEnrolled, models.StatusFailure, nil)
	}

	analysis, err := s.analyze(ctx, a, challenge, capture)
	if err != nil {
		return 0, err
	}
	if !tmpl.Model().Equal(analysis.Model) {
		return 0, modelMismatch(tmpl.Model(), analysis.Model)
	}

	score, err := s.similarity(req.SubjectID, tmpl, analysis)
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveSimilarity(score)

	if f := s.classify(score, analysis); f != nil {
		return 0, f
	}
	if err := s.touchTemplate(ctx, req.SubjectID, score); err != nil {
		return 0, err
	}
	return score, nil
}

func (s *Service) similarity(subjectID id.SubjectID, tmpl *models.FaceTemplate, analysis *recognition.Analysis) (float64, error) {
	raw, err := s.sealer.Open(subjectID.String(), tmpl.Centroid)
	if err != nil {
		return 0, storageUnavailable("open template centroid", err)
	}
	centroid, err := vector.Decode(raw)
	if err != nil {
		return 0, storageUnavailable("decode template centroid", err)
	}
	score, err := vector.Cosine(analysis.Embedding, centroid)
	if err != nil {
		return 0, newFailure(ReasonInvalidCapture, models.StatusFailure, err)
	}
	return score, nil
}

// classify applies the accept rule. A passing score paired with a liveness or
// spoof conflict, and a score far below the threshold, are SUSPICIOUS. All
// rejections share one caller-visible message.
func (s *Service) classify(score float64, analysis *recognition.Analysis) *Failure {
	threshold := s.cfg.Threshold
	passes := score >= threshold

	var f *Failure
	switch {
	case !analysis.Liveness.Passed:
		status := models.StatusFailure
		if passes || score < threshold-s.cfg.SuspiciousMargin {
			status = models.StatusSuspicious
		}
		f = newFailure(ReasonLivenessFailed, status, errors.New("liveness check failed"))
	case analysis.Spoof.Suspicious && passes:
		f = newFailure(ReasonLivenessFailed, models.StatusSuspicious, spoofError(analysis.Spoof))
	case !passes:
		status := models.StatusFailure
		if score < threshold-s.cfg.SuspiciousMargin {
			status = models.StatusSuspicious
		}
		f = newFailure(ReasonBelowThreshold, status, fmt.Errorf("score %.4f below threshold %.4f", score, threshold))
	default:
		return nil
	}
	f.Score = float64Ptr(score)
	f.Threshold = float64Ptr(threshold)
	return f
}

// touchTemplate records the accepted score as LastConfidence. A version race
// that outlasts the retries is logged and ignored; the verification stands.
func (s *Service) touchTemplate(ctx context.Context, subjectID id.SubjectID, score float64) error {
	err := s.locks.withLock(ctx, subjectID, func(ctx context.Context) error {
		var lastErr error
		for range maxTemplateRetries {
			lastErr = s.tx.RunInTx(ctx, func(ctx context.Context) error {
				tmpl, err := s.templates.FindBySubject(ctx, subjectID)
				if err != nil {
					return err
				}
				tmpl.RecordConfidence(score, s.now(ctx))
				return s.templates.Save(ctx, tmpl, tmpl.Version)
			})
			if !errors.Is(lastErr, sentinel.ErrConflict) {
				return lastErr
			}
		}
		return lastErr
	})
	if errors.Is(err, sentinel.ErrConflict) {
		s.logger.WarnContext(ctx, "could not record last confidence after retries",
			"subject_id", subjectID,
		)
		return nil
	}
	if err != nil {
		return storageUnavailable("update face template", err)
	}
	return nil
}
