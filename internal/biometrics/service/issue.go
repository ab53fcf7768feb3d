package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/privacy"
	"veriface/pkg/requestcontext"
)

// IssueChallengeRequest names the subject and the operation the challenge
// will authorize.
type IssueChallengeRequest struct {
	SubjectID id.SubjectID
	Action    models.Action
}

// IssueChallengeResult is returned to the capturing client. Nonce is the only
// copy of the raw nonce; it is not recoverable afterwards.
type IssueChallengeResult struct {
	ChallengeID     id.ChallengeID
	Nonce           string
	ExpiresAt       time.Time
	LivenessActions []models.LivenessAction
	KeyID           string
	PublicKey       string
}

// IssueChallenge persists a fresh single-use challenge and advertises the
// current payload key.
func (s *Service) IssueChallenge(ctx context.Context, req IssueChallengeRequest) (*IssueChallengeResult, error) {
	ctx, span := s.tracer.Start(ctx, "biometrics.IssueChallenge", trace.WithAttributes(
		attribute.String("subject_id", req.SubjectID.String()),
		attribute.String("action", string(req.Action)),
	))
	defer span.End()

	now := s.now(ctx)
	nonce, err := newNonce()
	if err != nil {
		span.SetStatus(codes.Error, "nonce generation failed")
		return nil, storageUnavailable("generate nonce", err)
	}
	liveness, err := pickLiveness(s.livenessCount(req.Action))
	if err != nil {
		span.SetStatus(codes.Error, "liveness selection failed")
		return nil, storageUnavailable("select liveness actions", err)
	}
	key := s.cipher.PublicKey()

	challenge, err := models.NewChallenge(id.NewChallengeID(), req.SubjectID, nonce, req.Action, liveness, key.KeyID, now, s.cfg.ChallengeTTL)
	if err != nil {
		span.SetStatus(codes.Error, "invalid challenge")
		return nil, err
	}
	challenge.IPAddress = requestcontext.ClientIP(ctx)
	challenge.UserAgent = requestcontext.UserAgent(ctx)

	if err := s.challenges.Create(ctx, challenge); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create challenge failed")
		s.logger.ErrorContext(ctx, "failed to persist challenge",
			"subject_id", req.SubjectID,
			"error", err,
		)
		return nil, storageUnavailable("create challenge", err)
	}

	s.metrics.IncrementChallengeIssued(string(req.Action))
	s.emitAudit(ctx, audit.Event{
		Action:      string(audit.EventChallengeIssued),
		SubjectID:   req.SubjectID.String(),
		ChallengeID: challenge.ID.String(),
		Reason:      string(req.Action),
		IP:          privacy.AnonymizeIP(challenge.IPAddress),
		RequestID:   requestcontext.RequestID(ctx),
	})
	s.logger.InfoContext(ctx, "biometric challenge issued",
		"subject_id", req.SubjectID,
		"challenge_id", challenge.ID,
		"action", req.Action,
		"key_id", key.KeyID,
		"expires_at", challenge.ExpiresAt,
	)

	return &IssueChallengeResult{
		ChallengeID:     challenge.ID,
		Nonce:           nonce,
		ExpiresAt:       challenge.ExpiresAt,
		LivenessActions: challenge.LivenessActions,
		KeyID:           key.KeyID,
		PublicKey:       key.Encoded(),
	}, nil
}

func (s *Service) livenessCount(action models.Action) int {
	if action == models.ActionEnroll {
		return s.cfg.EnrollLivenessActions
	}
	return s.cfg.VerifyLivenessActions
}

// emitAudit is best effort: the recognition event is already the durable
// record, so a full or broken audit stream only logs.
func (s *Service) emitAudit(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", ev.Action,
			"subject_id", ev.SubjectID,
			"error", err,
		)
	}
}
