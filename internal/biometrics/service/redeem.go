package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/sentinel"
	"veriface/pkg/requestcontext"
)

// defaultHistoryLimit caps History when the caller passes no limit.
const defaultHistoryLimit = 50

// Redeem spends a proof token and returns the verified subject. The lookup is
// by hash; the event row is the single-use record.
func (s *Service) Redeem(ctx context.Context, token string) (id.SubjectID, error) {
	ctx, span := s.tracer.Start(ctx, "biometrics.Redeem")
	defer span.End()

	ev, err := s.events.RedeemToken(ctx, models.HashSecret(token), s.now(ctx))
	if err != nil {
		reason, ok := redeemReason(err)
		if !ok {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage unavailable")
			s.metrics.IncrementTokenRedemption("error")
			s.logger.ErrorContext(ctx, "failed to redeem verification token", "error", err)
			return "", storageUnavailable("redeem verification token", err)
		}

		span.SetStatus(codes.Error, string(reason))
		s.metrics.IncrementTokenRedemption(string(reason))
		subject := ""
		if ev != nil {
			subject = ev.SubjectID.String()
		}
		s.emitAudit(ctx, audit.Event{
			Action:    string(audit.EventTokenRejected),
			SubjectID: subject,
			Status:    string(models.StatusFailure),
			Reason:    string(reason),
			RequestID: requestcontext.RequestID(ctx),
		})
		s.logger.WarnContext(ctx, "verification token rejected",
			"reason", reason,
			"subject_id", subject,
		)
		return "", newFailure(reason, models.StatusFailure, err)
	}

	s.metrics.IncrementTokenRedemption("ok")
	s.emitAudit(ctx, audit.Event{
		Action:    string(audit.EventTokenRedeemed),
		SubjectID: ev.SubjectID.String(),
		Status:    string(models.StatusSuccess),
		EventID:   ev.ID.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
	s.logger.InfoContext(ctx, "verification token redeemed",
		"subject_id", ev.SubjectID,
		"event_id", ev.ID,
	)
	return ev.SubjectID, nil
}

func redeemReason(err error) (Reason, bool) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return ReasonTokenNotFound, true
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return ReasonTokenAlreadyUsed, true
	case errors.Is(err, sentinel.ErrExpired):
		return ReasonTokenExpired, true
	}
	return "", false
}

// History lists a subject's recognition events, newest first. Token hashes are
// stripped; the read is for audit review only.
func (s *Service) History(ctx context.Context, subjectID id.SubjectID, limit int) ([]*models.RecognitionEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	events, err := s.events.ListBySubject(ctx, subjectID, limit)
	if err != nil {
		return nil, storageUnavailable("list recognition events", err)
	}
	for _, ev := range events {
		ev.VerificationTokenHash = ""
	}
	return events, nil
}
