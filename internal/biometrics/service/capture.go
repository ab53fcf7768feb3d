package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"veriface/internal/biometrics/device"
	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/recognition"
	id "veriface/pkg/domain"
	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/privacy"
	"veriface/pkg/platform/sentinel"
	"veriface/pkg/requestcontext"
)

// CaptureRequest is what the client submits after answering a challenge.
// Payload is the sealed capture exactly as received.
type CaptureRequest struct {
	SubjectID   id.SubjectID
	ChallengeID id.ChallengeID
	Nonce       string
	Payload     []byte
}

type (
	EnrollRequest CaptureRequest
	VerifyRequest CaptureRequest
)

// capturePayload is the plaintext the client seals to the advertised key.
type capturePayload struct {
	Frames   []string        `json:"frames"`
	Metadata captureMetadata `json:"metadata"`
}

type captureMetadata struct {
	CapturedAt  string `json:"capturedAt"`
	DeviceModel string `json:"deviceModel"`
	AppVersion  string `json:"appVersion"`
}

// attempt accumulates what one enroll or verify call records about itself.
type attempt struct {
	eventType   models.EventType
	subjectID   id.SubjectID
	challengeID id.ChallengeID
	ip          string
	userAgent   string
	requestID   string
	metadata    map[string]string
	startedAt   time.Time
}

func (s *Service) begin(ctx context.Context, eventType models.EventType, req CaptureRequest) *attempt {
	ua := requestcontext.UserAgent(ctx)
	return &attempt{
		eventType:   eventType,
		subjectID:   req.SubjectID,
		challengeID: req.ChallengeID,
		ip:          requestcontext.ClientIP(ctx),
		userAgent:   ua,
		requestID:   requestcontext.RequestID(ctx),
		metadata:    device.Metadata(ua),
		startedAt:   s.now(ctx),
	}
}

func (a *attempt) operation() string {
	if a.eventType == models.EventEnroll {
		return "enroll"
	}
	return "verify"
}

func (a *attempt) auditAction() audit.AuditEvent {
	if a.eventType == models.EventEnroll {
		return audit.EventEnrollment
	}
	return audit.EventVerification
}

func (a *attempt) event(status models.EventStatus, reason Reason) *models.RecognitionEvent {
	return &models.RecognitionEvent{
		ID:          id.NewEventID(),
		SubjectID:   a.subjectID,
		EventType:   a.eventType,
		Status:      status,
		Reason:      string(reason),
		ChallengeID: a.challengeID,
		IPAddress:   a.ip,
		UserAgent:   a.userAgent,
		Metadata:    a.metadata,
		CreatedAt:   a.startedAt,
	}
}

// consume spends the challenge. Store classification errors become typed
// failures; anything else is a storage fault.
func (s *Service) consume(ctx context.Context, req CaptureRequest, action models.Action) (*models.Challenge, error) {
	challenge, err := s.challenges.Consume(ctx, models.ConsumeParams{
		ID:          req.ChallengeID,
		SubjectID:   req.SubjectID,
		Nonce:       req.Nonce,
		Action:      action,
		Now:         s.now(ctx),
		MaxAttempts: s.cfg.MaxConsumeAttempts,
	})
	if err == nil {
		s.metrics.IncrementChallengeConsume(string(action), "ok")
		return challenge, nil
	}

	reason, ok := consumeReason(err)
	if !ok {
		return nil, storageUnavailable("consume challenge", err)
	}
	s.metrics.IncrementChallengeConsume(string(action), string(reason))
	return nil, newFailure(reason, models.StatusFailure, err)
}

// consumeReason classifies a Consume error. A mismatch that exhausts the
// attempt bound reports AttemptsExceeded.
func consumeReason(err error) (Reason, bool) {
	switch {
	case errors.Is(err, sentinel.ErrLimitExceeded):
		return ReasonAttemptsExceeded, true
	case errors.Is(err, sentinel.ErrNotFound):
		return ReasonChallengeNotFound, true
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return ReasonChallengeAlreadyUsed, true
	case errors.Is(err, sentinel.ErrExpired):
		return ReasonChallengeExpired, true
	}
	switch models.MismatchField(err) {
	case "nonce":
		return ReasonNonceMismatch, true
	case "action":
		return ReasonActionMismatch, true
	}
	return "", false
}

// open decrypts and parses the payload with the key advertised for this
// challenge. Bytes that fail authentication are never interpreted.
func (s *Service) open(a *attempt, challenge *models.Challenge, payload []byte) (*capturePayload, error) {
	plaintext, err := s.cipher.Decrypt(challenge.KeyID, payload)
	if err != nil {
		return nil, newFailure(ReasonDecryptionFailed, models.StatusFailure, err)
	}
	var capture capturePayload
	if err := json.Unmarshal(plaintext, &capture); err != nil {
		return nil, newFailure(ReasonDecryptionFailed, models.StatusFailure, err)
	}

	a.metadata["key_id"] = challenge.KeyID
	if capture.Metadata.DeviceModel != "" {
		a.metadata["device_model"] = capture.Metadata.DeviceModel
	}
	if capture.Metadata.AppVersion != "" {
		a.metadata["app_version"] = capture.Metadata.AppVersion
	}
	if capture.Metadata.CapturedAt != "" {
		a.metadata["captured_at"] = capture.Metadata.CapturedAt
	}

	if n := len(capture.Frames); n < s.cfg.MinFrames || n > s.cfg.MaxFrames {
		return nil, newFailure(ReasonInvalidCapture, models.StatusFailure, errors.New("frame count out of range"))
	}
	return &capture, nil
}

// analyze calls the recognition backend under its own timeout. No lock is
// held and the challenge is already spent, so a slow backend cannot be used
// to retry against a live challenge.
func (s *Service) analyze(ctx context.Context, a *attempt, challenge *models.Challenge, capture *capturePayload) (*recognition.Analysis, error) {
	ctx, span := s.tracer.Start(ctx, "biometrics.recognition.Analyze", trace.WithAttributes(
		attribute.Int("frames", len(capture.Frames)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RecognitionTimeout)
	defer cancel()

	actions := make([]string, len(challenge.LivenessActions))
	for i, la := range challenge.LivenessActions {
		actions[i] = string(la)
	}

	start := time.Now()
	analysis, err := s.recognizer.Analyze(ctx, recognition.AnalyzeRequest{
		Frames:          capture.Frames,
		LivenessActions: actions,
	})
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.metrics.ObserveRecognitionLatency("ok", elapsed)
	case errors.Is(err, recognition.ErrCaptureRejected):
		s.metrics.ObserveRecognitionLatency("rejected", elapsed)
		span.SetStatus(codes.Error, "capture rejected")
		return nil, newFailure(ReasonInvalidCapture, models.StatusFailure, err)
	default:
		s.metrics.ObserveRecognitionLatency("unavailable", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognition unavailable")
		return nil, newFailure(ReasonRecognitionUnavailable, models.StatusFailure, err)
	}

	a.metadata["model"] = analysis.Model.Name + "@" + analysis.Model.Version
	return analysis, nil
}

// finishFailure records a failed attempt and returns what the caller sees.
// Non-Failure errors are storage faults and are returned untouched.
func (s *Service) finishFailure(ctx context.Context, span trace.Span, a *attempt, err error) error {
	f, ok := AsFailure(err)
	if !ok {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage unavailable")
		s.metrics.IncrementOutcome(a.operation(), "ERROR", "storage")
		s.logger.ErrorContext(ctx, "biometric attempt aborted",
			"operation", a.operation(),
			"subject_id", a.subjectID,
			"challenge_id", a.challengeID,
			"error", err,
		)
		return err
	}

	ev := a.event(f.Status, f.Reason)
	ev.Score = f.Score
	ev.Threshold = f.Threshold
	if appendErr := s.events.Append(ctx, ev); appendErr != nil {
		span.RecordError(appendErr)
		span.SetStatus(codes.Error, "event append failed")
		s.logger.ErrorContext(ctx, "failed to record recognition event",
			"operation", a.operation(),
			"subject_id", a.subjectID,
			"challenge_id", a.challengeID,
			"reason", f.Reason,
			"error", appendErr,
		)
		return storageUnavailable("append recognition event", appendErr)
	}
	f.EventID = ev.ID.String()

	span.SetAttributes(
		attribute.String("status", string(f.Status)),
		attribute.String("reason", string(f.Reason)),
	)
	span.SetStatus(codes.Error, string(f.Reason))
	s.observe(ctx, a, ev)

	level := s.logger.WarnContext
	if f.Status == models.StatusSuspicious {
		level = s.logger.ErrorContext
	}
	level(ctx, "biometric attempt rejected",
		"operation", a.operation(),
		"subject_id", a.subjectID,
		"challenge_id", a.challengeID,
		"event_id", ev.ID,
		"status", f.Status,
		"reason", f.Reason,
		"score", scoreValue(f.Score),
		"ip", privacy.AnonymizeIP(a.ip),
		"error", f.cause,
	)
	return f
}

// recordSuccess appends the SUCCESS event prepared by the caller.
func (s *Service) recordSuccess(ctx context.Context, span trace.Span, a *attempt, ev *models.RecognitionEvent) error {
	if err := s.events.Append(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "event append failed")
		s.metrics.IncrementOutcome(a.operation(), "ERROR", "storage")
		s.logger.ErrorContext(ctx, "failed to record recognition event",
			"operation", a.operation(),
			"subject_id", a.subjectID,
			"challenge_id", a.challengeID,
			"error", err,
		)
		return storageUnavailable("append recognition event", err)
	}
	span.SetAttributes(attribute.String("status", string(ev.Status)))
	s.observe(ctx, a, ev)
	s.logger.InfoContext(ctx, "biometric attempt accepted",
		"operation", a.operation(),
		"subject_id", a.subjectID,
		"challenge_id", a.challengeID,
		"event_id", ev.ID,
		"score", scoreValue(ev.Score),
		"ip", privacy.AnonymizeIP(a.ip),
	)
	return nil
}

// observe updates metrics and the audit stream for a recorded event.
func (s *Service) observe(ctx context.Context, a *attempt, ev *models.RecognitionEvent) {
	reason := ev.Reason
	if reason == "" {
		reason = "none"
	}
	s.metrics.IncrementOutcome(a.operation(), string(ev.Status), reason)
	s.emitAudit(ctx, audit.Event{
		Action:      string(a.auditAction()),
		SubjectID:   a.subjectID.String(),
		Status:      string(ev.Status),
		Reason:      ev.Reason,
		EventID:     ev.ID.String(),
		ChallengeID: a.challengeID.String(),
		Score:       ev.Score,
		Threshold:   ev.Threshold,
		IP:          privacy.AnonymizeIP(a.ip),
		Device:      a.metadata["device"],
		RequestID:   a.requestID,
	})
}

func scoreValue(score *float64) any {
	if score == nil {
		return nil
	}
	return *score
}

func float64Ptr(v float64) *float64 {
	return &v
}
