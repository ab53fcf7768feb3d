package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ChallengeStore,TemplateStore,EventStore,AuditPublisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"veriface/internal/biometrics/metrics"
	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/recognition"
	challengestore "veriface/internal/biometrics/store/challenge"
	eventstore "veriface/internal/biometrics/store/event"
	templatestore "veriface/internal/biometrics/store/template"
	"veriface/internal/platform/payloadcipher"
	"veriface/internal/platform/sealer"
	id "veriface/pkg/domain"
	dErrors "veriface/pkg/domain-errors"
	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/publisher"
	auditmemory "veriface/pkg/platform/audit/store/memory"
	"veriface/pkg/requestcontext"
)

// =============================================================================
// Orchestrator Test Suite
// =============================================================================
// Runs the real in-memory stores, keyring and sealer against a scripted
// recognition backend so replay, threshold and token rules are exercised end
// to end without a network.

const subjectA id.SubjectID = "emp-6650f1c2a9"

type ServiceSuite struct {
	suite.Suite
	challenges *challengestore.InMemoryStore
	templates  *templatestore.InMemoryStore
	events     *eventstore.InMemoryStore
	keyring    *payloadcipher.Keyring
	backend    *recognition.Fake
	auditLog   *auditmemory.InMemoryStore
	service    *Service
	now        time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	s.challenges = challengestore.NewInMemory()
	s.templates = templatestore.NewInMemory()
	s.events = eventstore.NewInMemory()
	s.backend = recognition.NewFake()
	s.auditLog = auditmemory.NewInMemoryStore()

	keyring, err := payloadcipher.New("biometrics")
	s.Require().NoError(err)
	s.keyring = keyring

	s.service = s.newService(DefaultConfig())
}

func (s *ServiceSuite) newService(cfg Config) *Service {
	seal, err := sealer.Ephemeral()
	s.Require().NoError(err)
	svc, err := New(s.challenges, s.templates, s.events, s.keyring, s.backend,
		WithConfig(cfg),
		WithSealer(seal),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.NewWithRegistry(prometheus.NewRegistry())),
		WithAuditPublisher(publisher.NewPublisher(s.auditLog)),
	)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) ctxAt(t time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), t)
	return requestcontext.WithClientMetadata(ctx, "203.0.113.77",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1")
}

func (s *ServiceSuite) issue(subject id.SubjectID, action models.Action, at time.Time) *IssueChallengeResult {
	res, err := s.service.IssueChallenge(s.ctxAt(at), IssueChallengeRequest{SubjectID: subject, Action: action})
	s.Require().NoError(err)
	return res
}

// sealFrames builds the client payload for an issued challenge.
func (s *ServiceSuite) sealFrames(ch *IssueChallengeResult, frames int) []byte {
	rawKey, err := base64.StdEncoding.DecodeString(ch.PublicKey)
	s.Require().NoError(err)
	var key [32]byte
	copy(key[:], rawKey)

	body, err := json.Marshal(capturePayload{
		Frames: strings.Split(strings.Repeat("ZnJhbWU=,", frames), ",")[:frames],
		Metadata: captureMetadata{
			CapturedAt:  s.now.Format(time.RFC3339),
			DeviceModel: "iPhone15,2",
			AppVersion:  "3.4.1",
		},
	})
	s.Require().NoError(err)
	sealed, err := payloadcipher.Encrypt(key, body)
	s.Require().NoError(err)
	return sealed
}

func (s *ServiceSuite) capture(subject id.SubjectID, ch *IssueChallengeResult) CaptureRequest {
	return CaptureRequest{
		SubjectID:   subject,
		ChallengeID: ch.ChallengeID,
		Nonce:       ch.Nonce,
		Payload:     s.sealFrames(ch, 5),
	}
}

func (s *ServiceSuite) enroll(subject id.SubjectID, at time.Time) *EnrollResult {
	ch := s.issue(subject, models.ActionEnroll, at)
	res, err := s.service.Enroll(s.ctxAt(at), EnrollRequest(s.capture(subject, ch)))
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) verify(subject id.SubjectID, at time.Time) (*VerifyResult, error) {
	ch := s.issue(subject, models.ActionVerify, at)
	return s.service.Verify(s.ctxAt(at), VerifyRequest(s.capture(subject, ch)))
}

func (s *ServiceSuite) requireReason(err error, want Reason) *Failure {
	s.Require().Error(err)
	f, ok := AsFailure(err)
	s.Require().True(ok, "expected a Failure, got %v", err)
	s.Require().Equal(want, f.Reason)
	return f
}

func (s *ServiceSuite) lastEvent(subject id.SubjectID) *models.RecognitionEvent {
	events, err := s.events.ListBySubject(context.Background(), subject, 1)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	return events[0]
}

// embeddingAt returns a unit vector whose cosine with {1,0,0,0} is score.
func embeddingAt(score float64) []float64 {
	return []float64{score, math.Sqrt(1 - score*score), 0, 0}
}

// =============================================================================
// Constructor
// =============================================================================

func (s *ServiceSuite) TestNew() {
	seal, err := sealer.Ephemeral()
	s.Require().NoError(err)

	s.Run("nil collaborators are rejected", func() {
		_, err := New(nil, s.templates, s.events, s.keyring, s.backend, WithSealer(seal))
		s.ErrorContains(err, "challenge store is required")

		_, err = New(s.challenges, s.templates, s.events, s.keyring, nil, WithSealer(seal))
		s.ErrorContains(err, "recognition backend is required")
	})

	s.Run("sealer is required", func() {
		_, err := New(s.challenges, s.templates, s.events, s.keyring, s.backend)
		s.ErrorContains(err, "template sealer is required")
	})
}

// =============================================================================
// Challenge issuance
// =============================================================================

func (s *ServiceSuite) TestIssueChallenge() {
	res := s.issue(subjectA, models.ActionVerify, s.now)

	s.False(res.ChallengeID.IsNil())
	s.Len(res.Nonce, 43)
	s.Equal(s.now.Add(90*time.Second), res.ExpiresAt)
	s.Equal(s.keyring.PublicKey().KeyID, res.KeyID)
	s.Equal(s.keyring.PublicKey().Encoded(), res.PublicKey)

	s.Require().Len(res.LivenessActions, 2)
	s.NotEqual(res.LivenessActions[0], res.LivenessActions[1])
	for _, a := range res.LivenessActions {
		s.Contains(models.LivenessPool, a)
	}

	stored, err := s.challenges.FindByID(context.Background(), res.ChallengeID)
	s.Require().NoError(err)
	s.NotEqual(res.Nonce, stored.NonceHash, "raw nonce must not be persisted")
	s.Equal(models.HashSecret(res.Nonce), stored.NonceHash)
	s.Equal("203.0.113.77", stored.IPAddress)
	s.Equal(res.KeyID, stored.KeyID)

	events, err := s.auditLog.ListBySubject(context.Background(), subjectA.String())
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventChallengeIssued), events[0].Action)
	s.Equal("203.0.113.0/24", events[0].IP)
}

func (s *ServiceSuite) TestIssueChallengeNoncesAreUnique() {
	seen := make(map[string]struct{})
	for range 20 {
		res := s.issue(subjectA, models.ActionEnroll, s.now)
		_, dup := seen[res.Nonce]
		s.False(dup)
		seen[res.Nonce] = struct{}{}
	}
}

// =============================================================================
// Enrollment and verification
// =============================================================================

func (s *ServiceSuite) TestEnrollThenVerify() {
	enrolled := s.enroll(subjectA, s.now)
	s.Equal(1, enrolled.EmbeddingCount)
	s.Equal(recognition.DefaultFakeModel.Name, enrolled.ModelName)

	tmpl, err := s.templates.FindBySubject(context.Background(), subjectA)
	s.Require().NoError(err)
	s.True(tmpl.IsEnrolled())

	res, err := s.verify(subjectA, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.GreaterOrEqual(res.Score, DefaultConfig().Threshold)
	s.True(strings.HasPrefix(res.Token, proofTokenPrefix))
	s.Len(res.Token, proofTokenLength)
	s.Equal(s.now.Add(time.Minute+2*time.Minute), res.ExpiresAt)

	ev := s.lastEvent(subjectA)
	s.Equal(models.StatusSuccess, ev.Status)
	s.Equal(models.EventVerify, ev.EventType)
	s.Equal(models.HashSecret(res.Token), ev.VerificationTokenHash)
	s.NotEqual(res.Token, ev.VerificationTokenHash)
	s.Equal("iPhone15,2", ev.Metadata["device_model"])
	s.Equal("mobile", ev.Metadata["device_class"])

	tmpl, err = s.templates.FindBySubject(context.Background(), subjectA)
	s.Require().NoError(err)
	s.Require().NotNil(tmpl.LastConfidence)
	s.InDelta(res.Score, *tmpl.LastConfidence, 1e-9)
}

func (s *ServiceSuite) TestVerifyAcceptsAt092AndRedeemsOnce() {
	s.enroll(subjectA, s.now)
	s.backend.Push(recognition.FakeResult{Embedding: embeddingAt(0.92), LivenessPassed: true})

	res, err := s.verify(subjectA, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.InDelta(0.92, res.Score, 1e-9)

	redeemAt := s.ctxAt(s.now.Add(90 * time.Second))
	subject, err := s.service.Redeem(redeemAt, res.Token)
	s.Require().NoError(err)
	s.Equal(subjectA, subject)

	_, err = s.service.Redeem(redeemAt, res.Token)
	s.requireReason(err, ReasonTokenAlreadyUsed)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestVerifyNotEnrolled() {
	_, err := s.verify(subjectA, s.now)
	f := s.requireReason(err, ReasonNotEnrolled)
	s.Equal(models.StatusFailure, f.Status)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Empty(s.backend.Calls(), "backend must not be called without a template")
	s.Equal(models.StatusFailure, s.lastEvent(subjectA).Status)
}

func (s *ServiceSuite) TestEnrollPrunesOldestEmbeddings() {
	var last *EnrollResult
	for i := range 7 {
		last = s.enroll(subjectA, s.now.Add(time.Duration(i)*time.Minute))
	}
	s.Equal(7, last.EmbeddingCount)
	s.Equal(5, last.RetainedCount)

	tmpl, err := s.templates.FindBySubject(context.Background(), subjectA)
	s.Require().NoError(err)
	s.Len(tmpl.Embeddings, 5)
}

func (s *ServiceSuite) TestEnrollRejectsFailedLiveness() {
	s.backend.Push(recognition.FakeResult{Embedding: []float64{1, 0, 0, 0}, LivenessPassed: false})
	ch := s.issue(subjectA, models.ActionEnroll, s.now)

	_, err := s.service.Enroll(s.ctxAt(s.now), EnrollRequest(s.capture(subjectA, ch)))
	s.requireReason(err, ReasonLivenessFailed)
	s.Equal("enrollment failed", err.Error())

	_, err = s.templates.FindBySubject(context.Background(), subjectA)
	s.Error(err, "failed enrollment must not create a template")
}

func (s *ServiceSuite) TestModelMismatch() {
	s.enroll(subjectA, s.now)
	other := models.ModelInfo{Name: "buffalo_l", Version: "2"}

	s.Run("verify never compares across models", func() {
		s.backend.Push(recognition.FakeResult{Embedding: []float64{1, 0, 0, 0}, Model: other, LivenessPassed: true})
		_, err := s.verify(subjectA, s.now.Add(time.Minute))
		s.requireReason(err, ReasonModelMismatch)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("enroll rejects a different model", func() {
		s.backend.Push(recognition.FakeResult{Embedding: []float64{1, 0, 0, 0}, Model: other, LivenessPassed: true})
		ch := s.issue(subjectA, models.ActionEnroll, s.now.Add(2*time.Minute))
		_, err := s.service.Enroll(s.ctxAt(s.now.Add(2*time.Minute)), EnrollRequest(s.capture(subjectA, ch)))
		s.requireReason(err, ReasonModelMismatch)
	})

}

func (s *ServiceSuite) TestModelMigration() {
	cfg := DefaultConfig()
	cfg.AllowModelMigration = true
	s.service = s.newService(cfg)
	s.enroll(subjectA, s.now)

	other := models.ModelInfo{Name: "buffalo_l", Version: "2"}
	s.backend.Push(recognition.FakeResult{Embedding: []float64{0, 1, 0, 0}, Model: other, LivenessPassed: true})
	at := s.now.Add(time.Minute)
	ch := s.issue(subjectA, models.ActionEnroll, at)
	res, err := s.service.Enroll(s.ctxAt(at), EnrollRequest(s.capture(subjectA, ch)))
	s.Require().NoError(err)
	s.Equal("2", res.ModelVersion)
	s.Equal(1, res.RetainedCount)
	s.Equal(2, res.EmbeddingCount)
}

// =============================================================================
// Decision classification
// =============================================================================

func (s *ServiceSuite) TestVerifyClassification() {
	tests := []struct {
		name       string
		result     recognition.FakeResult
		wantReason Reason
		wantStatus models.EventStatus
	}{
		{
			name:       "just below threshold is a plain failure",
			result:     recognition.FakeResult{Embedding: embeddingAt(0.70), LivenessPassed: true},
			wantReason: ReasonBelowThreshold,
			wantStatus: models.StatusFailure,
		},
		{
			name:       "far below threshold is suspicious",
			result:     recognition.FakeResult{Embedding: embeddingAt(0.30), LivenessPassed: true},
			wantReason: ReasonBelowThreshold,
			wantStatus: models.StatusSuspicious,
		},
		{
			name:       "failed liveness with a passing score is suspicious",
			result:     recognition.FakeResult{Embedding: embeddingAt(0.95), LivenessPassed: false},
			wantReason: ReasonLivenessFailed,
			wantStatus: models.StatusSuspicious,
		},
		{
			name:       "failed liveness with a failing score is a failure",
			result:     recognition.FakeResult{Embedding: embeddingAt(0.70), LivenessPassed: false},
			wantReason: ReasonLivenessFailed,
			wantStatus: models.StatusFailure,
		},
		{
			name:       "failed liveness with a far below score is suspicious",
			result:     recognition.FakeResult{Embedding: embeddingAt(0.10), LivenessPassed: false},
			wantReason: ReasonLivenessFailed,
			wantStatus: models.StatusSuspicious,
		},
		{
			name:       "spoof flag with a passing score is suspicious",
			result:     recognition.FakeResult{Embedding: embeddingAt(0.95), LivenessPassed: true, Suspicious: true},
			wantReason: ReasonLivenessFailed,
			wantStatus: models.StatusSuspicious,
		},
	}

	for i, tt := range tests {
		s.Run(tt.name, func() {
			subject := id.SubjectID("emp-classify-" + string(rune('a'+i)))
			s.enroll(subject, s.now)
			s.backend.Push(tt.result)

			_, err := s.verify(subject, s.now.Add(time.Minute))
			f := s.requireReason(err, tt.wantReason)
			s.Equal(tt.wantStatus, f.Status)
			s.Equal("verification failed", err.Error())
			s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

			ev := s.lastEvent(subject)
			s.Equal(tt.wantStatus, ev.Status)
			s.Equal(string(tt.wantReason), ev.Reason)
			s.Require().NotNil(ev.Score)
			s.Require().NotNil(ev.Threshold)
			s.Equal(0.80, *ev.Threshold)
			s.False(ev.HasToken())
		})
	}
}

// =============================================================================
// Replay and expiry
// =============================================================================

func (s *ServiceSuite) TestEnrollChallengeReplay() {
	ch := s.issue(subjectA, models.ActionEnroll, s.now)
	req := EnrollRequest(s.capture(subjectA, ch))

	_, err := s.service.Enroll(s.ctxAt(s.now), req)
	s.Require().NoError(err)

	_, err = s.service.Enroll(s.ctxAt(s.now.Add(time.Second)), req)
	s.requireReason(err, ReasonChallengeAlreadyUsed)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.Contains(err.Error(), "request a new one")
	s.Len(s.backend.Calls(), 1)
}

func (s *ServiceSuite) TestVerifyAfterTTLIsExpired() {
	s.enroll(subjectA, s.now)
	ch := s.issue(subjectA, models.ActionVerify, s.now)

	late := s.now.Add(DefaultConfig().ChallengeTTL + time.Second)
	_, err := s.service.Verify(s.ctxAt(late), VerifyRequest(s.capture(subjectA, ch)))
	s.requireReason(err, ReasonChallengeExpired)
	s.Contains(err.Error(), "challenge expired, request a new one")
}

func (s *ServiceSuite) TestActionMismatch() {
	ch := s.issue(subjectA, models.ActionVerify, s.now)
	_, err := s.service.Enroll(s.ctxAt(s.now), EnrollRequest(s.capture(subjectA, ch)))
	s.requireReason(err, ReasonActionMismatch)
}

func (s *ServiceSuite) TestUnknownChallengeOrOtherSubject() {
	ch := s.issue(subjectA, models.ActionVerify, s.now)
	req := s.capture("emp-other", ch)

	_, err := s.service.Verify(s.ctxAt(s.now), VerifyRequest(req))
	s.requireReason(err, ReasonChallengeNotFound)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestNonceGuessingExhaustsAttempts() {
	ch := s.issue(subjectA, models.ActionVerify, s.now)
	req := s.capture(subjectA, ch)

	for i, want := range []Reason{ReasonNonceMismatch, ReasonNonceMismatch, ReasonAttemptsExceeded} {
		guess := req
		guess.Nonce = "guess-" + string(rune('0'+i))
		_, err := s.service.Verify(s.ctxAt(s.now), VerifyRequest(guess))
		s.requireReason(err, want)
	}

	_, err := s.service.Verify(s.ctxAt(s.now), VerifyRequest(req))
	s.requireReason(err, ReasonAttemptsExceeded)
}

func (s *ServiceSuite) TestConcurrentVerifySpendsChallengeOnce() {
	s.enroll(subjectA, s.now)
	ch := s.issue(subjectA, models.ActionVerify, s.now)
	req := VerifyRequest(s.capture(subjectA, ch))

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Verify(s.ctxAt(s.now), req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if r, _ := ReasonOf(err); r == ReasonChallengeAlreadyUsed {
				replays++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(workers-1, replays)
}

// =============================================================================
// Payload and backend failures
// =============================================================================

func (s *ServiceSuite) TestTamperedPayloadIsDecryptionFailed() {
	s.enroll(subjectA, s.now)
	calls := len(s.backend.Calls())

	ch := s.issue(subjectA, models.ActionVerify, s.now)
	req := s.capture(subjectA, ch)
	req.Payload[len(req.Payload)/2] ^= 0x01

	_, err := s.service.Verify(s.ctxAt(s.now), VerifyRequest(req))
	s.requireReason(err, ReasonDecryptionFailed)
	s.Len(s.backend.Calls(), calls, "undecryptable bytes never reach the backend")

	_, err = s.service.Verify(s.ctxAt(s.now), VerifyRequest(s.capture(subjectA, ch)))
	s.requireReason(err, ReasonChallengeAlreadyUsed)
}

func (s *ServiceSuite) TestFrameCountOutOfRange() {
	ch := s.issue(subjectA, models.ActionEnroll, s.now)
	req := s.capture(subjectA, ch)
	req.Payload = s.sealFrames(ch, 2)

	_, err := s.service.Enroll(s.ctxAt(s.now), EnrollRequest(req))
	s.requireReason(err, ReasonInvalidCapture)
}

func (s *ServiceSuite) TestRecognitionUnavailable() {
	s.Run("backend error", func() {
		s.backend.Push(recognition.FakeResult{Err: recognition.ErrUnavailable})
		ch := s.issue(subjectA, models.ActionEnroll, s.now)
		req := EnrollRequest(s.capture(subjectA, ch))

		_, err := s.service.Enroll(s.ctxAt(s.now), req)
		s.requireReason(err, ReasonRecognitionUnavailable)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

		_, err = s.service.Enroll(s.ctxAt(s.now), req)
		s.requireReason(err, ReasonChallengeAlreadyUsed)
	})

	s.Run("backend timeout", func() {
		cfg := DefaultConfig()
		cfg.RecognitionTimeout = 10 * time.Millisecond
		s.service = s.newService(cfg)
		s.backend.SetLatency(time.Second)
		defer s.backend.SetLatency(0)

		ch := s.issue(subjectA, models.ActionEnroll, s.now)
		_, err := s.service.Enroll(s.ctxAt(s.now), EnrollRequest(s.capture(subjectA, ch)))
		s.requireReason(err, ReasonRecognitionUnavailable)
	})
}

// =============================================================================
// Tokens and history
// =============================================================================

func (s *ServiceSuite) TestRedeemFailures() {
	s.enroll(subjectA, s.now)
	res, err := s.verify(subjectA, s.now)
	s.Require().NoError(err)

	_, err = s.service.Redeem(s.ctxAt(s.now.Add(3*time.Minute)), res.Token)
	s.requireReason(err, ReasonTokenExpired)

	_, err = s.service.Redeem(s.ctxAt(s.now), proofTokenPrefix+strings.Repeat("A", 43))
	s.requireReason(err, ReasonTokenNotFound)
}

func (s *ServiceSuite) TestHistoryHidesTokenHashes() {
	s.enroll(subjectA, s.now)
	_, err := s.verify(subjectA, s.now.Add(time.Minute))
	s.Require().NoError(err)

	events, err := s.service.History(context.Background(), subjectA, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(models.EventVerify, events[0].EventType)
	for _, ev := range events {
		s.Empty(ev.VerificationTokenHash)
	}
}

func (s *ServiceSuite) TestAuditStreamOmitsSecrets() {
	s.enroll(subjectA, s.now)
	res, err := s.verify(subjectA, s.now.Add(time.Minute))
	s.Require().NoError(err)
	_, err = s.service.Redeem(s.ctxAt(s.now.Add(time.Minute)), res.Token)
	s.Require().NoError(err)

	events, err := s.auditLog.ListBySubject(context.Background(), subjectA.String())
	s.Require().NoError(err)

	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.Action)
		raw, err := json.Marshal(ev)
		s.Require().NoError(err)
		s.NotContains(string(raw), res.Token)
		s.NotContains(string(raw), models.HashSecret(res.Token))
	}
	s.Contains(actions, string(audit.EventEnrollment))
	s.Contains(actions, string(audit.EventVerification))
	s.Contains(actions, string(audit.EventTokenRedeemed))
}
