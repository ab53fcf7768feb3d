// Package service implements the biometric verification orchestrator:
// challenge issuance, enrollment, verification and proof-token redemption.
//
// The orchestrator trusts that the caller was already authorized for the
// subject it names. Every enroll and verify outcome is recorded as a
// RecognitionEvent; only store unavailability escapes as a generic internal
// error.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"veriface/internal/biometrics/metrics"
	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/recognition"
	"veriface/internal/platform/payloadcipher"
	id "veriface/pkg/domain"
	audit "veriface/pkg/platform/audit"
	"veriface/pkg/requestcontext"
)

// ChallengeStore is the challenge ledger. Consume must be one atomic
// check-and-set in every implementation.
type ChallengeStore interface {
	Create(ctx context.Context, c *models.Challenge) error
	Consume(ctx context.Context, p models.ConsumeParams) (*models.Challenge, error)
}

// TemplateStore persists face templates with optimistic versioning.
type TemplateStore interface {
	FindBySubject(ctx context.Context, subjectID id.SubjectID) (*models.FaceTemplate, error)
	Save(ctx context.Context, t *models.FaceTemplate, expectedVersion int64) error
}

// EventStore is the append-only recognition event log.
type EventStore interface {
	Append(ctx context.Context, e *models.RecognitionEvent) error
	RedeemToken(ctx context.Context, tokenHash string, now time.Time) (*models.RecognitionEvent, error)
	ListBySubject(ctx context.Context, subjectID id.SubjectID, limit int) ([]*models.RecognitionEvent, error)
}

// PayloadCipher opens capture payloads sealed to an advertised key.
type PayloadCipher interface {
	PublicKey() payloadcipher.PublicKey
	Decrypt(keyID string, ciphertext []byte) ([]byte, error)
}

// Sealer encrypts embeddings at rest, bound to an owner.
type Sealer interface {
	Seal(owner string, plaintext []byte) ([]byte, error)
	Open(owner string, sealed []byte) ([]byte, error)
}

// AuditPublisher fans recognition outcomes out to the audit stream.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Transactor scopes template read-modify-write cycles. The Postgres
// implementation locks the template row for the duration of fn.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds the decision and lifecycle constants.
type Config struct {
	ChallengeTTL          time.Duration
	MaxConsumeAttempts    int
	EnrollLivenessActions int
	VerifyLivenessActions int
	Threshold             float64
	SuspiciousMargin      float64
	MaxTemplateEmbeddings int
	MinFrames             int
	MaxFrames             int
	ProofTokenTTL         time.Duration
	AllowModelMigration   bool
	RecognitionTimeout    time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ChallengeTTL:          90 * time.Second,
		MaxConsumeAttempts:    3,
		EnrollLivenessActions: 2,
		VerifyLivenessActions: 2,
		Threshold:             0.80,
		SuspiciousMargin:      0.25,
		MaxTemplateEmbeddings: 5,
		MinFrames:             4,
		MaxFrames:             8,
		ProofTokenTTL:         2 * time.Minute,
		RecognitionTimeout:    10 * time.Second,
	}
}

// Service orchestrates the biometric flows.
type Service struct {
	challenges ChallengeStore
	templates  TemplateStore
	events     EventStore
	cipher     PayloadCipher
	recognizer recognition.Backend
	sealer     Sealer
	tx         Transactor
	auditor    AuditPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      func() time.Time
	locks      *subjectLocks
	cfg        Config
}

// Option configures the Service.
type Option func(*Service)

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

// WithSealer sets the at-rest sealer for template embeddings. Required.
func WithSealer(sealer Sealer) Option {
	return func(s *Service) { s.sealer = sealer }
}

func WithTransactor(tx Transactor) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock sets the time source used when the request context carries no
// request time.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New wires the orchestrator. A sealer must be supplied via WithSealer.
func New(
	challenges ChallengeStore,
	templates TemplateStore,
	events EventStore,
	cipher PayloadCipher,
	recognizer recognition.Backend,
	opts ...Option,
) (*Service, error) {
	if challenges == nil {
		return nil, errors.New("challenge store is required")
	}
	if templates == nil {
		return nil, errors.New("template store is required")
	}
	if events == nil {
		return nil, errors.New("event store is required")
	}
	if cipher == nil {
		return nil, errors.New("payload cipher is required")
	}
	if recognizer == nil {
		return nil, errors.New("recognition backend is required")
	}

	s := &Service{
		challenges: challenges,
		templates:  templates,
		events:     events,
		cipher:     cipher,
		recognizer: recognizer,
		tx:         noopTx{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("veriface/biometrics"),
		clock:      time.Now,
		locks:      newSubjectLocks(),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sealer == nil {
		return nil, errors.New("template sealer is required")
	}
	return s, nil
}

func (s *Service) now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestcontext.ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return s.clock()
}

type noopTx struct{}

func (noopTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
