package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

var consumeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "veriface_redis_challenge_consume_duration_ms",
	Help:    "Latency of Redis challenge consume transactions in milliseconds",
	Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
})

const (
	challengeKeyPrefix = "biometrics:challenge:"

	// Optimistic transactions are retried when another client touched the key
	// between WATCH and EXEC. The retry re-reads, so it observes the winner.
	maxWatchRetries = 5
)

// RedisStore keeps challenges in Redis for multi-instance deployments.
// Expiry sweeping is delegated to Redis key TTLs.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRetention keeps consumed challenges for audit correlation.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.retention = d
	}
}

// NewRedis constructs a Redis-backed challenge ledger.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, retention: 10 * time.Minute}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type redisChallenge struct {
	ID              string     `json:"id"`
	SubjectID       string     `json:"subject_id"`
	NonceHash       string     `json:"nonce_hash"`
	Action          string     `json:"action"`
	LivenessActions []string   `json:"liveness_actions"`
	KeyID           string     `json:"key_id"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	Attempts        int        `json:"attempts"`
	IPAddress       string     `json:"ip_address,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
}

func challengeKey(challengeID id.ChallengeID) string {
	return challengeKeyPrefix + challengeID.String()
}

func (s *RedisStore) Create(ctx context.Context, c *models.Challenge) error {
	payload, err := encodeChallenge(c)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, challengeKey(c.ID), payload, s.ttlFor(c, c.CreatedAt)).Result()
	if err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	if !ok {
		return fmt.Errorf("challenge %s: %w", c.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, error) {
	raw, err := s.client.Get(ctx, challengeKey(challengeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find challenge: %w", err)
	}
	return decodeChallenge(raw)
}

// Consume runs the domain transition inside WATCH/MULTI/EXEC. If another
// client writes the key first, EXEC aborts and the transition is replayed on
// the fresh state, so at most one caller ever observes success.
func (s *RedisStore) Consume(ctx context.Context, p models.ConsumeParams) (*models.Challenge, error) {
	start := time.Now()
	defer func() {
		consumeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	key := challengeKey(p.ID)
	var (
		result     *models.Challenge
		consumeErr error
	)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
		}
		if err != nil {
			return err
		}
		c, err := decodeChallenge(raw)
		if err != nil {
			return err
		}
		if c.SubjectID != p.SubjectID {
			return fmt.Errorf("challenge not found: %w", sentinel.ErrNotFound)
		}

		consumeErr = c.Consume(p)
		payload, err := encodeChallenge(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttlFor(c, p.Now))
			return nil
		})
		result = c
		return err
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("consume challenge: %w", err)
		}
		return result, consumeErr
	}
	return nil, fmt.Errorf("consume challenge: too much contention: %w", sentinel.ErrConflict)
}

// DeleteExpired is a no-op: every key carries a TTL covering expiry plus
// the audit retention window.
func (s *RedisStore) DeleteExpired(_ context.Context, _ time.Time, _ time.Duration) (int, error) {
	return 0, nil
}

func (s *RedisStore) ttlFor(c *models.Challenge, now time.Time) time.Duration {
	if c.UsedAt != nil {
		return s.retention
	}
	ttl := c.ExpiresAt.Sub(now) + s.retention
	if ttl <= 0 {
		return time.Second
	}
	return ttl
}

func encodeChallenge(c *models.Challenge) ([]byte, error) {
	liveness := make([]string, len(c.LivenessActions))
	for i, a := range c.LivenessActions {
		liveness[i] = string(a)
	}
	payload, err := json.Marshal(redisChallenge{
		ID:              c.ID.String(),
		SubjectID:       string(c.SubjectID),
		NonceHash:       c.NonceHash,
		Action:          string(c.Action),
		LivenessActions: liveness,
		KeyID:           c.KeyID,
		CreatedAt:       c.CreatedAt,
		ExpiresAt:       c.ExpiresAt,
		UsedAt:          c.UsedAt,
		Attempts:        c.Attempts,
		IPAddress:       c.IPAddress,
		UserAgent:       c.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("encode challenge: %w", err)
	}
	return payload, nil
}

func decodeChallenge(raw []byte) (*models.Challenge, error) {
	var rc redisChallenge
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	challengeID, err := id.ParseChallengeID(rc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode challenge id: %w", err)
	}
	liveness := make([]models.LivenessAction, len(rc.LivenessActions))
	for i, a := range rc.LivenessActions {
		liveness[i] = models.LivenessAction(a)
	}
	return &models.Challenge{
		ID:              challengeID,
		SubjectID:       id.SubjectID(rc.SubjectID),
		NonceHash:       rc.NonceHash,
		Action:          models.Action(rc.Action),
		LivenessActions: liveness,
		KeyID:           rc.KeyID,
		CreatedAt:       rc.CreatedAt,
		ExpiresAt:       rc.ExpiresAt,
		UsedAt:          rc.UsedAt,
		Attempts:        rc.Attempts,
		IPAddress:       rc.IPAddress,
		UserAgent:       rc.UserAgent,
	}, nil
}
