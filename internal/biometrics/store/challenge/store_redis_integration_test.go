//go:build integration

package challenge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/store/challenge"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
	"veriface/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *challenge.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = challenge.NewRedis(s.redis.Client.Client, challenge.WithRetention(time.Minute))
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) create(subject id.SubjectID, now time.Time) *models.Challenge {
	c, err := models.NewChallenge(id.NewChallengeID(), subject, "nonce-"+string(subject), models.ActionEnroll,
		[]models.LivenessAction{models.LivenessSmile}, "key-1", now, 90*time.Second)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), c))
	return c
}

func (s *RedisStoreSuite) params(c *models.Challenge, nonce string, now time.Time) models.ConsumeParams {
	return models.ConsumeParams{
		ID: c.ID, SubjectID: c.SubjectID, Nonce: nonce, Action: models.ActionEnroll, Now: now, MaxAttempts: 3,
	}
}

func (s *RedisStoreSuite) TestConsume() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Run("success then replay", func() {
		c := s.create("emp-1", now)
		_, err := s.store.Consume(ctx, s.params(c, "nonce-emp-1", now))
		s.Require().NoError(err)
		_, err = s.store.Consume(ctx, s.params(c, "nonce-emp-1", now))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("expired", func() {
		c := s.create("emp-2", now)
		_, err := s.store.Consume(ctx, s.params(c, "nonce-emp-2", now.Add(91*time.Second)))
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("attempts persist between calls", func() {
		c := s.create("emp-3", now)
		_, _ = s.store.Consume(ctx, s.params(c, "wrong", now))
		_, _ = s.store.Consume(ctx, s.params(c, "wrong", now))
		_, err := s.store.Consume(ctx, s.params(c, "wrong", now))
		s.ErrorIs(err, sentinel.ErrLimitExceeded)

		stored, err := s.store.FindByID(ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(3, stored.Attempts)
	})

	s.Run("unknown id", func() {
		_, err := s.store.Consume(ctx, models.ConsumeParams{
			ID: id.NewChallengeID(), SubjectID: "emp-1", Nonce: "x", Action: models.ActionEnroll, Now: now,
		})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *RedisStoreSuite) TestConcurrentConsume() {
	ctx := context.Background()
	now := time.Now().UTC()
	c := s.create("emp-race", now)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		other     atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Consume(ctx, s.params(c, "nonce-emp-race", now))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed), errors.Is(err, sentinel.ErrConflict):
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(19), other.Load())
}

func (s *RedisStoreSuite) TestKeysCarryTTL() {
	ctx := context.Background()
	c := s.create("emp-ttl", time.Now().UTC())

	ttl, err := s.redis.Client.TTL(ctx, "biometrics:challenge:"+c.ID.String()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 90*time.Second)
	s.LessOrEqual(ttl, 90*time.Second+time.Minute)
}
