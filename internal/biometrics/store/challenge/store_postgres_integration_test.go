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

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *challenge.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = challenge.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "biometric_challenges"))
}

func (s *PostgresStoreSuite) create(subject id.SubjectID, now time.Time) *models.Challenge {
	c, err := models.NewChallenge(id.NewChallengeID(), subject, "nonce-"+string(subject), models.ActionVerify,
		[]models.LivenessAction{models.LivenessTurnLeft, models.LivenessBlink}, "key-1", now, 90*time.Second)
	s.Require().NoError(err)
	c.IPAddress = "203.0.113.9"
	s.Require().NoError(s.store.Create(context.Background(), c))
	return c
}

func (s *PostgresStoreSuite) params(c *models.Challenge, nonce string, now time.Time) models.ConsumeParams {
	return models.ConsumeParams{
		ID: c.ID, SubjectID: c.SubjectID, Nonce: nonce, Action: models.ActionVerify, Now: now, MaxAttempts: 3,
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := s.create("emp-1", now)

	found, err := s.store.FindByID(context.Background(), c.ID)
	s.Require().NoError(err)
	s.Equal(c.SubjectID, found.SubjectID)
	s.Equal(c.LivenessActions, found.LivenessActions)
	s.True(c.ExpiresAt.Equal(found.ExpiresAt))
	s.Equal("203.0.113.9", found.IPAddress)
	s.Nil(found.UsedAt)

	s.ErrorIs(s.store.Create(context.Background(), c), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestConsumeClassification() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.Run("success then replay", func() {
		c := s.create("emp-2", now)
		consumed, err := s.store.Consume(ctx, s.params(c, "nonce-emp-2", now))
		s.Require().NoError(err)
		s.NotNil(consumed.UsedAt)

		_, err = s.store.Consume(ctx, s.params(c, "nonce-emp-2", now))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("expired", func() {
		c := s.create("emp-3", now)
		_, err := s.store.Consume(ctx, s.params(c, "nonce-emp-3", now.Add(2*time.Minute)))
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("mismatches count towards the bound", func() {
		c := s.create("emp-4", now)
		for range 2 {
			_, err := s.store.Consume(ctx, s.params(c, "wrong", now))
			s.ErrorIs(err, sentinel.ErrMismatch)
		}
		_, err := s.store.Consume(ctx, s.params(c, "wrong", now))
		s.ErrorIs(err, sentinel.ErrLimitExceeded)

		stored, err := s.store.FindByID(ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(3, stored.Attempts)

		_, err = s.store.Consume(ctx, s.params(c, "nonce-emp-4", now))
		s.ErrorIs(err, sentinel.ErrLimitExceeded)
	})

	s.Run("wrong subject is not found", func() {
		c := s.create("emp-5", now)
		p := s.params(c, "nonce-emp-5", now)
		p.SubjectID = "emp-6"
		_, err := s.store.Consume(ctx, p)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestConcurrentConsume verifies the conditional UPDATE lets exactly one of
// many racing consumers win.
func (s *PostgresStoreSuite) TestConcurrentConsume() {
	ctx := context.Background()
	now := time.Now().UTC()
	c := s.create("emp-race", now)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		replays   atomic.Int32
	)
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Consume(ctx, s.params(c, "nonce-emp-race", now))
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				replays.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(29), replays.Load())
}

func (s *PostgresStoreSuite) TestDeleteExpired() {
	ctx := context.Background()
	now := time.Now().UTC()
	stale := s.create("emp-7", now.Add(-10*time.Minute))
	live := s.create("emp-8", now)

	deleted, err := s.store.DeleteExpired(ctx, now, 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.FindByID(ctx, stale.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByID(ctx, live.ID)
	s.NoError(err)
}
