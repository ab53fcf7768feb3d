package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) appendVerified(subject id.SubjectID, tokenHash string, at time.Time) *models.RecognitionEvent {
	score, threshold := 0.92, 0.80
	e := &models.RecognitionEvent{
		ID:          id.NewEventID(),
		SubjectID:   subject,
		EventType:   models.EventVerify,
		Status:      models.StatusSuccess,
		ChallengeID: id.NewChallengeID(),
		Score:       &score,
		Threshold:   &threshold,
		Metadata:    map[string]string{"device": "Chrome on Android"},
		CreatedAt:   at,
	}
	if tokenHash != "" {
		e.AttachToken(tokenHash, at.Add(2*time.Minute))
	}
	s.Require().NoError(s.store.Append(context.Background(), e))
	return e
}

func (s *InMemoryStoreSuite) TestAppend() {
	s.Run("rejects duplicate token hash", func() {
		s.appendVerified("emp-1", "hash-dup", s.now)
		e := &models.RecognitionEvent{ID: id.NewEventID(), SubjectID: "emp-2", CreatedAt: s.now}
		e.AttachToken("hash-dup", s.now.Add(time.Minute))
		s.ErrorIs(s.store.Append(context.Background(), e), sentinel.ErrConflict)
	})

	s.Run("stored copy is isolated from caller", func() {
		e := s.appendVerified("emp-3", "hash-iso", s.now)
		e.Metadata["device"] = "tampered"
		found, err := s.store.FindByTokenHash(context.Background(), "hash-iso")
		s.Require().NoError(err)
		s.Equal("Chrome on Android", found.Metadata["device"])
	})
}

func (s *InMemoryStoreSuite) TestRedeemToken() {
	ctx := context.Background()

	s.Run("first redemption succeeds and replay is rejected", func() {
		s.appendVerified("emp-1", "hash-1", s.now)

		redeemed, err := s.store.RedeemToken(ctx, "hash-1", s.now.Add(30*time.Second))
		s.Require().NoError(err)
		s.Equal(id.SubjectID("emp-1"), redeemed.SubjectID)
		s.Require().NotNil(redeemed.VerificationTokenUsedAt)

		_, err = s.store.RedeemToken(ctx, "hash-1", s.now.Add(40*time.Second))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("expired token is rejected", func() {
		s.appendVerified("emp-2", "hash-2", s.now)
		_, err := s.store.RedeemToken(ctx, "hash-2", s.now.Add(2*time.Minute))
		s.ErrorIs(err, sentinel.ErrExpired)
	})

	s.Run("unknown token is not found", func() {
		_, err := s.store.RedeemToken(ctx, "missing", s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("concurrent redemptions yield exactly one success", func() {
		s.appendVerified("emp-3", "hash-3", s.now)

		var wg sync.WaitGroup
		var successes atomic.Int32
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.store.RedeemToken(ctx, "hash-3", s.now.Add(time.Second)); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), successes.Load())
	})
}

func (s *InMemoryStoreSuite) TestListBySubject() {
	for i := 0; i < 5; i++ {
		s.appendVerified("emp-9", fmt.Sprintf("hash-list-%d", i), s.now.Add(time.Duration(i)*time.Minute))
	}
	s.appendVerified("emp-10", "", s.now)

	events, err := s.store.ListBySubject(context.Background(), "emp-9", 3)
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal("hash-list-4", events[0].VerificationTokenHash)
	s.True(events[0].CreatedAt.After(events[1].CreatedAt))

	others, err := s.store.ListBySubject(context.Background(), "emp-10", 0)
	s.Require().NoError(err)
	s.Len(others, 1)
	s.False(others[0].HasToken())
}
