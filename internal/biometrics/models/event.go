package models

import (
	"fmt"
	"time"

	id "veriface/pkg/domain"
	"veriface/pkg/platform/sentinel"
)

// EventType mirrors the challenge action an event records.
type EventType string

const (
	EventEnroll EventType = "ENROLL"
	EventVerify EventType = "VERIFY"
)

// EventStatus is the audit outcome of an attempt.
type EventStatus string

const (
	StatusSuccess    EventStatus = "SUCCESS"
	StatusFailure    EventStatus = "FAILURE"
	StatusSuspicious EventStatus = "SUSPICIOUS"
)

// RecognitionEvent is an immutable audit record of one enroll or verify
// attempt. A successful verification also carries the hash of the proof
// token minted for it; the raw token is never a field here.
type RecognitionEvent struct {
	ID                         id.EventID
	SubjectID                  id.SubjectID
	EventType                  EventType
	Status                     EventStatus
	Reason                     string
	ChallengeID                id.ChallengeID
	Score                      *float64
	Threshold                  *float64
	VerificationTokenHash      string
	VerificationTokenExpiresAt *time.Time
	VerificationTokenUsedAt    *time.Time
	IPAddress                  string
	UserAgent                  string
	Metadata                   map[string]string
	CreatedAt                  time.Time
}

// HasToken reports whether a proof token was minted for this event.
func (e *RecognitionEvent) HasToken() bool {
	return e.VerificationTokenHash != ""
}

// AttachToken records the hash and expiry of a freshly minted proof token.
func (e *RecognitionEvent) AttachToken(tokenHash string, expiresAt time.Time) {
	exp := expiresAt
	e.VerificationTokenHash = tokenHash
	e.VerificationTokenExpiresAt = &exp
}

// ValidateForRedeem applies the single-use discipline of challenges to the
// proof token.
func (e *RecognitionEvent) ValidateForRedeem(now time.Time) error {
	if !e.HasToken() {
		return fmt.Errorf("verification token not found: %w", sentinel.ErrNotFound)
	}
	if e.VerificationTokenUsedAt != nil {
		return fmt.Errorf("verification token already used: %w", sentinel.ErrAlreadyUsed)
	}
	if e.VerificationTokenExpiresAt == nil || !now.Before(*e.VerificationTokenExpiresAt) {
		return fmt.Errorf("verification token expired: %w", sentinel.ErrExpired)
	}
	return nil
}

// MarkRedeemed transitions the proof token to redeemed.
func (e *RecognitionEvent) MarkRedeemed(now time.Time) {
	t := now
	e.VerificationTokenUsedAt = &t
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (e *RecognitionEvent) Clone() *RecognitionEvent {
	c := *e
	c.Score = cloneFloat(e.Score)
	c.Threshold = cloneFloat(e.Threshold)
	c.VerificationTokenExpiresAt = cloneTime(e.VerificationTokenExpiresAt)
	c.VerificationTokenUsedAt = cloneTime(e.VerificationTokenUsedAt)
	if e.Metadata != nil {
		c.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
