package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	id "veriface/pkg/domain"
	dErrors "veriface/pkg/domain-errors"
	"veriface/pkg/platform/sentinel"
)

// Action is the operation a challenge authorizes.
type Action string

const (
	ActionEnroll Action = "ENROLL"
	ActionVerify Action = "VERIFY"
)

// ParseAction validates an action at a trust boundary.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionEnroll, ActionVerify:
		return a, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "action must be ENROLL or VERIFY")
}

// LivenessAction is a physical prompt the capture must exhibit.
type LivenessAction string

const (
	LivenessBlink     LivenessAction = "blink"
	LivenessSmile     LivenessAction = "smile"
	LivenessTurnLeft  LivenessAction = "turn_left"
	LivenessTurnRight LivenessAction = "turn_right"
)

// LivenessPool lists every prompt the recognition backend can check.
var LivenessPool = []LivenessAction{LivenessBlink, LivenessSmile, LivenessTurnLeft, LivenessTurnRight}

// Challenge is a single-use, time-boxed authorization for one enroll or
// verify attempt. Only the nonce hash is persisted.
type Challenge struct {
	ID              id.ChallengeID
	SubjectID       id.SubjectID
	NonceHash       string
	Action          Action
	LivenessActions []LivenessAction
	KeyID           string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	UsedAt          *time.Time
	Attempts        int
	IPAddress       string
	UserAgent       string
}

// NewChallenge builds an unconsumed challenge. The raw nonce is hashed here
// and never stored.
func NewChallenge(
	challengeID id.ChallengeID,
	subjectID id.SubjectID,
	nonce string,
	action Action,
	liveness []LivenessAction,
	keyID string,
	now time.Time,
	ttl time.Duration,
) (*Challenge, error) {
	if challengeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "challenge id cannot be nil")
	}
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id cannot be empty")
	}
	if nonce == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "nonce cannot be empty")
	}
	if _, err := ParseAction(string(action)); err != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid challenge action")
	}
	if ttl <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "challenge ttl must be positive")
	}
	return &Challenge{
		ID:              challengeID,
		SubjectID:       subjectID,
		NonceHash:       HashSecret(nonce),
		Action:          action,
		LivenessActions: liveness,
		KeyID:           keyID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}, nil
}

// ConsumeParams carries what the caller presents when spending a challenge.
type ConsumeParams struct {
	ID          id.ChallengeID
	SubjectID   id.SubjectID
	Nonce       string
	Action      Action
	Now         time.Time
	MaxAttempts int
}

// IsExpiredAt reports whether the challenge can no longer be consumed at now.
func (c *Challenge) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// IsUsed reports whether the challenge was already consumed.
func (c *Challenge) IsUsed() bool {
	return c.UsedAt != nil
}

// ValidateForConsume checks the presented nonce and action against the
// challenge. Errors wrap sentinel values so every store classifies them the
// same way. Ownership is checked by the store before this runs.
func (c *Challenge) ValidateForConsume(p ConsumeParams) error {
	if c.IsUsed() {
		return fmt.Errorf("challenge already used: %w", sentinel.ErrAlreadyUsed)
	}
	if p.MaxAttempts > 0 && c.Attempts >= p.MaxAttempts {
		return fmt.Errorf("challenge attempts exhausted: %w", sentinel.ErrLimitExceeded)
	}
	if c.IsExpiredAt(p.Now) {
		return fmt.Errorf("challenge expired: %w", sentinel.ErrExpired)
	}
	if !MatchSecret(c.NonceHash, p.Nonce) {
		return &MismatchError{Field: "nonce"}
	}
	if c.Action != p.Action {
		return &MismatchError{Field: "action"}
	}
	return nil
}

// MarkUsed transitions the challenge to consumed.
func (c *Challenge) MarkUsed(now time.Time) {
	t := now
	c.UsedAt = &t
}

// RecordFailedAttempt counts a failed consume. When the failure was a
// mismatch and the count reaches maxAttempts, the challenge is force-expired
// and true is returned.
func (c *Challenge) RecordFailedAttempt(cause error, now time.Time, maxAttempts int) bool {
	c.Attempts++
	if maxAttempts <= 0 || c.Attempts < maxAttempts {
		return false
	}
	if !IsMismatch(cause) {
		return false
	}
	if c.ExpiresAt.After(now) {
		c.ExpiresAt = now
	}
	return true
}

// Consume applies the full consume transition in memory: validate, then either
// mark used or record the failed attempt. Stores call it while holding
// whatever guard makes the read and the write one atomic step.
func (c *Challenge) Consume(p ConsumeParams) error {
	err := c.ValidateForConsume(p)
	if err == nil {
		c.MarkUsed(p.Now)
		return nil
	}
	if c.RecordFailedAttempt(err, p.Now, p.MaxAttempts) {
		return fmt.Errorf("%w: %w", err, sentinel.ErrLimitExceeded)
	}
	return err
}

// MismatchError reports which presented value did not match the challenge.
type MismatchError struct {
	Field string
}

func (e *MismatchError) Error() string {
	return e.Field + " mismatch"
}

func (e *MismatchError) Unwrap() error {
	return sentinel.ErrMismatch
}

// IsMismatch reports whether err is a nonce or action mismatch.
func IsMismatch(err error) bool {
	var me *MismatchError
	return errors.As(err, &me)
}

// MismatchField returns "nonce" or "action" for mismatch errors.
func MismatchField(err error) string {
	var me *MismatchError
	if errors.As(err, &me) {
		return me.Field
	}
	return ""
}

// HashSecret returns the hex SHA-256 of a single-use secret (nonce or proof
// token). Secrets are high-entropy so an unsalted hash is sufficient.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// MatchSecret compares a presented secret against a stored hash in constant time.
func MatchSecret(storedHash, presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashSecret(presented))) == 1
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (c *Challenge) Clone() *Challenge {
	cp := *c
	cp.LivenessActions = append([]LivenessAction(nil), c.LivenessActions...)
	cp.UsedAt = cloneTime(c.UsedAt)
	return &cp
}
