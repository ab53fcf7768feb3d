// Package domain holds typed identifiers shared across biometric components.
//
// Identifiers are domain primitives: construct them with the Parse functions
// at trust boundaries so invalid input never reaches a store.
package domain

import (
	"github.com/google/uuid"

	dErrors "veriface/pkg/domain-errors"
)

const maxSubjectIDLength = 128

// SubjectID identifies the person a challenge, template or event belongs to.
// Personnel records are keyed by document-store object ids, so the value is
// opaque text rather than a UUID.
type SubjectID string

// ChallengeID identifies a verification challenge.
type ChallengeID uuid.UUID

// EventID identifies a recognition event.
type EventID uuid.UUID

// ParseSubjectID validates a subject identifier: 1-128 characters drawn from
// letters, digits and "_.:-".
func ParseSubjectID(s string) (SubjectID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id is required")
	}
	if len(s) > maxSubjectIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject id is too long")
	}
	for i := 0; i < len(s); i++ {
		if !isSubjectIDChar(s[i]) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "subject id contains invalid characters")
		}
	}
	return SubjectID(s), nil
}

func isSubjectIDChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == ':', c == '-':
		return true
	}
	return false
}

func (id SubjectID) String() string { return string(id) }

// IsNil returns true if the subject id is empty.
func (id SubjectID) IsNil() bool { return id == "" }

// NewChallengeID returns a random (v4) challenge id.
func NewChallengeID() ChallengeID { return ChallengeID(uuid.New()) }

// ParseChallengeID parses a non-nil UUID challenge id.
func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseUUID(s, "challenge id")
	return ChallengeID(u), err
}

func (id ChallengeID) String() string { return uuid.UUID(id).String() }

// IsNil returns true if the id is the nil UUID.
func (id ChallengeID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewEventID returns a random (v4) event id.
func NewEventID() EventID { return EventID(uuid.New()) }

// ParseEventID parses a non-nil UUID event id.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event id")
	return EventID(u), err
}

func (id EventID) String() string { return uuid.UUID(id).String() }

// IsNil returns true if the id is the nil UUID.
func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
