package audit

import (
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route them (e.g. suspicious attempts to security monitoring).
type EventCategory string

const (
	// CategorySecurity covers failed and suspicious biometric attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine successful activity.
	CategoryOperations EventCategory = "operations"
)

// AuditEvent names the action being recorded.
type AuditEvent string

const (
	EventChallengeIssued AuditEvent = "biometric_challenge_issued"
	EventEnrollment      AuditEvent = "biometric_enrollment"
	EventVerification    AuditEvent = "biometric_verification"
	EventTokenRedeemed   AuditEvent = "biometric_token_redeemed"
	EventTokenRejected   AuditEvent = "biometric_token_rejected"
)

// Event is emitted from the orchestrator after an outcome is decided. It is
// transport-agnostic so stores and sinks can fan out. It never carries
// nonces, tokens, token hashes or embeddings.
type Event struct {
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	SubjectID   string        `json:"subject_id"`
	Action      string        `json:"action"`
	Status      string        `json:"status,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	EventID     string        `json:"event_id,omitempty"`
	ChallengeID string        `json:"challenge_id,omitempty"`
	Score       *float64      `json:"score,omitempty"`
	Threshold   *float64      `json:"threshold,omitempty"`
	IP          string        `json:"ip,omitempty"`
	Device      string        `json:"device,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
}

// CategoryFor routes an outcome status: anything other than SUCCESS is a
// security event.
func CategoryFor(status string) EventCategory {
	if status == "" || status == "SUCCESS" {
		return CategoryOperations
	}
	return CategorySecurity
}
