package service

import (
	"errors"
	"fmt"

	"veriface/internal/biometrics/models"
	dErrors "veriface/pkg/domain-errors"
)

// Reason is the typed outcome of a failed biometric operation.
type Reason string

const (
	ReasonChallengeNotFound      Reason = "ChallengeNotFound"
	ReasonChallengeExpired       Reason = "ChallengeExpired"
	ReasonChallengeAlreadyUsed   Reason = "ChallengeAlreadyUsed"
	ReasonNonceMismatch          Reason = "NonceMismatch"
	ReasonActionMismatch         Reason = "ActionMismatch"
	ReasonAttemptsExceeded       Reason = "AttemptsExceeded"
	ReasonDecryptionFailed       Reason = "DecryptionFailed"
	ReasonInvalidCapture         Reason = "InvalidCapture"
	ReasonRecognitionUnavailable Reason = "RecognitionUnavailable"
	ReasonLivenessFailed         Reason = "LivenessFailed"
	ReasonModelMismatch          Reason = "ModelMismatch"
	ReasonNotEnrolled            Reason = "NotEnrolled"
	ReasonBelowThreshold         Reason = "BelowThreshold"
	ReasonTokenExpired           Reason = "TokenExpired"
	ReasonTokenAlreadyUsed       Reason = "TokenAlreadyUsed"
	ReasonTokenNotFound          Reason = "TokenNotFound"
)

const (
	msgVerificationFailed = "verification failed"
	msgEnrollmentFailed   = "enrollment failed"
	msgServiceUnavailable = "biometric service unavailable"
)

type publicError struct {
	code    dErrors.Code
	message string
}

// publicErrors is what the caller is told per reason. Challenge, decryption
// and attempt failures say how to recover; match decisions stay generic.
var publicErrors = map[Reason]publicError{
	ReasonChallengeNotFound:      {dErrors.CodeNotFound, "challenge not found, request a new one"},
	ReasonChallengeExpired:       {dErrors.CodeBadRequest, "challenge expired, request a new one"},
	ReasonChallengeAlreadyUsed:   {dErrors.CodeBadRequest, "challenge already used, request a new one"},
	ReasonNonceMismatch:          {dErrors.CodeBadRequest, "challenge nonce does not match"},
	ReasonActionMismatch:         {dErrors.CodeBadRequest, "challenge was issued for a different action"},
	ReasonAttemptsExceeded:       {dErrors.CodeBadRequest, "too many failed attempts, request a new challenge"},
	ReasonDecryptionFailed:       {dErrors.CodeBadRequest, "payload could not be decrypted, request a new challenge"},
	ReasonInvalidCapture:         {dErrors.CodeBadRequest, "capture rejected, retake it with a new challenge"},
	ReasonRecognitionUnavailable: {dErrors.CodeUnavailable, "recognition temporarily unavailable, retry with a new challenge"},
	ReasonLivenessFailed:         {dErrors.CodeUnauthorized, msgVerificationFailed},
	ReasonModelMismatch:          {dErrors.CodeConflict, "enrolled template was produced by a different recognition model"},
	ReasonNotEnrolled:            {dErrors.CodeNotFound, "subject is not enrolled"},
	ReasonBelowThreshold:         {dErrors.CodeUnauthorized, msgVerificationFailed},
	ReasonTokenExpired:           {dErrors.CodeUnauthorized, "verification token expired"},
	ReasonTokenAlreadyUsed:       {dErrors.CodeUnauthorized, "verification token already used"},
	ReasonTokenNotFound:          {dErrors.CodeUnauthorized, "verification token is invalid"},
}

// Failure is a recovered, typed outcome. Its Error text is the caller-safe
// message; Reason, Status and scores are for audit and logs only.
type Failure struct {
	Reason    Reason
	Status    models.EventStatus
	Score     *float64
	Threshold *float64
	EventID   string

	public error
	cause  error
}

func (f *Failure) Error() string {
	return dErrors.PublicMessage(f.public)
}

// Unwrap exposes the coded domain error and the internal cause.
func (f *Failure) Unwrap() []error {
	if f.cause == nil {
		return []error{f.public}
	}
	return []error{f.public, f.cause}
}

func newFailure(reason Reason, status models.EventStatus, cause error) *Failure {
	pe, ok := publicErrors[reason]
	if !ok {
		pe = publicError{dErrors.CodeInternal, msgServiceUnavailable}
	}
	return &Failure{
		Reason: reason,
		Status: status,
		public: dErrors.New(pe.code, pe.message),
		cause:  cause,
	}
}

// withPublicMessage overrides the caller-visible message, keeping the code.
func (f *Failure) withPublicMessage(msg string) *Failure {
	if de, ok := dErrors.As(f.public); ok {
		f.public = dErrors.New(de.Code, msg)
	}
	return f
}

// ReasonOf extracts the failure reason from err.
func ReasonOf(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}

// AsFailure returns the Failure carried by err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

// storageUnavailable is the only fatal path: a store could not be reached.
func storageUnavailable(op string, err error) error {
	return dErrors.Wrap(fmt.Errorf("%s: %w", op, err), dErrors.CodeInternal, msgServiceUnavailable)
}
