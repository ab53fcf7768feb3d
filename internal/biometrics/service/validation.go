package service

import (
	"encoding/base64"
	"strings"

	"veriface/internal/biometrics/models"
	id "veriface/pkg/domain"
	dErrors "veriface/pkg/domain-errors"
)

// maxPayloadBytes caps the decoded capture payload: 8 frames of a few hundred
// kilobytes plus the box overhead.
const maxPayloadBytes = 8 << 20

// IssueChallengeInput is the boundary shape of an issue request.
type IssueChallengeInput struct {
	SubjectID string `json:"subjectId"`
	Action    string `json:"action"`
}

// CaptureInput is the boundary shape of an enroll or verify request. Payload
// is the sealed capture in standard base64.
type CaptureInput struct {
	SubjectID   string `json:"subjectId"`
	ChallengeID string `json:"challengeId"`
	Nonce       string `json:"nonce"`
	Payload     string `json:"payload"`
}

// ValidateIssueChallenge checks an issue request and converts it to the
// orchestrator's types.
func ValidateIssueChallenge(in *IssueChallengeInput) (IssueChallengeRequest, error) {
	if in == nil {
		return IssueChallengeRequest{}, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	subjectID, err := validateSubject(in.SubjectID)
	if err != nil {
		return IssueChallengeRequest{}, err
	}
	if in.Action == "" {
		return IssueChallengeRequest{}, dErrors.New(dErrors.CodeValidation, "action is required")
	}
	action, err := models.ParseAction(strings.ToUpper(strings.TrimSpace(in.Action)))
	if err != nil {
		return IssueChallengeRequest{}, dErrors.New(dErrors.CodeValidation, "action must be ENROLL or VERIFY")
	}
	return IssueChallengeRequest{SubjectID: subjectID, Action: action}, nil
}

// ValidateEnroll checks an enroll request.
func ValidateEnroll(in *CaptureInput) (EnrollRequest, error) {
	req, err := validateCapture(in)
	return EnrollRequest(req), err
}

// ValidateVerify checks a verify request.
func ValidateVerify(in *CaptureInput) (VerifyRequest, error) {
	req, err := validateCapture(in)
	return VerifyRequest(req), err
}

// ValidateRedeem rejects values that cannot be proof tokens before any store
// lookup.
func ValidateRedeem(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", dErrors.New(dErrors.CodeValidation, "verification token is required")
	}
	if !looksLikeProofToken(token) {
		return "", dErrors.New(dErrors.CodeValidation, "verification token is malformed")
	}
	return token, nil
}

func validateCapture(in *CaptureInput) (CaptureRequest, error) {
	if in == nil {
		return CaptureRequest{}, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	subjectID, err := validateSubject(in.SubjectID)
	if err != nil {
		return CaptureRequest{}, err
	}
	if in.ChallengeID == "" {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "challengeId is required")
	}
	challengeID, err := id.ParseChallengeID(in.ChallengeID)
	if err != nil {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "challengeId must be a UUID")
	}
	if in.Nonce == "" {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "nonce is required")
	}
	if len(in.Nonce) > 128 {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "nonce must be 128 characters or less")
	}
	if in.Payload == "" {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "payload is required")
	}
	if base64.StdEncoding.DecodedLen(len(in.Payload)) > maxPayloadBytes {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "payload is too large")
	}
	payload, err := base64.StdEncoding.DecodeString(in.Payload)
	if err != nil {
		return CaptureRequest{}, dErrors.New(dErrors.CodeValidation, "payload must be base64")
	}
	return CaptureRequest{
		SubjectID:   subjectID,
		ChallengeID: challengeID,
		Nonce:       in.Nonce,
		Payload:     payload,
	}, nil
}

func validateSubject(raw string) (id.SubjectID, error) {
	subjectID, err := id.ParseSubjectID(strings.TrimSpace(raw))
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, dErrors.PublicMessage(err))
	}
	return subjectID, nil
}
