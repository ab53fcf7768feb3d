// Package recognition talks to the external face embedding and liveness
// service. The service does the image work; this package only transports
// frames and maps its verdicts into Analysis values.
package recognition

import (
	"context"
	"errors"

	"veriface/internal/biometrics/models"
)

var (
	// ErrUnavailable covers timeouts, transport errors, 5xx responses and an
	// open circuit.
	ErrUnavailable = errors.New("recognition backend unavailable")
	// ErrCaptureRejected is returned when the backend refuses the frames
	// (bad frame count, undecodable image, no face found).
	ErrCaptureRejected = errors.New("capture rejected by recognition backend")
)

// Backend analyzes a capture.
type Backend interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error)
}

// AnalyzeRequest carries base64 frames and the liveness actions the subject
// was challenged to perform.
type AnalyzeRequest struct {
	Frames          []string
	LivenessActions []string
}

// Liveness is the per-action verdict.
type Liveness struct {
	Passed  bool
	Actions map[string]bool
}

// Spoof reports embedding stability across augmented frames and multi-face
// detection.
type Spoof struct {
	Suspicious     bool
	Reason         string
	StabilityScore float64
	Variance       float64
}

// Quality summarizes face detection confidence.
type Quality struct {
	FacesDetected int
	AvgConfidence float64
	MinConfidence float64
}

// Analysis is the backend result for one capture. Embedding is the
// normalized mean of the per-frame embeddings.
type Analysis struct {
	Embedding []float64
	Model     models.ModelInfo
	Liveness  Liveness
	Spoof     Spoof
	Quality   Quality
}
