package recognition

import (
	"context"
	"sync"
	"time"

	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/vector"
)

// DefaultFakeModel is the model the Fake reports unless overridden.
var DefaultFakeModel = models.ModelInfo{Name: "fake-arcface", Version: "1", Dim: 4}

// Fake is a deterministic in-memory Backend for tests and local runs.
// Each call consumes the next scripted result; once the script is exhausted
// the fallback result is returned.
type Fake struct {
	mu       sync.Mutex
	script   []FakeResult
	fallback FakeResult
	latency  time.Duration
	calls    []AnalyzeRequest
}

// FakeResult scripts one Analyze call. A non-nil Err is returned as-is.
type FakeResult struct {
	Embedding      []float64
	Model          models.ModelInfo
	LivenessPassed bool
	Suspicious     bool
	Err            error
}

// NewFake returns a Fake whose fallback passes liveness with a fixed
// embedding.
func NewFake() *Fake {
	return &Fake{
		fallback: FakeResult{
			Embedding:      []float64{1, 0, 0, 0},
			Model:          DefaultFakeModel,
			LivenessPassed: true,
		},
	}
}

// Push appends scripted results.
func (f *Fake) Push(results ...FakeResult) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, results...)
	return f
}

// SetFallback replaces the result used once the script is exhausted.
func (f *Fake) SetFallback(r FakeResult) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = r
	return f
}

// SetLatency delays every call, honouring context cancellation.
func (f *Fake) SetLatency(d time.Duration) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
	return f
}

// Calls returns the requests received so far.
func (f *Fake) Calls() []AnalyzeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AnalyzeRequest(nil), f.calls...)
}

func (f *Fake) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	result := f.fallback
	if len(f.script) > 0 {
		result = f.script[0]
		f.script = f.script[1:]
	}
	latency := f.latency
	f.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ErrUnavailable
		case <-timer.C:
		}
	}
	if result.Err != nil {
		return nil, result.Err
	}

	embedding, err := vector.Normalize(result.Embedding)
	if err != nil {
		return nil, ErrCaptureRejected
	}
	model := result.Model
	if model.Name == "" {
		model = DefaultFakeModel
	}
	model.Dim = len(embedding)

	actions := make(map[string]bool, len(req.LivenessActions))
	for _, a := range req.LivenessActions {
		actions[a] = result.LivenessPassed
	}
	return &Analysis{
		Embedding: embedding,
		Model:     model,
		Liveness:  Liveness{Passed: result.LivenessPassed, Actions: actions},
		Spoof:     Spoof{Suspicious: result.Suspicious, StabilityScore: 0.95},
		Quality:   Quality{FacesDetected: len(req.Frames), AvgConfidence: 0.9, MinConfidence: 0.85},
	}, nil
}
