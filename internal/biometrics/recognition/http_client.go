package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"veriface/internal/biometrics/models"
	"veriface/internal/biometrics/vector"
	"veriface/pkg/platform/circuit"
)

const (
	headerModelName    = "X-Model-Name"
	headerModelVersion = "X-Model-Version"
	maxResponseBytes   = 8 << 20
)

// HTTPClient calls POST {baseURL}/analyze.
type HTTPClient struct {
	baseURL      string
	client       *http.Client
	tokens       *ServiceTokens
	breaker      *circuit.Breaker
	logger       *slog.Logger
	defaultModel models.ModelInfo
	now          func() time.Time
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient overrides the underlying client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		if c != nil {
			h.client = c
		}
	}
}

// WithServiceTokens authenticates requests with a bearer service token.
func WithServiceTokens(t *ServiceTokens) HTTPOption {
	return func(h *HTTPClient) { h.tokens = t }
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *circuit.Breaker) HTTPOption {
	return func(h *HTTPClient) { h.breaker = b }
}

// WithLogger sets the logger used for breaker transitions.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTPClient) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithDefaultModel sets the model reported when the backend omits model headers.
func WithDefaultModel(m models.ModelInfo) HTTPOption {
	return func(h *HTTPClient) { h.defaultModel = m }
}

// NewHTTPClient creates a client for the recognition service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type analyzeRequestBody struct {
	Frames          []string `json:"frames"`
	LivenessActions []string `json:"livenessActions"`
}

type analyzeResponseBody struct {
	OK           bool        `json:"ok"`
	Embeddings   [][]float64 `json:"embeddings"`
	EmbeddingDim int         `json:"embeddingDim"`
	Liveness     struct {
		Passed  bool            `json:"passed"`
		Actions map[string]bool `json:"actions"`
	} `json:"liveness"`
	Spoof struct {
		Suspicious     bool    `json:"suspicious"`
		Reason         *string `json:"reason"`
		StabilityScore float64 `json:"stabilityScore"`
		Variance       float64 `json:"variance"`
	} `json:"spoof"`
	Quality struct {
		FacesDetected int     `json:"facesDetected"`
		AvgConfidence float64 `json:"avgConfidence"`
		MinConfidence float64 `json:"minConfidence"`
	} `json:"quality"`
}

// Analyze sends the frames to the backend. Calls fail fast with
// ErrUnavailable while the breaker is open.
func (h *HTTPClient) Analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	if h.breaker != nil && !h.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit %s open", ErrUnavailable, h.breaker.Name())
	}

	analysis, err := h.analyze(ctx, req)
	switch {
	case err == nil, errors.Is(err, ErrCaptureRejected):
		h.recordSuccess(ctx)
	case errors.Is(err, context.Canceled):
		// caller went away; says nothing about backend health
	default:
		h.recordFailure(ctx, err)
	}
	return analysis, err
}

func (h *HTTPClient) analyze(ctx context.Context, req AnalyzeRequest) (*Analysis, error) {
	body, err := json.Marshal(analyzeRequestBody{Frames: req.Frames, LivenessActions: req.LivenessActions})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.tokens != nil {
		token, err := h.tokens.Sign(h.now())
		if err != nil {
			return nil, fmt.Errorf("sign service token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: analyze returned %s", ErrUnavailable, resp.Status)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: analyze returned %s", ErrUnavailable, resp.Status)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s", ErrCaptureRejected, readDetail(resp))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: analyze returned %s", ErrUnavailable, resp.Status)
	}

	var out analyzeResponseBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode analyze response: %w", ErrUnavailable, err)
	}
	return h.toAnalysis(resp.Header, out)
}

func (h *HTTPClient) toAnalysis(header http.Header, out analyzeResponseBody) (*Analysis, error) {
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrCaptureRejected)
	}
	mean, err := vector.Mean(out.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureRejected, err)
	}

	model := h.defaultModel
	if name := header.Get(headerModelName); name != "" {
		model.Name = name
	}
	if version := header.Get(headerModelVersion); version != "" {
		model.Version = version
	}
	model.Dim = len(mean)
	if out.EmbeddingDim != 0 && out.EmbeddingDim != model.Dim {
		return nil, fmt.Errorf("%w: embeddingDim %d does not match vectors of length %d",
			ErrUnavailable, out.EmbeddingDim, model.Dim)
	}

	analysis := &Analysis{
		Embedding: mean,
		Model:     model,
		Liveness: Liveness{
			Passed:  out.Liveness.Passed,
			Actions: out.Liveness.Actions,
		},
		Spoof: Spoof{
			Suspicious:     out.Spoof.Suspicious,
			StabilityScore: out.Spoof.StabilityScore,
			Variance:       out.Spoof.Variance,
		},
		Quality: Quality{
			FacesDetected: out.Quality.FacesDetected,
			AvgConfidence: out.Quality.AvgConfidence,
			MinConfidence: out.Quality.MinConfidence,
		},
	}
	if out.Spoof.Reason != nil {
		analysis.Spoof.Reason = *out.Spoof.Reason
	}
	return analysis, nil
}

func readDetail(resp *http.Response) string {
	var body struct {
		Detail any `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return s
		}
	}
	return "status " + strconv.Itoa(resp.StatusCode)
}

func (h *HTTPClient) recordSuccess(ctx context.Context) {
	if h.breaker == nil {
		return
	}
	if _, change := h.breaker.RecordSuccess(); change.Closed {
		h.logger.InfoContext(ctx, "recognition circuit closed", "breaker", h.breaker.Name())
	}
}

func (h *HTTPClient) recordFailure(ctx context.Context, err error) {
	if h.breaker == nil {
		return
	}
	if _, change := h.breaker.RecordFailure(); change.Opened {
		h.logger.WarnContext(ctx, "recognition circuit opened", "breaker", h.breaker.Name(), "error", err)
	}
}
