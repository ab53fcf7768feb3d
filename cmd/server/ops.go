package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veriface/internal/biometrics/models"
	"veriface/internal/platform/metrics"
	id "veriface/pkg/domain"
	dErrors "veriface/pkg/domain-errors"
	"veriface/pkg/platform/httputil"
	"veriface/pkg/platform/middleware/metadata"
	"veriface/pkg/platform/middleware/requesttime"
	"veriface/pkg/platform/privacy"
	"veriface/pkg/requestcontext"
)

const (
	probeTimeout    = 2 * time.Second
	maxHistoryLimit = 200
)

// probe is a named readiness check against a backing dependency.
type probe struct {
	name  string
	check func(ctx context.Context) error
}

// historyReader is the read-only slice of the biometric service exposed to
// operators.
type historyReader interface {
	History(ctx context.Context, subjectID id.SubjectID, limit int) ([]*models.RecognitionEvent, error)
}

type opsHandler struct {
	probes  []probe
	metrics *metrics.Metrics
	history historyReader
	logger  *slog.Logger
}

func newOpsRouter(gatherer prometheus.Gatherer, probes []probe, m *metrics.Metrics, history historyReader, logger *slog.Logger) http.Handler {
	h := &opsHandler{probes: probes, metrics: m, history: history, logger: logger}

	r := chi.NewRouter()
	r.Use(metadata.RequestID, metadata.ClientMetadata, requesttime.Middleware)
	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/subjects/{subjectID}/events", h.handleHistory)
	return r
}

func (h *opsHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *opsHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for _, p := range h.probes {
		err := p.check(ctx)
		h.metrics.SetDependencyHealth(p.name, err == nil)
		if err != nil {
			h.logger.WarnContext(ctx, "dependency not ready", "dependency", p.name, "error", err)
			checks[p.name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[p.name] = "up"
	}
	httputil.WriteJSON(w, status, map[string]any{"ready": status == http.StatusOK, "dependencies": checks})
}

type eventResponse struct {
	ID          string            `json:"id"`
	EventType   string            `json:"eventType"`
	Status      string            `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	ChallengeID string            `json:"challengeId"`
	Score       *float64          `json:"score,omitempty"`
	Threshold   *float64          `json:"threshold,omitempty"`
	TokenIssued bool              `json:"tokenIssued"`
	TokenUsedAt *time.Time        `json:"tokenUsedAt,omitempty"`
	IPAddress   string            `json:"ipAddress,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func (h *opsHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 200"))
			return
		}
	}

	events, err := h.history.History(r.Context(), subjectID, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list recognition events",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:          ev.ID.String(),
			EventType:   string(ev.EventType),
			Status:      string(ev.Status),
			Reason:      ev.Reason,
			ChallengeID: ev.ChallengeID.String(),
			Score:       ev.Score,
			Threshold:   ev.Threshold,
			TokenIssued: ev.VerificationTokenExpiresAt != nil,
			TokenUsedAt: ev.VerificationTokenUsedAt,
			IPAddress:   privacy.AnonymizeIP(ev.IPAddress),
			Metadata:    ev.Metadata,
			CreatedAt:   ev.CreatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"subjectId": subjectID.String(), "events": out})
}
