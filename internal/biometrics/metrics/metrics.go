package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the biometric orchestrator.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Challenges issued by action
	ChallengesIssued *prometheus.CounterVec

	// Consume outcomes by action and reason ("ok" on success)
	ChallengeConsumes *prometheus.CounterVec

	// Enroll/verify outcomes by operation, status and reason
	Outcomes *prometheus.CounterVec

	// Cosine similarity of verification attempts that reached matching
	SimilarityScore prometheus.Histogram

	// Recognition backend latency by result
	RecognitionLatency *prometheus.HistogramVec

	// Proof token redemptions by result
	TokenRedemptions *prometheus.CounterVec

	// Rows removed by the expiry sweeper
	SweptChallenges prometheus.Counter
}

// New registers the metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_challenges_issued_total",
			Help: "Total biometric challenges issued by action",
		}, []string{"action"}),

		ChallengeConsumes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_challenge_consumes_total",
			Help: "Challenge consume attempts by action and outcome reason",
		}, []string{"action", "reason"}),

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_recognition_outcomes_total",
			Help: "Enrollment and verification outcomes by operation, status and reason",
		}, []string{"operation", "status", "reason"}),

		SimilarityScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriface_verification_similarity",
			Help:    "Cosine similarity between capture and enrolled centroid",
			Buckets: []float64{0, 0.2, 0.4, 0.5, 0.55, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1},
		}),

		RecognitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veriface_recognition_duration_seconds",
			Help:    "Duration of recognition backend calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}, []string{"result"}), // result: "ok", "rejected", "unavailable"

		TokenRedemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_token_redemptions_total",
			Help: "Proof token redemptions by result",
		}, []string{"result"}),

		SweptChallenges: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_challenges_swept_total",
			Help: "Expired or retained-past-audit challenges removed by the sweeper",
		}),
	}
}

func (m *Metrics) IncrementChallengeIssued(action string) {
	if m != nil {
		m.ChallengesIssued.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncrementChallengeConsume(action, reason string) {
	if m != nil {
		m.ChallengeConsumes.WithLabelValues(action, reason).Inc()
	}
}

// IncrementOutcome records a terminal enroll or verify outcome.
func (m *Metrics) IncrementOutcome(operation, status, reason string) {
	if m != nil {
		m.Outcomes.WithLabelValues(operation, status, reason).Inc()
	}
}

func (m *Metrics) ObserveSimilarity(score float64) {
	if m != nil {
		m.SimilarityScore.Observe(score)
	}
}

func (m *Metrics) ObserveRecognitionLatency(result string, d time.Duration) {
	if m != nil {
		m.RecognitionLatency.WithLabelValues(result).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementTokenRedemption(result string) {
	if m != nil {
		m.TokenRedemptions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) AddSwept(n int) {
	if m != nil && n > 0 {
		m.SweptChallenges.Add(float64(n))
	}
}
