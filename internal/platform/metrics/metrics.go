package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level Prometheus metrics for the server.
type Metrics struct {
	BuildInfo        *prometheus.GaugeVec
	KeyRotations     *prometheus.CounterVec
	DependencyHealth *prometheus.GaugeVec
}

// New creates and registers the metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BuildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veriface_build_info",
			Help: "Constant 1, labelled with the running environment and recognition model",
		}, []string{"environment", "model"}),

		KeyRotations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_payload_key_rotations_total",
			Help: "Payload key rotations by result",
		}, []string{"result"}),

		DependencyHealth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veriface_dependency_up",
			Help: "1 when the last readiness probe of a dependency succeeded",
		}, []string{"dependency"}),
	}
}

// SetBuildInfo publishes the static build labels.
func (m *Metrics) SetBuildInfo(environment, model string) {
	m.BuildInfo.WithLabelValues(environment, model).Set(1)
}

// IncrementKeyRotation counts a rotation attempt.
func (m *Metrics) IncrementKeyRotation(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.KeyRotations.WithLabelValues(result).Inc()
}

// SetDependencyHealth records the outcome of a readiness probe.
func (m *Metrics) SetDependencyHealth(dependency string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyHealth.WithLabelValues(dependency).Set(v)
}
