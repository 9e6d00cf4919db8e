package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the process.  Each instance owns
// its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Decisions         *prometheus.CounterVec
	ActuatorCommands  *prometheus.CounterVec
	ArtifactsDeleted  *prometheus.CounterVec
	CredentialsIssued prometheus.Counter
	IssueCollisions   prometheus.Counter
	DecodeSeconds     prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_decisions_total",
			Help: "Capture evaluations by outcome",
		}, []string{"outcome"}),
		ActuatorCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_actuator_commands_total",
			Help: "Door controller round-trips by command and result",
		}, []string{"command", "result"}),
		ArtifactsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_artifacts_deleted_total",
			Help: "Artifact files removed, by kind and reason",
		}, []string{"kind", "reason"}),
		CredentialsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "qrpass_credentials_issued_total",
			Help: "Credentials successfully issued",
		}),
		IssueCollisions: f.NewCounter(prometheus.CounterOpts{
			Name: "qrpass_issue_collisions_total",
			Help: "Issuance attempts that hit an existing payload",
		}),
		DecodeSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "qrpass_decode_seconds",
			Help:    "Time spent locating and decoding QR codes",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDecision(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveActuator(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ActuatorCommands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) ObserveArtifactDeleted(kind, reason string) {
	m.ArtifactsDeleted.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) ObserveDecode(d time.Duration) {
	m.DecodeSeconds.Observe(d.Seconds())
}
