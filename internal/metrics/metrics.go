package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for model calls.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeDegraded = "degraded"
)

type Metrics struct {
	AIRequests      *prometheus.CounterVec
	AIDuration      *prometheus.HistogramVec
	Analyses        *prometheus.CounterVec
	Uploads         *prometheus.CounterVec
	FollowUpsActive prometheus.Gauge
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		AIRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vastra_ai_requests_total",
				Help: "Total number of hosted model calls",
			},
			[]string{"operation", "outcome"},
		),
		AIDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vastra_ai_request_duration_seconds",
				Help:    "Duration of hosted model calls in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"operation"},
		),
		Analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vastra_analyses_total",
				Help: "Total number of trend analyses by outcome",
			},
			[]string{"outcome"},
		),
		Uploads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vastra_uploads_total",
				Help: "Total number of image uploads by validation result",
			},
			[]string{"result"},
		),
		FollowUpsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vastra_followups_active",
				Help: "Number of visual and shopping follow-ups in flight",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vastra_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vastra_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ObserveAI records one model call.
func (m *Metrics) ObserveAI(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.AIRequests.WithLabelValues(operation, outcome).Inc()
	m.AIDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveAnalysis records a finished analysis. Degraded means the report
// was produced but the visual failed.
func (m *Metrics) ObserveAnalysis(outcome string) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpload(result string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) FollowUpStarted() {
	if m != nil {
		m.FollowUpsActive.Inc()
	}
}

func (m *Metrics) FollowUpDone() {
	if m != nil {
		m.FollowUpsActive.Dec()
	}
}
