package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonny/sentinel/internal/domain/port/outbound"
)

const namespace = "sentinel"

// Recorder implements outbound.MetricsRecorder on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	alerts       *prometheus.CounterVec
	ruleFailures *prometheus.CounterVec
	skipped      prometheus.Counter
	tickDuration prometheus.Histogram
	rollbacks    *prometheus.CounterVec
}

var _ outbound.MetricsRecorder = (*Recorder)(nil)

// NewRecorder registers the detector and rollback metrics plus the Go runtime
// and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Security alerts created, by type and severity.",
		}, []string{"type", "severity"}),
		ruleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_rule_failures_total",
			Help:      "Detection rules that failed during a tick.",
		}, []string{"rule"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_ticks_skipped_total",
			Help:      "Ticks skipped because the previous one was still running.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_tick_duration_seconds",
			Help:      "Wall time of a detector tick.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Executed rollbacks, by environment and outcome.",
		}, []string{"environment", "outcome"}),
	}
	reg.MustRegister(
		r.alerts, r.ruleFailures, r.skipped, r.tickDuration, r.rollbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) AlertRaised(alertType, severity string) {
	r.alerts.WithLabelValues(alertType, severity).Inc()
}

func (r *Recorder) RuleFailed(rule string) { r.ruleFailures.WithLabelValues(rule).Inc() }

func (r *Recorder) TickSkipped() { r.skipped.Inc() }

func (r *Recorder) TickDuration(d time.Duration) { r.tickDuration.Observe(d.Seconds()) }

func (r *Recorder) RollbackFinished(environment, outcome string) {
	r.rollbacks.WithLabelValues(environment, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
