// Package metrics exposes monitoring counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Recorder records processing metrics.
type Recorder struct {
	gatherer      prometheus.Gatherer
	snapshots     prometheus.Counter
	alerts        *prometheus.CounterVec
	cycleFailures prometheus.Counter
	cycleDuration prometheus.Histogram
	trackedKeys   prometheus.Gauge
	ivZScore      *prometheus.GaugeVec
}

// New registers the recorder's collectors with reg.
// A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "greekwatch_snapshots_processed_total",
			Help: "Total number of option ticks turned into snapshot records",
		}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "greekwatch_alerts_fired_total",
			Help: "Total number of alerts fired",
		}, []string{"kind", "metric"}),
		cycleFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "greekwatch_cycle_failures_total",
			Help: "Total number of polling cycles that failed",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "greekwatch_cycle_duration_seconds",
			Help:    "Duration of polling cycles in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		trackedKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "greekwatch_tracked_instruments",
			Help: "Number of instruments with implied volatility history",
		}),
		ivZScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "greekwatch_iv_zscore",
			Help: "Latest implied volatility z-score per contract",
		}, []string{"contract"}),
	}
}

// RecordSnapshot counts one processed snapshot record.
func (r *Recorder) RecordSnapshot(rec models.SnapshotRecord) {
	if r == nil {
		return
	}
	r.snapshots.Inc()
	if rec.IVZScore != nil {
		r.ivZScore.WithLabelValues(rec.Key().String()).Set(*rec.IVZScore)
	}
}

// RecordAlert counts one fired alert.
func (r *Recorder) RecordAlert(a models.Alert) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(string(a.Kind), a.Condition.Metric).Inc()
}

// RecordCycle observes a completed cycle.
func (r *Recorder) RecordCycle(d time.Duration, trackedKeys int, err error) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
	r.trackedKeys.Set(float64(trackedKeys))
	if err != nil {
		r.cycleFailures.Inc()
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
