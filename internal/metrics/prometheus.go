package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Combination outcomes.
const (
	OutcomeScored  = "scored"
	OutcomeNoScore = "no_score"
	OutcomeFailed  = "failed"
)

// Recorder exposes pipeline metrics to Prometheus. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	registry        *prometheus.Registry
	combinations    *prometheus.CounterVec
	eventsDetected  *prometheus.CounterVec
	recordsDropped  *prometheus.CounterVec
	securityErrors  *prometheus.CounterVec
	sweepDuration   *prometheus.HistogramVec
	lastWinRate     *prometheus.GaugeVec
	externalLatency *prometheus.HistogramVec
}

// New creates a recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		combinations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tws_optimizer_combinations_total",
				Help: "Parameter combinations evaluated, by outcome",
			},
			[]string{"scorer", "outcome"},
		),
		eventsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tws_intervention_events_total",
				Help: "Intervention events detected",
			},
			[]string{"security"},
		),
		recordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tws_records_dropped_total",
				Help: "Malformed daily records dropped at load time",
			},
			[]string{"security"},
		),
		securityErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tws_security_errors_total",
				Help: "Securities whose pipeline failed, by stage",
			},
			[]string{"stage"},
		),
		sweepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tws_sweep_duration_seconds",
				Help:    "Duration of one security's parameter sweep",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scorer"},
		),
		lastWinRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tws_portfolio_win_rate",
				Help: "Latest portfolio win rate per horizon",
			},
			[]string{"horizon"},
		),
		externalLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tws_external_request_duration_seconds",
				Help:    "Duration of requests to external services",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
	}
}

// Registry returns the registry backing this recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RecordCombination(scorer, outcome string) {
	if r == nil {
		return
	}
	r.combinations.WithLabelValues(scorer, outcome).Inc()
}

func (r *Recorder) RecordEvents(security string, n int) {
	if r == nil {
		return
	}
	r.eventsDetected.WithLabelValues(security).Add(float64(n))
}

func (r *Recorder) RecordDropped(security string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.recordsDropped.WithLabelValues(security).Add(float64(n))
}

func (r *Recorder) RecordSecurityError(stage string) {
	if r == nil {
		return
	}
	r.securityErrors.WithLabelValues(stage).Inc()
}

func (r *Recorder) RecordSweep(scorer string, seconds float64) {
	if r == nil {
		return
	}
	r.sweepDuration.WithLabelValues(scorer).Observe(seconds)
}

func (r *Recorder) RecordWinRate(horizon string, rate float64) {
	if r == nil {
		return
	}
	r.lastWinRate.WithLabelValues(horizon).Set(rate)
}

func (r *Recorder) RecordExternal(service string, seconds float64) {
	if r == nil {
		return
	}
	r.externalLatency.WithLabelValues(service).Observe(seconds)
}
