// Package metrics holds the Prometheus instrumentation for the decision
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for pulsecast.
type Registry struct {
	Decisions      *prometheus.CounterVec
	RewardRealized prometheus.Histogram
	Epsilon        prometheus.Gauge
	PublishDenials *prometheus.CounterVec
	PublishResults *prometheus.CounterVec
	CycleDuration  *prometheus.HistogramVec

	reg *prometheus.Registry
}

// NewRegistry creates a registry with all pulsecast metrics on a private
// Prometheus registry, so repeated construction in tests never collides.
func NewRegistry() *Registry {
	r := &Registry{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsecast_decisions_total",
				Help: "Total topic selections by policy state",
			},
			[]string{"state"},
		),

		RewardRealized: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pulsecast_reward_realized",
				Help:    "Realized reward of resolved decisions",
				Buckets: []float64{1, 5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		Epsilon: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pulsecast_epsilon",
				Help: "Current exploration rate",
			},
		),

		PublishDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsecast_publish_denials_total",
				Help: "Publish gate denials by platform and failing check",
			},
			[]string{"platform", "check"},
		),

		PublishResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pulsecast_publish_results_total",
				Help: "Publish attempts by platform and result",
			},
			[]string{"platform", "result"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pulsecast_cycle_duration_seconds",
				Help:    "Duration of scheduler cycles in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"platform", "result"},
		),

		reg: prometheus.NewRegistry(),
	}

	r.reg.MustRegister(
		r.Decisions,
		r.RewardRealized,
		r.Epsilon,
		r.PublishDenials,
		r.PublishResults,
		r.CycleDuration,
	)
	return r
}

// RecordDecision accounts one selection.
func (r *Registry) RecordDecision(state string) {
	r.Decisions.WithLabelValues(state).Inc()
}

// RecordReward accounts one resolved decision and the current epsilon.
func (r *Registry) RecordReward(reward, epsilon float64) {
	r.RewardRealized.Observe(reward)
	r.Epsilon.Set(epsilon)
}

// RecordDenial accounts a gate denial by its first failing check.
func (r *Registry) RecordDenial(platform, check string) {
	r.PublishDenials.WithLabelValues(platform, check).Inc()
}

// RecordPublish accounts a publish attempt result.
func (r *Registry) RecordPublish(platform, result string) {
	r.PublishResults.WithLabelValues(platform, result).Inc()
}

// Handler serves this registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
