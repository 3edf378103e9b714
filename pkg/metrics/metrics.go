// Package metrics registers the Prometheus collectors for the moderation
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every pipeline collector. A single instance is created at
// startup and threaded through the components that record observations.
type Metrics struct {
	MessagesProcessed *prometheus.CounterVec
	FilterMatches     *prometheus.CounterVec
	RateLimitHits     prometheus.Counter

	LLMRequests  *prometheus.CounterVec
	LLMLatency   prometheus.Histogram
	BreakerState prometheus.Gauge

	ActionsTaken       *prometheus.CounterVec
	ViolationsRecorded *prometheus.CounterVec
	PersistenceErrors  prometheus.Counter

	HubSubscribers prometheus.Gauge
	HubDropped     prometheus.Counter

	PipelineLatency prometheus.Histogram
}

// New registers the collectors on the given registerer and returns the
// bundle. Pass prometheus.DefaultRegisterer in production and a fresh
// registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_messages_processed_total",
			Help: "Messages processed by final verdict decision.",
		}, []string{"decision"}),
		FilterMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_filter_matches_total",
			Help: "Lightweight filter matches by pattern type.",
		}, []string{"pattern_type"}),
		RateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamguard_rate_limit_hits_total",
			Help: "Messages rejected by the per-user rate limit.",
		}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_llm_requests_total",
			Help: "LLM completion attempts by outcome.",
		}, []string{"outcome"}),
		LLMLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamguard_llm_latency_seconds",
			Help:    "LLM completion latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamguard_llm_breaker_state",
			Help: "LLM circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),

		ActionsTaken: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_actions_total",
			Help: "Enforcement actions by kind.",
		}, []string{"kind"}),
		ViolationsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_violations_recorded_total",
			Help: "Violations persisted by severity.",
		}, []string{"severity"}),
		PersistenceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamguard_persistence_errors_total",
			Help: "Violation writes that failed and were downgraded.",
		}),

		HubSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamguard_hub_subscribers",
			Help: "Active session subscriptions.",
		}),
		HubDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamguard_hub_dropped_events_total",
			Help: "Events dropped from slow subscriber queues.",
		}),

		PipelineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamguard_pipeline_latency_seconds",
			Help:    "End-to-end moderation latency per message.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// BreakerStateValue maps a breaker state label to its gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
