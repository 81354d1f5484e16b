// Package metrics exposes Prometheus collectors for the bot.
//
// Label sets are small and fixed (tier, outcome, kind) so cardinality stays
// bounded regardless of how many users talk to the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ModelCalls counts upstream generation calls by operation, tier and outcome.
	ModelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speechbot_model_calls_total",
			Help: "Upstream model calls by operation, tier and outcome.",
		},
		[]string{"operation", "tier", "outcome"},
	)

	// ModelLatency records upstream call duration in seconds.
	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speechbot_model_call_duration_seconds",
			Help:    "Duration of upstream model calls in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160, 300},
		},
		[]string{"operation", "tier"},
	)

	// Updates counts inbound Telegram updates by kind.
	Updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speechbot_updates_total",
			Help: "Inbound Telegram updates by kind.",
		},
		[]string{"kind"},
	)

	// Deliveries counts delivered results by display mode.
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speechbot_deliveries_total",
			Help: "Delivered results by display mode.",
		},
		[]string{"mode"},
	)

	// RegistrySize gauges the number of live transcript entries.
	RegistrySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "speechbot_registry_entries",
			Help: "Transcript entries currently held in memory.",
		},
	)

	// PoolRunning gauges tasks currently executing in the worker pool.
	PoolRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "speechbot_pool_running",
			Help: "Tasks currently running in the worker pool.",
		},
	)
)

func init() {
	prometheus.MustRegister(ModelCalls, ModelLatency, Updates, Deliveries, RegistrySize, PoolRunning)
}

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeEmpty = "empty"
)
