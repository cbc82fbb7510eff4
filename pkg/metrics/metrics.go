// Package metrics provides Prometheus metrics for the EAV engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RegistryLookupsTotal tracks metadata snapshot requests served from cache or reloaded
	RegistryLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eav",
			Subsystem: "registry",
			Name:      "lookups_total",
			Help:      "Total number of metadata snapshot lookups by result",
		},
		[]string{"result"},
	)

	// RegistryReloadDuration tracks how long a full metadata reload takes
	RegistryReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "eav",
			Subsystem: "registry",
			Name:      "reload_duration_seconds",
			Help:      "Duration of metadata reloads in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// RegistryInvalidationsTotal tracks invalidations by origin
	RegistryInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eav",
			Subsystem: "registry",
			Name:      "invalidations_total",
			Help:      "Total number of metadata cache invalidations",
		},
		[]string{"origin"},
	)

	// CommandsTotal tracks lifecycle commands by kind and status
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eav",
			Subsystem: "lifecycle",
			Name:      "commands_total",
			Help:      "Total number of mutation commands by kind and status",
		},
		[]string{"kind", "status"},
	)

	// CommandDuration tracks lifecycle command duration
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eav",
			Subsystem: "lifecycle",
			Name:      "command_duration_seconds",
			Help:      "Duration of mutation commands in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"kind"},
	)

	// CompoundRecomputesTotal tracks compound values written by recomputation
	CompoundRecomputesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "eav",
			Subsystem: "compound",
			Name:      "recomputes_total",
			Help:      "Total number of compound values recomputed",
		},
	)

	// EventsPublishedTotal tracks change events handed to the publisher
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eav",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of change events published by type and status",
		},
		[]string{"type", "status"},
	)
)

// RecordRegistryLookup records a cache hit or miss
func RecordRegistryLookup(hit bool) {
	if hit {
		RegistryLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	RegistryLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordCommand records a lifecycle command outcome
func RecordCommand(kind, status string, durationSeconds float64) {
	CommandsTotal.WithLabelValues(kind, status).Inc()
	CommandDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordEvent records a change event publish attempt
func RecordEvent(eventType, status string) {
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}
