package directory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "directory",
			Name:      "events_applied_total",
			Help:      "Conversation changes merged into the directory.",
		},
		[]string{"op"},
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "directory",
			Name:      "mutations_total",
			Help:      "Create, archive and rename requests by outcome.",
		},
		[]string{"op", "outcome"},
	)

	staleTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "directory",
			Name:      "stale_loads_total",
			Help:      "Bulk loads discarded because a newer load superseded them.",
		},
	)
)
