package logsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "logsync",
			Name:      "events_applied_total",
			Help:      "Log changes merged into the active conversation.",
		},
		[]string{"op"},
	)

	staleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "logsync",
			Name:      "stale_results_total",
			Help:      "Fetch results and changes discarded because the active conversation changed.",
		},
		[]string{"source"},
	)
)
