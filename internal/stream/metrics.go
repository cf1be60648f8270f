package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Changes delivered by live subscriptions.",
		},
		[]string{"table", "op"},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Subscriptions re-established after being lost.",
		},
		[]string{"table"},
	)

	subscribeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "stream",
			Name:      "subscribe_failures_total",
			Help:      "Failed subscribe attempts.",
		},
		[]string{"table"},
	)
)
