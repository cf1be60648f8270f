package sender

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "sender",
			Name:      "sends_total",
			Help:      "Outbound messages by outcome.",
		},
		[]string{"outcome"},
	)

	pendingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Subsystem: "sender",
			Name:      "pending_retired_total",
			Help:      "Pending shadows retired, by reason.",
		},
		[]string{"reason"},
	)
)
