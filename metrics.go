package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace_client",
			Name:      "selections_total",
			Help:      "Active conversation changes.",
		},
		[]string{"shard"},
	)

	exportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solace_client",
		Name:      "exports_total",
		Help:      "Conversations exported to Markdown.",
	})
)
