package devbackend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solace",
		Subsystem: "devbackend",
		Name:      "chat_requests_total",
		Help:      "Chat messages accepted.",
	})

	repliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solace",
			Subsystem: "devbackend",
			Name:      "replies_total",
			Help:      "Replies written back to the store, by outcome.",
		},
		[]string{"outcome"},
	)

	extractTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solace",
		Subsystem: "devbackend",
		Name:      "extractions_total",
		Help:      "Documents converted to text.",
	})
)
