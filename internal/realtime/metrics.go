package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "solace_client",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Open realtime WebSocket connections served.",
	})

	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "solace_client",
		Subsystem: "realtime",
		Name:      "frames_sent_total",
		Help:      "Change frames written to realtime clients.",
	})
)
