package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flare_request_latency_seconds",
		Help:    "Request latency observed by the interception middleware",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	EntriesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flare_entries_captured_total",
		Help: "Log entries accepted by the capture pipeline",
	}, []string{"level", "event"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flare_queue_depth",
		Help: "Buffered entries awaiting durability (0 for direct-write backends)",
	})

	AlertsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flare_alerts_dispatched_total",
		Help: "Notifier dispatches that passed all alert gates",
	}, []string{"result"})

	FlushCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flare_flush_cycles_total",
		Help: "Completed retention worker flush cycles",
	})
)
