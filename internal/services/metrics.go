package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recompute_total",
		Help: "Total number of aggregate recomputations, by target kind.",
	}, []string{"target"})

	recomputeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_recompute_failures_total",
		Help: "Recomputations that failed after the primary write, by target kind.",
	}, []string{"target"})

	recomputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_recompute_duration_seconds",
		Help:    "Latency of full aggregate recomputation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"target"})
)
