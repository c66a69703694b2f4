package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croplens_provider_calls_total",
			Help: "Total imagery provider API calls",
		},
		[]string{"endpoint", "status"},
	)

	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "croplens_provider_call_latency_seconds",
			Help:    "Imagery provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croplens_analyses_total",
			Help: "Completed health analyses by data source",
		},
		[]string{"data_source", "precision_mode"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "croplens_cache_lookups_total",
			Help: "Cache lookups by outcome (hit, miss, stale_fallback)",
		},
		[]string{"outcome"},
	)

	DegradedWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "croplens_degraded_cache_writes_total",
			Help: "Cache writes that fell back to the per-user history collection",
		},
	)
)
