package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request-level metrics
	EstimateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "estimate_requests_total",
		Help:      "Total estimate requests received",
	}, []string{"status"}) // "ok", "invalid", "member_not_found", "error"

	EstimateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carecost",
		Name:      "estimate_duration_seconds",
		Help:      "End-to-end estimate request latency",
		Buckets:   prometheus.DefBuckets,
	})

	ProvidersPerRequest = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carecost",
		Name:      "providers_per_request",
		Help:      "Number of providers per estimate request",
		Buckets:   []float64{1, 2, 5, 10, 20, 50},
	})

	ProviderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "provider_failures_total",
		Help:      "Providers excluded from a response after a per-provider failure",
	}, []string{"reason"})

	// Engine metrics
	CandidatesEvaluated = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carecost",
		Name:      "engine_candidates_evaluated",
		Help:      "Candidate benefits evaluated per provider",
		Buckets:   []float64{1, 2, 4, 8, 16, 32},
	})

	EngineFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "engine_failures_total",
		Help:      "Candidate evaluations that failed with a configuration error",
	})

	// Upstream source metrics
	SourceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "source_requests_total",
		Help:      "Calls to upstream benefit/accumulator sources",
	}, []string{"source", "outcome"}) // outcome: "ok", "retry", "error"

	SourceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "carecost",
		Name:      "source_duration_seconds",
		Help:      "Upstream source call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})

	SourceBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "carecost",
		Name:      "source_breaker_open",
		Help:      "Set to 1 while the circuit breaker for a source is open",
	}, []string{"source"})

	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "token_refresh_total",
		Help:      "OAuth token refreshes",
	}, []string{"outcome"}) // "ok", "error"

	// Rate store metrics
	RateLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "rate_lookups_total",
		Help:      "Negotiated rate lookups by hierarchy level that answered",
	}, []string{"level"}) // "claim", "provider", "contract", "default", "miss"

	RateCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "rate_cache_hits_total",
		Help:      "Negotiated rate lookups served from the in-memory cache",
	})

	RateCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "rate_cache_misses_total",
		Help:      "Negotiated rate lookups that fell through to SQLite",
	})

	// Reference data metrics
	RefdataRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "refdata_refresh_total",
		Help:      "Reference data refresh runs",
	}, []string{"dataset", "outcome"})

	RefdataLastRefresh = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "carecost",
		Name:      "refdata_last_refresh_timestamp",
		Help:      "Unix timestamp of the last successful reference data refresh",
	}, []string{"dataset"})

	// Audit writer metrics
	AuditWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "audit_writes_total",
		Help:      "Estimate audit rows written",
	})

	AuditDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carecost",
		Name:      "audit_drops_total",
		Help:      "Estimate audit rows dropped because the write queue was full",
	})
)
