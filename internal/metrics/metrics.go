package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const (
	// OutcomeSuccess labels successful reviews and calls.
	OutcomeSuccess = "success"
	// OutcomeError labels reviews that exhausted their retries.
	OutcomeError = "error"
	// OutcomeCached labels reviews served from the response cache.
	OutcomeCached = "cached"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

const namespace = "agentic_reviewer"

var (
	reviewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reviews_total",
			Help:      "Reviews produced, partitioned by agent mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Agent gateway calls, partitioned by mode and outcome (success or agent error kind).",
		},
		[]string{"mode", "outcome"},
	)

	gatewayCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_seconds",
			Help:      "Agent gateway call latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"mode"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		},
		[]string{"result"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Gateway calls retried after a failure.",
		},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_in_flight",
			Help:      "Gateway calls currently running.",
		},
	)

	passSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_seconds",
			Help:      "Review pass latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	passSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_samples_total",
			Help:      "Samples seen by review passes, split into considered and selected.",
		},
		[]string{"stage"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		reviewsTotal,
		gatewayCallsTotal,
		gatewayCallSeconds,
		cacheLookupsTotal,
		retriesTotal,
		inFlight,
		passSeconds,
		passSamples,
	}
	return registerAll(reg, collectors)
}

// RegisterCacheStats exposes cache statistics as gauges read on scrape.
func RegisterCacheStats(reg prometheus.Registerer, stats func() models.CacheStats) error {
	gauge := func(name, help string, value func(models.CacheStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "cache", Name: name, Help: help},
			func() float64 { return value(stats()) },
		)
	}
	return registerAll(reg, []prometheus.Collector{
		gauge("entries", "Live entries in the response cache.", func(s models.CacheStats) float64 { return float64(s.Entries) }),
		gauge("memory_bytes", "Estimated memory held by the response cache.", func(s models.CacheStats) float64 { return float64(s.MemoryUsageBytes) }),
		gauge("hit_rate", "Response cache hit rate since start.", func(s models.CacheStats) float64 { return s.HitRate }),
	})
}

func registerAll(reg prometheus.Registerer, collectors []prometheus.Collector) error {
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveReview counts a finished review.
func ObserveReview(mode, outcome string) {
	reviewsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveGatewayCall records one gateway call.
func ObserveGatewayCall(mode, outcome string, duration time.Duration) {
	gatewayCallsTotal.WithLabelValues(mode, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	gatewayCallSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache lookup result.
func ObserveCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry counts a retried gateway call.
func ObserveRetry() {
	retriesTotal.Inc()
}

// InFlightInc marks a gateway call as started.
func InFlightInc() { inFlight.Inc() }

// InFlightDec marks a gateway call as finished.
func InFlightDec() { inFlight.Dec() }

// ObservePass records a review pass.
func ObservePass(duration time.Duration, considered, selected int) {
	if duration < 0 {
		duration = 0
	}
	passSeconds.Observe(duration.Seconds())
	passSamples.WithLabelValues("considered").Add(float64(considered))
	passSamples.WithLabelValues("selected").Add(float64(selected))
}
