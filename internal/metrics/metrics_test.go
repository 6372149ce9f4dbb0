package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestObserveReviewAndGatewayCall(t *testing.T) {
	before := testutil.ToFloat64(reviewsTotal.WithLabelValues("unified", OutcomeSuccess))
	ObserveReview("unified", OutcomeSuccess)
	if got := testutil.ToFloat64(reviewsTotal.WithLabelValues("unified", OutcomeSuccess)); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	beforeTimeouts := testutil.ToFloat64(gatewayCallsTotal.WithLabelValues("specialist", "timeout"))
	ObserveGatewayCall("specialist", "timeout", -time.Second)
	if got := testutil.ToFloat64(gatewayCallsTotal.WithLabelValues("specialist", "timeout")); got != beforeTimeouts+1 {
		t.Fatalf("expected timeout counter to increase, got %v", got)
	}
}

func TestInFlightGauge(t *testing.T) {
	start := testutil.ToFloat64(inFlight)
	InFlightInc()
	InFlightInc()
	InFlightDec()
	if got := testutil.ToFloat64(inFlight); got != start+1 {
		t.Fatalf("expected %v in flight, got %v", start+1, got)
	}
	InFlightDec()
}

func TestRegisterCacheStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := models.CacheStats{Entries: 3, MemoryUsageBytes: 900, Hits: 1, Misses: 3, HitRate: 0.25}
	if err := RegisterCacheStats(reg, func() models.CacheStats { return stats }); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
	}
	if values["agentic_reviewer_cache_entries"] != 3 {
		t.Fatalf("unexpected entries gauge: %v", values)
	}
	if values["agentic_reviewer_cache_hit_rate"] != 0.25 {
		t.Fatalf("unexpected hit rate gauge: %v", values)
	}
}
