package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/agentic-reviewer/internal/cache"
	"github.com/miradorstack/agentic-reviewer/internal/engine"
	"github.com/miradorstack/agentic-reviewer/internal/insights"
	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/store"
)

// relabelGateway disagrees with every Access Request and agrees otherwise.
type relabelGateway struct {
	mu    sync.Mutex
	calls int
}

func (g *relabelGateway) Review(ctx context.Context, s models.Sample, mode models.AgentMode) (models.ReviewResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	tokens := 12
	if s.PredictedLabel == "Access Request" {
		return models.ReviewResult{
			Verdict:        models.VerdictDisagree,
			Reasoning:      "asks for erasure",
			SuggestedLabel: models.StringPtr("Deletion Request"),
			Explanation:    "The user wants data removed.",
			Metadata:       models.ReviewMetadata{TokensUsed: &tokens},
		}, nil
	}
	return models.ReviewResult{Verdict: models.VerdictAgree, Reasoning: "fits", Explanation: "fits", Metadata: models.ReviewMetadata{TokensUsed: &tokens}}, nil
}

type historyStub struct {
	saved map[string][]models.ReviewResult
	err   error
}

func (h *historyStub) Save(ctx context.Context, passID string, mode models.AgentMode, results []models.ReviewResult) error {
	if h.saved == nil {
		h.saved = map[string][]models.ReviewResult{}
	}
	h.saved[passID] = append(h.saved[passID], results...)
	return h.err
}

func (h *historyStub) ListBySample(ctx context.Context, sampleID string, limit int) ([]models.ReviewRecord, error) {
	return nil, h.err
}

func (h *historyStub) LoadSummary(ctx context.Context, passID string) (models.PassSummary, error) {
	if h.err != nil {
		return models.PassSummary{}, h.err
	}
	return models.PassSummary{}, fmt.Errorf("pass %s: %w", passID, models.ErrNotFound)
}

func newService(t *testing.T, history HistoryRepo) (*ReviewService, *relabelGateway, *cache.ResponseCache) {
	t.Helper()
	gw := &relabelGateway{}
	rc, err := cache.NewResponseCache(cache.ResponseConfig{DefaultTTL: time.Hour, MaxEntries: 100})
	require.NoError(t, err)
	orch := engine.NewOrchestrator(nil, gw, rc, engine.NewController(nil, engine.ControllerConfig{MaxConcurrent: 2, BatchSize: 2}), engine.Options{})
	svc := NewReviewService(nil, orch, history, rc, nil, Options{
		DefaultMode:     models.ModeUnified,
		DefaultStrategy: models.LowConfidence(0.8),
		Provider:        "ollama",
		Model:           "mistral",
		MaxBatchSamples: 10,
	})
	next := 0
	svc.newID = func() string {
		next++
		return fmt.Sprintf("id-%d", next)
	}
	return svc, gw, rc
}

func TestReviewAssignsSampleIDAndPersists(t *testing.T) {
	history := &historyStub{}
	svc, _, _ := newService(t, history)

	res, err := svc.Review(context.Background(), models.ReviewRequest{Text: "Delete my data", PredictedLabel: "Access Request", Confidence: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.SampleID)
	assert.Equal(t, models.VerdictDisagree, res.Verdict)
	assert.True(t, res.Success)
	require.Len(t, history.saved["id-2"], 1)
}

func TestReviewSecondRequestIsCached(t *testing.T) {
	svc, gw, _ := newService(t, nil)
	req := models.ReviewRequest{Text: "Delete my data", PredictedLabel: "Access Request", Confidence: 0.8, SampleID: "s1"}

	_, err := svc.Review(context.Background(), req)
	require.NoError(t, err)
	res, err := svc.Review(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Metadata.Cached)
	assert.Equal(t, 1, gw.calls)
	stats := svc.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestReviewRejectsInvalidRequests(t *testing.T) {
	svc, gw, _ := newService(t, nil)
	for name, req := range map[string]models.ReviewRequest{
		"no text":    {PredictedLabel: "Complaint", Confidence: 0.5},
		"no label":   {Text: "x", Confidence: 0.5},
		"confidence": {Text: "x", PredictedLabel: "Complaint", Confidence: 1.2},
		"mode":       {Text: "x", PredictedLabel: "Complaint", Confidence: 0.5, Mode: "committee"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Review(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Zero(t, gw.calls)
}

func TestReviewBatch(t *testing.T) {
	history := &historyStub{}
	svc, _, _ := newService(t, history)

	resp, err := svc.ReviewBatch(context.Background(), models.BatchReviewRequest{
		Samples: []models.Sample{
			{ID: "a", Text: "Delete everything", PredictedLabel: "Access Request", Confidence: 0.3},
			{ID: "b", Text: "What do you hold?", PredictedLabel: "Access Request", Confidence: 0.9},
			{ID: "c", Text: "Your service is awful", PredictedLabel: "Complaint", Confidence: 0.5},
		},
		Mode: "specialist",
	})
	require.NoError(t, err)

	assert.Equal(t, "id-1", resp.PassID)
	assert.Equal(t, models.ModeSpecialist, resp.Mode)
	assert.Equal(t, "low_confidence(threshold=0.8)", resp.Strategy)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].SampleID)
	assert.Equal(t, "c", resp.Results[1].SampleID)

	assert.Equal(t, 3, resp.Selection.Original)
	assert.Equal(t, 2, resp.Selection.Selected)
	assert.InDelta(t, 0.4, resp.Selection.AvgConfidenceSelected, 1e-9)

	assert.Equal(t, 2, resp.Summary.Succeeded)
	require.Len(t, resp.Summary.Relabels, 1)
	assert.Equal(t, "Deletion Request", resp.Summary.Relabels[0].To)
	assert.Len(t, history.saved["id-1"], 2)
	assert.Empty(t, resp.Notice)
}

func TestReviewBatchEmptySelectionIsNotice(t *testing.T) {
	svc, gw, _ := newService(t, nil)
	resp, err := svc.ReviewBatch(context.Background(), models.BatchReviewRequest{
		Samples:  []models.Sample{{ID: "a", Text: "x", PredictedLabel: "Complaint", Confidence: 0.95}},
		Strategy: models.StrategyRequest{Kind: "low_confidence", Threshold: 0.5},
	})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.NotEmpty(t, resp.Notice)
	assert.Equal(t, 0, resp.Selection.Selected)
	assert.Zero(t, gw.calls)
}

func TestReviewBatchRejectsInvalidInput(t *testing.T) {
	svc, gw, _ := newService(t, nil)
	valid := []models.Sample{{ID: "a", Text: "x", PredictedLabel: "Complaint", Confidence: 0.2}}
	cases := map[string]models.BatchReviewRequest{
		"no samples": {},
		"strategy":   {Samples: valid, Strategy: models.StrategyRequest{Kind: "random", Count: -1}},
		"unknown":    {Samples: valid, Strategy: models.StrategyRequest{Kind: "best"}},
		"mode":       {Samples: valid, Mode: "committee"},
		"duplicate":  {Samples: append(valid, valid[0])},
		"confidence": {Samples: []models.Sample{{ID: "a", Text: "x", PredictedLabel: "Complaint", Confidence: -1}}},
		"too many":   {Samples: make([]models.Sample, 11)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ReviewBatch(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	_, err := svc.ReviewBatch(context.Background(), cases["strategy"])
	var invalid *models.InvalidStrategyError
	assert.ErrorAs(t, err, &invalid)
	assert.Zero(t, gw.calls)
}

func TestHistory(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, err := svc.History(context.Background(), "a", 10)
	assert.ErrorIs(t, err, ErrHistoryDisabled)

	db, err := store.NewResultStore(filepath.Join(t.TempDir(), "reviews.db"), nil)
	require.NoError(t, err)
	defer db.Close()
	svc, _, _ = newService(t, db)

	_, err = svc.Review(context.Background(), models.ReviewRequest{Text: "Delete my data", PredictedLabel: "Access Request", Confidence: 0.4, SampleID: "s9"})
	require.NoError(t, err)
	records, err := svc.History(context.Background(), "s9", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.VerdictDisagree, records[0].Result.Verdict)

	_, err = svc.History(context.Background(), " ", 5)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	failing := &historyStub{err: errors.New("locked")}
	svc, _, _ = newService(t, failing)
	_, err = svc.History(context.Background(), "s9", 5)
	assert.Error(t, err)
	_, err = svc.Review(context.Background(), models.ReviewRequest{Text: "x", PredictedLabel: "Complaint", Confidence: 0.4})
	assert.NoError(t, err, "history failures must not fail reviews")
}

func TestHealth(t *testing.T) {
	svc, _, _ := newService(t, nil)
	health := svc.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "mistral", health.Model)
	assert.Equal(t, models.ModeUnified, health.DefaultMode)
	assert.True(t, health.CacheEnabled)
	assert.False(t, health.HistoryEnabled)

	bare := NewReviewService(nil, nil, nil, nil, nil, Options{})
	assert.Equal(t, models.CacheStats{}, bare.CacheStats())
	assert.False(t, bare.Health().CacheEnabled)
}

func TestSummaryRoundTrip(t *testing.T) {
	db, err := store.NewResultStore(filepath.Join(t.TempDir(), "reviews.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	orch := engine.NewOrchestrator(nil, &relabelGateway{}, nil, nil, engine.Options{})
	svc := NewReviewService(nil, orch, db, nil, insights.NewMiner(nil, db), Options{DefaultStrategy: models.All()})

	resp, err := svc.ReviewBatch(context.Background(), models.BatchReviewRequest{Samples: []models.Sample{
		{ID: "a", Text: "Delete everything", PredictedLabel: "Access Request", Confidence: 0.3},
		{ID: "b", Text: "Not happy", PredictedLabel: "Complaint", Confidence: 0.6},
	}})
	require.NoError(t, err)

	summary, err := svc.Summary(context.Background(), resp.PassID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Verdicts[models.VerdictDisagree])

	_, err = svc.Summary(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.Summary(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bare, _, _ := newService(t, nil)
	_, err = bare.Summary(context.Background(), resp.PassID)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}

func TestInvalidateForcesFreshReview(t *testing.T) {
	svc, gw, rc := newService(t, nil)
	req := models.ReviewRequest{Text: "Delete my data", PredictedLabel: " Access Request ", Confidence: 0.8}

	_, err := svc.Review(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, rc.Stats().Entries)

	enabled, err := svc.Invalidate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 0, rc.Stats().Entries)

	_, err = svc.Review(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.calls)

	_, err = svc.Invalidate(context.Background(), models.ReviewRequest{Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPurgeCache(t *testing.T) {
	svc, _, rc := newService(t, nil)
	_, err := svc.ReviewBatch(context.Background(), models.BatchReviewRequest{
		Samples:  []models.Sample{{ID: "a", Text: "x", PredictedLabel: "Complaint", Confidence: 0.2}, {ID: "b", Text: "y", PredictedLabel: "Complaint", Confidence: 0.2}},
		Strategy: models.StrategyRequest{Kind: "all"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, rc.Stats().Entries)

	svc.PurgeCache()
	assert.Zero(t, rc.Stats().Entries)

	bare := NewReviewService(nil, nil, nil, nil, nil, Options{})
	bare.PurgeCache()
	enabled, err := bare.Invalidate(context.Background(), models.ReviewRequest{Text: "x", PredictedLabel: "Complaint", Confidence: 0.1})
	require.NoError(t, err)
	assert.False(t, enabled)
}
