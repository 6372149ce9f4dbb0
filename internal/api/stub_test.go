package api

import (
	"context"
	"fmt"

	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/services"
)

type stubService struct {
	lastReview  models.ReviewRequest
	lastBatch   models.BatchReviewRequest
	reviewErr   error
	historyErr  error
	purged      bool
	invalidated []models.ReviewRequest
}

func (s *stubService) Review(ctx context.Context, req models.ReviewRequest) (models.ReviewResult, error) {
	s.lastReview = req
	if s.reviewErr != nil {
		return models.ReviewResult{}, s.reviewErr
	}
	if err := req.Validate(); err != nil {
		return models.ReviewResult{}, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}
	return models.ReviewResult{
		SampleID:       "s1",
		Verdict:        models.VerdictDisagree,
		Reasoning:      "asks for erasure",
		SuggestedLabel: models.StringPtr("Deletion Request"),
		Explanation:    "The user wants data removed.",
		Success:        true,
	}, nil
}

func (s *stubService) ReviewBatch(ctx context.Context, req models.BatchReviewRequest) (models.BatchReviewResponse, error) {
	s.lastBatch = req
	if req.Strategy.Kind == "best" {
		return models.BatchReviewResponse{}, fmt.Errorf("%w: %w", services.ErrInvalidRequest, &models.InvalidStrategyError{Kind: "best", Reason: "unknown strategy"})
	}
	results := make([]models.ReviewResult, len(req.Samples))
	for i, sample := range req.Samples {
		results[i] = models.ReviewResult{SampleID: sample.ID, Verdict: models.VerdictAgree, Success: true}
	}
	return models.BatchReviewResponse{
		PassID:    "pass-1",
		Strategy:  "all",
		Mode:      models.ModeUnified,
		Selection: models.SelectionStats{Original: len(req.Samples), Selected: len(req.Samples), SelectionRate: 1},
		Results:   results,
		Summary:   models.PassSummary{Total: len(results), Succeeded: len(results), Verdicts: map[models.Verdict]int{models.VerdictAgree: len(results)}},
	}, nil
}

func (s *stubService) CacheStats() models.CacheStats {
	return models.CacheStats{Entries: 2, MemoryUsageBytes: 1024, Hits: 3, Misses: 1, HitRate: 0.75}
}

func (s *stubService) History(ctx context.Context, sampleID string, limit int) ([]models.ReviewRecord, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return []models.ReviewRecord{{PassID: "pass-1", Mode: models.ModeUnified, Result: models.ReviewResult{SampleID: sampleID, Verdict: models.VerdictAgree}}}, nil
}

func (s *stubService) Summary(ctx context.Context, passID string) (models.PassSummary, error) {
	if passID != "pass-1" {
		return models.PassSummary{}, fmt.Errorf("pass %s: %w", passID, models.ErrNotFound)
	}
	return models.PassSummary{Total: 2, Succeeded: 2, Verdicts: map[models.Verdict]int{models.VerdictAgree: 2}}, nil
}

func (s *stubService) Invalidate(ctx context.Context, req models.ReviewRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", services.ErrInvalidRequest, err)
	}
	s.invalidated = append(s.invalidated, req)
	return true, nil
}

func (s *stubService) PurgeCache() { s.purged = true }

func (s *stubService) Health() services.HealthStatus {
	return services.HealthStatus{Status: "ok", Provider: "ollama", Model: "mistral", DefaultMode: models.ModeUnified}
}
