package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/agentic-reviewer/internal/cache"
	"github.com/miradorstack/agentic-reviewer/internal/engine"
	"github.com/miradorstack/agentic-reviewer/internal/insights"
	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/selector"
	"github.com/miradorstack/agentic-reviewer/internal/utils"
)

var (
	// ErrInvalidRequest marks malformed transport input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrHistoryDisabled is returned by History when no store is configured.
	ErrHistoryDisabled = errors.New("review history is not configured")
)

// Reviewer runs reviews; *engine.Orchestrator satisfies it.
type Reviewer interface {
	RunReview(ctx context.Context, samples []models.Sample, strategy models.SelectionStrategy, mode models.AgentMode) ([]models.ReviewResult, error)
	ReviewSample(ctx context.Context, sample models.Sample, mode models.AgentMode) (models.ReviewResult, error)
}

// HistoryRepo persists and lists reviews and pass summaries.
type HistoryRepo interface {
	Save(ctx context.Context, passID string, mode models.AgentMode, results []models.ReviewResult) error
	ListBySample(ctx context.Context, sampleID string, limit int) ([]models.ReviewRecord, error)
	LoadSummary(ctx context.Context, passID string) (models.PassSummary, error)
}

// CacheAdmin reports on and invalidates the response cache.
type CacheAdmin interface {
	Stats() models.CacheStats
	Delete(ctx context.Context, key string) error
	Purge()
}

// Options carries service defaults.
type Options struct {
	DefaultMode     models.AgentMode
	DefaultStrategy models.SelectionStrategy
	Provider        string
	Model           string
	// MaxBatchSamples rejects larger batch requests. Zero means unlimited.
	MaxBatchSamples int
}

// HealthStatus describes the service without calling the backend.
type HealthStatus struct {
	Status         string               `json:"status"`
	Provider       string               `json:"provider"`
	Model          string               `json:"model"`
	DefaultMode    models.AgentMode     `json:"default_mode"`
	CacheEnabled   bool                 `json:"cache_enabled"`
	Cache          models.CacheStats    `json:"cache"`
	HistoryEnabled bool                 `json:"history_enabled"`
	Latency        utils.LatencySummary `json:"latency"`
}

// ReviewService is the transport-neutral facade over the review engine.
type ReviewService struct {
	logger    *slog.Logger
	reviewer  Reviewer
	history   HistoryRepo
	cache     CacheAdmin
	miner     *insights.Miner
	opts      Options
	latencies *utils.LatencyTracker
	newID     func() string
}

// NewReviewService constructs the service. history, cache and miner are optional.
func NewReviewService(logger *slog.Logger, reviewer Reviewer, history HistoryRepo, cache CacheAdmin, miner *insights.Miner, opts Options) *ReviewService {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.DefaultMode.Valid() {
		opts.DefaultMode = models.ModeUnified
	}
	if opts.DefaultStrategy.Kind == "" {
		opts.DefaultStrategy = models.All()
	}
	if miner == nil {
		miner = insights.NewMiner(logger, nil)
	}
	return &ReviewService{
		logger:    logger,
		reviewer:  reviewer,
		history:   history,
		cache:     cache,
		miner:     miner,
		opts:      opts,
		latencies: utils.NewLatencyTracker(1024),
		newID:     uuid.NewString,
	}
}

// Review reviews a single sample. Failed reviews are returned as results
// with Success=false, not as errors.
func (s *ReviewService) Review(ctx context.Context, req models.ReviewRequest) (models.ReviewResult, error) {
	if err := req.Validate(); err != nil {
		return models.ReviewResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	mode, _ := models.ParseAgentMode(req.Mode, s.opts.DefaultMode)

	sample := models.Sample{
		ID:             strings.TrimSpace(req.SampleID),
		Text:           req.Text,
		PredictedLabel: strings.TrimSpace(req.PredictedLabel),
		Confidence:     req.Confidence,
	}
	if sample.ID == "" {
		sample.ID = s.newID()
	}

	start := time.Now()
	res, err := s.reviewer.ReviewSample(ctx, sample, mode)
	if err != nil {
		return models.ReviewResult{}, s.mapEngineError("review", err)
	}
	s.observe(time.Since(start))
	s.persist(ctx, s.newID(), mode, []models.ReviewResult{res})
	return res, nil
}

// ReviewBatch runs one review pass over req.Samples.
func (s *ReviewService) ReviewBatch(ctx context.Context, req models.BatchReviewRequest) (models.BatchReviewResponse, error) {
	samples, err := s.normaliseSamples(req.Samples)
	if err != nil {
		return models.BatchReviewResponse{}, err
	}
	strategy := s.opts.DefaultStrategy
	if strings.TrimSpace(req.Strategy.Kind) != "" {
		strategy, err = models.ParseStrategy(req.Strategy.Kind, req.Strategy.Threshold, req.Strategy.Count, req.Strategy.Seed)
		if err != nil {
			return models.BatchReviewResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	mode, err := models.ParseAgentMode(req.Mode, s.opts.DefaultMode)
	if err != nil {
		return models.BatchReviewResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	passID := s.newID()
	resp := models.BatchReviewResponse{
		PassID:   passID,
		Strategy: strategy.String(),
		Mode:     mode,
	}

	start := time.Now()
	results, err := s.reviewer.RunReview(ctx, samples, strategy, mode)
	var orchErr *models.OrchestrationError
	switch {
	case errors.As(err, &orchErr):
		resp.Notice = orchErr.Error()
	case err != nil:
		return models.BatchReviewResponse{}, s.mapEngineError("review batch", err)
	}
	if results == nil {
		results = []models.ReviewResult{}
	}
	if len(results) > 0 {
		s.observe(time.Since(start))
	}

	resp.Results = results
	resp.Selection = selector.ComputeStats(samples, reviewed(samples, results))
	resp.Summary = s.miner.Mine(ctx, passID, samples, results)
	s.persist(ctx, passID, mode, results)

	s.logger.Info("batch review complete",
		slog.String("pass_id", passID),
		slog.String("strategy", resp.Strategy),
		slog.Int("selected", resp.Selection.Selected),
		slog.Int("failed", resp.Summary.Failed),
	)
	return resp, nil
}

// CacheStats reports response cache statistics; zero when caching is off.
func (s *ReviewService) CacheStats() models.CacheStats {
	if s.cache == nil {
		return models.CacheStats{}
	}
	return s.cache.Stats()
}

// History lists stored reviews of sampleID, newest first.
func (s *ReviewService) History(ctx context.Context, sampleID string, limit int) ([]models.ReviewRecord, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	if strings.TrimSpace(sampleID) == "" {
		return nil, fmt.Errorf("%w: sample id is required", ErrInvalidRequest)
	}
	records, err := s.history.ListBySample(ctx, sampleID, limit)
	if err != nil {
		return nil, utils.NewAppError("history", "list "+sampleID, err)
	}
	if records == nil {
		records = []models.ReviewRecord{}
	}
	return records, nil
}

// Health reports configuration and cache state.
func (s *ReviewService) Health() HealthStatus {
	return HealthStatus{
		Status:         "ok",
		Provider:       s.opts.Provider,
		Model:          s.opts.Model,
		DefaultMode:    s.opts.DefaultMode,
		CacheEnabled:   s.cache != nil,
		Cache:          s.CacheStats(),
		HistoryEnabled: s.history != nil,
		Latency:        s.latencies.Summary(),
	}
}

// Summary returns the stored summary of a batch pass.
func (s *ReviewService) Summary(ctx context.Context, passID string) (models.PassSummary, error) {
	if s.history == nil {
		return models.PassSummary{}, ErrHistoryDisabled
	}
	if strings.TrimSpace(passID) == "" {
		return models.PassSummary{}, fmt.Errorf("%w: pass id is required", ErrInvalidRequest)
	}
	summary, err := s.history.LoadSummary(ctx, passID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.PassSummary{}, err
		}
		return models.PassSummary{}, utils.NewAppError("summary", "load "+passID, err)
	}
	return summary, nil
}

// Invalidate drops the cached review for req so the next identical request
// reaches the backend. It reports whether caching is enabled.
func (s *ReviewService) Invalidate(ctx context.Context, req models.ReviewRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if s.cache == nil {
		return false, nil
	}
	mode, _ := models.ParseAgentMode(req.Mode, s.opts.DefaultMode)
	key := cache.Fingerprint(req.Text, strings.TrimSpace(req.PredictedLabel), req.Confidence, mode)
	if err := s.cache.Delete(ctx, key); err != nil {
		return true, utils.NewAppError("invalidate", "delete cache entry", err)
	}
	return true, nil
}

// PurgeCache drops every local cache entry.
func (s *ReviewService) PurgeCache() {
	if s.cache == nil {
		return
	}
	s.cache.Purge()
	s.logger.Info("response cache purged")
}

func (s *ReviewService) normaliseSamples(in []models.Sample) ([]models.Sample, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: samples are required", ErrInvalidRequest)
	}
	if s.opts.MaxBatchSamples > 0 && len(in) > s.opts.MaxBatchSamples {
		return nil, fmt.Errorf("%w: %d samples exceeds limit of %d", ErrInvalidRequest, len(in), s.opts.MaxBatchSamples)
	}
	out := make([]models.Sample, len(in))
	seen := make(map[string]int, len(in))
	var errs []error
	for i, sample := range in {
		sample.ID = strings.TrimSpace(sample.ID)
		if sample.ID == "" {
			sample.ID = s.newID()
		}
		if prev, ok := seen[sample.ID]; ok {
			errs = append(errs, fmt.Errorf("samples[%d]: duplicate id %q (also samples[%d])", i, sample.ID, prev))
		}
		seen[sample.ID] = i
		if strings.TrimSpace(sample.Text) == "" {
			errs = append(errs, fmt.Errorf("samples[%d]: text is required", i))
		}
		if strings.TrimSpace(sample.PredictedLabel) == "" {
			errs = append(errs, fmt.Errorf("samples[%d]: pred_label is required", i))
		}
		if sample.Confidence < 0 || sample.Confidence > 1 {
			errs = append(errs, fmt.Errorf("samples[%d]: confidence %v outside [0,1]", i, sample.Confidence))
		}
		out[i] = sample
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return out, nil
}

func (s *ReviewService) mapEngineError(op string, err error) error {
	var invalid *models.InvalidStrategyError
	if errors.As(err, &invalid) || errors.Is(err, engine.ErrInvalidMode) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	s.logger.Error(op+" failed", slog.Any("error", err))
	return utils.NewAppError(op, "engine failure", err)
}

func (s *ReviewService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("review latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func (s *ReviewService) persist(ctx context.Context, passID string, mode models.AgentMode, results []models.ReviewResult) {
	if s.history == nil || len(results) == 0 {
		return
	}
	if err := s.history.Save(ctx, passID, mode, results); err != nil {
		s.logger.Warn("review history save failed", slog.String("pass_id", passID), slog.Any("error", err))
	}
}

// reviewed returns the samples results refer to, in result order.
func reviewed(samples []models.Sample, results []models.ReviewResult) []models.Sample {
	byID := make(map[string]models.Sample, len(samples))
	for _, sample := range samples {
		byID[sample.ID] = sample
	}
	out := make([]models.Sample, 0, len(results))
	for _, res := range results {
		if sample, ok := byID[res.SampleID]; ok {
			out = append(out, sample)
		}
	}
	return out
}
