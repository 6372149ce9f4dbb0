package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/agentic-reviewer/internal/cache"
	"github.com/miradorstack/agentic-reviewer/internal/metrics"
	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/selector"
)

// ErrInvalidMode rejects an unknown agent mode before any dispatch.
var ErrInvalidMode = errors.New("invalid agent mode")

// Gateway reviews a single sample. Errors are expected to be *models.AgentError.
type Gateway interface {
	Review(ctx context.Context, sample models.Sample, mode models.AgentMode) (models.ReviewResult, error)
}

// ResultCache stores successful reviews by fingerprint.
type ResultCache interface {
	Get(ctx context.Context, key string) (models.ReviewResult, bool, error)
	Set(ctx context.Context, key string, value models.ReviewResult, ttl time.Duration) error
}

// Options tunes retries, caching and pass deadlines.
type Options struct {
	// MaxRetries is the number of extra attempts after the first failure.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	CacheTTL       time.Duration
	// PassTimeout bounds a whole RunReview call. Zero disables it.
	PassTimeout time.Duration
	// Sleep waits between attempts; it must return early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator drives samples through selection, the cache, the concurrency
// controller and the gateway, and always yields one result per selected sample.
type Orchestrator struct {
	logger     *slog.Logger
	gateway    Gateway
	cache      ResultCache
	controller *Controller
	selector   *selector.Selector
	opts       Options
	inflight   singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	seq     uint64
}

// flight is the shared lifetime of one coalesced review. Its context is
// detached from every caller and canceled only when the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	key     string
	waiters int
}

// NewOrchestrator constructs an Orchestrator. results may be nil to disable caching.
func NewOrchestrator(logger *slog.Logger, gateway Gateway, results ResultCache, controller *Controller, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if controller == nil {
		controller = NewController(logger, ControllerConfig{})
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(opts.InitialBackoff, 10*time.Second)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Orchestrator{
		logger:     logger,
		gateway:    gateway,
		cache:      results,
		controller: controller,
		selector:   selector.NewSelector(),
		opts:       opts,
		flights:    make(map[string]*flight),
	}
}

// RunReview selects samples with strategy and reviews them in mode. An
// invalid strategy or mode aborts before any dispatch. An empty selection
// returns an empty slice with an *models.OrchestrationError. Results follow
// selection order.
func (o *Orchestrator) RunReview(ctx context.Context, samples []models.Sample, strategy models.SelectionStrategy, mode models.AgentMode) ([]models.ReviewResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	ctx, span := startPassSpan(ctx, strategy, mode, len(samples))
	defer span.End()
	if o.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.PassTimeout)
		defer cancel()
	}

	start := time.Now()
	selected, err := o.selector.Select(samples, strategy)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		metrics.ObservePass(time.Since(start), len(samples), 0)
		return []models.ReviewResult{}, &models.OrchestrationError{
			Reason: fmt.Sprintf("%s selected none of %d samples", strategy, len(samples)),
			Err:    models.ErrNothingSelected,
		}
	}

	results := make([]models.ReviewResult, len(selected))
	pending := make([]int, 0, len(selected))
	for i, sample := range selected {
		if res, ok := o.lookup(ctx, sample, mode); ok {
			results[i] = res
			continue
		}
		pending = append(pending, i)
	}

	toDispatch := make([]models.Sample, len(pending))
	for j, idx := range pending {
		toDispatch[j] = selected[idx]
	}
	outcomes := o.controller.Run(ctx, toDispatch, func(ctx context.Context, sample models.Sample) (models.ReviewResult, error) {
		return o.dispatch(ctx, sample, mode), nil
	})
	failed := 0
	for j, out := range outcomes {
		res := out.Result
		if out.Err != nil {
			res = o.failure(out.Sample, mode, out.Err, 0, 0)
		}
		if !res.Success {
			failed++
		}
		results[pending[j]] = res
	}

	elapsed := time.Since(start)
	metrics.ObservePass(elapsed, len(samples), len(selected))
	if failed > 0 {
		span.SetStatus(otelcodes.Error, fmt.Sprintf("%d of %d reviews failed", failed, len(selected)))
	}
	o.logger.Info("review pass complete",
		slog.String("strategy", strategy.String()),
		slog.String("mode", string(mode)),
		slog.Int("considered", len(samples)),
		slog.Int("selected", len(selected)),
		slog.Int("cached", len(selected)-len(pending)),
		slog.Int("failed", failed),
		slog.Duration("elapsed", elapsed),
	)
	return results, nil
}

// ReviewSample reviews one sample without selection. It shares the cache and
// the concurrency limit with RunReview.
func (o *Orchestrator) ReviewSample(ctx context.Context, sample models.Sample, mode models.AgentMode) (models.ReviewResult, error) {
	if !mode.Valid() {
		return models.ReviewResult{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if res, ok := o.lookup(ctx, sample, mode); ok {
		return res, nil
	}
	out := o.controller.Run(ctx, []models.Sample{sample}, func(ctx context.Context, s models.Sample) (models.ReviewResult, error) {
		return o.dispatch(ctx, s, mode), nil
	})[0]
	if out.Err != nil {
		return o.failure(sample, mode, out.Err, 0, 0), nil
	}
	return out.Result, nil
}

func (o *Orchestrator) lookup(ctx context.Context, sample models.Sample, mode models.AgentMode) (models.ReviewResult, bool) {
	if o.cache == nil {
		return models.ReviewResult{}, false
	}
	start := time.Now()
	res, ok, err := o.cache.Get(ctx, cache.SampleFingerprint(sample, mode))
	if err != nil {
		metrics.ObserveCacheLookup(metrics.CacheError)
		o.logger.Warn("cache lookup failed, treating as miss", slog.String("sample_id", sample.ID), slog.Any("error", err))
		return models.ReviewResult{}, false
	}
	if !ok {
		metrics.ObserveCacheLookup(metrics.CacheMiss)
		return models.ReviewResult{}, false
	}

	metrics.ObserveCacheLookup(metrics.CacheHit)
	metrics.ObserveReview(string(mode), metrics.OutcomeCached)
	res.SampleID = sample.ID
	res.Metadata.Cached = true
	res.Metadata.WithLatency(time.Since(start))
	return res, true
}

// dispatch coalesces identical in-flight requests, then reviews with retries.
// A caller whose context ends stops waiting without failing the other callers;
// the shared review is canceled once nobody waits for it.
func (o *Orchestrator) dispatch(ctx context.Context, sample models.Sample, mode models.AgentMode) models.ReviewResult {
	key := cache.SampleFingerprint(sample, mode)
	f := o.join(ctx, key)
	ch := o.inflight.DoChan(f.key, func() (any, error) {
		return o.reviewWithRetry(f.ctx, sample, mode), nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
		o.leave(key, f, nil)
	case <-ctx.Done():
		if !o.leave(key, f, context.Cause(ctx)) {
			return o.abandoned(ctx, sample, mode)
		}
		r = <-ch
	}
	res := r.Val.(models.ReviewResult)
	if r.Shared {
		res.SampleID = sample.ID
	}
	return res
}

func (o *Orchestrator) join(ctx context.Context, key string) *flight {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.flights[key]
	if !ok {
		o.seq++
		fctx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel, key: fmt.Sprintf("%s/%d", key, o.seq)}
		o.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops one waiter and reports whether it was the last. The last
// waiter cancels the flight with cause.
func (o *Orchestrator) leave(key string, f *flight, cause error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return false
	}
	f.cancel(cause)
	if o.flights[key] == f {
		delete(o.flights, key)
	}
	return true
}

// abandoned is the result for a caller that gave up on a review other callers
// still wait for.
func (o *Orchestrator) abandoned(ctx context.Context, sample models.Sample, mode models.AgentMode) models.ReviewResult {
	err := context.Cause(ctx)
	kind := models.AgentUnreachable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = models.AgentTimeout
	}
	metrics.ObserveReview(string(mode), metrics.OutcomeError)
	res := o.failure(sample, mode, models.NewAgentError(kind, "stopped waiting for shared review", err), 0, 0)
	res.Reasoning = "review abandoned: " + string(kind)
	return res
}

func (o *Orchestrator) reviewWithRetry(ctx context.Context, sample models.Sample, mode models.AgentMode) models.ReviewResult {
	ctx, span := startSampleSpan(ctx, sample.ID, mode)
	defer span.End()

	start := time.Now()
	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= o.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.ObserveRetry()
			if err := o.opts.Sleep(ctx, o.backoff(attempt)); err != nil {
				break
			}
		}
		attempts++

		res, err := o.gateway.Review(ctx, sample, mode)
		if err == nil {
			res.SampleID = sample.ID
			res.Success = true
			res.Metadata.Attempts = attempts
			res.Metadata.Mode = mode
			if res.Metadata.LatencyMS == nil {
				res.Metadata.WithLatency(time.Since(start))
			}
			reviewedAt := time.Now().UTC()
			res.Metadata.ReviewedAt = &reviewedAt
			o.store(ctx, sample, mode, res)
			metrics.ObserveReview(string(mode), metrics.OutcomeSuccess)
			return res
		}

		lastErr = err
		o.logger.Warn("review attempt failed",
			slog.String("sample_id", sample.ID),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", o.opts.MaxRetries+1),
			slog.Any("error", err),
		)
		if ctx.Err() != nil {
			break
		}
		var agentErr *models.AgentError
		if errors.As(err, &agentErr) && agentErr.Permanent {
			break
		}
	}

	if lastErr == nil {
		lastErr = context.Cause(ctx)
	}
	span.RecordError(lastErr)
	span.SetStatus(otelcodes.Error, "review failed")
	metrics.ObserveReview(string(mode), metrics.OutcomeError)
	return o.failure(sample, mode, lastErr, attempts, time.Since(start))
}

func (o *Orchestrator) store(ctx context.Context, sample models.Sample, mode models.AgentMode, res models.ReviewResult) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Set(ctx, cache.SampleFingerprint(sample, mode), res, o.opts.CacheTTL); err != nil {
		o.logger.Warn("cache store failed", slog.String("sample_id", sample.ID), slog.Any("error", err))
	}
}

// failure renders a terminal error as an unsuccessful result.
func (o *Orchestrator) failure(sample models.Sample, mode models.AgentMode, err error, attempts int, elapsed time.Duration) models.ReviewResult {
	kind := "error"
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	var agentErr *models.AgentError
	if errors.As(err, &agentErr) {
		kind = string(agentErr.Kind)
	}

	reasoning := fmt.Sprintf("review failed after %d attempt(s): %s", attempts, kind)
	if attempts == 0 {
		reasoning = "review was not dispatched: " + kind
	}
	res := models.ReviewResult{
		SampleID:    sample.ID,
		Verdict:     models.VerdictUncertain,
		Reasoning:   reasoning,
		Explanation: detail,
		Success:     false,
		Metadata: models.ReviewMetadata{
			Attempts: attempts,
			Mode:     mode,
		},
	}
	res.Metadata.WithLatency(elapsed)
	return res
}

// backoff doubles from InitialBackoff for each retry, capped at MaxBackoff.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	d := o.opts.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.opts.MaxBackoff {
			return o.opts.MaxBackoff
		}
	}
	return min(d, o.opts.MaxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
