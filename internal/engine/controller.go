package engine

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/miradorstack/agentic-reviewer/internal/metrics"
	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const (
	defaultMaxConcurrent = 5
	defaultBatchSize     = 10
)

// WorkFunc reviews one sample.
type WorkFunc func(ctx context.Context, sample models.Sample) (models.ReviewResult, error)

// Outcome pairs a sample with what happened to it. Err is set when work
// returned an error or the sample was never dispatched.
type Outcome struct {
	Sample models.Sample
	Result models.ReviewResult
	Err    error
}

// ControllerConfig bounds how work is fanned out.
type ControllerConfig struct {
	// MaxConcurrent caps simultaneous work calls across every Run sharing the controller.
	MaxConcurrent int
	// BatchSize is how many samples are dispatched before waiting for the batch to drain.
	BatchSize int
}

// Controller runs work over samples in sequential batches while keeping at
// most MaxConcurrent calls in flight.
type Controller struct {
	logger    *slog.Logger
	sem       *semaphore.Weighted
	limit     int
	batchSize int
}

// NewController constructs a Controller; non-positive settings fall back to defaults.
func NewController(logger *slog.Logger, cfg ControllerConfig) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Controller{
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limit:     cfg.MaxConcurrent,
		batchSize: cfg.BatchSize,
	}
}

// MaxConcurrent reports the concurrency limit.
func (c *Controller) MaxConcurrent() int { return c.limit }

// BatchSize reports the batch size.
func (c *Controller) BatchSize() int { return c.batchSize }

// Run returns exactly one Outcome per sample, index-aligned with samples.
// Samples not yet dispatched when ctx ends fail with a timeout AgentError.
func (c *Controller) Run(ctx context.Context, samples []models.Sample, work WorkFunc) []Outcome {
	outcomes := make([]Outcome, len(samples))
	for i := range samples {
		outcomes[i].Sample = samples[i]
	}

	for start := 0; start < len(samples); start += c.batchSize {
		end := min(start+c.batchSize, len(samples))
		var g errgroup.Group
		for i := start; i < end; i++ {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				outcomes[i].Err = notDispatched(err)
				continue
			}
			g.Go(func() error {
				defer c.sem.Release(1)
				metrics.InFlightInc()
				defer metrics.InFlightDec()

				res, err := work(ctx, samples[i])
				outcomes[i].Result = res
				outcomes[i].Err = err
				return nil
			})
		}
		_ = g.Wait()
		c.logger.Debug("batch complete", slog.Int("from", start), slog.Int("to", end), slog.Int("total", len(samples)))
	}
	return outcomes
}

func notDispatched(err error) *models.AgentError {
	if errors.Is(err, context.Canceled) {
		return models.NewAgentError(models.AgentUnreachable, "pass canceled before dispatch", err)
	}
	return models.NewAgentError(models.AgentTimeout, "pass deadline exceeded before dispatch", err)
}
