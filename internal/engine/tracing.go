package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const tracerName = "agentic-reviewer/engine"

func startPassSpan(ctx context.Context, strategy models.SelectionStrategy, mode models.AgentMode, samples int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review.pass",
		trace.WithAttributes(
			attribute.String("review.strategy", strategy.String()),
			attribute.String("review.mode", string(mode)),
			attribute.Int("review.samples", samples),
		),
	)
}

func startSampleSpan(ctx context.Context, sampleID string, mode models.AgentMode) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "review.sample",
		trace.WithAttributes(
			attribute.String("sample.id", sampleID),
			attribute.String("review.mode", string(mode)),
		),
	)
}
