package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miradorstack/agentic-reviewer/internal/llm"
	"github.com/miradorstack/agentic-reviewer/internal/metrics"
	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const tracerName = "agentic-reviewer/agents"

const defaultCallTimeout = 60 * time.Second

// GatewayOptions tunes a Gateway.
type GatewayOptions struct {
	// CallTimeout bounds one Review call, including every specialist step.
	CallTimeout time.Duration
	Settings    Settings
}

// Gateway is the single entry point for agent reviews. Every error it returns
// is a *models.AgentError.
type Gateway struct {
	logger      *slog.Logger
	agents      map[models.AgentMode]Agent
	callTimeout time.Duration
	info        llm.Info
}

// NewGateway wires the unified and specialist agents over one backend.
func NewGateway(logger *slog.Logger, completer llm.Completer, catalog *LabelCatalog, opts GatewayOptions) *Gateway {
	return NewGatewayWithAgents(logger, map[models.AgentMode]Agent{
		models.ModeUnified:    NewUnifiedAgent(completer, catalog, opts.Settings),
		models.ModeSpecialist: NewSpecialistAgent(completer, catalog, opts.Settings),
	}, completer.Info(), opts.CallTimeout)
}

// NewGatewayWithAgents builds a gateway over explicit agents.
func NewGatewayWithAgents(logger *slog.Logger, agents map[models.AgentMode]Agent, info llm.Info, callTimeout time.Duration) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Gateway{logger: logger, agents: agents, callTimeout: callTimeout, info: info}
}

// Info identifies the backend behind the gateway.
func (g *Gateway) Info() llm.Info {
	return g.info
}

type agentReply struct {
	out Outcome
	err error
}

// Review runs the agent for mode against sample. The call is abandoned when
// the per-call timeout or ctx expires, even if the backend keeps running.
func (g *Gateway) Review(ctx context.Context, sample models.Sample, mode models.AgentMode) (models.ReviewResult, error) {
	agent, ok := g.agents[mode]
	if !ok {
		return models.ReviewResult{}, models.NewAgentError(models.AgentUnreachable, fmt.Sprintf("no agent for mode %q", mode), nil)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.review",
		trace.WithAttributes(
			attribute.String("sample.id", sample.ID),
			attribute.String("agent.mode", string(mode)),
			attribute.String("llm.model", g.info.Model),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan agentReply, 1)
	go func() {
		out, err := agent.Review(callCtx, sample)
		done <- agentReply{out: out, err: err}
	}()

	var reply agentReply
	select {
	case reply = <-done:
	case <-callCtx.Done():
		reply.err = context.Cause(callCtx)
	}
	elapsed := time.Since(start)

	if reply.err != nil {
		agentErr := g.classify(reply.err)
		span.RecordError(agentErr)
		span.SetStatus(otelcodes.Error, string(agentErr.Kind))
		metrics.ObserveGatewayCall(string(mode), string(agentErr.Kind), elapsed)
		g.logger.Debug("agent call failed",
			slog.String("sample_id", sample.ID),
			slog.String("mode", string(mode)),
			slog.String("kind", string(agentErr.Kind)),
			slog.Any("error", reply.err),
		)
		return models.ReviewResult{}, agentErr
	}
	metrics.ObserveGatewayCall(string(mode), metrics.OutcomeSuccess, elapsed)
	span.SetAttributes(attribute.Int("llm.tokens", reply.out.TokensUsed))

	model := reply.out.Model
	if model == "" {
		model = g.info.Model
	}
	result := models.ReviewResult{
		SampleID:       sample.ID,
		Verdict:        reply.out.Verdict,
		Reasoning:      reply.out.Reasoning,
		SuggestedLabel: reply.out.SuggestedLabel,
		Explanation:    reply.out.Explanation,
		Success:        true,
		Metadata: models.ReviewMetadata{
			Mode:  mode,
			Model: model,
		},
	}
	if reply.out.TokensUsed > 0 {
		tokens := reply.out.TokensUsed
		result.Metadata.TokensUsed = &tokens
	}
	result.Metadata.WithLatency(elapsed)
	return result, nil
}

func (g *Gateway) classify(err error) *models.AgentError {
	var agentErr *models.AgentError
	if errors.As(err, &agentErr) {
		if err == error(agentErr) {
			return agentErr
		}
		// Keep the step prefix added by the specialist pipeline.
		prefix := strings.TrimSuffix(err.Error(), agentErr.Error())
		wrapped := models.NewAgentError(agentErr.Kind, prefix+agentErr.Detail, agentErr.Err)
		wrapped.Permanent = agentErr.Permanent
		return wrapped
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewAgentError(models.AgentTimeout, fmt.Sprintf("no response within %s", g.callTimeout), err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return models.NewAgentError(models.AgentTimeout, "backend connection timed out", err)
	case errors.Is(err, context.Canceled):
		return models.NewAgentError(models.AgentUnreachable, "call canceled", err)
	case errors.Is(err, llm.ErrEmptyCompletion):
		return models.NewAgentError(models.AgentMalformedOutput, "empty response", err)
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		agentErr := models.NewAgentError(models.AgentUnreachable, fmt.Sprintf("%s returned status %d", statusErr.Provider, statusErr.StatusCode), err)
		agentErr.Permanent = !statusErr.Retryable()
		return agentErr
	}
	return models.NewAgentError(models.AgentUnreachable, "backend call failed", err)
}
