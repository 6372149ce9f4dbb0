package insights

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

// Store abstracts persistence for pass summaries.
type Store interface {
	StoreSummary(ctx context.Context, passID string, summary models.PassSummary) error
}

// Miner aggregates review results into pass summaries and mines the label
// corrections reviewers keep proposing.
type Miner struct {
	store  Store
	logger *slog.Logger
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger}
}

// Mine summarises a pass and persists the summary when a store is configured.
// A store failure is logged, not returned.
func (m *Miner) Mine(ctx context.Context, passID string, samples []models.Sample, results []models.ReviewResult) models.PassSummary {
	summary := Summarize(samples, results)
	if m.store != nil && summary.Total > 0 {
		if err := m.store.StoreSummary(ctx, passID, summary); err != nil {
			m.logger.Warn("pass summary store failed", slog.String("pass_id", passID), slog.Any("error", err))
		}
	}
	return summary
}

// Summarize counts outcomes and verdicts over results. Relabel patterns come
// from Disagree verdicts whose suggested label differs from the sample's
// predicted label; samples are matched to results by ID.
func Summarize(samples []models.Sample, results []models.ReviewResult) models.PassSummary {
	predicted := make(map[string]string, len(samples))
	for _, s := range samples {
		predicted[s.ID] = s.PredictedLabel
	}

	summary := models.PassSummary{
		Total:    len(results),
		Verdicts: make(map[models.Verdict]int),
	}
	relabels := make(map[relabelKey]int)
	corrections := 0
	for _, res := range results {
		if res.Success {
			summary.Succeeded++
			summary.Verdicts[res.Verdict]++
		} else {
			summary.Failed++
		}
		if res.Metadata.Cached {
			summary.Cached++
		}
		if res.Metadata.TokensUsed != nil && !res.Metadata.Cached {
			summary.TokensUsed += *res.Metadata.TokensUsed
		}

		if !res.Success || res.Verdict != models.VerdictDisagree || res.SuggestedLabel == nil {
			continue
		}
		from := strings.TrimSpace(predicted[res.SampleID])
		to := strings.TrimSpace(*res.SuggestedLabel)
		if from == "" || to == "" || strings.EqualFold(from, to) {
			continue
		}
		relabels[relabelKey{from: from, to: to}]++
		corrections++
	}

	for key, count := range relabels {
		summary.Relabels = append(summary.Relabels, models.RelabelPattern{
			From:  key.from,
			To:    key.to,
			Count: count,
			Share: float64(count) / float64(corrections),
		})
	}
	sort.Slice(summary.Relabels, func(i, j int) bool {
		a, b := summary.Relabels[i], summary.Relabels[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return summary
}

// TopRelabels returns at most limit patterns from summary.
func TopRelabels(summary models.PassSummary, limit int) []models.RelabelPattern {
	if limit <= 0 || len(summary.Relabels) <= limit {
		return summary.Relabels
	}
	return summary.Relabels[:limit]
}

type relabelKey struct {
	from string
	to   string
}
