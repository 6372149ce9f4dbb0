package selector

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

// Selector picks the subset of samples that go to review.
type Selector struct {
	// seedFn supplies a seed for random selection when the strategy has none.
	seedFn func() uint64
}

// NewSelector creates a selector that seeds unseeded random draws from the clock.
func NewSelector() *Selector {
	return &Selector{seedFn: func() uint64 { return uint64(time.Now().UnixNano()) }}
}

// Select applies strategy to samples. The input slice is never modified and
// the returned slice never aliases it.
func (s *Selector) Select(samples []models.Sample, strategy models.SelectionStrategy) ([]models.Sample, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	switch strategy.Kind {
	case models.StrategyLowConfidence:
		selected := make([]models.Sample, 0)
		for _, sample := range samples {
			if sample.Confidence < strategy.Threshold {
				selected = append(selected, sample)
			}
		}
		return selected, nil
	case models.StrategyRandom:
		var seed uint64
		if strategy.Seed != nil {
			seed = uint64(*strategy.Seed)
		} else {
			seed = s.seedFn()
		}
		return sampleWithoutReplacement(samples, strategy.Count, seed), nil
	default:
		return slices.Clone(samples), nil
	}
}

// sampleWithoutReplacement draws min(k, len(samples)) distinct samples using a
// partial Fisher-Yates shuffle over indices. Picks are returned in input order.
func sampleWithoutReplacement(samples []models.Sample, k int, seed uint64) []models.Sample {
	n := len(samples)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []models.Sample{}
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	picked := idx[:k]
	slices.Sort(picked)
	out := make([]models.Sample, 0, k)
	for _, i := range picked {
		out = append(out, samples[i])
	}
	return out
}

var defaultSelector = NewSelector()

// Select applies strategy with the package default selector.
func Select(samples []models.Sample, strategy models.SelectionStrategy) ([]models.Sample, error) {
	return defaultSelector.Select(samples, strategy)
}
