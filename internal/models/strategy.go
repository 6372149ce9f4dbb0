package models

import (
	"fmt"
	"math"
	"strings"
)

// StrategyKind enumerates the sample selection strategies.
type StrategyKind string

const (
	StrategyLowConfidence StrategyKind = "low_confidence"
	StrategyRandom        StrategyKind = "random"
	StrategyAll           StrategyKind = "all"
)

// SelectionStrategy decides which samples are sent to review. Only the
// fields relevant to Kind are read.
type SelectionStrategy struct {
	Kind      StrategyKind `json:"kind"`
	Threshold float64      `json:"threshold,omitempty"`
	Count     int          `json:"count,omitempty"`
	Seed      *int64       `json:"seed,omitempty"`
}

// LowConfidence selects samples whose confidence is strictly below threshold.
func LowConfidence(threshold float64) SelectionStrategy {
	return SelectionStrategy{Kind: StrategyLowConfidence, Threshold: threshold}
}

// Random selects up to count samples. A nil seed draws from the clock.
func Random(count int, seed *int64) SelectionStrategy {
	return SelectionStrategy{Kind: StrategyRandom, Count: count, Seed: seed}
}

// All selects every sample.
func All() SelectionStrategy {
	return SelectionStrategy{Kind: StrategyAll}
}

// Validate checks the strategy parameters.
func (s SelectionStrategy) Validate() error {
	switch s.Kind {
	case StrategyLowConfidence:
		if math.IsNaN(s.Threshold) || s.Threshold < 0 || s.Threshold > 1 {
			return &InvalidStrategyError{Kind: s.Kind, Reason: fmt.Sprintf("threshold %v outside [0,1]", s.Threshold)}
		}
	case StrategyRandom:
		if s.Count < 0 {
			return &InvalidStrategyError{Kind: s.Kind, Reason: fmt.Sprintf("count %d is negative", s.Count)}
		}
	case StrategyAll:
	default:
		return &InvalidStrategyError{Kind: s.Kind, Reason: "unknown strategy"}
	}
	return nil
}

func (s SelectionStrategy) String() string {
	switch s.Kind {
	case StrategyLowConfidence:
		return fmt.Sprintf("low_confidence(threshold=%g)", s.Threshold)
	case StrategyRandom:
		if s.Seed != nil {
			return fmt.Sprintf("random(count=%d, seed=%d)", s.Count, *s.Seed)
		}
		return fmt.Sprintf("random(count=%d)", s.Count)
	default:
		return string(s.Kind)
	}
}

// ParseStrategy builds a validated strategy from loosely typed inputs such
// as flags or request bodies.
func ParseStrategy(kind string, threshold float64, count int, seed *int64) (SelectionStrategy, error) {
	var s SelectionStrategy
	switch StrategyKind(strings.ToLower(strings.TrimSpace(kind))) {
	case StrategyLowConfidence, "low", "threshold":
		s = LowConfidence(threshold)
	case StrategyRandom, "sample":
		s = Random(count, seed)
	case StrategyAll:
		s = All()
	default:
		return SelectionStrategy{}, &InvalidStrategyError{Kind: StrategyKind(kind), Reason: "unknown strategy"}
	}
	if err := s.Validate(); err != nil {
		return SelectionStrategy{}, err
	}
	return s, nil
}
