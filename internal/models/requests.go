package models

import (
	"errors"
	"fmt"
	"strings"
)

// ReviewRequest is a single-sample review request from a transport.
type ReviewRequest struct {
	Text           string  `json:"text"`
	PredictedLabel string  `json:"predicted_label"`
	Confidence     float64 `json:"confidence"`
	SampleID       string  `json:"sample_id,omitempty"`
	Mode           string  `json:"mode,omitempty"`
}

// Validate checks the request fields without applying defaults.
func (r ReviewRequest) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Text) == "" {
		errs = append(errs, errors.New("text is required"))
	}
	if strings.TrimSpace(r.PredictedLabel) == "" {
		errs = append(errs, errors.New("predicted_label is required"))
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence %v outside [0,1]", r.Confidence))
	}
	if _, err := ParseAgentMode(r.Mode, ModeUnified); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StrategyRequest is the wire form of a SelectionStrategy.
type StrategyRequest struct {
	Kind      string  `json:"kind"`
	Threshold float64 `json:"threshold,omitempty"`
	Count     int     `json:"count,omitempty"`
	Seed      *int64  `json:"seed,omitempty"`
}

// BatchReviewRequest asks for a full review pass over samples.
type BatchReviewRequest struct {
	Samples  []Sample        `json:"samples"`
	Strategy StrategyRequest `json:"strategy"`
	Mode     string          `json:"mode,omitempty"`
}

// SelectionStats summarises what a strategy picked from a dataset.
type SelectionStats struct {
	Original              int     `json:"original"`
	Selected              int     `json:"selected"`
	SelectionRate         float64 `json:"selection_rate"`
	AvgConfidenceOriginal float64 `json:"avg_confidence_original"`
	AvgConfidenceSelected float64 `json:"avg_confidence_selected"`
}

// BatchReviewResponse is the result of a review pass.
type BatchReviewResponse struct {
	PassID    string         `json:"pass_id"`
	Strategy  string         `json:"strategy"`
	Mode      AgentMode      `json:"mode"`
	Selection SelectionStats `json:"selection"`
	Results   []ReviewResult `json:"results"`
	Summary   PassSummary    `json:"summary"`
	Notice    string         `json:"notice,omitempty"`
}
