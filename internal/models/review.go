package models

import (
	"fmt"
	"strings"
	"time"
)

// Sample is one classifier prediction that may be routed to review.
type Sample struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	PredictedLabel string  `json:"pred_label"`
	Confidence     float64 `json:"confidence"`
}

// Verdict is the aggregated decision about a predicted label.
type Verdict string

const (
	VerdictAgree     Verdict = "Agree"
	VerdictDisagree  Verdict = "Disagree"
	VerdictUncertain Verdict = "Uncertain"
)

// ParseVerdict maps backend wording onto a Verdict.
func ParseVerdict(value string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "agree", "correct", "yes":
		return VerdictAgree, nil
	case "disagree", "incorrect", "no":
		return VerdictDisagree, nil
	case "uncertain", "unsure", "unknown":
		return VerdictUncertain, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", value)
	}
}

// AgentMode selects how the gateway reasons about a sample.
type AgentMode string

const (
	// ModeUnified asks a single agent for the full review.
	ModeUnified AgentMode = "unified"
	// ModeSpecialist runs the evaluator, proposer and reasoner in sequence.
	ModeSpecialist AgentMode = "specialist"
)

// ParseAgentMode validates a mode string. Empty input yields fallback.
func ParseAgentMode(value string, fallback AgentMode) (AgentMode, error) {
	switch AgentMode(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return fallback, nil
	case ModeUnified:
		return ModeUnified, nil
	case ModeSpecialist:
		return ModeSpecialist, nil
	default:
		return "", fmt.Errorf("unknown agent mode %q", value)
	}
}

// Valid reports whether m is one of the known modes.
func (m AgentMode) Valid() bool {
	return m == ModeUnified || m == ModeSpecialist
}

// ReviewResult is the outcome of reviewing one sample.
type ReviewResult struct {
	SampleID       string         `json:"sample_id"`
	Verdict        Verdict        `json:"verdict"`
	Reasoning      string         `json:"reasoning"`
	SuggestedLabel *string        `json:"suggested_label"`
	Explanation    string         `json:"explanation"`
	Success        bool           `json:"success"`
	Metadata       ReviewMetadata `json:"metadata"`
}

// ReviewMetadata carries accounting for a review.
type ReviewMetadata struct {
	TokensUsed *int       `json:"tokens_used,omitempty"`
	LatencyMS  *int64     `json:"latency_ms,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	Cached     bool       `json:"cached,omitempty"`
	Mode       AgentMode  `json:"mode,omitempty"`
	Model      string     `json:"model,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// WithLatency stores d in milliseconds.
func (m *ReviewMetadata) WithLatency(d time.Duration) {
	ms := d.Milliseconds()
	m.LatencyMS = &ms
}

// CacheStats is a point-in-time view of the response cache.
type CacheStats struct {
	Entries          int     `json:"entries"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
