package models

import (
	"errors"
	"fmt"
)

// InvalidStrategyError rejects a selection strategy before any work starts.
type InvalidStrategyError struct {
	Kind   StrategyKind
	Reason string
}

func (e *InvalidStrategyError) Error() string {
	if e.Kind == "" {
		return "invalid selection strategy: " + e.Reason
	}
	return fmt.Sprintf("invalid selection strategy %q: %s", e.Kind, e.Reason)
}

// AgentErrorKind classifies gateway failures.
type AgentErrorKind string

const (
	AgentUnreachable     AgentErrorKind = "unreachable"
	AgentTimeout         AgentErrorKind = "timeout"
	AgentMalformedOutput AgentErrorKind = "malformed_output"
)

// AgentError is returned by the agent gateway for a single failed call.
type AgentError struct {
	Kind   AgentErrorKind
	Detail string
	Err    error
	// Permanent marks failures a retry cannot fix, such as a rejected request.
	Permanent bool
}

func (e *AgentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("agent %s: %s: %v", e.Kind, e.Detail, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

// NewAgentError constructs an AgentError.
func NewAgentError(kind AgentErrorKind, detail string, err error) *AgentError {
	return &AgentError{Kind: kind, Detail: detail, Err: err}
}

// CacheError reports a failed cache operation. Callers treat it as a miss.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// ErrNotFound reports a lookup of a record that was never stored.
var ErrNotFound = errors.New("not found")

// ErrNothingSelected signals that a pass selected no samples.
var ErrNothingSelected = errors.New("no samples selected for review")

// OrchestrationError reports a pass-level condition. It is informational;
// any results returned alongside it are still valid.
type OrchestrationError struct {
	Reason string
	Err    error
}

func (e *OrchestrationError) Error() string {
	if e.Err == nil {
		return "orchestration: " + e.Reason
	}
	return fmt.Sprintf("orchestration: %s: %v", e.Reason, e.Err)
}

func (e *OrchestrationError) Unwrap() error {
	return e.Err
}
