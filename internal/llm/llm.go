// Package llm adapts inference backends to the single text-completion
// capability the review agents need.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request is one prompt sent to a backend.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks backends that support it to constrain output to a JSON object.
	JSON bool
}

// Completion is a backend reply.
type Completion struct {
	Text       string
	TokensUsed int
	Model      string
}

// Info identifies a configured backend.
type Info struct {
	Provider string
	Model    string
}

// Completer produces text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Info() Info
}

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config selects and configures a backend.
type Config struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// DefaultOllamaURL is the OpenAI-compatible endpoint of a local Ollama daemon.
const DefaultOllamaURL = "http://localhost:11434/v1"

// New builds the configured backend, wrapped in a rate limiter when
// RequestsPerMinute is positive.
func New(ctx context.Context, cfg Config) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, ProviderOllama, "":
		c = NewOpenAI(cfg)
	case ProviderAnthropic:
		c = NewAnthropic(cfg)
	case ProviderGemini:
		c, err = NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		c = NewRateLimited(c, cfg.RequestsPerMinute)
	}
	return c, nil
}

// StatusError carries the HTTP status returned by a backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("backend returned no content")
