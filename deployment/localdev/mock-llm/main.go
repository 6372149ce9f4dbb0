// Command mock-llm serves an OpenAI-compatible chat completions endpoint with
// canned review verdicts, for running the reviewer without a model.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/miradorstack/agentic-reviewer/internal/utils"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// keywordLabels maps text cues to the label a careful reviewer would pick.
var keywordLabels = []struct {
	cues  []string
	label string
}{
	{[]string{"delete", "erase", "remove my"}, "Deletion Request"},
	{[]string{"copy of", "access", "what data"}, "Access Request"},
	{[]string{"unsubscribe", "opt out", "stop sending"}, "Opt-Out"},
	{[]string{"wrong", "incorrect", "update my", "fix my"}, "Correction Request"},
	{[]string{"unhappy", "complain", "terrible", "ignored"}, "Complaint"},
}

type mock struct {
	logger      *slog.Logger
	failureRate float64
	latency     time.Duration
}

func main() {
	logger := utils.NewLogger(envOr("MOCK_LLM_LOG_LEVEL", "info"), false)
	m := &mock{
		logger:      logger,
		failureRate: envFloat("MOCK_LLM_FAILURE_RATE", 0),
		latency:     envDuration("MOCK_LLM_LATENCY", 0),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(logRequests(logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/v1/chat/completions", m.chatCompletions)

	addr := envOr("MOCK_LLM_ADDR", ":11434")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("mock llm listening", slog.String("address", addr), slog.Float64("failure_rate", m.failureRate))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func (m *mock) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid body"}}`, http.StatusBadRequest)
		return
	}
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-r.Context().Done():
			return
		}
	}
	if m.failureRate > 0 && rand.Float64() < m.failureRate {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
		return
	}

	var system, user string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "user":
			user = msg.Content
		}
	}
	content := answer(system, user)
	writeJSON(w, chatResponse{
		ID:      "mock-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(system+user) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (len(system+user) + len(content)) / 4,
		},
	})
}

// answer builds the JSON reply for whichever agent step the system prompt names.
func answer(system, user string) string {
	text := strings.ToLower(field(user, "Text:"))
	predicted := field(user, "Predicted label:")
	expected := "General Inquiry"
	for _, kl := range keywordLabels {
		for _, cue := range kl.cues {
			if strings.Contains(text, cue) {
				expected = kl.label
				break
			}
		}
		if expected != "General Inquiry" {
			break
		}
	}

	verdict := "Agree"
	if !strings.EqualFold(predicted, expected) {
		verdict = "Disagree"
	}
	reasoning := fmt.Sprintf("The text reads as %s.", expected)
	explanation := fmt.Sprintf("Predicted %q; the wording points to %q.", predicted, expected)

	var out any
	switch {
	case strings.HasPrefix(system, "You review"):
		reply := map[string]any{"verdict": verdict, "reasoning": reasoning, "suggested_label": nil, "explanation": explanation}
		if verdict == "Disagree" {
			reply["suggested_label"] = expected
		}
		out = reply
	case strings.HasPrefix(system, "You evaluate"):
		out = map[string]any{"verdict": verdict, "reasoning": reasoning}
	case strings.HasPrefix(system, "A reviewer"):
		out = map[string]any{"suggested_label": expected, "reasoning": reasoning}
	default:
		out = map[string]any{"explanation": explanation}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func field(prompt, prefix string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
