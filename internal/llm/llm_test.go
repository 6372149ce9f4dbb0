package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompleteAgainstCompatibleServer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "mistral",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"verdict\":\"Agree\"}"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", Model: "mistral"})
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "hello", Temperature: 0.1, MaxTokens: 64, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"Agree"}`, out.Text)
	assert.Equal(t, 20, out.TokensUsed)
	assert.Equal(t, "mistral", out.Model)

	assert.Equal(t, "mistral", body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, Info{Provider: ProviderOllama, Model: "mistral"}, c.Info())
}

func TestOpenAIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "model loading", "type": "server_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Config{BaseURL: srv.URL, Model: "mistral"})
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, statusErr.Retryable())
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "model": "m", "choices": []}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(Config{BaseURL: srv.URL}).Complete(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "{\"explanation\":\"ok\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "test", Model: "claude-test"})
	out, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"explanation":"ok"}`, out.Text)
	assert.Equal(t, 12, out.TokensUsed)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "bard"})
	assert.Error(t, err)
}

func TestNewWrapsRateLimiter(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "ollama", RequestsPerMinute: 60})
	require.NoError(t, err)
	_, ok := c.(*RateLimited)
	assert.True(t, ok)
}

type countingCompleter struct{ calls atomic.Int32 }

func (c *countingCompleter) Complete(context.Context, Request) (Completion, error) {
	c.calls.Add(1)
	return Completion{Text: "ok"}, nil
}

func (c *countingCompleter) Info() Info { return Info{Provider: "fake", Model: "fake"} }

func TestRateLimitedHonoursContext(t *testing.T) {
	next := &countingCompleter{}
	rl := NewRateLimited(next, 1)

	_, err := rl.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rl.Complete(ctx, Request{})
	require.Error(t, err)
	assert.EqualValues(t, 1, next.calls.Load())
	assert.Equal(t, "fake", rl.Info().Provider)
}

type closingCompleter struct {
	countingCompleter
	closed bool
}

func (c *closingCompleter) Close() error {
	c.closed = true
	return nil
}

func TestRateLimitedClosesWrappedBackend(t *testing.T) {
	next := &closingCompleter{}
	require.NoError(t, NewRateLimited(next, 60).Close())
	assert.True(t, next.closed)

	assert.NoError(t, NewRateLimited(&countingCompleter{}, 60).Close())
}

func TestStatusErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &StatusError{Provider: "openai", StatusCode: 400, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.False(t, err.Retryable())
}
