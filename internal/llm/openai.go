package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint, including
// a local Ollama daemon.
type OpenAI struct {
	client   openai.Client
	model    string
	provider string
}

// NewOpenAI creates the client. An empty BaseURL points at local Ollama.
func NewOpenAI(cfg Config) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	model := cfg.Model
	if model == "" {
		model = "mistral"
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		// Ollama ignores the key but the SDK requires one.
		apiKey = "ollama"
	}
	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOllama
	}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{client: openai.NewClient(opts...), model: model, provider: provider}
}

// Complete sends a system + user message pair.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Completion{}, &StatusError{Provider: o.provider, StatusCode: apiErr.StatusCode, Err: err}
		}
		return Completion{}, fmt.Errorf("%s chat completion: %w", o.provider, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Completion{}, ErrEmptyCompletion
	}

	model := resp.Model
	if model == "" {
		model = o.model
	}
	return Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
		Model:      model,
	}, nil
}

func (o *OpenAI) Info() Info {
	return Info{Provider: o.provider, Model: o.model}
}
