// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package openai

import (
	"context"
	"errors"
	"sort"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/memorg-dev/memorg/internal/provider"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const (
	DefaultChatModel      = "gpt-4.1-mini"
	DefaultEmbeddingModel = "text-embedding-3-small"

	// OpenRouterBaseURL serves the same wire protocol for many upstream models.
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Client implements provider.Generator and provider.Embedder against the
// OpenAI API or any compatible endpoint.
type Client struct {
	client openaisdk.Client
	name   string
	config provider.Config
}

var (
	_ provider.Generator = (*Client)(nil)
	_ provider.Embedder  = (*Client)(nil)
)

// New creates a client. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Client, error) {
	return newNamed("openai", cfg)
}

// NewOpenRouter creates a client for OpenRouter, defaulting the base URL.
func NewOpenRouter(cfg provider.Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	return newNamed("openrouter", cfg)
}

func newNamed(name string, cfg provider.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, memerr.New(memerr.CodeProviderRequestInvalid, name+": missing api_key in config",
			memerr.FieldProvider(name))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries happen in provider.Call with the configured budget.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{client: openaisdk.NewClient(opts...), name: name, config: cfg}, nil
}

// Register adds the openai and openrouter factories to r.
func Register(r *provider.Registry) {
	r.RegisterGenerator("openai", func(cfg provider.Config) (provider.Generator, error) { return New(cfg) })
	r.RegisterEmbedder("openai", func(cfg provider.Config) (provider.Embedder, error) { return New(cfg) })
	r.RegisterGenerator("openrouter", func(cfg provider.Config) (provider.Generator, error) { return NewOpenRouter(cfg) })
}

func (c *Client) Name() string { return c.name }

func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.Model == "" {
		req.Model = DefaultChatModel
	}

	resp, err := c.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return provider.GenerateResponse{}, c.classify(err)
	}
	if len(resp.Choices) == 0 {
		return provider.GenerateResponse{}, memerr.New(memerr.CodeProviderUnavailable,
			c.name+": completion returned no choices", memerr.FieldProvider(c.name))
	}

	return provider.GenerateResponse{
		Text: resp.Choices[0].Message.Content,
		Usage: provider.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.config.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	params := openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openaisdk.EmbeddingModel(model),
	}
	if c.config.Dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(c.config.Dimensions))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, c.classify(err)
	}
	return collectEmbeddings(resp.Data, len(texts))
}

func (c *Client) classify(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return provider.StatusError(c.name, apiErr.StatusCode, err)
	}
	return err
}

// buildParams converts a provider.GenerateRequest into SDK params.
func buildParams(req provider.GenerateRequest) openaisdk.ChatCompletionNewParams {
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openaisdk.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleAssistant:
			msgs = append(msgs, openaisdk.AssistantMessage(msg.Content))
		default:
			msgs = append(msgs, openaisdk.UserMessage(msg.Content))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature > 0 {
		params.Temperature = param.NewOpt(float64(req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: req.Options.StopSequences,
		}
	}
	return params
}

// collectEmbeddings orders vectors by their response index and narrows
// them to float32.
func collectEmbeddings(data []openaisdk.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, memerr.Errorf(memerr.CodeProviderUnavailable,
			"embedding response has %d vectors for %d inputs", len(data), want)
	}
	sorted := append([]openaisdk.Embedding(nil), data...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	out := make([][]float32, len(sorted))
	for i, e := range sorted {
		vec := make([]float32, len(e.Embedding))
		for j, v := range e.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}
