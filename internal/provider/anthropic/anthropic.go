// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/memorg-dev/memorg/internal/provider"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const (
	DefaultModel     = "claude-haiku-4-5"
	defaultMaxTokens = 1024
)

// Client implements provider.Generator using the Anthropic Messages API.
type Client struct {
	client anthropicsdk.Client
	config provider.Config
}

var _ provider.Generator = (*Client)(nil)

// New creates a client. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, memerr.New(memerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config",
			memerr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{client: anthropicsdk.NewClient(opts...), config: cfg}, nil
}

// Register adds the anthropic generator factory to r.
func Register(r *provider.Registry) {
	r.RegisterGenerator("anthropic", func(cfg provider.Config) (provider.Generator, error) { return New(cfg) })
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	if req.Model == "" {
		req.Model = c.config.Model
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}

	msg, err := c.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		var apiErr *anthropicsdk.Error
		if errors.As(err, &apiErr) {
			return provider.GenerateResponse{}, provider.StatusError(c.Name(), apiErr.StatusCode, err)
		}
		return provider.GenerateResponse{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return provider.GenerateResponse{
		Text: text.String(),
		Usage: provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// buildParams converts a provider.GenerateRequest into SDK params. The
// Messages API requires a max_tokens value.
func buildParams(req provider.GenerateRequest) anthropicsdk.MessageNewParams {
	msgs := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case provider.MessageRoleAssistant:
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			msgs = append(msgs, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Options.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(float64(req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	return params
}
