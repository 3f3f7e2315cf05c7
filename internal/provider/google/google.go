// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package google

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"github.com/memorg-dev/memorg/internal/provider"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

const (
	DefaultChatModel      = "gemini-2.5-flash"
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Client implements provider.Generator and provider.Embedder using the
// Gemini API.
type Client struct {
	client *genai.Client
	config provider.Config
}

var (
	_ provider.Generator = (*Client)(nil)
	_ provider.Embedder  = (*Client)(nil)
)

// New creates a client. Returns an error if the API key is missing.
func New(cfg provider.Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, memerr.New(memerr.CodeProviderRequestInvalid, "google: missing api_key in config",
			memerr.FieldProvider("google"))
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, memerr.Wrapf(err, memerr.CodeProviderRequestInvalid, "google: creating client")
	}

	return &Client{client: client, config: cfg}, nil
}

// Register adds the google generator and embedder factories to r.
func Register(r *provider.Registry) {
	r.RegisterGenerator("google", func(cfg provider.Config) (provider.Generator, error) { return New(cfg) })
	r.RegisterEmbedder("google", func(cfg provider.Config) (provider.Embedder, error) { return New(cfg) })
}

func (c *Client) Name() string { return "google" }

func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (provider.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	if model == "" {
		model = DefaultChatModel
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, convertMessages(req.Messages), buildConfig(req))
	if err != nil {
		return provider.GenerateResponse{}, c.classify(err)
	}

	out := provider.GenerateResponse{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		out.Usage = provider.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	model := c.config.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	var cfg *genai.EmbedContentConfig
	if c.config.Dimensions > 0 {
		dims := int32(c.config.Dimensions)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := c.client.Models.EmbedContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, c.classify(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, memerr.Errorf(memerr.CodeProviderUnavailable,
			"google: embedding response has %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (c *Client) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.StatusError(c.Name(), apiErr.Code, err)
	}
	return err
}

// buildConfig converts request options into a genai.GenerateContentConfig.
func buildConfig(req provider.GenerateRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	return cfg
}

// convertMessages maps roles onto Gemini's user/model pair.
func convertMessages(msgs []provider.Message) []*genai.Content {
	result := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		role := "user"
		if msg.Role == provider.MessageRoleAssistant {
			role = "model"
		}
		result = append(result, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return result
}
