// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider

import (
	"context"
	"net/http"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Embedder turns text into fixed-dimension vectors. Implementations may
// batch; the result has one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text completions.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Analyzer extracts entities, intents and sentiment from text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Analysis, error)
}

// GenerateRequest is a single-shot completion request.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Options      GenerateOptions
}

// GenerateOptions contains model configuration.
type GenerateOptions struct {
	Temperature   float32
	MaxTokens     int
	StopSequences []string
}

// Message represents a conversation message.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// GenerateResponse is the completed text and its token usage.
type GenerateResponse struct {
	Text  string
	Usage Usage
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Analysis is the NLU result for one text.
type Analysis struct {
	Entities []string `json:"entities"`
	Intents  []string `json:"intents"`
	// Sentiment is in [-1,1].
	Sentiment float64 `json:"sentiment"`
}

// Named is implemented by adapters that report their provider name.
type Named interface {
	Name() string
}

// NameOf returns the provider name of v, or "unknown".
func NameOf(v any) string {
	if n, ok := v.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

// PermanentStatus reports whether an upstream HTTP status means the request
// itself was rejected. Timeouts and rate limits are transient.
func PermanentStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return false
	default:
		return status >= 400 && status < 500
	}
}

// StatusError tags err as an invalid request when status is permanent so
// Call does not retry it. Other errors pass through unchanged.
func StatusError(name string, status int, err error) error {
	if err == nil || !PermanentStatus(status) {
		return err
	}
	return memerr.Wrap(err, memerr.CodeProviderRequestInvalid, name+" rejected request",
		memerr.FieldProvider(name), memerr.Field("status", status))
}
