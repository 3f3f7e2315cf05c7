// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package openai

import (
	openaisdk "github.com/openai/openai-go"

	"github.com/memorg-dev/memorg/internal/provider"
)

// BuildParams exposes buildParams for white-box testing.
var BuildParams = func(req provider.GenerateRequest) openaisdk.ChatCompletionNewParams {
	return buildParams(req)
}

// CollectEmbeddings exposes collectEmbeddings for white-box testing.
var CollectEmbeddings = func(data []openaisdk.Embedding, want int) ([][]float32, error) {
	return collectEmbeddings(data, want)
}
