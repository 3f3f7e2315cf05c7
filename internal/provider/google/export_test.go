// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package google

import (
	"google.golang.org/genai"

	"github.com/memorg-dev/memorg/internal/provider"
)

// ConvertMessages exposes convertMessages for white-box testing.
var ConvertMessages = func(msgs []provider.Message) []*genai.Content {
	return convertMessages(msgs)
}

// BuildConfig exposes buildConfig for white-box testing.
var BuildConfig = func(req provider.GenerateRequest) *genai.GenerateContentConfig {
	return buildConfig(req)
}
