// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package provider

import (
	"slices"
	"sync"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Config selects and configures one collaborator.
type Config struct {
	// Provider names a registered factory, e.g. "openai" or "local".
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	// Dimensions is the embedding width; ignored by generators.
	Dimensions int `mapstructure:"dimensions"`
}

// EmbedderFactory builds an Embedder from configuration.
type EmbedderFactory func(cfg Config) (Embedder, error)

// GeneratorFactory builds a Generator from configuration.
type GeneratorFactory func(cfg Config) (Generator, error)

// Registry maps provider names to collaborator factories.
type Registry struct {
	mu         sync.RWMutex
	embedders  map[string]EmbedderFactory
	generators map[string]GeneratorFactory
}

// NewRegistry creates a Registry with the offline "local" embedder
// registered.
func NewRegistry() *Registry {
	r := &Registry{
		embedders:  make(map[string]EmbedderFactory),
		generators: make(map[string]GeneratorFactory),
	}
	r.RegisterEmbedder(LocalProviderName, func(cfg Config) (Embedder, error) {
		return NewHashEmbedder(cfg.Dimensions)
	})
	return r
}

// RegisterEmbedder adds or replaces an embedder factory.
func (r *Registry) RegisterEmbedder(name string, f EmbedderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders[name] = f
}

// RegisterGenerator adds or replaces a generator factory.
func (r *Registry) RegisterGenerator(name string, f GeneratorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[name] = f
}

// Embedder builds the embedder named by cfg.Provider.
func (r *Registry) Embedder(cfg Config) (Embedder, error) {
	r.mu.RLock()
	f, ok := r.embedders[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, memerr.New(memerr.CodeProviderNotFound,
			"embedding provider not registered: "+cfg.Provider,
			memerr.FieldProvider(cfg.Provider))
	}
	return f(cfg)
}

// Generator builds the generator named by cfg.Provider.
func (r *Registry) Generator(cfg Config) (Generator, error) {
	r.mu.RLock()
	f, ok := r.generators[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, memerr.New(memerr.CodeProviderNotFound,
			"generation provider not registered: "+cfg.Provider,
			memerr.FieldProvider(cfg.Provider))
	}
	return f(cfg)
}

// EmbedderNames returns the registered embedder names, sorted.
func (r *Registry) EmbedderNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.embedders)
}

// GeneratorNames returns the registered generator names, sorted.
func (r *Registry) GeneratorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.generators)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
