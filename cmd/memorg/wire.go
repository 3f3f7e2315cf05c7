// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package main

import (
	"log/slog"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/config"
	"github.com/memorg-dev/memorg/internal/engine"
	"github.com/memorg-dev/memorg/internal/maintenance"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	anthropicprov "github.com/memorg-dev/memorg/internal/provider/anthropic"
	googleprov "github.com/memorg-dev/memorg/internal/provider/google"
	openaiprov "github.com/memorg-dev/memorg/internal/provider/openai"
	"github.com/memorg-dev/memorg/internal/retrieval"
	"github.com/memorg-dev/memorg/internal/store"
	_ "github.com/memorg-dev/memorg/internal/store/inmem"  // register memory backend
	_ "github.com/memorg-dev/memorg/internal/store/sqlite" // register sqlite backend
	"github.com/memorg-dev/memorg/internal/tokens"
	"github.com/memorg-dev/memorg/internal/window"
	"github.com/memorg-dev/memorg/internal/workmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// App holds all wired subsystems and manages their lifecycle.
type App struct {
	Config    *config.Config
	Backend   *store.Backend
	Memory    *memory.Store
	Retrieval *retrieval.Engine
	Engine    *engine.Engine
	Scheduler *maintenance.Scheduler

	// Collaborators as the pipeline sees them; Generator is nil when
	// none is configured.
	Embedder  provider.Embedder
	Generator provider.Generator
	Analyzer  provider.Analyzer
	// Health tracks each collaborator by role.
	Health map[string]*provider.HealthTracker

	ownsBackend bool
}

// wireFunc builds an App; tests substitute one sharing a backend.
type wireFunc func(cfg *config.Config, logger *slog.Logger) (*App, error)

// Wire opens the configured storage backend and wires every subsystem on
// top of it.
func Wire(cfg *config.Config, logger *slog.Logger) (*App, error) {
	backend, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return nil, memerr.Wrapf(err, memerr.CodeCLISetupFailure, "opening %s storage", cfg.Storage.Backend)
	}
	app, err := WireBackend(cfg, logger, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	app.ownsBackend = true
	return app, nil
}

// WireBackend wires every subsystem over an already open backend. The
// caller keeps ownership of backend.
func WireBackend(cfg *config.Config, logger *slog.Logger, backend *store.Backend) (*App, error) {
	col := cfg.Collaborators
	app := &App{Config: cfg, Backend: backend, Health: make(map[string]*provider.HealthTracker)}

	registry := provider.NewRegistry()
	openaiprov.Register(registry)
	anthropicprov.Register(registry)
	googleprov.Register(registry)

	// 1. Collaborators, each behind retries and a health tracker.
	rawEmbedder, err := registry.Embedder(cfg.ProviderConfig(col.Embedder))
	if err != nil {
		return nil, memerr.Wrapf(err, memerr.CodeCLISetupFailure, "creating embedder %q", col.Embedder.Provider)
	}
	embedTracker, err := app.tracker("embedder", col)
	if err != nil {
		return nil, err
	}
	embedder := provider.NewResilientEmbedder(rawEmbedder, col.Retry, embedTracker)

	var rawGen, generator provider.Generator
	if col.Generator.Provider != "" {
		rawGen, err = registry.Generator(cfg.ProviderConfig(col.Generator))
		if err != nil {
			return nil, memerr.Wrapf(err, memerr.CodeCLISetupFailure, "creating generator %q", col.Generator.Provider)
		}
		genTracker, err := app.tracker("generator", col)
		if err != nil {
			return nil, err
		}
		generator = provider.NewResilientGenerator(rawGen, col.Retry, genTracker)
	}

	analyzer, err := app.newAnalyzer(col, rawGen)
	if err != nil {
		return nil, err
	}
	app.Embedder, app.Generator, app.Analyzer = embedder, generator, analyzer

	// 2. Scoring and compression.
	counter := tokens.New(cfg.Tokens.Counter, cfg.Tokens.Encoding, logger)
	comp, err := compress.New(withModel(cfg.Compression, col.Generator.Model), counter, generator, logger)
	if err != nil {
		return nil, err
	}
	prio, err := prioritize.New(cfg.Prioritizer)
	if err != nil {
		return nil, err
	}

	// 3. Context store.
	app.Memory, err = memory.New(cfg.MemoryConfig(), memory.Deps{
		Backend:     backend,
		Prioritizer: prio,
		Compressor:  comp,
		Embedder:    embedder,
		Analyzer:    analyzer,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	// 4. Turn pipeline.
	app.Retrieval, err = retrieval.New(cfg.Retrieval, retrieval.Deps{
		Index:       app.Memory,
		Prioritizer: prio,
		Embedder:    embedder,
		Analyzer:    analyzer,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	alloc, err := workmem.New(cfg.Allocator, comp, logger)
	if err != nil {
		return nil, err
	}
	asm, err := window.New(cfg.Window, counter, logger)
	if err != nil {
		return nil, err
	}
	turn := cfg.Turn
	if turn.Model == "" {
		turn.Model = col.Generator.Model
	}
	app.Engine, err = engine.New(turn, engine.Deps{
		Memory:    app.Memory,
		Retrieval: app.Retrieval,
		Allocator: alloc,
		Assembler: asm,
		Generator: generator,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	// 5. Background tiering.
	app.Scheduler, err = maintenance.New(cfg.Tiering.Config, app.Memory, logger)
	if err != nil {
		app.Engine.Close()
		return nil, err
	}

	return app, nil
}

// newAnalyzer builds the configured analyzer. The generative analyzer
// wraps the raw generator so retries happen in one layer and failures
// land on the analyzer's tracker only.
func (a *App) newAnalyzer(col config.CollaboratorsConfig, rawGen provider.Generator) (provider.Analyzer, error) {
	if col.Analyzer.Provider != config.AnalyzerGenerative {
		return provider.LexicalAnalyzer{}, nil
	}
	if rawGen == nil {
		return nil, memerr.New(memerr.CodeCLISetupFailure, "generative analyzer requires a generator")
	}
	model := col.Analyzer.Model
	if model == "" {
		model = col.Generator.Model
	}
	tracker, err := a.tracker("analyzer", col)
	if err != nil {
		return nil, err
	}
	return provider.NewResilientAnalyzer(provider.NewGenerativeAnalyzer(rawGen, model), col.Retry, tracker), nil
}

func (a *App) tracker(role string, col config.CollaboratorsConfig) (*provider.HealthTracker, error) {
	t, err := provider.NewHealthTracker(col.HealthCooldown)
	if err != nil {
		return nil, err
	}
	a.Health[role] = t
	return t, nil
}

func withModel(c compress.Config, model string) compress.Config {
	if c.Model == "" {
		c.Model = model
	}
	return c
}

// Close stops background work and releases the backend if the App opened
// it.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.ownsBackend && a.Backend != nil {
		return a.Backend.Close()
	}
	return nil
}
