// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package config

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/memorg-dev/memorg/internal/compress"
	"github.com/memorg-dev/memorg/internal/engine"
	"github.com/memorg-dev/memorg/internal/maintenance"
	"github.com/memorg-dev/memorg/internal/memory"
	"github.com/memorg-dev/memorg/internal/prioritize"
	"github.com/memorg-dev/memorg/internal/provider"
	"github.com/memorg-dev/memorg/internal/retrieval"
	"github.com/memorg-dev/memorg/internal/store"
	"github.com/memorg-dev/memorg/internal/tokens"
	"github.com/memorg-dev/memorg/internal/window"
	"github.com/memorg-dev/memorg/internal/workmem"
	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Analyzer choices for collaborators.analyzer.provider.
const (
	AnalyzerLocal      = provider.LocalProviderName
	AnalyzerGenerative = "generative"
)

var (
	validBackends   = []string{"sqlite", "memory"}
	validCounters   = []string{"tiktoken", "estimate"}
	validEmbedders  = []string{provider.LocalProviderName, "openai", "google"}
	validGenerators = []string{"openai", "openrouter", "anthropic", "google"}
	validAnalyzers  = []string{AnalyzerLocal, AnalyzerGenerative}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Config is the top-level memorg configuration.
type Config struct {
	DataDir       string                    `mapstructure:"data_dir"`
	Storage       StorageConfig             `mapstructure:"storage"`
	Tokens        TokensConfig              `mapstructure:"tokens"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Collaborators CollaboratorsConfig       `mapstructure:"collaborators"`
	Prioritizer   prioritize.Config         `mapstructure:"prioritizer"`
	Retrieval     retrieval.Config          `mapstructure:"retrieval"`
	Allocator     workmem.Config            `mapstructure:"allocator"`
	Compression   compress.Config           `mapstructure:"compression"`
	Tiering       TieringConfig             `mapstructure:"tiering"`
	Window        window.Config             `mapstructure:"window"`
	Turn          engine.Config             `mapstructure:"turn"`
	Log           LogConfig                 `mapstructure:"log"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend          string `mapstructure:"backend"`
	VectorDimensions int    `mapstructure:"vector_dimensions"`
}

// TokensConfig selects the token counter.
type TokensConfig struct {
	Counter  string `mapstructure:"counter"`
	Encoding string `mapstructure:"encoding"`
}

// ProviderConfig holds credentials and endpoint for a collaborator service.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// CollaboratorsConfig picks the embedding, generation and analysis
// services and how calls to them are retried.
type CollaboratorsConfig struct {
	Embedder  CollaboratorConfig `mapstructure:"embedder"`
	Generator CollaboratorConfig `mapstructure:"generator"`
	Analyzer  CollaboratorConfig `mapstructure:"analyzer"`

	Retry provider.RetryConfig `mapstructure:"retry"`
	// HealthCooldown is how long a failing collaborator is skipped.
	HealthCooldown time.Duration `mapstructure:"health_cooldown"`
}

// CollaboratorConfig names one collaborator. An empty generator provider
// disables generation.
type CollaboratorConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// TieringConfig holds the tier thresholds and the maintenance schedule.
type TieringConfig struct {
	memory.TieringConfig `mapstructure:",squash"`
	maintenance.Config   `mapstructure:",squash"`
	CASRetries           int `mapstructure:"cas_retries"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v. The component packages own
// the values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.vector_dimensions", store.DefaultVectorDimensions)

	v.SetDefault("tokens.counter", "tiktoken")
	v.SetDefault("tokens.encoding", tokens.DefaultEncoding)

	// Declared so MEMORG_PROVIDERS_<NAME>_API_KEY reaches Unmarshal.
	for _, name := range []string{"openai", "openrouter", "anthropic", "google"} {
		v.SetDefault("providers."+name+".api_key", "")
		v.SetDefault("providers."+name+".base_url", "")
	}

	v.SetDefault("collaborators.embedder.provider", provider.LocalProviderName)
	v.SetDefault("collaborators.embedder.model", "")
	v.SetDefault("collaborators.embedder.dimensions", 0)
	v.SetDefault("collaborators.generator.provider", "")
	v.SetDefault("collaborators.generator.model", "")
	v.SetDefault("collaborators.analyzer.provider", AnalyzerLocal)
	v.SetDefault("collaborators.analyzer.model", "")
	retry := provider.DefaultRetryConfig()
	v.SetDefault("collaborators.retry.timeout", retry.Timeout)
	v.SetDefault("collaborators.retry.max_attempts", retry.MaxAttempts)
	v.SetDefault("collaborators.retry.initial_interval", retry.InitialInterval)
	v.SetDefault("collaborators.retry.max_interval", retry.MaxInterval)
	v.SetDefault("collaborators.health_cooldown", 30*time.Second)

	p := prioritize.DefaultConfig()
	v.SetDefault("prioritizer.weights.recency", p.Weights.Recency)
	v.SetDefault("prioritizer.weights.coherence", p.Weights.Coherence)
	v.SetDefault("prioritizer.weights.engagement", p.Weights.Engagement)
	v.SetDefault("prioritizer.decay_per_hour", p.DecayPerHour)
	v.SetDefault("prioritizer.engagement_saturation", p.EngagementSaturation)

	r := retrieval.DefaultConfig()
	v.SetDefault("retrieval.weights.keyword", r.Weights.Keyword)
	v.SetDefault("retrieval.weights.vector", r.Weights.Vector)
	v.SetDefault("retrieval.weights.temporal", r.Weights.Temporal)
	v.SetDefault("retrieval.overfetch", r.Overfetch)
	v.SetDefault("retrieval.expansion_weight", r.ExpansionWeight)
	v.SetDefault("retrieval.thesaurus_path", "")

	a := workmem.DefaultConfig()
	v.SetDefault("allocator.inclusion_threshold", a.InclusionThreshold)

	c := compress.DefaultConfig()
	v.SetDefault("compression.strategy", string(c.Strategy))
	v.SetDefault("compression.min_abstractive_tokens", c.MinAbstractiveTokens)
	v.SetDefault("compression.model", "")
	v.SetDefault("compression.centrality_weight", c.CentralityWeight)

	m := memory.DefaultConfig()
	s := maintenance.DefaultConfig()
	v.SetDefault("tiering.hot_threshold", m.Tiering.HotThreshold)
	v.SetDefault("tiering.cold_threshold", m.Tiering.ColdThreshold)
	v.SetDefault("tiering.topic_verbatim_cap", m.Tiering.TopicVerbatimCap)
	v.SetDefault("tiering.summary_ratio", m.Tiering.SummaryRatio)
	v.SetDefault("tiering.cas_retries", m.CASRetries)
	v.SetDefault("tiering.schedule", s.Schedule)
	v.SetDefault("tiering.timeout", s.Timeout)

	w := window.DefaultConfig()
	v.SetDefault("window.gap_threshold", w.GapThreshold)
	v.SetDefault("window.templates_path", "")
	v.SetDefault("window.system_instruction", w.SystemInstruction)

	e := engine.DefaultConfig()
	v.SetDefault("turn.default_budget", e.DefaultBudget)
	v.SetDefault("turn.top_k", e.TopK)
	v.SetDefault("turn.recent_exchanges", e.RecentExchanges)
	v.SetDefault("turn.model", "")
	v.SetDefault("turn.response_tokens", e.ResponseTokens)
	v.SetDefault("turn.timeout", e.Timeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// SetupEnv binds MEMORG_* environment variables, mapping nested keys with
// underscores (tiering.hot_threshold is MEMORG_TIERING_HOT_THRESHOLD).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("MEMORG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix MEMORG_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, memerr.Errorf(memerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, memerr.Errorf(memerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors.
// It returns a slice of all validation errors found, collecting all issues
// rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateCollaborators()...)
	errs = append(errs, c.validateComponents()...)
	errs = append(errs, c.validateLog()...)

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if !slices.Contains(validBackends, c.Storage.Backend) {
		errs = append(errs, oneOf("storage.backend", validBackends, c.Storage.Backend))
	}
	if c.Storage.VectorDimensions <= 0 {
		errs = append(errs, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"config: storage.vector_dimensions must be greater than 0, got %d",
			c.Storage.VectorDimensions,
		))
	}
	if c.Storage.Backend == "sqlite" && c.DataDir == "" {
		errs = append(errs, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"config: data_dir must be set for the sqlite backend"))
	}
	if !slices.Contains(validCounters, c.Tokens.Counter) {
		errs = append(errs, oneOf("tokens.counter", validCounters, c.Tokens.Counter))
	}

	return errs
}

func (c *Config) validateCollaborators() []error {
	var errs []error
	col := c.Collaborators

	if !slices.Contains(validEmbedders, col.Embedder.Provider) {
		errs = append(errs, oneOf("collaborators.embedder.provider", validEmbedders, col.Embedder.Provider))
	}
	if d := col.Embedder.Dimensions; d != 0 && d != c.Storage.VectorDimensions {
		errs = append(errs, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"config: collaborators.embedder.dimensions (%d) must match storage.vector_dimensions (%d)",
			d, c.Storage.VectorDimensions,
		))
	}

	if p := col.Generator.Provider; p != "" && !slices.Contains(validGenerators, p) {
		errs = append(errs, oneOf("collaborators.generator.provider", validGenerators, p))
	}

	if !slices.Contains(validAnalyzers, col.Analyzer.Provider) {
		errs = append(errs, oneOf("collaborators.analyzer.provider", validAnalyzers, col.Analyzer.Provider))
	} else if col.Analyzer.Provider == AnalyzerGenerative && col.Generator.Provider == "" {
		errs = append(errs, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"config: collaborators.analyzer.provider %q requires collaborators.generator.provider",
			AnalyzerGenerative,
		))
	}

	if c.Compression.Strategy == compress.StrategyAbstractive && col.Generator.Provider == "" {
		errs = append(errs, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"config: compression.strategy %q requires collaborators.generator.provider",
			compress.StrategyAbstractive,
		))
	}

	if err := col.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if col.HealthCooldown <= 0 {
		errs = append(errs, memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
			"config: collaborators.health_cooldown must be positive, got %s", col.HealthCooldown))
	}

	return errs
}

func (c *Config) validateComponents() []error {
	var errs []error
	for _, err := range []error{
		c.Prioritizer.Validate(),
		c.Retrieval.Validate(),
		c.Allocator.Validate(),
		c.Compression.Validate(),
		c.MemoryConfig().Validate(),
		c.Tiering.Config.Validate(),
		c.Window.Validate(),
		c.Turn.Validate(),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (c *Config) validateLog() []error {
	var errs []error
	if !slices.Contains(validLogLevels, c.Log.Level) {
		errs = append(errs, oneOf("log.level", validLogLevels, c.Log.Level))
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		errs = append(errs, oneOf("log.format", validLogFormats, c.Log.Format))
	}
	return errs
}

func oneOf(key string, valid []string, got string) error {
	return memerr.Errorf(memerr.CodeConfigValidateInvalidValue,
		"config: %s must be one of [%s], got %q", key, strings.Join(valid, ", "), got)
}

// StoreConfig converts the storage section for store.Open.
func (c *Config) StoreConfig() store.StorageConfig {
	return store.StorageConfig{
		Backend:          c.Storage.Backend,
		DataDir:          c.DataDir,
		VectorDimensions: c.Storage.VectorDimensions,
	}
}

// MemoryConfig is the context store configuration.
func (c *Config) MemoryConfig() memory.Config {
	return memory.Config{Tiering: c.Tiering.TieringConfig, CASRetries: c.Tiering.CASRetries}
}

// ProviderConfig merges a collaborator choice with the credentials of its
// provider.
func (c *Config) ProviderConfig(col CollaboratorConfig) provider.Config {
	creds := c.Providers[col.Provider]
	dims := col.Dimensions
	if dims == 0 {
		dims = c.Storage.VectorDimensions
	}
	return provider.Config{
		Provider:   col.Provider,
		Model:      col.Model,
		APIKey:     creds.APIKey,
		BaseURL:    creds.BaseURL,
		Dimensions: dims,
	}
}

// SlogLevel maps log.level onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
