package evalmesh

import (
	"fmt"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/caarlos0/env/v11"
	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/loop"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/model/anthropic"
	"github.com/hupe1980/evalmesh/model/openai"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "EVALMESH_"

// Config is the file and environment configuration of an evaluation run.
//
//	mode: test
//	max_batches: -1
//	batch_size: 8
//	model:
//	  provider: openai
//	  name: gpt-4o-mini
//	metrics:
//	  prometheus: true
type Config struct {
	// Mode is "validation" or "test".
	Mode string `yaml:"mode" env:"MODE"`

	// MaxBatches limits the batches per source; -1 runs each source to exhaustion.
	MaxBatches int `yaml:"max_batches" env:"MAX_BATCHES"`

	// BatchSize is the number of examples grouped into one batch.
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`

	// NilBatchPolicy is "stop" or "skip".
	NilBatchPolicy string `yaml:"nil_batch_policy" env:"NIL_BATCH_POLICY"`

	Rank      int `yaml:"rank" env:"RANK"`
	WorldSize int `yaml:"world_size" env:"WORLD_SIZE"`

	// ArtifactDir stores predictions on disk; empty keeps them in memory.
	ArtifactDir string `yaml:"artifact_dir" env:"ARTIFACT_DIR"`
	Namespace   string `yaml:"namespace" env:"NAMESPACE"`

	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Model   ModelConfig   `yaml:"model" envPrefix:"MODEL_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`

	// Tracing opens OpenTelemetry spans for the step scopes.
	Tracing bool `yaml:"tracing" env:"TRACING"`

	// DebugLoss records the per-batch eval loss history.
	DebugLoss bool `yaml:"debug_loss" env:"DEBUG_LOSS"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// ModelConfig selects and tunes the evaluated model.
type ModelConfig struct {
	// Provider is "openai", "anthropic" or "mock".
	Provider     string        `yaml:"provider" env:"PROVIDER"`
	Name         string        `yaml:"name" env:"NAME"`
	Temperature  float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens    int64         `yaml:"max_tokens" env:"MAX_TOKENS"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	Instructions string        `yaml:"instructions" env:"INSTRUCTIONS"`
	Scorers      []string      `yaml:"scorers" env:"SCORERS" envSeparator:","`
	Concurrency  int           `yaml:"concurrency" env:"CONCURRENCY"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// PromptTemplate is a text/template over the example fields.
	PromptTemplate string `yaml:"prompt_template" env:"PROMPT_TEMPLATE"`

	// MaxCalls caps the model calls of one run; 0 is unlimited.
	MaxCalls int `yaml:"max_calls" env:"MAX_CALLS"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Prometheus bool   `yaml:"prometheus" env:"PROMETHEUS"`
	Addr       string `yaml:"addr" env:"ADDR"`
	Namespace  string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Mode:           core.ModeTest.String(),
		MaxBatches:     Unlimited,
		BatchSize:      8,
		NilBatchPolicy: loop.NilBatchStop.String(),
		WorldSize:      1,
		Namespace:      "eval",
		Log:            LogConfig{Level: "info", Format: "json"},
		Model: ModelConfig{
			Provider:    "mock",
			Name:        "mock",
			MaxTokens:   1024,
			Scorers:     []string{"exact_match"},
			Concurrency: 4,
			Timeout:     60 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090", Namespace: "evalmesh"},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and applies the
// environment overlay. An empty path only applies the overlay.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from EVALMESH_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := core.ParseRunMode(c.Mode); err != nil {
		return err
	}
	if _, err := loop.ParseNilBatchPolicy(c.NilBatchPolicy); err != nil {
		return err
	}
	switch {
	case c.MaxBatches < Unlimited:
		return core.NewConfigurationError("max_batches", "must be >= -1, got %d", c.MaxBatches)
	case c.BatchSize < 1:
		return core.NewConfigurationError("batch_size", "must be >= 1, got %d", c.BatchSize)
	case c.WorldSize < 1:
		return core.NewConfigurationError("world_size", "must be >= 1, got %d", c.WorldSize)
	case c.Rank < 0 || c.Rank >= c.WorldSize:
		return core.NewConfigurationError("rank", "%d out of range [0, %d)", c.Rank, c.WorldSize)
	case c.Namespace == "":
		return core.NewConfigurationError("namespace", "is required")
	case c.Model.MaxCalls < 0:
		return core.NewConfigurationError("model.max_calls", "must be >= 0, got %d", c.Model.MaxCalls)
	}
	if _, err := c.Model.BuildScorers(); err != nil {
		return err
	}
	switch c.Model.Provider {
	case "openai", "anthropic", "mock":
	default:
		return core.NewConfigurationError("model.provider", "unknown provider %q", c.Model.Provider)
	}
	return nil
}

// RunMode returns the parsed mode.
func (c Config) RunMode() core.RunMode {
	m, _ := core.ParseRunMode(c.Mode)
	return m
}

// BuildScorers resolves the configured scorer names.
func (m ModelConfig) BuildScorers() ([]model.Scorer, error) {
	var scorers []model.Scorer
	for _, name := range m.Scorers {
		switch name {
		case "exact_match":
			scorers = append(scorers, model.ExactMatch())
		case "contains":
			scorers = append(scorers, model.Contains())
		case "token_f1":
			scorers = append(scorers, model.TokenF1())
		default:
			return nil, core.NewConfigurationError("model.scorers", "unknown scorer %q", name)
		}
	}
	return scorers, nil
}

// NewModel builds the configured provider model.
func NewModel(cfg ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
			o.APIKey = cfg.APIKey
		}), nil
	case "mock":
		return model.NewMockModel(cfg.Name, "mock"), nil
	default:
		return nil, core.NewConfigurationError("model.provider", "unknown provider %q", cfg.Provider)
	}
}
