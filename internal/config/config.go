/*
PURPOSE:
  Defines the configuration structure and loading logic for Mimic Runner.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Model catalog, provider credentials and transport, run defaults.
  - Credentials never need to live in the file.

  Implementation-discovered:
  - ${VAR} references in the file are expanded from the environment.
  - Each provider falls back to its conventional API key variable.
  - Repetitions are capped; the cap is recorded on each run.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli
  - Produces: engine.Catalog, provider.RetryConfig, similarity.Thresholds
  - Dependencies: gopkg.in/yaml.v3

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - A missing default file is not an error; defaults are used.
  - Validate() clamps soft limits and rejects contradictions.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults should be sensible (concurrency 3, loop cap 5).

USAGE:
  cfg, err := config.Load("mimic_runner.yaml")
  s := engine.New(cfg.Catalog())

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update DefaultConfig().

RELATED FILES:
  - internal/cli/root.go
  - internal/engine/catalog.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/daryltucker/mimic-runner/internal/engine"
	"github.com/daryltucker/mimic-runner/internal/model"
	"github.com/daryltucker/mimic-runner/internal/provider"
	"github.com/daryltucker/mimic-runner/internal/similarity"
)

// DefaultFiles are searched in order when no path is given.
var DefaultFiles = []string{"mimic_runner.yaml", "mimic-runner.yaml"}

// CredentialEnv maps each provider to the variable used when the config
// leaves its api_key empty.
var CredentialEnv = map[model.ProviderName]string{
	model.ProviderOpenAI:           "OPENAI_API_KEY",
	model.ProviderAnthropic:        "ANTHROPIC_API_KEY",
	model.ProviderDeepSeek:         "DEEPSEEK_API_KEY",
	model.ProviderOpenAICompatible: "OPENAI_COMPATIBLE_API_KEY",
}

// RelayConfig configures the credential-forwarding endpoint.
type RelayConfig struct {
	Listen string `yaml:"listen"`
	// Upstreams overrides the provider base URL the relay forwards to.
	Upstreams map[model.ProviderName]string `yaml:"upstreams,omitempty"`
}

// Config represents the full configuration for Mimic Runner.
type Config struct {
	Models    []model.ModelSpec                             `yaml:"models"`
	Providers map[model.ProviderName]model.ProviderSettings `yaml:"providers"`

	SystemPrompt string `yaml:"system_prompt"`
	Concurrency  int    `yaml:"concurrency"`
	LoopCount    int    `yaml:"loop_count"`
	LoopCap      int    `yaml:"loop_cap"`

	SimilarityThreshold float64               `yaml:"similarity_threshold"`
	Classification      similarity.Thresholds `yaml:"classification"`
	HistoryCap          int                   `yaml:"history_cap"`

	Retry     provider.RetryConfig `yaml:"retry"`
	Relay     RelayConfig          `yaml:"relay"`
	OutputDir string               `yaml:"output_dir"`
	LogLevel  string               `yaml:"log_level"`
}

func temp(v float64) *float64 { return &v }

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Models: []model.ModelSpec{
			{ID: "gpt-4o-mini", Label: "GPT-4o Mini", Provider: model.ProviderOpenAI, Temperature: temp(0.7)},
			{ID: "gpt-4o", Label: "GPT-4o", Provider: model.ProviderOpenAI, Temperature: temp(0.7)},
			{ID: "claude-3-5-sonnet-20241022", Label: "Claude 3.5 Sonnet", Provider: model.ProviderAnthropic, Temperature: temp(0.7)},
			{ID: "claude-3-haiku-20240307", Label: "Claude 3 Haiku", Provider: model.ProviderAnthropic, Temperature: temp(0.7)},
			{ID: "deepseek-chat", Label: "DeepSeek Chat", Provider: model.ProviderDeepSeek, Temperature: temp(0.7)},
			{ID: "deepseek-coder", Label: "DeepSeek Coder", Provider: model.ProviderDeepSeek, Temperature: temp(0.7)},
		},
		Providers:           map[model.ProviderName]model.ProviderSettings{},
		Concurrency:         3,
		LoopCount:           5,
		LoopCap:             5,
		SimilarityThreshold: similarity.DefaultThreshold,
		Classification:      similarity.DefaultThresholds(),
		HistoryCap:          engine.DefaultHistoryCap,
		Retry:               provider.DefaultRetryConfig(),
		Relay:               RelayConfig{Listen: ":8787"},
		OutputDir:           "results",
		LogLevel:            "info",
	}
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches DefaultFiles in order.
// If no file is found, the defaults are used.
// Environment credentials are applied in every case.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		for _, name := range DefaultFiles {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", name, err)
			}
		}
	}

	if path != "" {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv fills empty credentials from CredentialEnv.
func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[model.ProviderName]model.ProviderSettings)
	}
	for _, p := range model.Providers {
		s := c.Providers[p]
		if s.APIKey != "" {
			continue
		}
		if v := os.Getenv(CredentialEnv[p]); v != "" {
			s.APIKey = v
			c.Providers[p] = s
		}
	}
}

// Validate clamps soft limits and reports invalid settings.
func (c *Config) Validate() error {
	if c.LoopCap < 1 {
		c.LoopCap = 5
	}
	c.LoopCount = ClampLoops(c.LoopCount, c.LoopCap)
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.HistoryCap < 1 {
		c.HistoryCap = engine.DefaultHistoryCap
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in (0, 1], got %v", c.SimilarityThreshold)
	}
	if c.Classification.Yellow > c.Classification.Red {
		return fmt.Errorf("classification.yellow (%v) must not exceed classification.red (%v)",
			c.Classification.Yellow, c.Classification.Red)
	}

	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return errors.New("model with empty id")
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate model id %q", m.ID)
		}
		seen[m.ID] = true
		if !m.Provider.Valid() {
			return fmt.Errorf("model %q: unknown provider %q", m.ID, m.Provider)
		}
	}
	for p, s := range c.Providers {
		if !p.Valid() {
			return fmt.Errorf("unknown provider %q", p)
		}
		switch s.Transport {
		case "", model.TransportDirect, model.TransportRelay:
		default:
			return fmt.Errorf("provider %q: unknown transport %q", p, s.Transport)
		}
	}
	return nil
}

// ClampLoops bounds a requested repetition count to [1, cap].
func ClampLoops(n, cap int) int {
	if n < 1 {
		return 1
	}
	if cap > 0 && n > cap {
		return cap
	}
	return n
}

// EnabledModelIDs lists enabled models in catalog order.
func (c *Config) EnabledModelIDs() []string {
	var ids []string
	for _, m := range c.Models {
		if m.Enabled {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Catalog builds the scheduler's read-only view of this config.
func (c *Config) Catalog() engine.Catalog {
	providers := make(map[model.ProviderName]model.ProviderSettings, len(c.Providers))
	for p, s := range c.Providers {
		providers[p] = s
	}
	return engine.Catalog{
		Models:              append([]model.ModelSpec(nil), c.Models...),
		Providers:           providers,
		SimilarityThreshold: c.SimilarityThreshold,
		LoopCap:             c.LoopCap,
		HistoryCap:          c.HistoryCap,
	}
}
