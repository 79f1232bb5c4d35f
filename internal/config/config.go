// Package config provides configuration loading for cropcare.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/cropcare/internal/scheduler"
)

// Environment overrides.
const (
	EnvListen = "CROPCARE_LISTEN"
	EnvDB     = "CROPCARE_DB"
	EnvLLMURL = "CROPCARE_LLM_URL"
)

// Config represents the complete cropcare configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	LLM       LLMConfig        `yaml:"llm"`
	Weather   WeatherConfig    `yaml:"weather"`
	Catalog   CatalogConfig    `yaml:"catalog"`
	Notify    NotifyConfig     `yaml:"notify"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Tokens    TokenConfig      `yaml:"tokens"`
}

// ServerConfig configures the HTTP control plane.
type ServerConfig struct {
	// Listen is the address the daemon binds to.
	Listen string `yaml:"listen"`
	// PublicURL is the base for completion links sent to users.
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig configures the record store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the text-generation endpoint.
type LLMConfig struct {
	// Endpoint is an OpenAI-compatible API root (e.g. https://api.openai.com/v1).
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv       string        `yaml:"api_key_env"`
	Temperature     float64       `yaml:"temperature"`
	PlanMaxTokens   int           `yaml:"plan_max_tokens"`
	TaskMaxTokens   int           `yaml:"task_max_tokens"`
	PlanTimeout     time.Duration `yaml:"plan_timeout"`
	AnalysisTimeout time.Duration `yaml:"analysis_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
}

// APIKey returns the key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// WeatherConfig configures the forecast provider.
type WeatherConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CatalogConfig points at an optional treatment catalog override.
type CatalogConfig struct {
	// Path is a YAML catalog; empty uses the built-in catalog.
	Path string `yaml:"path"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	// NATSURL is the NATS server; empty logs notifications instead.
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TokenConfig configures completion links.
type TokenConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:    "127.0.0.1:7480",
			PublicURL: "http://127.0.0.1:7480",
		},
		Database: DatabaseConfig{
			Path: defaultDBPath(),
		},
		LLM: LLMConfig{
			Endpoint:        "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			Temperature:     0.4,
			PlanMaxTokens:   3000,
			TaskMaxTokens:   1200,
			PlanTimeout:     45 * time.Second,
			AnalysisTimeout: 20 * time.Second,
			RetryAttempts:   2,
		},
		Weather: WeatherConfig{
			BaseURL: "https://api.open-meteo.com",
			Timeout: 10 * time.Second,
		},
		Notify: NotifyConfig{
			SubjectPrefix: "cropcare.notify",
		},
		Scheduler: *scheduler.DefaultConfig(),
		Tokens: TokenConfig{
			TTL: 7 * 24 * time.Hour,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if _, err := url.Parse(c.Server.PublicURL); err != nil || c.Server.PublicURL == "" {
		return fmt.Errorf("server.public_url must be a valid URL")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.PlanTimeout <= 0 || c.LLM.AnalysisTimeout <= 0 {
		return fmt.Errorf("llm.plan_timeout and llm.analysis_timeout must be positive")
	}
	if c.LLM.RetryAttempts < 1 {
		return fmt.Errorf("llm.retry_attempts must be at least 1")
	}
	if c.Weather.BaseURL == "" {
		return fmt.Errorf("weather.base_url is required")
	}
	if c.Tokens.TTL <= 0 {
		return fmt.Errorf("tokens.ttl must be positive")
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults. A
// missing file yields the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Load reads path (or the default location when empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CROPCARE_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLLMURL); v != "" {
		c.LLM.Endpoint = v
	}
}

// SaveToFile saves configuration to a YAML file, creating parent directories
// if needed.
func (c *Config) SaveToFile(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Dir returns ~/.cropcare, or the working directory if home is unknown.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cropcare"
	}
	return filepath.Join(home, ".cropcare")
}

// DefaultPath returns ~/.cropcare/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func defaultDBPath() string {
	return filepath.Join(Dir(), "cropcare.db")
}
