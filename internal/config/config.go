package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the offerlens pipeline.
type Config struct {
	LLM          LLMConfig
	Database     DatabaseConfig
	Pipeline     PipelineConfig
	Policy       PolicyConfig
	Links        LinksConfig
	Notification NotificationConfig
	ProfilePath  string
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL string        // defaults to https://api.openai.com/v1
	Model   string        // model identifier, e.g. "gpt-4o-mini"
	APIKey  string        // expanded from env var by Load; optional for local servers
	Timeout time.Duration // per-request timeout
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "pgx"
	DSN    string `yaml:"dsn"`
}

// PipelineConfig controls batch processing behavior.
type PipelineConfig struct {
	Workers      int
	Limit        int // 0 means process everything pending
	MaxRetries   int
	FetchDelay   time.Duration // minimum gap between requests to the same host
	FetchTimeout time.Duration
}

// PolicyConfig holds the deterministic decision cutoffs.
type PolicyConfig struct {
	ApplyMinFit    int `yaml:"apply_min_fit"`
	IgnoreBelowFit int `yaml:"ignore_below_fit"`
}

// LinksConfig filters which URLs enter the pipeline on import.
type LinksConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	LLM          rawLLMConfig       `yaml:"llm"`
	Database     DatabaseConfig     `yaml:"database"`
	Pipeline     rawPipelineConfig  `yaml:"pipeline"`
	Policy       *PolicyConfig      `yaml:"policy"`
	Links        LinksConfig        `yaml:"links"`
	Notification NotificationConfig `yaml:"notification"`
	ProfilePath  string             `yaml:"profile"`
}

type rawLLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

type rawPipelineConfig struct {
	Workers      int    `yaml:"workers"`
	Limit        int    `yaml:"limit"`
	MaxRetries   *int   `yaml:"max_retries"`
	FetchDelay   string `yaml:"fetch_delay"`
	FetchTimeout string `yaml:"fetch_timeout"`
}

// Load reads and parses the YAML config file at path, validates it, and
// returns Config. Environment variable references in the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	llmTimeout := 120 * time.Second // default: local models are slow
	if raw.LLM.Timeout != "" {
		llmTimeout, err = time.ParseDuration(raw.LLM.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse llm.timeout %q: %w", raw.LLM.Timeout, err)
		}
	}

	llmBaseURL := raw.LLM.BaseURL
	if llmBaseURL == "" {
		llmBaseURL = defaultOpenAIBaseURL
	}

	fetchDelay := 2 * time.Second // default
	if raw.Pipeline.FetchDelay != "" {
		fetchDelay, err = time.ParseDuration(raw.Pipeline.FetchDelay)
		if err != nil {
			return nil, fmt.Errorf("parse pipeline.fetch_delay %q: %w", raw.Pipeline.FetchDelay, err)
		}
	}

	fetchTimeout := 30 * time.Second // default
	if raw.Pipeline.FetchTimeout != "" {
		fetchTimeout, err = time.ParseDuration(raw.Pipeline.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("parse pipeline.fetch_timeout %q: %w", raw.Pipeline.FetchTimeout, err)
		}
	}

	workers := raw.Pipeline.Workers
	if workers == 0 {
		workers = 1
	}

	maxRetries := 3 // default
	if raw.Pipeline.MaxRetries != nil {
		maxRetries = *raw.Pipeline.MaxRetries
	}

	database := raw.Database
	if database.Driver == "" {
		database.Driver = "sqlite"
	}
	if database.DSN == "" && database.Driver == "sqlite" {
		database.DSN = "offerlens.db"
	}

	policy := PolicyConfig{ApplyMinFit: 75, IgnoreBelowFit: 40}
	if raw.Policy != nil {
		policy = *raw.Policy
	}

	cfg := &Config{
		LLM: LLMConfig{
			BaseURL: llmBaseURL,
			Model:   raw.LLM.Model,
			APIKey:  raw.LLM.APIKey,
			Timeout: llmTimeout,
		},
		Database: database,
		Pipeline: PipelineConfig{
			Workers:      workers,
			Limit:        raw.Pipeline.Limit,
			MaxRetries:   maxRetries,
			FetchDelay:   fetchDelay,
			FetchTimeout: fetchTimeout,
		},
		Policy:       policy,
		Links:        raw.Links,
		Notification: raw.Notification,
		ProfilePath:  raw.ProfilePath,
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadProfile reads the candidate profile document referenced by the config.
func (c *Config) LoadProfile() (string, error) {
	if c.ProfilePath == "" {
		return "", fmt.Errorf("profile path is not configured")
	}
	data, err := os.ReadFile(c.ProfilePath)
	if err != nil {
		return "", fmt.Errorf("read profile: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("profile %s is empty", c.ProfilePath)
	}
	return string(data), nil
}

func validate(cfg *Config) error {
	if cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if cfg.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive, got %v", cfg.LLM.Timeout)
	}

	switch cfg.Database.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"pgx\", got %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
	}

	if cfg.Pipeline.Workers < 1 || cfg.Pipeline.Workers > 32 {
		return fmt.Errorf("pipeline.workers must be between 1 and 32, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative, got %d", cfg.Pipeline.MaxRetries)
	}

	if cfg.Policy.ApplyMinFit < 0 || cfg.Policy.ApplyMinFit > 100 ||
		cfg.Policy.IgnoreBelowFit < 0 || cfg.Policy.IgnoreBelowFit > 100 {
		return fmt.Errorf("policy cutoffs must be within [0,100]")
	}
	if cfg.Policy.IgnoreBelowFit >= cfg.Policy.ApplyMinFit {
		return fmt.Errorf("policy.ignore_below_fit (%d) must be below policy.apply_min_fit (%d)",
			cfg.Policy.IgnoreBelowFit, cfg.Policy.ApplyMinFit)
	}

	if cfg.Notification.Type == "slack" {
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		const prefix = "https://hooks.slack.com/"
		if len(cfg.Notification.WebhookURL) < len(prefix) || cfg.Notification.WebhookURL[:len(prefix)] != prefix {
			return fmt.Errorf("notification.webhook_url must start with %s", prefix)
		}
	}

	return nil
}
