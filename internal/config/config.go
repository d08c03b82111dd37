// Package config loads and validates the quill.yml configuration.
// The parsed Config is passed explicitly into the pipeline engine at
// construction; nothing in the system reads configuration ambiently.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillpress/quill/internal/assemble"
	"github.com/quillpress/quill/internal/retry"
)

const (
	defaultLeaseTTLSecs         = 300
	defaultAssemblerTimeoutSecs = 120
	defaultPlatformTimeoutSecs  = 15
)

// Config represents the top-level quill.yml configuration.
type Config struct {
	Version      string              `yaml:"version"`
	Instance     string              `yaml:"instance"`
	RedisURL     string              `yaml:"redis_url"`
	ArchiveDir   string              `yaml:"archive_dir"`
	LeaseTTLSecs int                 `yaml:"lease_ttl_secs,omitempty"`
	Assembler    AssemblerConfig     `yaml:"assembler"`
	Retry        RetryConfig         `yaml:"retry,omitempty"`
	Platforms    map[string]Platform `yaml:"platforms"`
	Sources      []Source            `yaml:"sources,omitempty"`
}

// LeaseTTL returns the per-item lease TTL.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSecs) * time.Second
}

// AssemblerConfig selects the completion endpoint and model, and shapes the
// target article. The API key is referenced by environment variable name;
// credential values never appear in the file.
type AssemblerConfig struct {
	Endpoint    string              `yaml:"endpoint"`
	Model       string              `yaml:"model"`
	APIKeyEnv   string              `yaml:"api_key_env"`
	TimeoutSecs int                 `yaml:"timeout_secs,omitempty"`
	Target      assemble.TargetSpec `yaml:"target,omitempty"`
}

// APIKey resolves the assembler credential from the environment.
func (a AssemblerConfig) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// Timeout returns the per-call assembler timeout. Generation latency is
// inherently higher than I/O latency, so the default is generous.
func (a AssemblerConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSecs) * time.Second
}

// PolicyConfig is the YAML shape of one stage's retry policy.
type PolicyConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	BaseBackoffMs int     `yaml:"base_backoff_ms"`
	MaxBackoffMs  int     `yaml:"max_backoff_ms,omitempty"`
	Jitter        float64 `yaml:"jitter,omitempty"`
}

// Policy converts the YAML shape into the retry layer's policy value.
// Zero-valued fields fall back to the retry layer's defaults.
func (p PolicyConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: p.MaxAttempts,
		BaseBackoff: time.Duration(p.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(p.MaxBackoffMs) * time.Millisecond,
		Jitter:      p.Jitter,
	}
}

// RetryConfig holds the per-stage retry policies. Assembly typically
// carries a longer base backoff than the I/O stages.
type RetryConfig struct {
	Collect  PolicyConfig `yaml:"collect,omitempty"`
	Extract  PolicyConfig `yaml:"extract,omitempty"`
	Assemble PolicyConfig `yaml:"assemble,omitempty"`
	Publish  PolicyConfig `yaml:"publish,omitempty"`
}

// Platform is one target platform's config block. Credential fields are
// environment variable references, opaque to the core.
type Platform struct {
	Type        string `yaml:"type"` // "telegram" or "webhook"
	TokenEnv    string `yaml:"token_env,omitempty"`
	ChatID      string `yaml:"chat_id,omitempty"`
	URL         string `yaml:"url,omitempty"`
	SecretEnv   string `yaml:"secret_env,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty"`
}

// Token resolves the platform credential from the environment.
func (p Platform) Token() string {
	if p.TokenEnv == "" {
		return ""
	}
	return os.Getenv(p.TokenEnv)
}

// Secret resolves the webhook signing secret from the environment.
func (p Platform) Secret() string {
	if p.SecretEnv == "" {
		return ""
	}
	return os.Getenv(p.SecretEnv)
}

// Timeout returns the per-request timeout for this platform.
func (p Platform) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// Source is one collection target, optionally on a cron schedule.
type Source struct {
	URL      string `yaml:"url"`
	Schedule string `yaml:"schedule,omitempty"` // cron expression; empty = manual only
}

// Validate performs strict validation on the configuration and applies
// defaults for optional fields.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if c.RedisURL == "" {
		return fmt.Errorf("redis_url is required")
	}

	if c.ArchiveDir == "" {
		return fmt.Errorf("archive_dir is required")
	}

	if c.LeaseTTLSecs == 0 {
		c.LeaseTTLSecs = defaultLeaseTTLSecs
	}
	if c.LeaseTTLSecs < 0 {
		return fmt.Errorf("lease_ttl_secs must be positive")
	}

	if c.Assembler.Endpoint == "" || c.Assembler.Model == "" {
		return fmt.Errorf("assembler endpoint and model are required")
	}
	if c.Assembler.TimeoutSecs == 0 {
		c.Assembler.TimeoutSecs = defaultAssemblerTimeoutSecs
	}

	if len(c.Platforms) == 0 {
		return fmt.Errorf("no platforms defined")
	}
	for name, p := range c.Platforms {
		if err := p.Validate(name); err != nil {
			return err
		}
		if p.TimeoutSecs == 0 {
			p.TimeoutSecs = defaultPlatformTimeoutSecs
			c.Platforms[name] = p
		}
	}

	for i, src := range c.Sources {
		if src.URL == "" {
			return fmt.Errorf("source %d: url is required", i)
		}
	}

	return nil
}

// Validate performs validation on a single platform block.
func (p Platform) Validate(name string) error {
	switch p.Type {
	case "telegram":
		if p.TokenEnv == "" {
			return fmt.Errorf("platform '%s': token_env is required for telegram", name)
		}
		if p.ChatID == "" {
			return fmt.Errorf("platform '%s': chat_id is required for telegram", name)
		}
	case "webhook":
		if p.URL == "" {
			return fmt.Errorf("platform '%s': url is required for webhook", name)
		}
	case "":
		return fmt.Errorf("platform '%s': type is required", name)
	default:
		return fmt.Errorf("platform '%s': unknown type: %s (must be 'telegram' or 'webhook')", name, p.Type)
	}
	return nil
}

// PlatformNames returns the configured platform names.
func (c *Config) PlatformNames() []string {
	names := make([]string, 0, len(c.Platforms))
	for name := range c.Platforms {
		names = append(names, name)
	}
	return names
}

// Load reads and validates quill.yml from the specified path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
