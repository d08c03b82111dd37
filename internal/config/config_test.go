package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/quill/internal/retry"
)

// validConfig builds a minimal config that passes validation. Tests mutate
// the result to probe individual rules.
func validConfig() *Config {
	return &Config{
		Version:    "1.0",
		RedisURL:   "redis://localhost:6379",
		ArchiveDir: "/var/lib/quill/archive",
		Assembler: AssemblerConfig{
			Endpoint: "https://api.example.com/v1/chat/completions",
			Model:    "test-model",
		},
		Platforms: map[string]Platform{
			"tg-main": {Type: "telegram", TokenEnv: "TG_TOKEN", ChatID: "@channel"},
		},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "quill.yml")

	validYAML := `version: "1.0"
instance: "newsroom"
redis_url: "redis://localhost:6379"
archive_dir: "/var/lib/quill/archive"
lease_ttl_secs: 120
assembler:
  endpoint: "https://api.example.com/v1/chat/completions"
  model: "test-model"
  api_key_env: "QUILL_API_KEY"
  target:
    audience: "engineers"
    style: "concise"
    max_words: 800
retry:
  publish:
    max_attempts: 5
    base_backoff_ms: 500
    max_backoff_ms: 30000
    jitter: 0.2
platforms:
  tg-main:
    type: telegram
    token_env: "TG_TOKEN"
    chat_id: "@channel"
  blog-hook:
    type: webhook
    url: "https://blog.example.com/ingest"
    secret_env: "BLOG_SECRET"
    timeout_secs: 10
sources:
  - url: "https://example.com/feed"
    schedule: "0 * * * *"
`
	err := os.WriteFile(configPath, []byte(validYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "newsroom", config.Instance)
	assert.Equal(t, 2*time.Minute, config.LeaseTTL())
	assert.Equal(t, "engineers", config.Assembler.Target.Audience)
	assert.Equal(t, 800, config.Assembler.Target.MaxWords)
	assert.Len(t, config.Platforms, 2)
	assert.Equal(t, "telegram", config.Platforms["tg-main"].Type)
	assert.Equal(t, 10*time.Second, config.Platforms["blog-hook"].Timeout())
	require.Len(t, config.Sources, 1)
	assert.Equal(t, "0 * * * *", config.Sources[0].Schedule)

	policy := config.Retry.Publish.Policy()
	assert.Equal(t, retry.Policy{
		MaxAttempts: 5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		Jitter:      0.2,
	}, policy)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/quill.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "quill.yml")

	invalidYAML := `version: "1.0"
platforms:
  - this is invalid
    yaml syntax
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Defaults(t *testing.T) {
	config := validConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, "default", config.Instance)
	assert.Equal(t, 5*time.Minute, config.LeaseTTL())
	assert.Equal(t, 120*time.Second, config.Assembler.Timeout())
	assert.Equal(t, 15*time.Second, config.Platforms["tg-main"].Timeout())
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	config := validConfig()
	config.Version = "2.0"

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version: 2.0")
}

func TestValidate_RequiredFields(t *testing.T) {
	t.Run("redis_url", func(t *testing.T) {
		config := validConfig()
		config.RedisURL = ""
		assert.ErrorContains(t, config.Validate(), "redis_url is required")
	})

	t.Run("archive_dir", func(t *testing.T) {
		config := validConfig()
		config.ArchiveDir = ""
		assert.ErrorContains(t, config.Validate(), "archive_dir is required")
	})

	t.Run("assembler", func(t *testing.T) {
		config := validConfig()
		config.Assembler.Model = ""
		assert.ErrorContains(t, config.Validate(), "assembler endpoint and model are required")
	})

	t.Run("platforms", func(t *testing.T) {
		config := validConfig()
		config.Platforms = nil
		assert.ErrorContains(t, config.Validate(), "no platforms defined")
	})

	t.Run("source url", func(t *testing.T) {
		config := validConfig()
		config.Sources = []Source{{Schedule: "@hourly"}}
		assert.ErrorContains(t, config.Validate(), "source 0: url is required")
	})
}

func TestValidate_NegativeLeaseTTL(t *testing.T) {
	config := validConfig()
	config.LeaseTTLSecs = -1
	assert.ErrorContains(t, config.Validate(), "lease_ttl_secs must be positive")
}

func TestPlatformValidate(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		wantErr  string
	}{
		{
			name:     "telegram ok",
			platform: Platform{Type: "telegram", TokenEnv: "TG_TOKEN", ChatID: "@c"},
		},
		{
			name:     "telegram missing token_env",
			platform: Platform{Type: "telegram", ChatID: "@c"},
			wantErr:  "token_env is required",
		},
		{
			name:     "telegram missing chat_id",
			platform: Platform{Type: "telegram", TokenEnv: "TG_TOKEN"},
			wantErr:  "chat_id is required",
		},
		{
			name:     "webhook ok",
			platform: Platform{Type: "webhook", URL: "https://blog.example.com/ingest"},
		},
		{
			name:     "webhook missing url",
			platform: Platform{Type: "webhook"},
			wantErr:  "url is required",
		},
		{
			name:     "missing type",
			platform: Platform{},
			wantErr:  "type is required",
		},
		{
			name:     "unknown type",
			platform: Platform{Type: "mastodon"},
			wantErr:  "unknown type: mastodon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.platform.Validate("test")
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestEnvResolvers(t *testing.T) {
	t.Setenv("QUILL_TEST_TOKEN", "tok-123")
	t.Setenv("QUILL_TEST_SECRET", "sec-456")
	t.Setenv("QUILL_TEST_KEY", "key-789")

	p := Platform{Type: "webhook", URL: "https://x", TokenEnv: "QUILL_TEST_TOKEN", SecretEnv: "QUILL_TEST_SECRET"}
	assert.Equal(t, "tok-123", p.Token())
	assert.Equal(t, "sec-456", p.Secret())

	a := AssemblerConfig{APIKeyEnv: "QUILL_TEST_KEY"}
	assert.Equal(t, "key-789", a.APIKey())

	// Empty env references resolve to empty, not a lookup of ""
	assert.Empty(t, Platform{}.Token())
	assert.Empty(t, Platform{}.Secret())
	assert.Empty(t, AssemblerConfig{}.APIKey())
}

func TestPlatformNames(t *testing.T) {
	config := validConfig()
	config.Platforms["blog-hook"] = Platform{Type: "webhook", URL: "https://x"}

	names := config.PlatformNames()
	assert.ElementsMatch(t, []string{"tg-main", "blog-hook"}, names)
}
