package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/router"
)

func TestLoad(t *testing.T) {
	// Create a temporary YAML config file with known values.
	// t.TempDir() gives us a directory that's auto-deleted after the test.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  read_timeout: 10s
  write_timeout: 60s
  user_header: x-user-id

metrics:
  port: 9100

rate_limit:
  backend: redis
  redis_url: ${TEST_REDIS_URL}
  redis_pool_size: 10
  window_minutes: 1
  max_prompt_tokens: 4096

tokenizer:
  vocab_path: /etc/llmgateway/tokenizer.json

default_peer:
  openai_tls: true
  openai_port: 443
  openai_domain: custom.openai.example.com

channels:
  - id: openai_primary
    name: OpenAI primary
    host: api.openai.com
    port: 443
    tls: true
    dialect: openai
    weight: 1
    enabled: true
    api_keys:
      - ${TEST_API_KEY}

routing_rules:
  - id: gpt-models
    model_patterns:
      - "gpt-*"
    primary_channel_ids:
      - openai_primary
    strategy: round_robin
    fallback_channel_ids: []
    enabled: true
`
	// os.WriteFile writes a byte slice to a file. The 0644 is the Unix file
	// permission (owner read/write, group and others read-only).
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err) // require stops the test immediately if this fails

	// Set the environment variables the ${...} placeholders resolve to.
	// t.Setenv auto-restores the original value when the test finishes.
	t.Setenv("TEST_API_KEY", "my-secret-key")
	t.Setenv("TEST_REDIS_URL", "redis://localhost:6379/0")

	// Load the config.
	cfg, err := Load(configPath)
	require.NoError(t, err)

	// Assert server config values.
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "x-user-id", cfg.Server.UserHeader)

	assert.Equal(t, 9100, cfg.Metrics.Port)

	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RateLimit.RedisURL)
	assert.Equal(t, 10, cfg.RateLimit.RedisPoolSize)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, uint64(4096), cfg.RateLimit.MaxPromptTokens)

	assert.Equal(t, "/etc/llmgateway/tokenizer.json", cfg.Tokenizer.VocabPath)

	assert.Equal(t, router.Peer{Host: "custom.openai.example.com", Port: 443, TLS: true}, cfg.DefaultUpstreamPeer())

	require.Len(t, cfg.Channels, 1)
	assert.Equal(t, "openai_primary", cfg.Channels[0].ID)
	assert.Equal(t, "api.openai.com", cfg.Channels[0].Host)
	assert.Equal(t, []string{"my-secret-key"}, cfg.Channels[0].APIKeys)

	require.Len(t, cfg.RoutingRules, 1)
	assert.Equal(t, "gpt-models", cfg.RoutingRules[0].ID)
	assert.Equal(t, []string{"gpt-*"}, cfg.RoutingRules[0].ModelPatterns)
}

func TestLoadEnvOverride(t *testing.T) {
	// Verify that LLMGATEWAY_ env vars override YAML values.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// This should override server.port from 8080 to 3000.
	t.Setenv("LLMGATEWAY_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "user", cfg.Server.UserHeader)
	assert.Equal(t, "dummy", cfg.RateLimit.Backend)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window())
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, router.Peer{Host: "api.openai.com", Port: 443, TLS: true}, cfg.DefaultUpstreamPeer())
}

func TestBuildRouter(t *testing.T) {
	cfg := &Config{
		Channels: []ChannelConfig{
			{ID: "openai_primary", Host: "api.openai.com", Port: 443, TLS: true, Dialect: "openai", Enabled: true, APIKeys: []string{"sk-direct"}},
			{ID: "openai_fallback", Host: "api.openai.com", Port: 443, TLS: true, Dialect: "openai", Enabled: true},
		},
		RoutingRules: []RoutingRuleConfig{
			{
				ID:                 "gpt-models",
				ModelPatterns:      []string{"gpt-*"},
				PrimaryChannelIDs:  []string{"openai_primary"},
				Strategy:           "failover_only",
				FallbackChannelIDs: []string{"openai_fallback"},
				Enabled:            true,
			},
		},
	}

	cache, err := cfg.BuildRouter()
	require.NoError(t, err)

	keys, channels, rules := cache.Stats()
	assert.Equal(t, 1, keys)
	assert.Equal(t, 2, channels)
	assert.Equal(t, 1, rules)

	ch, ok := cache.FindChannelByAPIKey("sk-direct")
	require.True(t, ok)
	assert.Equal(t, "openai_primary", ch.ID)

	ch, ok = cache.SmartRoute("", "gpt-4o")
	require.True(t, ok)
	assert.Equal(t, "openai_primary", ch.ID)
}
