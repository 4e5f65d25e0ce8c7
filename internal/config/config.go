// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the llmgateway proxy.
type Config struct {
	Server       ServerConfig        `koanf:"server"`
	Metrics      MetricsConfig       `koanf:"metrics"`
	RateLimit    RateLimitConfig     `koanf:"rate_limit"`
	Tokenizer    TokenizerConfig     `koanf:"tokenizer"`
	DefaultPeer  DefaultPeerConfig   `koanf:"default_peer"`
	Channels     []ChannelConfig     `koanf:"channels"`
	RoutingRules []RoutingRuleConfig `koanf:"routing_rules"`
}

// DefaultPeerConfig is the process default upstream: where a request lands
// when the router finds no API-key mapping and no smart-routing rule
// matches. Always spoken to in the OpenAI dialect.
type DefaultPeerConfig struct {
	OpenAITLS    bool   `koanf:"openai_tls"`
	OpenAIPort   uint16 `koanf:"openai_port"`
	OpenAIDomain string `koanf:"openai_domain"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	UserHeader   string        `koanf:"user_header"`
}

// MetricsConfig holds the settings for the Prometheus metrics endpoint,
// which listens on its own port so it never competes with proxy traffic
// for the main server's connection pool.
type MetricsConfig struct {
	Port int `koanf:"port"`
}

// RateLimitConfig selects the sliding-window rate limiter backend and its
// settings. Backend is either "dummy" (always permits, for local dev and
// tests) or "redis" (sliding-window counters in a shared Redis instance).
type RateLimitConfig struct {
	Backend         string `koanf:"backend"`
	RedisURL        string `koanf:"redis_url"`
	RedisPoolSize   int    `koanf:"redis_pool_size"`
	WindowMinutes   int    `koanf:"window_minutes"`
	MaxPromptTokens uint64 `koanf:"max_prompt_tokens"`
}

// Window returns the configured sliding window as a time.Duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// TokenizerConfig points at the BPE vocabulary file the token accountant
// loads at startup.
type TokenizerConfig struct {
	VocabPath string `koanf:"vocab_path"`
}

// ChannelConfig is one configured upstream: a peer plus the dialect it
// speaks, a load-balancing weight, an enabled flag, and the raw API keys
// (never the hashes — those are derived at load time) routed directly to
// it.
type ChannelConfig struct {
	ID      string   `koanf:"id"`
	Name    string   `koanf:"name"`
	Host    string   `koanf:"host"`
	Port    uint16   `koanf:"port"`
	TLS     bool     `koanf:"tls"`
	Dialect string   `koanf:"dialect"`
	Weight  uint32   `koanf:"weight"`
	Enabled bool     `koanf:"enabled"`
	APIKeys []string `koanf:"api_keys"`
}

// RoutingRuleConfig matches a model name against an ordered list of suffix
// globs and, on match, selects among primary channels by strategy, falling
// back to fallback channels if the selected primary is disabled.
type RoutingRuleConfig struct {
	ID                 string   `koanf:"id"`
	ModelPatterns      []string `koanf:"model_patterns"`
	PrimaryChannelIDs  []string `koanf:"primary_channel_ids"`
	Strategy           string   `koanf:"strategy"`
	FallbackChannelIDs []string `koanf:"fallback_channel_ids"`
	Enabled            bool     `koanf:"enabled"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "LLMGATEWAY_" can override a scalar config value. The callback
	// transforms the env var name into a koanf key path:
	//   LLMGATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LLMGATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMGATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in channel API keys, the same way the
	// old per-provider config did, since keys still shouldn't live in
	// plaintext YAML checked into a repo.
	for i, ch := range cfg.Channels {
		for j, key := range ch.APIKeys {
			if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
				envVar := key[2 : len(key)-1]
				cfg.Channels[i].APIKeys[j] = os.Getenv(envVar)
			}
		}
	}
	if strings.HasPrefix(cfg.RateLimit.RedisURL, "${") && strings.HasSuffix(cfg.RateLimit.RedisURL, "}") {
		envVar := cfg.RateLimit.RedisURL[2 : len(cfg.RateLimit.RedisURL)-1]
		cfg.RateLimit.RedisURL = os.Getenv(envVar)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.UserHeader == "" {
		cfg.Server.UserHeader = "user"
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "dummy"
	}
	if cfg.RateLimit.WindowMinutes == 0 {
		cfg.RateLimit.WindowMinutes = 1
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.DefaultPeer.OpenAIDomain == "" {
		cfg.DefaultPeer.OpenAIDomain = "api.openai.com"
		cfg.DefaultPeer.OpenAIPort = 443
		cfg.DefaultPeer.OpenAITLS = true
	}
}
