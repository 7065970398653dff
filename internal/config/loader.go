package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "HPN_RELAY"

	// EnvOpenAIKeys holds the official key pool (comma-separated).
	// It takes PRIORITY over file configuration.
	EnvOpenAIKeys = "HPN_OPENAI_KEYS"

	// EnvAuthTokens holds the access-token pool (comma-separated).
	EnvAuthTokens = "HPN_AUTH_TOKENS"

	// EnvModerationKeys holds the moderation key pool (comma-separated).
	EnvModerationKeys = "HPN_MODERATION_KEYS"

	// DefaultPersona is the system prompt used when no role applies.
	DefaultPersona = "Ты полезный ассистент и даёшь только полезную информацию"
)

// Load reads configuration without touching the singleton.
func Load(configPath string) (*Configuration, error) {
	return loadConfig(configPath)
}

// loadConfig loads the configuration from environment variables and files.
// Priority order (highest to lowest):
// 1. HPN_OPENAI_KEYS / HPN_AUTH_TOKENS / HPN_MODERATION_KEYS for credential pools
// 2. Environment variables (prefixed with HPN_RELAY_)
// 3. config.yaml
// 4. Default values
func loadConfig(configPath string) (*Configuration, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hpn-g-relay")
		v.AddConfigPath("$HOME/.hpn-g-relay")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintf(os.Stderr, "[CONFIG] Config file not found, using defaults and environment variables\n")
		} else {
			return nil, &ConfigError{
				Op:  "read",
				Err: fmt.Errorf("failed to read config file: %w", err),
			}
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}

	pools := []struct {
		env    string
		target *[]string
	}{
		{EnvOpenAIKeys, &cfg.Official.Keys},
		{EnvAuthTokens, &cfg.Token.Keys},
		{EnvModerationKeys, &cfg.Moderation.Keys},
	}
	for _, p := range pools {
		if keys, ok := loadPoolFromEnv(p.env); ok {
			*p.target = keys
			fmt.Fprintf(os.Stderr, "[SECURITY] Using %s env var (file config keys ignored)\n", p.env)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 300)
	v.SetDefault("server.shutdown_timeout_seconds", 15)

	// Official API defaults
	v.SetDefault("official.base_url", "https://api.openai.com/v1")
	v.SetDefault("official.model", "gpt-3.5-turbo-1106")
	v.SetDefault("official.key_prefix", "")
	v.SetDefault("official.timeout_seconds", 60)

	v.SetDefault("token.base_url", "https://api.openai.com/v1")
	v.SetDefault("token.model", "gpt-3.5-turbo-1106")
	v.SetDefault("token.key_prefix", "")
	v.SetDefault("token.timeout_seconds", 60)

	// Moderation defaults
	v.SetDefault("moderation.endpoint", "https://api.openai.com/v1/moderations")
	v.SetDefault("moderation.key_prefix", "")
	v.SetDefault("moderation.retry_delay_ms", 3000)
	v.SetDefault("moderation.max_retries", 20)
	v.SetDefault("moderation.cache_ttl_seconds", 0)
	v.SetDefault("moderation.timeout_seconds", 30)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.backend", "file")
	v.SetDefault("history.dir", "./history")
	v.SetDefault("history.dsn", "./history.db")
	v.SetDefault("history.max_length", 4000)

	// Orchestrator defaults
	v.SetDefault("orchestrator.race_policy", RaceFirstSuccess)
	v.SetDefault("orchestrator.community_timeout_seconds", 120)
	v.SetDefault("orchestrator.failure_delay_ms", 0)
	v.SetDefault("orchestrator.official_failure_delay_ms", 1000)
	v.SetDefault("orchestrator.credential_backoff_ms", 1000)
	v.SetDefault("orchestrator.max_prompt_length", 4000)
	v.SetDefault("orchestrator.default_persona", DefaultPersona)
	v.SetDefault("orchestrator.dead_fragments", []string{"https://gptgo.ai"})

	// Quality defaults
	v.SetDefault("quality.max_attempts", 10)
	v.SetDefault("quality.fail_open", false)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 2)
	v.SetDefault("rate_limit.burst", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")
	v.SetDefault("logging.warnings", true)
	v.SetDefault("logging.errors", true)
	v.SetDefault("logging.verbose", false)
}

// loadPoolFromEnv reads a comma-separated credential pool from env.
// Returns false when the variable is unset or holds no usable keys.
func loadPoolFromEnv(env string) ([]string, bool) {
	value := os.Getenv(env)
	if value == "" {
		return nil, false
	}

	keys := make([]string, 0)
	for _, key := range strings.Split(value, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}

	return keys, len(keys) > 0
}
