// Package config provides configuration management using the Singleton pattern.
// It loads configuration from environment variables and config.yaml using Viper.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// Race policies for the fast-mode community race.
const (
	// RaceFirstSuccess returns the first Success; the first completion only when all fail.
	RaceFirstSuccess = "first-success"
	// RaceFirstCompletion returns whatever finishes first, even a failure.
	RaceFirstCompletion = "first-completion"
)

// Configuration holds all application configuration values.
type Configuration struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Official is the key-authenticated official API.
	Official CredentialConfig `json:"official" mapstructure:"official"`

	// Token is the access-token-authenticated official API.
	Token CredentialConfig `json:"token" mapstructure:"token"`

	// Moderation configuration
	Moderation ModerationConfig `json:"moderation" mapstructure:"moderation"`

	// Providers is the community pool, in race order.
	Providers []domain.Provider `json:"providers" mapstructure:"providers"`

	// History configuration
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Orchestrator configuration
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Quality gate configuration
	Quality QualityConfig `json:"quality" mapstructure:"quality"`

	// RateLimit configuration for the HTTP surface
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the server port number.
	Port int `json:"port" mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeoutSeconds int `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`

	// WriteTimeout must cover a full community race.
	WriteTimeoutSeconds int `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`

	// ShutdownTimeout is the maximum duration to wait for active connections to finish.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CredentialConfig describes an official endpoint and its credential pool.
type CredentialConfig struct {
	// BaseURL is the chat completions root.
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// Model is sent with every request.
	Model string `json:"model" mapstructure:"model"`

	// KeyPrefix is prepended to every credential before it is sent.
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`

	// Keys is the credential pool.
	Keys []string `json:"keys" mapstructure:"keys"`

	// TimeoutSeconds bounds one call.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the per-call timeout.
func (c CredentialConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ModerationConfig holds moderation endpoint settings.
type ModerationConfig struct {
	Endpoint  string   `json:"endpoint" mapstructure:"endpoint"`
	KeyPrefix string   `json:"key_prefix" mapstructure:"key_prefix"`
	Keys      []string `json:"keys" mapstructure:"keys"`

	// RetryDelayMS is the constant wait between failed attempts.
	RetryDelayMS int `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`

	// MaxRetries bounds the retries after the first attempt.
	MaxRetries int `json:"max_retries" mapstructure:"max_retries"`

	// CacheTTLSeconds expires memoised verdicts; zero keeps them forever.
	CacheTTLSeconds int `json:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`

	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// HistoryConfig holds conversation persistence settings.
type HistoryConfig struct {
	// Enabled turns persistence on for identified users.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Backend is one of: file, sqlite, memory.
	Backend string `json:"backend" mapstructure:"backend"`

	// Dir holds <user_id>_history.json files for the file backend.
	Dir string `json:"dir" mapstructure:"dir"`

	// DSN is the database path for the sqlite backend.
	DSN string `json:"dsn" mapstructure:"dsn"`

	// MaxLength caps the total content length of a history, in characters.
	MaxLength int `json:"max_length" mapstructure:"max_length"`
}

// OrchestratorConfig holds run policy settings.
type OrchestratorConfig struct {
	// RacePolicy is first-success or first-completion.
	RacePolicy string `json:"race_policy" mapstructure:"race_policy"`

	// CommunityTimeoutSeconds bounds each community call in fast mode.
	CommunityTimeoutSeconds int `json:"community_timeout_seconds" mapstructure:"community_timeout_seconds"`

	// FailureDelayMS is slept by a community adapter before reporting a failure.
	FailureDelayMS int `json:"failure_delay_ms" mapstructure:"failure_delay_ms"`

	// OfficialFailureDelayMS is slept before an official backend, or any
	// backend in all mode, reports a failure.
	OfficialFailureDelayMS int `json:"official_failure_delay_ms" mapstructure:"official_failure_delay_ms"`

	// CredentialBackoffMS is slept once an official pool is exhausted.
	CredentialBackoffMS int `json:"credential_backoff_ms" mapstructure:"credential_backoff_ms"`

	// MaxPromptLength truncates longer prompts, in characters.
	MaxPromptLength int `json:"max_prompt_length" mapstructure:"max_prompt_length"`

	// DefaultPersona is the system prompt used when no role applies.
	DefaultPersona string `json:"default_persona" mapstructure:"default_persona"`

	// DeadFragments mark answers from dead community mirrors as empty.
	DeadFragments []string `json:"dead_fragments" mapstructure:"dead_fragments"`
}

// QualityConfig holds quality gate settings.
type QualityConfig struct {
	// MaxAttempts caps candidate requests per message.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`

	// FailOpen passes text through when moderation is degraded.
	FailOpen bool `json:"fail_open" mapstructure:"fail_open"`
}

// RateLimitConfig holds per-client HTTP rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" mapstructure:"format"`

	// OutputPath is the file path for log output (empty for stdout).
	OutputPath string `json:"output_path" mapstructure:"output_path"`

	// Warnings toggles warning records.
	Warnings bool `json:"warnings" mapstructure:"warnings"`

	// Errors toggles error records.
	Errors bool `json:"errors" mapstructure:"errors"`

	// Verbose prints every intermediate prompt and provider result to the console.
	Verbose bool `json:"verbose" mapstructure:"verbose"`
}

// configInstance holds the singleton configuration instance.
var (
	configInstance *Configuration
	configOnce     sync.Once
	configErr      error
)

// GetConfig returns the singleton Configuration instance.
// It initializes the configuration on first call using the default config path.
func GetConfig() (*Configuration, error) {
	configOnce.Do(func() {
		configInstance, configErr = loadConfig("")
	})
	return configInstance, configErr
}

// GetConfigWithPath returns the singleton Configuration instance with a custom config path.
func GetConfigWithPath(configPath string) (*Configuration, error) {
	configOnce.Do(func() {
		configInstance, configErr = loadConfig(configPath)
	})
	return configInstance, configErr
}

// MustGetConfig returns the singleton Configuration instance.
// It panics if the configuration cannot be loaded.
func MustGetConfig() *Configuration {
	cfg, err := GetConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// ResetConfig resets the singleton instance.
// This is primarily used for testing purposes.
func ResetConfig() {
	configOnce = sync.Once{}
	configInstance = nil
	configErr = nil
}

// Validate validates the configuration and returns an error if required fields are missing.
func (c *Configuration) Validate() error {
	var validationErrors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "server.port must be between 1 and 65535")
	}

	for i, provider := range c.Providers {
		if provider.Name == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].name is required", i))
		}
		if provider.Type != domain.BackendOpenAI && provider.Type != domain.BackendGemini {
			validationErrors = append(validationErrors, fmt.Sprintf(
				"providers[%d].type '%s' is invalid, must be one of: openai, gemini", i, provider.Type,
			))
		}
		if provider.BaseURL == "" {
			validationErrors = append(validationErrors, fmt.Sprintf("providers[%d].base_url is required", i))
		}
	}

	if c.History.Enabled {
		switch c.History.Backend {
		case "file":
			if c.History.Dir == "" {
				validationErrors = append(validationErrors, "history.dir is required for the file backend")
			}
		case "sqlite":
			if c.History.DSN == "" {
				validationErrors = append(validationErrors, "history.dsn is required for the sqlite backend")
			}
		case "memory":
		default:
			validationErrors = append(validationErrors, fmt.Sprintf(
				"history.backend '%s' is invalid, must be one of: file, sqlite, memory", c.History.Backend,
			))
		}
	}
	if c.History.MaxLength <= 0 {
		validationErrors = append(validationErrors, "history.max_length must be positive")
	}

	if !isValidRacePolicy(c.Orchestrator.RacePolicy) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"orchestrator.race_policy '%s' is invalid, must be one of: first-success, first-completion",
			c.Orchestrator.RacePolicy,
		))
	}
	if c.Orchestrator.MaxPromptLength <= 0 {
		validationErrors = append(validationErrors, "orchestrator.max_prompt_length must be positive")
	}
	if c.Orchestrator.FailureDelayMS < 0 || c.Orchestrator.OfficialFailureDelayMS < 0 {
		validationErrors = append(validationErrors, "orchestrator.failure_delay_ms and orchestrator.official_failure_delay_ms must not be negative")
	}

	if c.Moderation.MaxRetries < 0 {
		validationErrors = append(validationErrors, "moderation.max_retries must not be negative")
	}
	if c.Moderation.RetryDelayMS < 0 {
		validationErrors = append(validationErrors, "moderation.retry_delay_ms must not be negative")
	}
	if c.Moderation.CacheTTLSeconds < 0 {
		validationErrors = append(validationErrors, "moderation.cache_ttl_seconds must not be negative")
	}

	if c.Quality.MaxAttempts < 1 {
		validationErrors = append(validationErrors, "quality.max_attempts must be at least 1")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		validationErrors = append(validationErrors, "rate_limit.requests_per_second and rate_limit.burst must be positive")
	}

	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level,
		))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// isValidRacePolicy checks if the race policy is known.
func isValidRacePolicy(policy string) bool {
	switch policy {
	case RaceFirstSuccess, RaceFirstCompletion:
		return true
	default:
		return false
	}
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// EnabledProviders returns the community providers that join the pool, in config order.
func (c *Configuration) EnabledProviders() []domain.Provider {
	out := make([]domain.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// FailureDelay returns the community failure delay.
func (c *Configuration) FailureDelay() time.Duration {
	return time.Duration(c.Orchestrator.FailureDelayMS) * time.Millisecond
}

// OfficialFailureDelay returns the failure delay of official and all-mode calls.
func (c *Configuration) OfficialFailureDelay() time.Duration {
	return time.Duration(c.Orchestrator.OfficialFailureDelayMS) * time.Millisecond
}

// ModerationRetry returns the moderation retry delay and retry cap.
// Negative values count as zero.
func (c *Configuration) ModerationRetry() (time.Duration, uint64) {
	delay := time.Duration(max(c.Moderation.RetryDelayMS, 0)) * time.Millisecond
	return delay, uint64(max(c.Moderation.MaxRetries, 0))
}

// CommunityTimeout returns the fast-mode community timeout.
func (c *Configuration) CommunityTimeout() time.Duration {
	return time.Duration(c.Orchestrator.CommunityTimeoutSeconds) * time.Second
}

// CredentialBackoff returns the sleep after an official pool runs dry.
func (c *Configuration) CredentialBackoff() time.Duration {
	return time.Duration(c.Orchestrator.CredentialBackoffMS) * time.Millisecond
}
