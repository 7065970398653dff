package domain

import "time"

// Mode selects the orchestration policy.
type Mode string

const (
	// ModeFast races for the earliest available answer.
	ModeFast Mode = "fast"
	// ModeAll queries every backend and concatenates the answers.
	ModeAll Mode = "all"
)

// BackendType selects the wire protocol of a community provider.
type BackendType string

const (
	// BackendOpenAI speaks the OpenAI-compatible /chat/completions protocol.
	BackendOpenAI BackendType = "openai"
	// BackendGemini speaks the Gemini generateContent protocol.
	BackendGemini BackendType = "gemini"
)

// Provider describes one community backend from configuration.
type Provider struct {
	// Name is the human-readable name of the provider, used in logs and metrics.
	Name string `json:"name" mapstructure:"name"`

	// Type identifies the wire protocol.
	Type BackendType `json:"type" mapstructure:"type"`

	// BaseURL is the base endpoint for the provider's API.
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// Model is sent with every request. Optional.
	Model string `json:"model" mapstructure:"model"`

	// APIKey is sent when the endpoint needs one. Optional.
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// Enabled indicates whether this provider joins the pool.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TimeoutSeconds overrides the per-call timeout. Optional.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// IsValid checks if the provider has all required fields.
func (p *Provider) IsValid() bool {
	return p.Name != "" && p.BaseURL != "" && (p.Type == BackendOpenAI || p.Type == BackendGemini)
}

// Timeout returns the configured timeout or fallback when unset.
func (p *Provider) Timeout(fallback time.Duration) time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return fallback
}
