package config

// LLMConfig defines the language model used by the agentic loop.
type LLMConfig struct {
	// Model name (required)
	Model string `yaml:"model" validate:"required"`

	// Maximum output tokens per LM call
	MaxTokens int `yaml:"max_tokens,omitempty" validate:"omitempty,min=1"`

	// Environment variable name for the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Optional custom endpoint/base URL
	BaseURL string `yaml:"base_url,omitempty"`

	// Per-million-token prices used for cost estimates
	Pricing *Pricing `yaml:"pricing,omitempty"`
}

// Pricing holds USD prices per million tokens. Cost estimates are advisory;
// they never gate a request.
type Pricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
	CachedPerMTok float64 `yaml:"cached_per_mtok"`
}
