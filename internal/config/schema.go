package config

// Config holds medshelf configuration.
// Stored at: {home}/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Models       ModelsCfg                 `mapstructure:"models" yaml:"models"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Paths        PathsCfg                  `mapstructure:"paths" yaml:"paths"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openrouter", "openai"
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`     // Optional override for compatible endpoints
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// ModelsCfg selects the model for each pipeline role.
type ModelsCfg struct {
	Extract     string `mapstructure:"extract" yaml:"extract"`         // Vision model for extraction/transcription
	Summarize   string `mapstructure:"summarize" yaml:"summarize"`     // Summarization model
	Consistency string `mapstructure:"consistency" yaml:"consistency"` // Voting/confidence model
	Validation  string `mapstructure:"validation" yaml:"validation"`   // Transcription refusal checker
	Standardize string `mapstructure:"standardize" yaml:"standardize"` // Exam name standardization model
}

// PipelineCfg tunes the processing pipeline.
type PipelineCfg struct {
	// NExtractions is the self-consistency fan-out per page.
	NExtractions int `mapstructure:"n_extractions" yaml:"n_extractions"`
	// MaxWorkers bounds concurrent page processing.
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`
	// SummarizeMaxInputTokens bounds content per summarization call.
	SummarizeMaxInputTokens int `mapstructure:"summarize_max_input_tokens" yaml:"summarize_max_input_tokens"`
	// IncrementalOverheadTokens reserves room for the running summary.
	IncrementalOverheadTokens int `mapstructure:"incremental_overhead_tokens" yaml:"incremental_overhead_tokens"`
}

// PathsCfg locates input documents and output artifacts.
type PathsCfg struct {
	Input          string `mapstructure:"input" yaml:"input"`
	Output         string `mapstructure:"output" yaml:"output"`
	InputFileRegex string `mapstructure:"input_file_regex" yaml:"input_file_regex"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 150,
				Enabled:   true,
			},
		},
		Models: ModelsCfg{
			Extract:     "google/gemini-2.5-pro",
			Summarize:   "anthropic/claude-sonnet-4",
			Consistency: "anthropic/claude-sonnet-4",
			Validation:  "anthropic/claude-haiku-4.5",
			Standardize: "anthropic/claude-sonnet-4",
		},
		Pipeline: PipelineCfg{
			NExtractions:              1,
			MaxWorkers:                4,
			SummarizeMaxInputTokens:   100000,
			IncrementalOverheadTokens: 4000,
		},
		Paths: PathsCfg{},
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
