// Package llm provides centralized LLM configuration and client abstractions.
// The fast resolution path runs on the standard tier (Flash), the deep path on the
// advanced tier (Pro) and the summary side channel on the lite tier.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: one-sentence summaries
	TierLite ModelTier = "lite"
	// TierStandard is for low-latency structured output: the fast path
	TierStandard ModelTier = "standard"
	// TierAdvanced is for deep reasoning: the deep path and synthesis
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// defaultTemperature is used for tiers without an explicit temperature
const defaultTemperature float32 = 0.1

// Config holds the model configuration for the application
type Config struct {
	Provider     Provider
	Models       map[ModelTier]string
	Temperatures map[ModelTier]float32
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperatures: map[ModelTier]float32{
			TierLite:     0.2,
			TierStandard: 0.1,
			TierAdvanced: 0.4,
		},
	}
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return "" // No model configured
}

// GetTemperature returns the sampling temperature for a tier
func (c *Config) GetTemperature(tier ModelTier) float32 {
	if t, ok := c.Temperatures[tier]; ok {
		return t
	}
	return defaultTemperature
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	newConfig := c.copy()
	newConfig.Models[tier] = model
	return newConfig
}

// WithTemperature returns a new Config with a specific temperature for a tier
func (c *Config) WithTemperature(tier ModelTier, temperature float32) *Config {
	newConfig := c.copy()
	newConfig.Temperatures[tier] = temperature
	return newConfig
}

func (c *Config) copy() *Config {
	newConfig := &Config{
		Provider:     c.Provider,
		Models:       make(map[ModelTier]string, len(c.Models)),
		Temperatures: make(map[ModelTier]float32, len(c.Temperatures)),
	}
	for k, v := range c.Models {
		newConfig.Models[k] = v
	}
	for k, v := range c.Temperatures {
		newConfig.Temperatures[k] = v
	}
	return newConfig
}
