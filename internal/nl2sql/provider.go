package nl2sql

import (
	"fmt"

	"github.com/askmesh/askmesh/internal/config"
)

// New builds the translator selected by cfg.Provider. The "none" provider
// yields a translator that always fails with ErrUnavailable.
func New(cfg config.AIConfig, schema Schema) (Translator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAITranslator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Schema:      schema,
		})
	case "gemini":
		return NewGeminiTranslator(GeminiConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Schema:      schema,
		})
	case "anthropic":
		return NewAnthropicTranslator(AnthropicConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Schema:      schema,
		})
	case "none", "":
		return Unavailable(), nil
	default:
		return nil, fmt.Errorf("unknown translator provider %q", cfg.Provider)
	}
}
