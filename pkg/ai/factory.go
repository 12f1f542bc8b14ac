package ai

import (
	"fmt"
	"time"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama", "auto" or "none"

	GeminiAPIKey string

	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"

	Timeout time.Duration
}

// NewClassifier creates a Classifier based on the config.
// It returns nil without error when classification is disabled.
func NewClassifier(cfg Config) (Classifier, error) {
	switch cfg.Provider {
	case ProviderNone:
		return nil, nil

	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiService(cfg.GeminiAPIKey, cfg.Timeout), nil

	case ProviderOllama:
		return NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Timeout), nil

	default:
		ollama := NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Timeout)
		if cfg.GeminiAPIKey == "" {
			return ollama, nil
		}
		return NewFallbackService(NewGeminiService(cfg.GeminiAPIKey, cfg.Timeout), ollama), nil
	}
}
