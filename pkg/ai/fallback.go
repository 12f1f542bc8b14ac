package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
)

// FallbackService routes classification to Gemini first and falls back to Ollama.
// A connection failure on Ollama gets one more Gemini attempt.
type FallbackService struct {
	gemini Classifier
	ollama Classifier
}

// NewFallbackService creates a new fallback service with both providers
func NewFallbackService(gemini, ollama Classifier) *FallbackService {
	return &FallbackService{
		gemini: gemini,
		ollama: ollama,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}

	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	}

	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

func (f *FallbackService) Classify(ctx context.Context, text string, teams []string) (*Classification, error) {
	logger := log.With().Str("component", "ai").Logger()

	if f.gemini != nil {
		result, err := f.gemini.Classify(ctx, text, teams)
		if err == nil {
			return result, nil
		}
		if isQuotaError(err) {
			logger.Warn().Err(err).Msg("Gemini quota exhausted, falling back to Ollama")
		} else {
			logger.Warn().Err(err).Msg("Gemini error, falling back to Ollama")
		}
	}

	if f.ollama != nil {
		result, err := f.ollama.Classify(ctx, text, teams)
		if err == nil {
			return result, nil
		}

		// If Ollama is unreachable, try Gemini once more
		if isConnectionError(err) && f.gemini != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Ollama connection failed, retrying Gemini")
			return f.gemini.Classify(ctx, text, teams)
		}
		return nil, fmt.Errorf("ollama classification failed: %w", err)
	}

	return nil, fmt.Errorf("no AI provider available for classification")
}
