package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OllamaService classifies with a local Ollama model
type OllamaService struct {
	http  *resty.Client
	model string
}

// NewOllamaService creates a new Ollama service
func NewOllamaService(baseURL, model string, timeout time.Duration) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaService{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout),
		model: model,
	}
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (o *OllamaService) Classify(ctx context.Context, text string, teams []string) (*Classification, error) {
	var result ollamaResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"model":  o.model,
			"prompt": buildPrompt(text, teams),
			"stream": false,
			"format": "json",
			"options": map[string]interface{}{
				"temperature": 0.2,
				"num_predict": 200,
			},
		}).
		SetResult(&result).
		SetError(&result).
		Post("/api/generate")
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode(), result.Error)
	}
	return parseClassification(result.Response)
}
