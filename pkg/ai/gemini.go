package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiService classifies through the Gemini generateContent REST API
type GeminiService struct {
	http  *resty.Client
	model string
}

func NewGeminiService(apiKey string, timeout time.Duration) *GeminiService {
	return NewGeminiServiceWithBaseURL(geminiBaseURL, apiKey, "gemini-2.5-flash", timeout)
}

func NewGeminiServiceWithBaseURL(baseURL, apiKey, model string, timeout time.Duration) *GeminiService {
	return &GeminiService{
		http: resty.New().
			SetBaseURL(baseURL).
			SetQueryParam("key", apiKey).
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
		model: model,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig map[string]interface{} `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *GeminiService) Classify(ctx context.Context, text string, teams []string) (*Classification, error) {
	var result geminiResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(geminiRequest{
			Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(text, teams)}}}},
			GenerationConfig: map[string]interface{}{
				"temperature":      0.2,
				"responseMimeType": "application/json",
			},
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/models/%s:generateContent", g.model))
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		detail := resp.String()
		if result.Error != nil {
			detail = result.Error.Status + " " + result.Error.Message
		}
		return nil, fmt.Errorf("Gemini API error (%d): %s", resp.StatusCode(), detail)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no classification returned")
	}
	return parseClassification(result.Candidates[0].Content.Parts[0].Text)
}
