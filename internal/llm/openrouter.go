package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"calassist/internal/log"
)

const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// DefaultOpenRouterModels is used when no models are configured.
var DefaultOpenRouterModels = Models{
	TierFast:     "meta-llama/llama-3.1-8b-instruct",
	TierBalanced: "openai/gpt-4o-mini",
	TierPremium:  "anthropic/claude-3.5-sonnet",
}

type OpenRouterConfig struct {
	BaseURL    string
	APIKey     string
	Models     Models
	HTTPClient *http.Client
	// Headers are added to every request (for example HTTP-Referer and
	// X-Title for OpenRouter rankings).
	Headers map[string]string
}

// OpenRouter speaks the OpenAI-compatible chat completions API.
type OpenRouter struct {
	baseURL string
	apiKey  string
	models  Models
	client  *http.Client
	headers map[string]string
}

func NewOpenRouter(cfg OpenRouterConfig) *OpenRouter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenRouterURL
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultOpenRouterModels
	}
	return &OpenRouter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  newHTTPClient(cfg.HTTPClient),
		headers: cfg.Headers,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenRouter) Complete(ctx context.Context, prompt string, cfg CompletionConfig) (string, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	modelID := o.models.pick(cfg.Tier)
	body, err := json.Marshal(chatRequest{
		Model:       modelID,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	log.Debug("openrouter request", "model", modelID, "prompt_len", len(prompt))
	resp, err := o.client.Do(req)
	if err != nil {
		return "", &ModelError{Provider: ProviderOpenRouter, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ModelError{Provider: ProviderOpenRouter, Detail: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ModelError{Provider: ProviderOpenRouter, StatusCode: resp.StatusCode, Detail: truncate(respBody)}
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", &ModelError{Provider: ProviderOpenRouter, Detail: "decode response: " + err.Error()}
	}
	if out.Error != nil {
		return "", &ModelError{Provider: ProviderOpenRouter, Detail: out.Error.Message}
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", &ModelError{Provider: ProviderOpenRouter, Detail: "empty completion"}
	}
	return out.Choices[0].Message.Content, nil
}
