package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"calassist/internal/log"
)

const DefaultHuggingFaceURL = "https://api-inference.huggingface.co/models"

var DefaultHuggingFaceModels = Models{
	TierFast:     "microsoft/Phi-3-mini-4k-instruct",
	TierBalanced: "mistralai/Mistral-7B-Instruct-v0.3",
	TierPremium:  "meta-llama/Meta-Llama-3-70B-Instruct",
}

type HuggingFaceConfig struct {
	BaseURL    string
	Token      string
	Models     Models
	HTTPClient *http.Client
}

// HuggingFace calls the text-generation task of the Inference API.
type HuggingFace struct {
	baseURL string
	token   string
	models  Models
	client  *http.Client
}

func NewHuggingFace(cfg HuggingFaceConfig) *HuggingFace {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHuggingFaceURL
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultHuggingFaceModels
	}
	return &HuggingFace{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		models:  cfg.Models,
		client:  newHTTPClient(cfg.HTTPClient),
	}
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature,omitempty"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

func (h *HuggingFace) Complete(ctx context.Context, prompt string, cfg CompletionConfig) (string, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	modelID := h.models.pick(cfg.Tier)
	body, err := json.Marshal(hfRequest{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxNewTokens: maxTokens,
			Temperature:  cfg.Temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := h.baseURL + "/" + (&url.URL{Path: modelID}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	log.Debug("huggingface request", "model", modelID, "prompt_len", len(prompt))
	resp, err := h.client.Do(req)
	if err != nil {
		return "", &ModelError{Provider: ProviderHuggingFace, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ModelError{Provider: ProviderHuggingFace, Detail: "read response: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ModelError{Provider: ProviderHuggingFace, StatusCode: resp.StatusCode, Detail: truncate(respBody)}
	}

	// The API answers with a list for most models and a bare object for a
	// few.
	var list []hfGeneration
	if err := json.Unmarshal(respBody, &list); err != nil {
		var single hfGeneration
		if err2 := json.Unmarshal(respBody, &single); err2 != nil {
			return "", &ModelError{Provider: ProviderHuggingFace, Detail: "decode response: " + err.Error()}
		}
		list = []hfGeneration{single}
	}
	if len(list) == 0 || strings.TrimSpace(list[0].GeneratedText) == "" {
		return "", &ModelError{Provider: ProviderHuggingFace, Detail: "empty completion"}
	}
	return list[0].GeneratedText, nil
}
