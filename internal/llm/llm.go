// Package llm provides text-completion backends: OpenRouter, the Hugging Face
// Inference API and an offline local classifier, behind a single Backend
// interface.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"calassist/internal/model"
)

type Provider string

const (
	ProviderLocal       Provider = "local"
	ProviderOpenRouter  Provider = "openrouter"
	ProviderHuggingFace Provider = "huggingface"
)

// Tier is the closed set of model classes offered to users.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPremium  Tier = "premium"
)

// CompletionConfig selects the provider and model class for one call. Zero
// fields fall back to the backend's defaults.
type CompletionConfig struct {
	Provider    Provider
	Tier        Tier
	MaxTokens   int
	Temperature float64
}

// Backend is an opaque text-completion function.
type Backend interface {
	Complete(ctx context.Context, prompt string, cfg CompletionConfig) (string, error)
}

// ModelError describes a failed completion. Detail is for logs only and must
// not reach users.
type ModelError struct {
	Provider   Provider
	StatusCode int
	Detail     string
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d", model.ErrExternalModel, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %s", model.ErrExternalModel, e.Provider, e.Detail)
}

func (e *ModelError) Unwrap() error { return model.ErrExternalModel }

// Models maps each tier to a provider-specific model identifier.
type Models map[Tier]string

func (m Models) pick(t Tier) string {
	if id, ok := m[t]; ok && id != "" {
		return id
	}
	return m[TierBalanced]
}

const (
	defaultMaxTokens = 256
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 2048
)

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
