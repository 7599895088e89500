package llm

import (
	"context"
	"errors"
	"time"

	"calassist/internal/log"
)

// Recorder receives one observation per completion attempt.
type Recorder interface {
	ObserveLLM(provider, outcome string, d time.Duration)
}

// Router dispatches to the backend registered for the requested provider.
type Router struct {
	backends map[Provider]Backend
	def      Provider
	rec      Recorder
}

// NewRouter returns a router whose default provider is def. rec may be nil.
func NewRouter(def Provider, backends map[Provider]Backend, rec Recorder) *Router {
	m := make(map[Provider]Backend, len(backends))
	for p, b := range backends {
		if b != nil {
			m[p] = b
		}
	}
	return &Router{backends: m, def: def, rec: rec}
}

func (r *Router) Complete(ctx context.Context, prompt string, cfg CompletionConfig) (string, error) {
	p := cfg.Provider
	if p == "" {
		p = r.def
	}
	b, ok := r.backends[p]
	if !ok {
		return "", &ModelError{Provider: p, Detail: "provider not configured"}
	}
	cfg.Provider = p

	start := time.Now()
	out, err := b.Complete(ctx, prompt, cfg)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	if r.rec != nil {
		r.rec.ObserveLLM(string(p), outcome, elapsed)
	}
	if err != nil {
		log.Warn("llm completion failed", "provider", p, "outcome", outcome, "elapsed", elapsed, "error", err)
		return "", err
	}
	log.Debug("llm completion", "provider", p, "elapsed", elapsed, "len", len(out))
	return out, nil
}
