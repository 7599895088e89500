package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 256

type cachedBackend struct {
	delegate Backend
	cache    *lru.Cache[string, string]
}

// NewCached wraps b with an LRU cache of successful completions keyed by
// prompt and config. Errors are never cached. A non-positive size means the
// default size.
func NewCached(b Backend, size int) Backend {
	if b == nil {
		return nil
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		return b
	}
	return &cachedBackend{delegate: b, cache: cache}
}

func (c *cachedBackend) Complete(ctx context.Context, prompt string, cfg CompletionConfig) (string, error) {
	key := cacheKey(prompt, cfg)
	if out, ok := c.cache.Get(key); ok {
		return out, nil
	}
	out, err := c.delegate.Complete(ctx, prompt, cfg)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

func cacheKey(prompt string, cfg CompletionConfig) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s|%s|%d|%g|%s", cfg.Provider, cfg.Tier, cfg.MaxTokens, cfg.Temperature, hex.EncodeToString(sum[:]))
}
