package llmport

import (
	"context"
	"fmt"
	"sync"
)

// cacheKey identifies a cached completion by the fields the spec names:
// (prompt, max_tokens, temperature).
type cacheKey struct {
	prompt      string
	maxTokens   int
	temperature float64
}

// Controller wraps a Provider with a bounded retry loop and an optional
// in-memory response cache (spec §4.4).
type Controller struct {
	provider   Provider
	maxRetries int

	cacheEnabled bool
	mu           sync.Mutex
	cache        map[cacheKey]string
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxRetries overrides the default budget of 3 attempts in total.
func WithMaxRetries(n int) ControllerOption {
	return func(c *Controller) { c.maxRetries = n }
}

// WithCache enables the in-memory response cache.
func WithCache() ControllerOption {
	return func(c *Controller) {
		c.cacheEnabled = true
		c.cache = make(map[cacheKey]string)
	}
}

// NewController wraps provider with the given options.
func NewController(provider Provider, opts ...ControllerOption) *Controller {
	c := &Controller{provider: provider, maxRetries: 3}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SampleText calls the underlying provider up to maxRetries times in all
// (at least once), stopping at the first success, consulting and populating the cache (if enabled) keyed by
// (prompt, max_tokens, temperature).
func (c *Controller) SampleText(ctx context.Context, req SampleTextRequest) (string, error) {
	key := cacheKey{prompt: req.Prompt, maxTokens: req.MaxTokens, temperature: req.Temperature}

	if c.cacheEnabled {
		c.mu.Lock()
		cached, ok := c.cache[key]
		c.mu.Unlock()
		if ok {
			return cached, nil
		}
	}

	var lastErr error
	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.provider.SampleText(ctx, req)
		if err == nil {
			if c.cacheEnabled {
				c.mu.Lock()
				c.cache[key] = result
				c.mu.Unlock()
			}
			return result, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("llmport: sample_text failed after %d attempts: %w", attempts, lastErr)
}

// SampleChoice calls the underlying provider up to maxRetries times in all
// (at least once), stopping at the first success. SampleChoice's own internal parse-retry loop (spec §4.4) is the
// provider's responsibility, not the controller's.
func (c *Controller) SampleChoice(ctx context.Context, prompt string, responses []string, seed *int64) (SampleChoiceResult, error) {
	var lastErr error
	attempts := c.maxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.provider.SampleChoice(ctx, prompt, responses, seed)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return SampleChoiceResult{}, fmt.Errorf("llmport: sample_choice failed after %d attempts: %w", attempts, lastErr)
}
