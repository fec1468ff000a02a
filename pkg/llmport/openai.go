package llmport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/universalis-sim/universalis/pkg/config"
	"github.com/universalis-sim/universalis/pkg/httpclient"
	"github.com/universalis-sim/universalis/pkg/ratelimit"
)

const openAIDefaultHost = "https://api.openai.com/v1"

// OpenAIProvider is a concrete Provider backed by OpenAI's chat
// completions endpoint. It is adapted from the teacher's llms/openai.go
// HTTP client construction (TLS-less here, since the CORE's config
// surface carries no TLS override knobs) and retry wiring, narrowed to
// plain text completion and choice sampling — no tool-calling, no
// streaming, no structured-output negotiation.
type OpenAIProvider struct {
	cfg        *config.LLMProviderConfig
	httpClient *httpclient.Client
	host       string

	limiter         ratelimit.RateLimiter
	limitScope      ratelimit.Scope
	limitIdentifier string
}

// Option configures an OpenAIProvider.
type Option func(*OpenAIProvider)

// WithRateLimiter attaches a ratelimit.RateLimiter that gates every outbound
// completion call. identifier defaults to the configured model name when
// empty. A nil limiter (the default) disables rate limiting entirely.
func WithRateLimiter(limiter ratelimit.RateLimiter, scope ratelimit.Scope, identifier string) Option {
	return func(p *OpenAIProvider) {
		p.limiter = limiter
		p.limitScope = scope
		p.limitIdentifier = identifier
	}
}

// NewOpenAIProvider builds a provider from an LLM provider config entry.
func NewOpenAIProvider(cfg *config.LLMProviderConfig, opts ...Option) *OpenAIProvider {
	host := cfg.Host
	if host == "" {
		host = openAIDefaultHost
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryDelay := time.Duration(cfg.RetryDelay) * time.Second
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}

	httpOpts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(retryDelay),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	}

	p := &OpenAIProvider{
		cfg:             cfg,
		httpClient:      httpclient.New(httpOpts...),
		host:            host,
		limitScope:      ratelimit.ScopeUser,
		limitIdentifier: cfg.Model,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limitIdentifier == "" {
		p.limitIdentifier = cfg.Model
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Seed        *int64        `json:"seed,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []chatMessage, maxTokens int, temperature, topP float64, stop []string, seed *int64) (string, error) {
	if p.limiter != nil {
		result, err := p.limiter.CheckAndRecord(ctx, p.limitScope, p.limitIdentifier, 0, 1)
		if err != nil {
			return "", fmt.Errorf("llmport: rate limit check: %w", err)
		}
		if !result.Allowed {
			return "", ratelimit.NewRateLimitError(result)
		}
	}

	reqBody := chatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
		Stop:        stop,
		Seed:        seed,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llmport: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llmport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llmport: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmport: read response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llmport: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llmport: openai error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llmport: empty choices in response")
	}

	if p.limiter != nil && parsed.Usage != nil && parsed.Usage.TotalTokens > 0 {
		if err := p.limiter.Record(ctx, p.limitScope, p.limitIdentifier, int64(parsed.Usage.TotalTokens), 0); err != nil {
			return "", fmt.Errorf("llmport: rate limit record: %w", err)
		}
	}

	return parsed.Choices[0].Message.Content, nil
}

// SampleText implements Provider.
func (p *OpenAIProvider) SampleText(ctx context.Context, req SampleTextRequest) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	raw, err := p.complete(ctx, []chatMessage{{Role: "user", Content: req.Prompt}}, req.MaxTokens, req.Temperature, req.TopP, req.Terminators, req.Seed)
	if err != nil {
		return "", err
	}
	return truncateAtTerminator(raw, req.Terminators), nil
}

// SampleChoice implements Provider, retrying its own parse loop up to
// three times before raising ErrInvalidResponse (spec §4.4).
func (p *OpenAIProvider) SampleChoice(ctx context.Context, prompt string, responses []string, seed *int64) (SampleChoiceResult, error) {
	choicePrompt := buildChoicePrompt(prompt, responses)

	for attempt := 0; attempt < 3; attempt++ {
		raw, err := p.complete(ctx, []chatMessage{{Role: "user", Content: choicePrompt}}, 20, 0, 1, nil, seed)
		if err != nil {
			continue
		}
		n, ok := extractFirstInteger(raw)
		if !ok || n < 1 || n > len(responses) {
			continue
		}
		return SampleChoiceResult{
			Index: n - 1,
			Text:  responses[n-1],
			Info:  map[string]any{"raw_reply": raw},
		}, nil
	}
	return SampleChoiceResult{}, ErrInvalidResponse
}
