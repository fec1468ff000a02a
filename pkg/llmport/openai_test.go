package llmport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/config"
	"github.com/universalis-sim/universalis/pkg/ratelimit"
)

func newTestOpenAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "the scouts hold position"}}],
			"usage": {"total_tokens": 42}
		}`))
	}))
}

func newTestOpenAIConfig(host string) *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Type:       "openai",
		Model:      "test-model",
		APIKey:     "test-key",
		Host:       host,
		MaxRetries: 1,
		Timeout:    5,
	}
}

func TestOpenAIProviderSampleTextWithoutLimiter(t *testing.T) {
	server := newTestOpenAIServer(t)
	defer server.Close()

	p := NewOpenAIProvider(newTestOpenAIConfig(server.URL))
	text, err := p.SampleText(context.Background(), SampleTextRequest{Prompt: "status report"})
	require.NoError(t, err)
	require.Equal(t, "the scouts hold position", text)
}

func TestOpenAIProviderRateLimiterRecordsTokenUsage(t *testing.T) {
	server := newTestOpenAIServer(t)
	defer server.Close()

	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{
		Enabled: true,
		Limits:  []ratelimit.LimitRule{{Type: ratelimit.LimitTypeToken, Window: ratelimit.WindowDay, Limit: 1000}},
	}, ratelimit.NewMemoryStore())
	require.NoError(t, err)

	p := NewOpenAIProvider(newTestOpenAIConfig(server.URL), WithRateLimiter(limiter, ratelimit.ScopeUser, "test-model"))

	_, err = p.SampleText(context.Background(), SampleTextRequest{Prompt: "status report"})
	require.NoError(t, err)

	usages, err := limiter.GetUsage(context.Background(), ratelimit.ScopeUser, "test-model")
	require.NoError(t, err)
	require.Len(t, usages, 1)
	require.EqualValues(t, 42, usages[0].Current)
}

func TestOpenAIProviderRateLimiterBlocksExceededRequests(t *testing.T) {
	server := newTestOpenAIServer(t)
	defer server.Close()

	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{
		Enabled: true,
		Limits:  []ratelimit.LimitRule{{Type: ratelimit.LimitTypeCount, Window: ratelimit.WindowDay, Limit: 1}},
	}, ratelimit.NewMemoryStore())
	require.NoError(t, err)

	p := NewOpenAIProvider(newTestOpenAIConfig(server.URL), WithRateLimiter(limiter, ratelimit.ScopeUser, "capped-model"))

	// The count limit of 1 is compared with usage recorded by earlier calls
	// before the call's own count is added, and only usage strictly above
	// the limit blocks: the first call brings usage to the limit, the
	// second takes it past, and the third is refused.
	_, err = p.SampleText(context.Background(), SampleTextRequest{Prompt: "first"})
	require.NoError(t, err)

	_, err = p.SampleText(context.Background(), SampleTextRequest{Prompt: "second"})
	require.NoError(t, err)

	_, err = p.SampleText(context.Background(), SampleTextRequest{Prompt: "third"})
	require.Error(t, err)
	require.True(t, ratelimit.IsRateLimitError(err))
}
