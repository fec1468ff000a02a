package llmport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateAtTerminator(t *testing.T) {
	require.Equal(t, "hello ", truncateAtTerminator("hello STOP world", []string{"STOP"}))
	require.Equal(t, "no terminator here", truncateAtTerminator("no terminator here", []string{"STOP"}))
	require.Equal(t, "ab", truncateAtTerminator("abXYZ", []string{"XYZ", "X"}))
}

func TestExtractFirstInteger(t *testing.T) {
	n, ok := extractFirstInteger("I choose option 2 please")
	require.True(t, ok)
	require.Equal(t, 2, n)

	_, ok = extractFirstInteger("no numbers at all")
	require.False(t, ok)
}

func TestMockProviderSampleText(t *testing.T) {
	m := &MockProvider{Response: "the scouts advance STOP and regroup"}
	text, err := m.SampleText(context.Background(), SampleTextRequest{Prompt: "ignored", Terminators: []string{"STOP"}})
	require.NoError(t, err)
	require.Equal(t, "the scouts advance ", text)
}

func TestMockProviderSampleChoice(t *testing.T) {
	m := &MockProvider{ChoiceIndex: 1}
	result, err := m.SampleChoice(context.Background(), "pick one", []string{"advance", "retreat", "hold"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Index)
	require.Equal(t, "retreat", result.Text)
}

func TestControllerRetriesOnError(t *testing.T) {
	failing := &flakyProvider{failuresLeft: 2}
	c := NewController(failing, WithMaxRetries(3))

	text, err := c.SampleText(context.Background(), SampleTextRequest{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, 3, failing.calls)
}

func TestControllerExhaustsRetries(t *testing.T) {
	failing := &flakyProvider{failuresLeft: 10}
	c := NewController(failing, WithMaxRetries(2))

	_, err := c.SampleText(context.Background(), SampleTextRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, 2, failing.calls)
}

func TestControllerCache(t *testing.T) {
	failing := &flakyProvider{failuresLeft: 0}
	c := NewController(failing, WithCache())

	req := SampleTextRequest{Prompt: "cached prompt", MaxTokens: 10, Temperature: 0.2}
	first, err := c.SampleText(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, failing.calls)

	second, err := c.SampleText(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, failing.calls, "cached response should not invoke the provider again")
}

type flakyProvider struct {
	failuresLeft int
	calls        int
}

func (f *flakyProvider) SampleText(_ context.Context, _ SampleTextRequest) (string, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return "", errors.New("transient failure")
	}
	return "ok", nil
}

func (f *flakyProvider) SampleChoice(_ context.Context, _ string, responses []string, _ *int64) (SampleChoiceResult, error) {
	f.calls++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return SampleChoiceResult{}, errors.New("transient failure")
	}
	return SampleChoiceResult{Index: 0, Text: responses[0]}, nil
}
