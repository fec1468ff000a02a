package llmport

import (
	"context"
	"fmt"
)

// MockProvider is a deterministic Provider for tests and offline
// development: SampleText echoes a canned response (or the prompt itself
// if none is configured), and SampleChoice always picks a fixed index.
type MockProvider struct {
	// Response, if non-empty, is returned verbatim by SampleText.
	Response string

	// ChoiceIndex is the 0-based index SampleChoice always returns.
	ChoiceIndex int

	// Err, if set, is returned by both methods instead of a result.
	Err error
}

func (m *MockProvider) SampleText(_ context.Context, req SampleTextRequest) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	text := m.Response
	if text == "" {
		text = req.Prompt
	}
	return truncateAtTerminator(text, req.Terminators), nil
}

func (m *MockProvider) SampleChoice(_ context.Context, _ string, responses []string, _ *int64) (SampleChoiceResult, error) {
	if m.Err != nil {
		return SampleChoiceResult{}, m.Err
	}
	if m.ChoiceIndex < 0 || m.ChoiceIndex >= len(responses) {
		return SampleChoiceResult{}, fmt.Errorf("llmport: mock choice index %d out of range for %d responses", m.ChoiceIndex, len(responses))
	}
	return SampleChoiceResult{
		Index: m.ChoiceIndex,
		Text:  responses[m.ChoiceIndex],
		Info:  map[string]any{"mock": true},
	}, nil
}
