// Package llmport defines the CORE's narrow view of a language model: a
// two-method text-completion and choice-sampling interface (spec §4.4),
// deliberately excluding tool-calling, streaming, and structured-output
// negotiation — those belong to the external LLM service the CORE treats
// as opaque.
package llmport

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidResponse is raised by SampleChoice when no valid option index
// could be extracted from the model's reply within the retry budget.
var ErrInvalidResponse = errors.New("llmport: invalid response")

// SampleTextRequest parameterizes a single completion call.
type SampleTextRequest struct {
	Prompt      string
	MaxTokens   int
	Terminators []string
	Temperature float64
	TopP        float64
	TopK        int
	Timeout     time.Duration
	Seed        *int64
}

// SampleChoiceResult is the outcome of SampleChoice.
type SampleChoiceResult struct {
	Index int // 0-based index into the offered responses
	Text  string
	Info  map[string]any
}

// Provider is the two-method LLM port (spec §4.4).
type Provider interface {
	// SampleText returns only the completion text. If any terminator
	// string appears in the raw completion, the returned text is
	// truncated at the first terminator's start.
	SampleText(ctx context.Context, req SampleTextRequest) (string, error)

	// SampleChoice presents responses numbered from 1 and asks the model
	// to reply with a number; it extracts the first integer in the reply,
	// retries internally up to three times, and returns ErrInvalidResponse
	// if no valid number is ever produced.
	SampleChoice(ctx context.Context, prompt string, responses []string, seed *int64) (SampleChoiceResult, error)
}

// truncateAtTerminator returns text cut at the earliest occurrence of any
// terminator string, or text unchanged if none occur.
func truncateAtTerminator(text string, terminators []string) string {
	cut := len(text)
	for _, term := range terminators {
		if term == "" {
			continue
		}
		if idx := strings.Index(text, term); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return text[:cut]
}

var firstIntegerPattern = regexp.MustCompile(`-?\d+`)

// extractFirstInteger returns the first integer literal in reply, and
// whether one was found.
func extractFirstInteger(reply string) (int, bool) {
	match := firstIntegerPattern.FindString(reply)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

// buildChoicePrompt renders responses numbered from 1, per spec §4.4.
func buildChoicePrompt(prompt string, responses []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nOptions:\n")
	for i, r := range responses {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	b.WriteString("\nReply with only the number of your choice.")
	return b.String()
}
