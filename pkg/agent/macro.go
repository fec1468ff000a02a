package agent

import (
	"context"
	"fmt"

	"github.com/universalis-sim/universalis/pkg/llmport"
	"github.com/universalis-sim/universalis/pkg/memory"
	"github.com/universalis-sim/universalis/pkg/world"
)

// MacroAgent reasons at the strategic (MACRO) resolution (spec §4.5). It
// holds a reference to the memory bank but not the event stream — only
// MicroAgents emit INTENT stream events.
type MacroAgent struct {
	provider llmport.Provider
	memory   *memory.Bank
}

// GenerateIntent implements Agent (spec §4.5).
func (a *MacroAgent) GenerateIntent(ctx context.Context, worldState world.Snapshot, actor world.Actor, perception PerceptionContext) (Intent, error) {
	var memories []string
	if a.memory != nil {
		var err error
		memories, err = a.memory.RetrieveAssociative(ctx, retrievalQuery(actor, perception), 5, memoryScopeFilter(actor, nil))
		if err != nil {
			return Intent{}, fmt.Errorf("agent: retrieve memory for %s: %w", actor.ID, err)
		}
	}

	prompt := buildPrompt(actor, worldState.Environment, perception, memories)
	text, err := a.provider.SampleText(ctx, llmport.SampleTextRequest{
		Prompt:      prompt,
		MaxTokens:   200,
		Temperature: 0.7,
		TopP:        1.0,
	})
	if err != nil {
		return Intent{}, fmt.Errorf("agent: sample intent for %s: %w", actor.ID, err)
	}

	intent := Intent{ActorID: actor.ID, Text: text, Cycle: worldState.Environment.Cycle}

	if a.memory != nil {
		if _, err := a.memory.Add(ctx, text, memory.ScopePrivate, actor.ID, "", worldState.Environment.Cycle, 0.5, nil); err != nil {
			return Intent{}, fmt.Errorf("agent: record intent memory for %s: %w", actor.ID, err)
		}
	}

	return intent, nil
}
