package agent

import (
	"context"
	"fmt"

	"github.com/universalis-sim/universalis/pkg/llmport"
	"github.com/universalis-sim/universalis/pkg/memory"
	"github.com/universalis-sim/universalis/pkg/stream"
	"github.com/universalis-sim/universalis/pkg/world"
)

// MicroAgent reasons at the tactical (MICRO) resolution (spec §4.5). In
// addition to everything MacroAgent does, it emits an INTENT event to the
// shared event stream on success.
type MicroAgent struct {
	provider llmport.Provider
	memory   *memory.Bank
	stream   *stream.Stream
}

// GenerateIntent implements Agent (spec §4.5).
func (a *MicroAgent) GenerateIntent(ctx context.Context, worldState world.Snapshot, actor world.Actor, perception PerceptionContext) (Intent, error) {
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

	if a.stream != nil {
		actorID := actor.ID
		a.stream.AddEvent(stream.EventIntent, text, worldState.Environment.Cycle, &actorID, nil, nil)
	}

	return intent, nil
}
