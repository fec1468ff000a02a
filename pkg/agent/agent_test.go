package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/llmport"
	"github.com/universalis-sim/universalis/pkg/stream"
	"github.com/universalis-sim/universalis/pkg/world"
)

func sampleActor(id string, resolution world.Resolution) world.Actor {
	return world.Actor{
		ID:         id,
		Role:       "scout",
		Resolution: resolution,
		Objectives: []string{"find the enemy column"},
		Status:     "active",
	}
}

func TestCacheGetOrCreateReturnsSameInstance(t *testing.T) {
	cache := NewCache(&llmport.MockProvider{Response: "I advance carefully."}, nil, nil)

	a1 := cache.GetOrCreate("actor-1", world.ResolutionMacro)
	a2 := cache.GetOrCreate("actor-1", world.ResolutionMacro)
	require.Same(t, a1, a2, "agent cache must return the identical instance across cycles")
	require.Equal(t, 1, cache.Count())
}

func TestCacheDistinguishesByResolution(t *testing.T) {
	cache := NewCache(&llmport.MockProvider{Response: "ok"}, nil, nil)
	macro := cache.GetOrCreate("actor-macro", world.ResolutionMacro)
	micro := cache.GetOrCreate("actor-micro", world.ResolutionMicro)

	_, isMacro := macro.(*MacroAgent)
	_, isMicro := micro.(*MicroAgent)
	require.True(t, isMacro)
	require.True(t, isMicro)
}

func TestMacroAgentGenerateIntent(t *testing.T) {
	provider := &llmport.MockProvider{Response: "I move to secure the ridge."}
	a := &MacroAgent{provider: provider}

	snap := world.Snapshot{Environment: world.Environment{Cycle: 3}}
	actor := sampleActor("actor-1", world.ResolutionMacro)

	intent, err := a.GenerateIntent(context.Background(), snap, actor, PerceptionContext{ActorID: actor.ID})
	require.NoError(t, err)
	require.Equal(t, "I move to secure the ridge.", intent.Text)
	require.Equal(t, 3, intent.Cycle)
	require.Equal(t, "actor-1", intent.ActorID)
}

func TestMicroAgentEmitsIntentEvent(t *testing.T) {
	provider := &llmport.MockProvider{Response: "I hold this position."}
	s := stream.New(100)
	a := &MicroAgent{provider: provider, stream: s}

	snap := world.Snapshot{Environment: world.Environment{Cycle: 1}}
	actor := sampleActor("actor-2", world.ResolutionMicro)

	_, err := a.GenerateIntent(context.Background(), snap, actor, PerceptionContext{ActorID: actor.ID})
	require.NoError(t, err)

	events := s.ByActor("actor-2")
	require.Len(t, events, 1)
	require.Equal(t, stream.EventIntent, events[0].Type)
	require.Equal(t, "I hold this position.", events[0].Content)
}

func TestGenerateIntentPropagatesProviderError(t *testing.T) {
	provider := &llmport.MockProvider{Err: context.DeadlineExceeded}
	a := &MacroAgent{provider: provider}

	snap := world.Snapshot{Environment: world.Environment{Cycle: 1}}
	actor := sampleActor("actor-3", world.ResolutionMacro)

	_, err := a.GenerateIntent(context.Background(), snap, actor, PerceptionContext{ActorID: actor.ID})
	require.Error(t, err)
}
