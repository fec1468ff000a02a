// Package agent implements the per-actor agent runtime (spec §4.5): a
// cached instance per (simulation, actor_id) that retrieves memory,
// builds a prompt from role/perception context, and invokes the LLM port
// to produce an intent.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/universalis-sim/universalis/pkg/llmport"
	"github.com/universalis-sim/universalis/pkg/memory"
	"github.com/universalis-sim/universalis/pkg/registry"
	"github.com/universalis-sim/universalis/pkg/stream"
	"github.com/universalis-sim/universalis/pkg/world"
)

// ControlledAssetStatus is one entry in a perception context's controlled
// asset list (spec §4.6 Node 1).
type ControlledAssetStatus struct {
	AssetID string
	Name    string
	Status  string
}

// PerceptionContext is the per-actor, per-cycle view the adjudicator
// builds and hands to generate_intent (spec §4.6 Node 1).
type PerceptionContext struct {
	ActorID          string
	NearbyActors     []world.EntityHit
	NearbyAssets     []world.EntityHit
	Terrain          *world.TerrainFeature
	ControlledAssets []ControlledAssetStatus
	RecentEvents     []stream.Event
}

// Intent is the output of generate_intent (spec §4.5).
type Intent struct {
	ActorID string
	Text    string
	Cycle   int
}

// Agent is the per-actor contract the adjudicator invokes every cycle.
type Agent interface {
	GenerateIntent(ctx context.Context, worldState world.Snapshot, actor world.Actor, perception PerceptionContext) (Intent, error)
}

// buildPrompt assembles the shared prompt body (spec §4.5 step 2): role,
// description, objectives, controlled assets, nearby actors/assets,
// terrain, recent environment events, and retrieved memories.
func buildPrompt(actor world.Actor, env world.Environment, perception PerceptionContext, memories []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %s.\n", actor.ID, actor.Role)
	if actor.Description != "" {
		fmt.Fprintf(&b, "%s\n", actor.Description)
	}
	if len(actor.Objectives) > 0 {
		fmt.Fprintf(&b, "Objectives: %s\n", strings.Join(actor.Objectives, "; "))
	}

	if len(perception.ControlledAssets) > 0 {
		b.WriteString("Controlled assets:\n")
		for _, a := range perception.ControlledAssets {
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.Name, a.AssetID, a.Status)
		}
	}

	if perception.Terrain != nil {
		fmt.Fprintf(&b, "Terrain at your location: %s\n", perception.Terrain.Type)
	}

	if len(perception.NearbyActors) > 0 {
		names := make([]string, 0, len(perception.NearbyActors))
		for _, a := range perception.NearbyActors {
			names = append(names, a.Name)
		}
		fmt.Fprintf(&b, "Nearby actors: %s\n", strings.Join(names, ", "))
	}
	if len(perception.NearbyAssets) > 0 {
		names := make([]string, 0, len(perception.NearbyAssets))
		for _, a := range perception.NearbyAssets {
			names = append(names, a.Name)
		}
		fmt.Fprintf(&b, "Nearby assets: %s\n", strings.Join(names, ", "))
	}

	if len(env.GlobalEvents) > 0 {
		fmt.Fprintf(&b, "Recent environment events: %s\n", strings.Join(env.GlobalEvents, "; "))
	}

	if len(memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	b.WriteString("\nIn one paragraph, state your intent for this cycle.")
	return b.String()
}

// retrievalQuery builds the query used against the memory bank (spec §4.5
// step 1): role, current objectives, and recent events from the context.
func retrievalQuery(actor world.Actor, perception PerceptionContext) string {
	var parts []string
	parts = append(parts, actor.Role)
	parts = append(parts, actor.Objectives...)
	for _, e := range perception.RecentEvents {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, " ")
}

func memoryScopeFilter(actor world.Actor, groups []string) memory.ScopeFilter {
	actorID := actor.ID
	return memory.ScopeFilter{
		RequestingAgentID: &actorID,
		AgentGroups:       groups,
		IncludePublic:     true,
	}
}

// Cache instantiates and caches one Agent per actor_id for the lifetime of
// the engine process (spec §4.5 Cache invariant): GetOrCreate returns the
// same object across calls for the same actor_id.
type Cache struct {
	registry *registry.BaseRegistry[Agent]
	provider llmport.Provider
	memory   *memory.Bank
	stream   *stream.Stream
}

// NewCache builds an agent cache wired to the shared memory bank, event
// stream, and LLM provider every agent instance will use.
func NewCache(provider llmport.Provider, memBank *memory.Bank, eventStream *stream.Stream) *Cache {
	return &Cache{
		registry: registry.NewBaseRegistry[Agent](),
		provider: provider,
		memory:   memBank,
		stream:   eventStream,
	}
}

// GetOrCreate returns the cached agent for actorID, constructing a
// MacroAgent or MicroAgent (by resolution) on first access.
func (c *Cache) GetOrCreate(actorID string, resolution world.Resolution) Agent {
	if existing, ok := c.registry.Get(actorID); ok {
		return existing
	}

	var created Agent
	if resolution == world.ResolutionMicro {
		created = &MicroAgent{provider: c.provider, memory: c.memory, stream: c.stream}
	} else {
		created = &MacroAgent{provider: c.provider, memory: c.memory}
	}

	if err := c.registry.Register(actorID, created); err != nil {
		// Lost the race to another caller constructing the same actor;
		// the registry already holds the winning instance.
		existing, _ := c.registry.Get(actorID)
		return existing
	}
	return created
}

// Count returns the number of cached agent instances.
func (c *Cache) Count() int {
	return c.registry.Count()
}
