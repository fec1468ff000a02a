// Package archon implements the adjudicator (spec §4.6): the three-node
// Perception → Feasibility → Adjudication pipeline that turns the current
// world state into the next one.
package archon

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/universalis-sim/universalis/pkg/agent"
	"github.com/universalis-sim/universalis/pkg/feasibility"
	"github.com/universalis-sim/universalis/pkg/llmport"
	"github.com/universalis-sim/universalis/pkg/memory"
	"github.com/universalis-sim/universalis/pkg/observability"
	"github.com/universalis-sim/universalis/pkg/stream"
	"github.com/universalis-sim/universalis/pkg/world"
)

// defaultPerceptionRadius is used when the caller configures a
// non-positive radius (spec §4.6: "default 0.1°").
const defaultPerceptionRadius = 0.1

// CycleResult is the pipeline's shared state record (spec §4.6), returned
// in full from RunCycle so callers and tests can inspect every stage.
type CycleResult struct {
	WorldState         world.Snapshot
	ActorIntents       map[string]agent.Intent
	ActorErrors        map[string]string
	FeasibilityReports map[string]feasibility.Report
	PerceptionContext  map[string]agent.PerceptionContext
	ArchonSummary      string
	Rationales         []string
}

// Archon is the adjudicator. It owns the agent cache, feasibility engine,
// and state store it needs to build perception spheres and check
// constraints, plus the LLM provider used once per cycle for the
// adjudication summary.
type Archon struct {
	store            *world.Store
	agents           *agent.Cache
	feasibility      *feasibility.Engine
	provider         llmport.Provider
	perceptionRadius float64
	metrics          *observability.Metrics
	simulationID     string

	memory *memory.Bank
	stream *stream.Stream
}

// New builds an Archon wired to the given state store, agent cache,
// feasibility engine, and LLM provider. perceptionRadius <= 0 falls back to
// the spec default of 0.1°.
func New(store *world.Store, agents *agent.Cache, engine *feasibility.Engine, provider llmport.Provider, perceptionRadius float64, simulationID string, metrics *observability.Metrics) *Archon {
	if perceptionRadius <= 0 {
		perceptionRadius = defaultPerceptionRadius
	}
	return &Archon{
		store:            store,
		agents:           agents,
		feasibility:      engine,
		provider:         provider,
		perceptionRadius: perceptionRadius,
		simulationID:     simulationID,
		metrics:          metrics,
	}
}

// SetMemorySystems injects the shared memory bank and event stream (spec
// §4.6: "Memory references are injected by the engine before the first
// tick; operating without memory is a supported degraded mode but the
// engine must log a warning in that case."). The engine calls this before
// the first RunCycle.
func (a *Archon) SetMemorySystems(memBank *memory.Bank, eventStream *stream.Stream) {
	a.memory = memBank
	a.stream = eventStream
}

// RunCycle runs the three-node pipeline once against worldState and
// returns the full shared state record (spec §4.6: "entered via
// run_cycle(world_state) and returns {world_state, archon_summary,
// rationales}").
func (a *Archon) RunCycle(ctx context.Context, worldState world.Snapshot) (CycleResult, error) {
	if a.memory == nil || a.stream == nil {
		slog.Warn("archon: running a cycle without memory/event stream wired; operating in degraded mode")
	}

	result := CycleResult{
		WorldState:         worldState,
		ActorIntents:       make(map[string]agent.Intent),
		ActorErrors:        make(map[string]string),
		FeasibilityReports: make(map[string]feasibility.Report),
		PerceptionContext:  make(map[string]agent.PerceptionContext),
		Rationales:         nil,
	}

	a.runPerception(ctx, &result)
	a.runFeasibility(ctx, &result)
	if err := a.runAdjudication(ctx, &result); err != nil {
		return result, err
	}

	return result, nil
}

// actorIDsInOrder returns the world's actor IDs sorted so that repeated
// runs over the same map are reproducible (spec §4.6 Ordering: "actors are
// processed in iteration order over the world's actor map; no ordering
// guarantee between actors is promised, but the same input must yield the
// same output up to LLM non-determinism" — a sorted pass satisfies both the
// letter of "no guarantee promised" and the stronger requirement of
// reproducibility).
func actorIDsInOrder(snap world.Snapshot) []string {
	ids := make([]string, 0, len(snap.Actors))
	for id := range snap.Actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// runPerception is Node 1 (spec §4.6).
func (a *Archon) runPerception(ctx context.Context, result *CycleResult) {
	for _, actorID := range actorIDsInOrder(result.WorldState) {
		actor := result.WorldState.Actors[actorID]

		perception := a.buildPerceptionContext(ctx, result.WorldState, actor)
		result.PerceptionContext[actorID] = perception

		inst := a.agents.GetOrCreate(actorID, actor.Resolution)
		intent, err := inst.GenerateIntent(ctx, result.WorldState, actor, perception)
		if err != nil {
			result.ActorErrors[actorID] = err.Error()
			continue
		}
		result.ActorIntents[actorID] = intent
	}
}

// buildPerceptionContext builds the perception sphere for one actor (spec
// §4.6 Node 1).
func (a *Archon) buildPerceptionContext(ctx context.Context, snap world.Snapshot, actor world.Actor) agent.PerceptionContext {
	perception := agent.PerceptionContext{ActorID: actor.ID}

	if actor.Location == nil || a.store == nil {
		return perception
	}

	hits, err := a.store.GetEntitiesWithinDistance(ctx, actor.Location.Lon, actor.Location.Lat, a.perceptionRadius, "")
	if err != nil {
		slog.Warn("archon: perception query failed", "actor", actor.ID, "error", err)
	} else {
		for _, h := range hits {
			if h.ID == actor.ID {
				continue
			}
			switch h.Type {
			case "actor":
				perception.NearbyActors = append(perception.NearbyActors, h)
			case "asset":
				perception.NearbyAssets = append(perception.NearbyAssets, h)
			}
		}
	}

	terrain, err := a.store.GetTerrainAtPoint(ctx, actor.Location.Lon, actor.Location.Lat)
	if err != nil {
		slog.Warn("archon: terrain query failed", "actor", actor.ID, "error", err)
	} else {
		perception.Terrain = terrain
	}

	for _, assetID := range actor.Assets {
		asset, ok := snap.Assets[assetID]
		if !ok {
			continue
		}
		perception.ControlledAssets = append(perception.ControlledAssets, agent.ControlledAssetStatus{
			AssetID: asset.ID,
			Name:    asset.Name,
			Status:  asset.Status,
		})
	}

	if a.stream != nil {
		perception.RecentEvents = a.stream.Recent(5)
	}

	return perception
}

// runFeasibility is Node 2 (spec §4.6).
func (a *Archon) runFeasibility(ctx context.Context, result *CycleResult) {
	if a.feasibility == nil {
		return
	}
	for actorID, intent := range result.ActorIntents {
		report := a.feasibility.CheckFeasibility(ctx, intent.Text, result.WorldState)
		result.FeasibilityReports[actorID] = report
		if a.metrics != nil && !report.Feasible {
			for _, v := range report.Violations {
				a.metrics.RecordFeasibilityFailure(a.simulationID, string(v.Type))
			}
		}
	}
}

// runAdjudication is Node 3 (spec §4.6).
func (a *Archon) runAdjudication(ctx context.Context, result *CycleResult) error {
	block := a.buildSummaryBlock(result)

	prompt := fmt.Sprintf(
		"You are an omniscient referee adjudicating one simulation cycle. "+
			"Describe any failures plainly, continue past actor errors rather than halting, "+
			"respect the spatial context given for each actor, and produce an updated global event log entry.\n\n%s",
		block,
	)

	var summary string
	if a.provider != nil {
		text, err := a.provider.SampleText(ctx, llmport.SampleTextRequest{
			Prompt:      prompt,
			MaxTokens:   400,
			Temperature: 0.3,
			TopP:        1.0,
		})
		if err != nil {
			return fmt.Errorf("archon: adjudication sample: %w", err)
		}
		summary = text
	}

	result.WorldState.Environment.GlobalEvents = append(
		append([]string{}, result.WorldState.Environment.GlobalEvents...),
		summary,
	)
	result.ArchonSummary = summary

	if a.stream != nil {
		a.stream.AddEvent(stream.EventAdjudication, summary, result.WorldState.Environment.Cycle, nil, map[string]any{
			"intents":             result.ActorIntents,
			"feasibility_reports": result.FeasibilityReports,
			"perception_context":  result.PerceptionContext,
			"errors":              result.ActorErrors,
		}, nil)
	}

	rationale := fmt.Sprintf("cycle %d: %d intents, %d errors, %d infeasible", result.WorldState.Environment.Cycle, len(result.ActorIntents), len(result.ActorErrors), countInfeasible(result.FeasibilityReports))
	result.Rationales = append(result.Rationales, rationale)

	return nil
}

func countInfeasible(reports map[string]feasibility.Report) int {
	n := 0
	for _, r := range reports {
		if !r.Feasible {
			n++
		}
	}
	return n
}

// buildSummaryBlock builds the human-readable block fed to the LLM (spec
// §4.6 Node 3): per actor, perception summary, intent text, feasibility
// verdict; errors prefixed with "ERROR -".
func (a *Archon) buildSummaryBlock(result *CycleResult) string {
	var b strings.Builder

	for _, actorID := range actorIDsInOrder(result.WorldState) {
		if errMsg, ok := result.ActorErrors[actorID]; ok {
			fmt.Fprintf(&b, "ERROR - %s: %s\n", actorID, errMsg)
			continue
		}

		intent, ok := result.ActorIntents[actorID]
		if !ok {
			continue
		}

		perception := result.PerceptionContext[actorID]
		terrainType := "unknown"
		if perception.Terrain != nil {
			terrainType = string(perception.Terrain.Type)
		}

		names := make([]string, 0, 3)
		for i, na := range perception.NearbyActors {
			if i >= 3 {
				break
			}
			names = append(names, na.Name)
		}

		feasible := "feasible"
		if report, ok := result.FeasibilityReports[actorID]; ok && !report.Feasible {
			var msgs []string
			for _, v := range report.Violations {
				msgs = append(msgs, v.Message)
			}
			feasible = fmt.Sprintf("infeasible (%s)", strings.Join(msgs, "; "))
		}

		fmt.Fprintf(&b, "%s at terrain %s, near [%s]: intent %q, feasibility: %s\n",
			actorID, terrainType, strings.Join(names, ", "), intent.Text, feasible)
	}

	return b.String()
}
