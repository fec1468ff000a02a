package archon

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/agent"
	"github.com/universalis-sim/universalis/pkg/config"
	"github.com/universalis-sim/universalis/pkg/feasibility"
	"github.com/universalis-sim/universalis/pkg/llmport"
	"github.com/universalis-sim/universalis/pkg/observability"
	"github.com/universalis-sim/universalis/pkg/stream"
	"github.com/universalis-sim/universalis/pkg/world"
)

func newTestStore(t *testing.T) *world.Store {
	t.Helper()
	dbCfg := &config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	dbCfg.SetDefaults()
	pool := config.NewDBPool()
	store, err := world.NewStore(pool, dbCfg, "sim-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return store
}

func twoActorSnapshot() world.Snapshot {
	return world.Snapshot{
		Environment: world.Environment{Cycle: 1, GlobalEvents: []string{"sim start"}},
		Actors: map[string]world.Actor{
			"actor-a": {
				ID: "actor-a", Role: "scout", Resolution: world.ResolutionMacro,
				Location: &world.Location{Lon: 0, Lat: 0}, Status: "active",
				Objectives: []string{"observe"},
			},
			"actor-b": {
				ID: "actor-b", Role: "scout", Resolution: world.ResolutionMicro,
				Location: &world.Location{Lon: 0.01, Lat: 0.01}, Status: "active",
				Objectives: []string{"observe"},
			},
		},
		Assets: map[string]world.Asset{},
	}
}

func TestRunCycleProducesIntentsAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	snap := twoActorSnapshot()
	require.NoError(t, store.SaveWorldState(ctx, snap))

	agents := agent.NewCache(&llmport.MockProvider{Response: "I advance carefully."}, nil, nil)
	fe := feasibility.NewEngine(store)
	a := New(store, agents, fe, &llmport.MockProvider{Response: "All actors proceed without incident."}, 1.0, "sim-test", nil)

	result, err := a.RunCycle(ctx, snap)
	require.NoError(t, err)
	require.Len(t, result.ActorIntents, 2)
	require.Empty(t, result.ActorErrors)
	require.Equal(t, "All actors proceed without incident.", result.ArchonSummary)
	require.Contains(t, result.WorldState.Environment.GlobalEvents, "All actors proceed without incident.")
	require.Len(t, result.Rationales, 1)
}

func TestRunCycleRecordsActorErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	snap := twoActorSnapshot()

	agents := agent.NewCache(&llmport.MockProvider{Err: context.DeadlineExceeded}, nil, nil)
	fe := feasibility.NewEngine(store)
	a := New(store, agents, fe, &llmport.MockProvider{Response: "noted"}, 1.0, "sim-test", nil)

	result, err := a.RunCycle(ctx, snap)
	require.NoError(t, err)
	require.Empty(t, result.ActorIntents)
	require.Len(t, result.ActorErrors, 2)
}

func TestRunCyclePopulatesPerceptionContext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	snap := twoActorSnapshot()
	require.NoError(t, store.SaveWorldState(ctx, snap))

	agents := agent.NewCache(&llmport.MockProvider{Response: "ok"}, nil, nil)
	fe := feasibility.NewEngine(store)
	a := New(store, agents, fe, &llmport.MockProvider{Response: "summary"}, 5.0, "sim-test", nil)

	result, err := a.RunCycle(ctx, snap)
	require.NoError(t, err)

	pa := result.PerceptionContext["actor-a"]
	require.Len(t, pa.NearbyActors, 1)
	require.Equal(t, "actor-b", pa.NearbyActors[0].ID)
}

func TestRunCycleEmitsAdjudicationEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	snap := twoActorSnapshot()

	agents := agent.NewCache(&llmport.MockProvider{Response: "ok"}, nil, nil)
	fe := feasibility.NewEngine(store)
	s := stream.New(50)
	a := New(store, agents, fe, &llmport.MockProvider{Response: "final word"}, 1.0, "sim-test", nil)
	a.SetMemorySystems(nil, s)

	_, err := a.RunCycle(ctx, snap)
	require.NoError(t, err)

	events := s.ByType(stream.EventAdjudication)
	require.Len(t, events, 1)
	require.Equal(t, "final word", events[0].Content)
}

func TestRunCycleDegradedWithoutMemorySystems(t *testing.T) {
	store := newTestStore(t)
	snap := twoActorSnapshot()

	agents := agent.NewCache(&llmport.MockProvider{Response: "ok"}, nil, nil)
	fe := feasibility.NewEngine(store)
	a := New(store, agents, fe, &llmport.MockProvider{Response: "fine"}, 1.0, "sim-test", nil)

	result, err := a.RunCycle(context.Background(), snap)
	require.NoError(t, err)
	require.NotEmpty(t, result.ArchonSummary)
}

func TestMetricsRecordFeasibilityFailures(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddTerrain(ctx, world.TerrainFeature{
		ID: "lake", Name: "deep lake", Type: world.TerrainWater,
		GeometryWKT: "POLYGON((-1 -1, -1 1, 1 1, 1 -1, -1 -1))", Passable: false,
	}))

	snap := world.Snapshot{
		Environment: world.Environment{Cycle: 1},
		Actors: map[string]world.Actor{
			"actor-a": {ID: "actor-a", Role: "scout", Resolution: world.ResolutionMacro, Location: &world.Location{Lon: 5, Lat: 5}, Status: "active"},
		},
	}
	require.NoError(t, store.SaveWorldState(ctx, snap))

	agents := agent.NewCache(&llmport.MockProvider{Response: "move to 0, 0 now"}, nil, nil)
	fe := feasibility.NewEngine(store)
	cfg := &observability.MetricsConfig{Enabled: true}
	metrics, err := observability.NewMetrics(cfg)
	require.NoError(t, err)

	a := New(store, agents, fe, &llmport.MockProvider{Response: "summary"}, 1.0, "sim-test", metrics)
	result, err := a.RunCycle(ctx, snap)
	require.NoError(t, err)
	require.False(t, result.FeasibilityReports["actor-a"].Feasible)
}
