package feasibility

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/config"
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

func baseSnapshot() world.Snapshot {
	return world.Snapshot{
		Actors: map[string]world.Actor{
			"scout-1": {
				ID:     "scout-1",
				Role:   "scout",
				Assets: []string{"truck-1"},
				Status: "active",
			},
		},
		Assets: map[string]world.Asset{
			"truck-1": {
				ID:         "truck-1",
				Name:       "supply truck",
				Status:     "active",
				Attributes: map[string]any{"fuel": 50.0},
			},
		},
	}
}

func TestResourceAvailabilityFailsWhenDestroyed(t *testing.T) {
	e := NewEngine(nil)
	snap := baseSnapshot()
	asset := snap.Assets["truck-1"]
	asset.Status = "destroyed"
	snap.Assets["truck-1"] = asset

	report := e.CheckFeasibility(context.Background(), "send truck-1 to the depot", snap)
	require.False(t, report.Feasible)
	require.Len(t, report.Violations, 2)
	require.Equal(t, "resource_availability", report.Violations[0].Constraint)
}

func TestResourceAvailabilityFailsWhenOutOfFuel(t *testing.T) {
	e := NewEngine(nil)
	snap := baseSnapshot()
	asset := snap.Assets["truck-1"]
	asset.Attributes = map[string]any{"fuel": 0.0}
	snap.Assets["truck-1"] = asset

	report := e.CheckFeasibility(context.Background(), "task the supply truck", snap)
	require.False(t, report.Feasible)
}

func TestAssetOperationalFailsOnBadStatus(t *testing.T) {
	e := NewEngine(nil)
	snap := baseSnapshot()
	asset := snap.Assets["truck-1"]
	asset.Status = "maintenance"
	snap.Assets["truck-1"] = asset

	report := e.CheckFeasibility(context.Background(), "use truck-1 now", snap)
	require.False(t, report.Feasible)
	var found bool
	for _, v := range report.Violations {
		if v.Constraint == "asset_operational" {
			found = true
		}
	}
	require.True(t, found)
}

func TestActorAuthorizationFailsWhenAssetNotControlled(t *testing.T) {
	e := NewEngine(nil)
	snap := baseSnapshot()
	snap.Actors["scout-2"] = world.Actor{ID: "scout-2", Role: "scout", Assets: []string{}, Status: "active"}

	report := e.CheckFeasibility(context.Background(), "scout-2 orders truck-1 forward", snap)
	require.False(t, report.Feasible)
	var found bool
	for _, v := range report.Violations {
		if v.Constraint == "actor_authorized" {
			found = true
		}
	}
	require.True(t, found)
}

func TestActorAuthorizationPassesWhenAssetControlled(t *testing.T) {
	e := NewEngine(nil)
	snap := baseSnapshot()

	report := e.CheckFeasibility(context.Background(), "scout-1 directs truck-1 to advance", snap)
	require.True(t, report.Feasible)
	require.Empty(t, report.Violations)
}

func TestNoConstraintsTriggeredWhenIntentNamesNothing(t *testing.T) {
	e := NewEngine(nil)
	report := e.CheckFeasibility(context.Background(), "I observe the horizon quietly", baseSnapshot())
	require.True(t, report.Feasible)
	require.Len(t, report.ConstraintsChecked, 4)
}

func TestSpatialMovementPassesWithoutStore(t *testing.T) {
	e := NewEngine(nil)
	report := e.CheckFeasibility(context.Background(), "move to 12.5, 45.2 immediately", baseSnapshot())
	require.True(t, report.Feasible)
}

func TestSpatialMovementFailsOnImpassableTerrain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddTerrain(ctx, world.TerrainFeature{
		ID:           "lake",
		Name:         "deep lake",
		Type:         world.TerrainWater,
		GeometryWKT:  "POLYGON((0 0, 0 10, 10 10, 10 0, 0 0))",
		Passable:     false,
		MovementCost: 99,
	}))

	e := NewEngine(store)
	report := e.CheckFeasibility(ctx, "deploy the unit to 5, 5", baseSnapshot())
	require.False(t, report.Feasible)
	require.Equal(t, ConstraintSpatial, report.Violations[0].Type)
	require.Contains(t, report.Recommendations[0], "spatial")
}

func TestSpatialMovementIgnoredWithoutVerbOrCoordinates(t *testing.T) {
	e := NewEngine(nil)
	report := e.CheckFeasibility(context.Background(), "truck-1 refuels quietly at base", baseSnapshot())
	require.True(t, report.Feasible)
}

func TestCheckDistanceConstraint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveWorldState(ctx, world.Snapshot{
		Environment: world.Environment{Cycle: 1},
		Actors: map[string]world.Actor{
			"a": {ID: "a", Location: &world.Location{Lon: 0, Lat: 0}},
			"b": {ID: "b", Location: &world.Location{Lon: 0.01, Lat: 0}},
		},
	}))

	e := NewEngine(store)
	require.True(t, e.CheckDistanceConstraint(ctx, "a", "b", 1.0))
	require.False(t, e.CheckDistanceConstraint(ctx, "a", "b", 0.001))
}

func TestCheckDistanceConstraintMissingEntity(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store)
	require.False(t, e.CheckDistanceConstraint(context.Background(), "ghost-1", "ghost-2", 10))
}

func TestCheckPathFeasibilityBlocked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddTerrain(ctx, world.TerrainFeature{
		ID:          "wall",
		Name:        "ridge",
		Type:        world.TerrainMountains,
		GeometryWKT: "POLYGON((4 -1, 4 1, 6 1, 6 -1, 4 -1))",
		Passable:    false,
	}))

	e := NewEngine(store)
	ok, _, blocker := e.CheckPathFeasibility(ctx, world.Location{Lon: 0, Lat: 0}, world.Location{Lon: 10, Lat: 0})
	require.False(t, ok)
	require.NotNil(t, blocker)
	require.Equal(t, "ridge", *blocker)
}

func TestCheckPathFeasibilityClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := NewEngine(store)
	ok, cost, blocker := e.CheckPathFeasibility(ctx, world.Location{Lon: 0, Lat: 0}, world.Location{Lon: 1, Lat: 1})
	require.True(t, ok)
	require.Nil(t, blocker)
	require.Equal(t, 1.0, cost)
}

func TestCheckMovementFeasibilityUnknownEntity(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store)
	report := e.CheckMovementFeasibility(context.Background(), "ghost", 1, 1, nil)
	require.False(t, report.Feasible)
}

func TestCheckMovementFeasibilitySucceeds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveWorldState(ctx, world.Snapshot{
		Environment: world.Environment{Cycle: 1},
		Actors: map[string]world.Actor{
			"scout-1": {ID: "scout-1", Location: &world.Location{Lon: 0, Lat: 0}},
		},
	}))

	e := NewEngine(store)
	maxDist := 10.0
	report := e.CheckMovementFeasibility(ctx, "scout-1", 0.01, 0.01, &maxDist)
	require.True(t, report.Feasible)
	require.Contains(t, report.ConstraintsChecked, "distance")
	require.Contains(t, report.ConstraintsChecked, "terrain_passability")
	require.Contains(t, report.ConstraintsChecked, "path_clearance")
}

func TestCheckProximityConstraintWithinRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveWorldState(ctx, world.Snapshot{
		Environment: world.Environment{Cycle: 1},
		Actors: map[string]world.Actor{
			"scout-1": {ID: "scout-1", Location: &world.Location{Lon: 0, Lat: 0}},
		},
	}))

	e := NewEngine(store)
	require.True(t, e.CheckProximityConstraint(ctx, "scout-1", 0.005, 0, 0, 1.0))
	require.False(t, e.CheckProximityConstraint(ctx, "scout-1", 5, 5, 0, 1.0))
}

func TestCheckProximityConstraintEnforcesMinimum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveWorldState(ctx, world.Snapshot{
		Environment: world.Environment{Cycle: 1},
		Actors: map[string]world.Actor{
			"scout-1": {ID: "scout-1", Location: &world.Location{Lon: 0, Lat: 0}},
		},
	}))

	e := NewEngine(store)
	require.False(t, e.CheckProximityConstraint(ctx, "scout-1", 0, 0, 1.0, 10.0))
}

func TestCheckProximityConstraintMissingEntity(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store)
	require.False(t, e.CheckProximityConstraint(context.Background(), "ghost-1", 0, 0, 0, 10))
}

func TestCheckZoneConstraintNoTerrainIsAllowed(t *testing.T) {
	store := newTestStore(t)
	e := NewEngine(store)
	require.True(t, e.CheckZoneConstraint(context.Background(), 50, 50, nil, nil))
}

func TestCheckZoneConstraintForbiddenType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddTerrain(ctx, world.TerrainFeature{
		ID:          "lake",
		Name:        "deep lake",
		Type:        world.TerrainWater,
		GeometryWKT: "POLYGON((0 0, 0 10, 10 10, 10 0, 0 0))",
		Passable:    false,
	}))

	e := NewEngine(store)
	require.False(t, e.CheckZoneConstraint(ctx, 5, 5, nil, []string{"WATER"}))
	require.True(t, e.CheckZoneConstraint(ctx, 5, 5, nil, []string{"MOUNTAINS"}))
}

func TestCheckZoneConstraintAllowedTypes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddTerrain(ctx, world.TerrainFeature{
		ID:          "plain",
		Name:        "open plain",
		Type:        world.TerrainPlains,
		GeometryWKT: "POLYGON((0 0, 0 10, 10 10, 10 0, 0 0))",
		Passable:    true,
	}))

	e := NewEngine(store)
	require.True(t, e.CheckZoneConstraint(ctx, 5, 5, []string{"PLAINS"}, nil))
	require.False(t, e.CheckZoneConstraint(ctx, 5, 5, []string{"MOUNTAINS"}, nil))
}

func TestExtractCoordinatePairs(t *testing.T) {
	pairs := extractCoordinatePairs("move to 12.5, 45.2 then -1.0 2.0")
	require.Len(t, pairs, 2)
	require.InDelta(t, 12.5, pairs[0].Lon, 0.0001)
	require.InDelta(t, 45.2, pairs[0].Lat, 0.0001)
	require.InDelta(t, -1.0, pairs[1].Lon, 0.0001)
	require.InDelta(t, 2.0, pairs[1].Lat, 0.0001)
}
