package world

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbCfg := &config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	dbCfg.SetDefaults()

	pool := config.NewDBPool()
	store, err := NewStore(pool, dbCfg, "sim-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return store
}

func sampleSnapshot(cycle int) Snapshot {
	return Snapshot{
		Environment: Environment{
			Cycle:            cycle,
			Time:             "08:00",
			Weather:          "clear",
			GlobalEvents:     []string{"dawn"},
			TerrainModifiers: map[string]float64{"fog": 0.0},
		},
		Actors: map[string]Actor{
			"actor-1": {
				ID:         "actor-1",
				Role:       "scout",
				Resolution: ResolutionMacro,
				Location:   &Location{Lon: 0, Lat: 0},
				Status:     "active",
			},
		},
		Assets: map[string]Asset{
			"asset-1": {
				ID:       "asset-1",
				Name:     "truck",
				Type:     "vehicle",
				Location: map[string]any{"lon": 1.0, "lat": 1.0},
				Status:   "active",
			},
		},
		Metadata: map[string]any{},
	}
}

func TestSaveAndGetWorldStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SaveWorldState(ctx, sampleSnapshot(1)))

	got, err := store.GetWorldState(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 1, got.Environment.Cycle)
	require.Equal(t, "sim-test", got.SimulationID)
	require.Contains(t, got.Actors, "actor-1")
	require.Contains(t, got.Assets, "asset-1")
}

func TestCurrentCycleMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cycle, err := store.GetCurrentCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, cycle)

	require.NoError(t, store.SaveWorldState(ctx, sampleSnapshot(1)))
	cycle, err = store.GetCurrentCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cycle)

	require.NoError(t, store.SaveWorldState(ctx, sampleSnapshot(2)))
	cycle, err = store.GetCurrentCycle(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cycle)
}

// TestReconstructionFallback covers scenario S6: when no snapshot row
// exists for a cycle, GetWorldState must reconstruct from entity rows
// rather than returning an error.
func TestReconstructionFallback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.db.ExecContext(ctx,
		`INSERT INTO world_entities (id, simulation_id, entity_type, name, lon, lat, properties, status, seq, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"actor-9", "sim-test", "actor", "watcher", 3.0, 4.0, `{"role":"watcher","resolution":"MACRO"}`, "active", 0, "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx,
		`INSERT INTO world_environment (simulation_id, cycle, time_of_day, weather, global_events, terrain_modifiers, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"sim-test", 5, "12:00", "rain", "[]", "{}", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	got, err := store.GetWorldState(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 5, got.Environment.Cycle)
	require.Contains(t, got.Actors, "actor-9")
}

func TestPathCostDefaultsToOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cost, err := store.CalculatePathCost(ctx, Location{Lon: 0, Lat: 0}, Location{Lon: 10, Lat: 0})
	require.NoError(t, err)
	require.Equal(t, 1.0, cost)

	require.NoError(t, store.AddTerrain(ctx, TerrainFeature{
		ID:           "mountain-1",
		Name:         "Big Ridge",
		Type:         TerrainMountains,
		GeometryWKT:  "POLYGON((4 -1, 4 1, 6 1, 6 -1, 4 -1))",
		MovementCost: 3.0,
		Passable:     true,
		Attributes:   map[string]any{},
	}))

	cost, err = store.CalculatePathCost(ctx, Location{Lon: 0, Lat: 0}, Location{Lon: 10, Lat: 0})
	require.NoError(t, err)
	require.Equal(t, 3.0, cost)
}

func TestPathBlockedByImpassableTerrain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	blocked, _, err := store.CheckPathBlocked(ctx, Location{Lon: 0, Lat: 0}, Location{Lon: 10, Lat: 0})
	require.NoError(t, err)
	require.False(t, blocked)

	require.NoError(t, store.AddTerrain(ctx, TerrainFeature{
		ID:           "river-1",
		Name:         "Wide River",
		Type:         TerrainWater,
		GeometryWKT:  "POLYGON((4 -1, 4 1, 6 1, 6 -1, 4 -1))",
		MovementCost: 1.0,
		Passable:     false,
		Attributes:   map[string]any{},
	}))

	blocked, blocker, err := store.CheckPathBlocked(ctx, Location{Lon: 0, Lat: 0}, Location{Lon: 10, Lat: 0})
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, "Wide River", blocker)
}

func TestEntitiesWithinDistanceOrdering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveWorldState(ctx, sampleSnapshot(1)))

	hits, err := store.GetEntitiesWithinDistance(ctx, 0, 0, 5, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.True(t, hits[0].Distance <= hits[1].Distance)
}

func TestCalculateDistanceMissingEntity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveWorldState(ctx, sampleSnapshot(1)))

	dist, err := store.CalculateDistance(ctx, "actor-1", "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, dist)

	dist, err = store.CalculateDistance(ctx, "actor-1", "asset-1")
	require.NoError(t, err)
	require.NotNil(t, dist)
}

func TestClearSimulation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveWorldState(ctx, sampleSnapshot(1)))
	require.NoError(t, store.ClearSimulation(ctx))

	got, err := store.GetWorldState(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}
