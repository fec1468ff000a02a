package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/archon"
	"github.com/universalis-sim/universalis/pkg/config"
	"github.com/universalis-sim/universalis/pkg/memory"
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

type fakeArchon struct {
	summary   string
	err       error
	memSet    bool
	calls     int
	lastCycle int
}

func (f *fakeArchon) SetMemorySystems(_ *memory.Bank, _ *stream.Stream) {
	f.memSet = true
}

func (f *fakeArchon) RunCycle(_ context.Context, ws world.Snapshot) (archon.CycleResult, error) {
	f.calls++
	f.lastCycle = ws.Environment.Cycle
	if f.err != nil {
		return archon.CycleResult{}, f.err
	}
	ws.Environment.GlobalEvents = append(ws.Environment.GlobalEvents, f.summary)
	return archon.CycleResult{WorldState: ws, ArchonSummary: f.summary}, nil
}

func TestStepSynthesizesInitialStateAndAdjudicates(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)

	fa := &fakeArchon{summary: "all quiet"}
	e.AttachArchon(fa)
	require.True(t, fa.memSet)

	result, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusAdjudicated, result.Status)
	require.Equal(t, 1, result.Cycle)
	require.Equal(t, "all quiet", result.Summary)

	snap, err := e.GetCurrentState(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Environment.Cycle)
}

func TestStepIncrementsCycleEachCall(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)
	e.AttachArchon(&fakeArchon{summary: "ok"})

	_, err = e.Step(context.Background())
	require.NoError(t, err)
	result, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Cycle)
}

func TestStepWithoutArchonReturnsError(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)

	result, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusError, result.Status)
	require.Contains(t, result.Summary, "no archon attached")
}

func TestStepFallsBackOnAdjudicationError(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)
	e.AttachArchon(&fakeArchon{err: errors.New("boom")})

	result, err := e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusError, result.Status)
	require.Contains(t, result.Summary, "Adjudication error: boom")
}

func TestPauseBlocksStepUntilResume(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)
	e.AttachArchon(&fakeArchon{summary: "ok"})
	e.Pause()
	require.True(t, e.IsPaused())

	done := make(chan struct{})
	go func() {
		_, _ = e.Step(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("step completed while paused")
	case <-time.After(50 * time.Millisecond):
	}

	e.Resume()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("step did not complete after resume")
	}
}

func TestResetClearsStoreAndSteps(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)
	e.AttachArchon(&fakeArchon{summary: "ok"})

	_, err = e.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, e.Steps())

	require.NoError(t, e.Reset(context.Background()))
	require.Equal(t, 0, e.Steps())
}

func TestRunLoopStopsOnStop(t *testing.T) {
	store := newTestStore(t)
	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)
	e.AttachArchon(&fakeArchon{summary: "ok"})

	done := make(chan error, 1)
	go func() { done <- e.RunLoop(context.Background(), 10) }()

	time.Sleep(50 * time.Millisecond)
	e.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestGetEntitiesNearPassthrough(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveWorldState(context.Background(), world.Snapshot{
		Environment: world.Environment{Cycle: 1},
		Actors: map[string]world.Actor{
			"a": {ID: "a", Location: &world.Location{Lon: 0, Lat: 0}, Status: "active"},
		},
	}))

	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, nil)
	require.NoError(t, err)

	hits, err := e.GetEntitiesNear(context.Background(), 0, 0, 1.0, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestNewInstallsFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "engine.log")
	store := newTestStore(t)

	e, err := New(context.Background(), "sim-test", store, nil, nil, nil, &config.LoggerConfig{
		Level: "warn",
		File:  logPath,
	})
	require.NoError(t, err)

	slog.Warn("engine_test: probe line")
	require.NoError(t, e.Shutdown())

	contents, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "engine_test: probe line")
}
