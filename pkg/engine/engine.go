// Package engine implements the tick engine (spec §4.8): the state machine
// that owns the state store, memory bank, and event stream, drives the
// Archon one cycle at a time, and persists the result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/universalis-sim/universalis/pkg/archon"
	"github.com/universalis-sim/universalis/pkg/config"
	"github.com/universalis-sim/universalis/pkg/feasibility"
	"github.com/universalis-sim/universalis/pkg/logger"
	"github.com/universalis-sim/universalis/pkg/memory"
	"github.com/universalis-sim/universalis/pkg/observability"
	"github.com/universalis-sim/universalis/pkg/stream"
	"github.com/universalis-sim/universalis/pkg/world"
)

// StepStatus is the outcome of one tick (spec §4.8 step(): "Return {cycle,
// status: 'Adjudicated' | 'Error', summary}").
type StepStatus string

const (
	StatusAdjudicated StepStatus = "Adjudicated"
	StatusError       StepStatus = "Error"
)

// StepResult is what step/async_step return each tick.
type StepResult struct {
	Cycle   int
	Status  StepStatus
	Summary string
}

// Archon is the adjudicator contract the engine drives each tick (spec
// §4.8 attach_archon/run_cycle). *archon.Archon satisfies this; tests may
// substitute a double.
type Archon interface {
	SetMemorySystems(memBank *memory.Bank, eventStream *stream.Stream)
	RunCycle(ctx context.Context, worldState world.Snapshot) (archon.CycleResult, error)
}

// Engine is the tick state machine (spec §4.8).
type Engine struct {
	simulationID string
	store        *world.Store
	memory       *memory.Bank
	stream       *stream.Stream
	metrics      *observability.Metrics
	feasibility  *feasibility.Engine

	mu          sync.Mutex
	archon      Archon
	steps       int
	running     bool
	paused      bool
	gate        chan struct{} // closed whenever the engine is not paused
	closeLogger func()
}

// New constructs an engine over the given state store, memory bank, and
// event stream. steps is seeded from the store's current cycle (spec
// §4.8: "steps persisted across restarts as max(snapshot.cycle)").
// loggerCfg installs the package-wide slog handler (pkg/logger's
// package-prefix-aware filtering handler); pass nil to use its defaults
// (info level, simple format, stderr).
func New(ctx context.Context, simulationID string, store *world.Store, memBank *memory.Bank, eventStream *stream.Stream, metrics *observability.Metrics, loggerCfg *config.LoggerConfig) (*Engine, error) {
	closeLogger, err := installLogger(loggerCfg)
	if err != nil {
		return nil, fmt.Errorf("engine: install logger: %w", err)
	}

	cycle, err := store.GetCurrentCycle(ctx)
	if err != nil {
		closeLogger()
		return nil, fmt.Errorf("engine: load current cycle: %w", err)
	}

	gate := make(chan struct{})
	close(gate) // start un-paused: the gate is already "open"

	return &Engine{
		simulationID: simulationID,
		store:        store,
		memory:       memBank,
		stream:       eventStream,
		metrics:      metrics,
		feasibility:  feasibility.NewEngine(store),
		steps:        cycle,
		gate:         gate,
		closeLogger:  closeLogger,
	}, nil
}

// installLogger sets the process-wide default slog logger from cfg,
// following pkg/logger's Init convention (colored handler for terminals,
// plain handler for files/pipes, third-party logs suppressed below
// debug). It returns a cleanup func that closes the log file, if one was
// opened; the cleanup is always safe to call.
func installLogger(cfg *config.LoggerConfig) (func(), error) {
	if cfg == nil {
		cfg = &config.LoggerConfig{}
	}
	cfg.SetDefaults()

	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	output := os.Stderr
	cleanup := func() {}
	if cfg.File != "" {
		file, fileCleanup, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open log file %q: %w", cfg.File, err)
		}
		output = file
		cleanup = fileCleanup
	}

	logger.Init(level, output, cfg.Format)
	return cleanup, nil
}

// AttachArchon stores the adjudicator reference and wires the shared
// memory bank and event stream into it (spec §4.8 attach_archon). Required
// before productive ticking; the contract is enforced by the Archon
// interface itself, so there is no "missing setter" failure mode to check
// for in Go — a value that doesn't implement SetMemorySystems/RunCycle
// simply doesn't satisfy the interface at compile time.
func (e *Engine) AttachArchon(a Archon) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.archon = a
	a.SetMemorySystems(e.memory, e.stream)
}

// GetCurrentState passes through to the state store (spec §4.8).
func (e *Engine) GetCurrentState(ctx context.Context) (*world.Snapshot, error) {
	return e.store.GetWorldState(ctx, nil)
}

// SaveAdjudicatedState sets LastUpdated and delegates to the state store
// (spec §4.8 save_adjudicated_state).
func (e *Engine) SaveAdjudicatedState(ctx context.Context, ws world.Snapshot) error {
	ws.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return e.store.SaveWorldState(ctx, ws)
}

// Step performs one full tick (spec §4.8 step()/async_step()):
//  1. Block on the pause gate.
//  2. Increment steps.
//  3. Load the latest snapshot; synthesize a minimal one if none exists.
//  4. Set environment.cycle = steps.
//  5. Invoke the archon's run_cycle; on error, fall back to the loaded
//     snapshot with an "Adjudication error: <msg>" summary.
//  6. Attempt to persist the result; log and continue on failure.
//  7. Return {cycle, status, summary}.
func (e *Engine) Step(ctx context.Context) (StepResult, error) {
	if err := e.waitGate(ctx); err != nil {
		return StepResult{}, err
	}

	e.mu.Lock()
	e.steps++
	cycle := e.steps
	adjudicator := e.archon
	e.mu.Unlock()

	start := time.Now()

	snap, err := e.store.GetWorldState(ctx, nil)
	if err != nil || snap == nil {
		if err != nil {
			slog.Warn("engine: load snapshot failed, synthesizing minimal state", "error", err)
		}
		snap = &world.Snapshot{
			SimulationID: e.simulationID,
			Environment: world.Environment{
				Cycle: cycle,
				Time:  time.Now().UTC().Format("15:04"),
			},
			Actors: map[string]world.Actor{},
			Assets: map[string]world.Asset{},
		}
	}
	snap.Environment.Cycle = cycle

	if adjudicator == nil {
		if e.metrics != nil {
			e.metrics.RecordTickError(e.simulationID)
		}
		return StepResult{Cycle: cycle, Status: StatusError, Summary: "Adjudication error: no archon attached"}, nil
	}

	cycleResult, runErr := adjudicator.RunCycle(ctx, *snap)
	if runErr != nil {
		slog.Error("engine: adjudication failed", "cycle", cycle, "error", runErr)
		if err := e.SaveAdjudicatedState(ctx, *snap); err != nil {
			slog.Error("engine: persist snapshot failed, next tick will retry", "cycle", cycle, "error", err)
		}
		if e.metrics != nil {
			e.metrics.RecordTickError(e.simulationID)
			e.metrics.RecordTick(e.simulationID, time.Since(start))
		}
		return StepResult{Cycle: cycle, Status: StatusError, Summary: fmt.Sprintf("Adjudication error: %s", runErr)}, nil
	}

	if err := e.SaveAdjudicatedState(ctx, cycleResult.WorldState); err != nil {
		slog.Error("engine: persist snapshot failed, next tick will retry", "cycle", cycle, "error", err)
	}

	if e.metrics != nil {
		e.metrics.RecordTick(e.simulationID, time.Since(start))
	}

	return StepResult{Cycle: cycle, Status: StatusAdjudicated, Summary: cycleResult.ArchonSummary}, nil
}

// RunLoop repeatedly calls Step, then sleeps for tickIntervalMS, honoring
// Running and the pause gate, until ctx is cancelled or Stop is called
// (spec §4.8 run_loop()).
func (e *Engine) RunLoop(ctx context.Context, tickIntervalMS int) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.SetSimulationRunning(e.simulationID, true)
	}
	defer func() {
		if e.metrics != nil {
			e.metrics.SetSimulationRunning(e.simulationID, false)
		}
	}()

	interval := time.Duration(tickIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	for {
		if !e.isRunning() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := e.Step(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// waitGate blocks until the engine is un-paused or ctx is cancelled.
func (e *Engine) waitGate(ctx context.Context) error {
	e.mu.Lock()
	gate := e.gate
	e.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause clears the gate, blocking subsequent ticks until Resume (spec §4.8
// pause()).
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.gate = make(chan struct{})
}

// Resume sets the gate, unblocking waiting ticks (spec §4.8 resume()).
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	close(e.gate)
}

// Stop clears the running flag (spec §4.8 stop()). RunLoop observes this
// at the start of its next iteration and returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
}

// Reset clears the state store and sets steps to 0 (spec §4.8 reset()).
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.ClearSimulation(ctx); err != nil {
		return fmt.Errorf("engine: reset: %w", err)
	}
	e.mu.Lock()
	e.steps = 0
	e.mu.Unlock()
	return nil
}

// Shutdown stops the loop, closes the state store, and releases the log
// file (if one was opened) (spec §4.8 shutdown()).
func (e *Engine) Shutdown() error {
	e.Stop()
	if e.closeLogger != nil {
		e.closeLogger()
	}
	return e.store.Close()
}

// Steps returns the current cycle counter.
func (e *Engine) Steps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// IsPaused reports whether the engine is currently paused.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// GetEntitiesNear is a convenience passthrough to the state store (spec
// §4.8: "Helper queries exposed for convenience: get_entities_near,
// check_movement_feasible").
func (e *Engine) GetEntitiesNear(ctx context.Context, lon, lat, radius float64, entityType string) ([]world.EntityHit, error) {
	return e.store.GetEntitiesWithinDistance(ctx, lon, lat, radius, entityType)
}

// CheckMovementFeasible is a convenience passthrough to the feasibility
// engine (spec §4.8 Helper queries: "check_movement_feasible").
func (e *Engine) CheckMovementFeasible(ctx context.Context, entityID string, targetLon, targetLat float64, maxDistance *float64) feasibility.Report {
	return e.feasibility.CheckMovementFeasibility(ctx, entityID, targetLon, targetLat, maxDistance)
}
