package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	metrics, err := NewMetrics(cfg)
	require.NoError(t, err)

	metrics.RecordAgentCall("actor-a", "macro", 100*time.Millisecond)
	metrics.RecordAgentError("actor-a", "macro", "timeout")
	metrics.IncAgentActiveRuns("actor-a")
	metrics.DecAgentActiveRuns("actor-a")
}

func TestLLMMetricsRecording(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	metrics, err := NewMetrics(cfg)
	require.NoError(t, err)

	metrics.RecordLLMCall("gpt-4o", "openai", 500*time.Millisecond)
	metrics.RecordLLMTokens("gpt-4o", "openai", 100, 50)
	metrics.RecordLLMError("gpt-4o", "openai", "rate_limited")
}

func TestMemoryMetricsRecording(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	metrics, err := NewMetrics(cfg)
	require.NoError(t, err)

	metrics.RecordMemorySearch("associative", 10*time.Millisecond)
	metrics.RecordMemoryIndexed("associative", 3)
}

func TestTickMetricsRecording(t *testing.T) {
	cfg := &MetricsConfig{Enabled: true}
	metrics, err := NewMetrics(cfg)
	require.NoError(t, err)

	metrics.RecordTick("sim-1", 50*time.Millisecond)
	metrics.RecordTickError("sim-1")
	metrics.SetSimulationRunning("sim-1", true)
	metrics.RecordFeasibilityFailure("sim-1", "spatial")
}

func TestMetricsDisabledReturnsNil(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, metrics)

	// nil-receiver calls must be safe no-ops.
	metrics.RecordAgentCall("a", "b", time.Second)
	metrics.RecordTick("sim-1", time.Second)
}

func TestNoopMetrics(t *testing.T) {
	var metrics Recorder = NoopMetrics{}
	metrics.RecordAgentCall("a", "macro", 100*time.Millisecond)
	metrics.RecordLLMCall("model", "provider", 300*time.Millisecond)
	metrics.RecordMemorySearch("associative", time.Millisecond)
	metrics.RecordTick("sim-1", time.Millisecond)
}

func TestNoopTracerStartsSpan(t *testing.T) {
	tracer := NoopTracer{}
	ctx := context.Background()
	_, span := tracer.Start(ctx, "test_span")
	defer span.End()
}

func TestNoopManager(t *testing.T) {
	m := NoopManager()
	require.False(t, m.TracingEnabled())
	require.False(t, m.MetricsEnabled())
	require.Nil(t, m.Metrics())
}
