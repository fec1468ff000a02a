package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/config"
)

func testPruningConfig() config.PruningConfig {
	cfg := config.PruningConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestShouldRun(t *testing.T) {
	policy := NewPruningPolicy(testPruningConfig())
	require.False(t, policy.ShouldRun(50))
	require.True(t, policy.ShouldRun(100))
}

func TestDecayedImportanceDecaysOverCycles(t *testing.T) {
	policy := NewPruningPolicy(testPruningConfig())
	fresh := policy.DecayedImportance(0.8, 0, 0)
	require.InDelta(t, 0.8, fresh, 1e-9)

	aged := policy.DecayedImportance(0.8, 50, 0)
	require.Less(t, aged, fresh)
}

func TestDecayedImportanceAccessBoost(t *testing.T) {
	policy := NewPruningPolicy(testPruningConfig())
	withoutAccess := policy.DecayedImportance(0.5, 10, 0)
	withAccess := policy.DecayedImportance(0.5, 10, 5)
	require.Greater(t, withAccess, withoutAccess)
}

func TestShouldPruneThreshold(t *testing.T) {
	policy := NewPruningPolicy(testPruningConfig())
	require.True(t, policy.ShouldPrune(0.05))
	require.False(t, policy.ShouldPrune(0.5))
}

func TestJaccardSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, jaccardSimilarity("the quick fox", "the quick fox"), 1e-9)
	require.Less(t, jaccardSimilarity("the quick fox", "a slow turtle"), 0.5)
}

func TestConsolidatePairKeepsMoreImportant(t *testing.T) {
	a := &Entry{Text: "scouts saw smoke", Importance: 0.4}
	b := &Entry{Text: "scouts saw smoke nearby", Importance: 0.7}
	merged := consolidatePair(a, b)
	require.Equal(t, "scouts saw smoke nearby", merged.Text)
	require.InDelta(t, 0.84, merged.Importance, 1e-9)
}

func TestConsolidatePairCapsBoostAtOne(t *testing.T) {
	a := &Entry{Text: "a", Importance: 0.95}
	b := &Entry{Text: "b", Importance: 0.9}
	merged := consolidatePair(a, b)
	require.Equal(t, 1.0, merged.Importance)
}

func TestRunPrunesBelowMinImportance(t *testing.T) {
	ctx := context.Background()
	cfg := testPruningConfig()
	cfg.MinImportance = 0.3
	cfg.DecayRate = 1.0 // fully decays after 1 cycle for a deterministic test
	policy := NewPruningPolicy(cfg)

	bank := newTestBank()
	_, err := bank.Add(ctx, "this memory should decay away", ScopePublic, "", "", 0, 0.5, nil)
	require.NoError(t, err)

	require.NoError(t, policy.Run(ctx, bank, 5))
	require.Equal(t, 0, bank.GetState().MemoryCount)
}

func TestRunEnforcesHardCap(t *testing.T) {
	ctx := context.Background()
	cfg := testPruningConfig()
	cfg.MaxMemories = 1
	cfg.MinImportance = 0
	cfg.ConsolidationThreshold = 2.0 // effectively disables consolidation
	policy := NewPruningPolicy(cfg)

	bank := newTestBank()
	_, err := bank.Add(ctx, "low priority chatter", ScopePublic, "", "", 0, 0.1, nil)
	require.NoError(t, err)
	_, err = bank.Add(ctx, "critical enemy sighting report", ScopePublic, "", "", 0, 0.9, nil)
	require.NoError(t, err)

	require.NoError(t, policy.Run(ctx, bank, 0))
	require.Equal(t, 1, bank.GetState().MemoryCount)

	recent := bank.RetrieveRecent(10, DefaultScopeFilter())
	require.Len(t, recent, 1)
	require.Equal(t, "critical enemy sighting report", recent[0])
}
