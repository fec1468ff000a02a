package memory

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/universalis-sim/universalis/pkg/config"
)

// PruningPolicy evaluates relevance decay, consolidates near-duplicate
// memories, and enforces a hard cap on bank size. It holds no state about
// a specific bank beyond the last cycle it ran, so one policy can be
// shared across banks with the same config.
type PruningPolicy struct {
	cfg            config.PruningConfig
	lastPruneCycle int
}

// NewPruningPolicy builds a policy from the §4.2 pruning configuration.
func NewPruningPolicy(cfg config.PruningConfig) *PruningPolicy {
	return &PruningPolicy{cfg: cfg}
}

// ShouldRun reports whether enough cycles have elapsed since the last
// prune to run again.
func (p *PruningPolicy) ShouldRun(currentCycle int) bool {
	return currentCycle-p.lastPruneCycle >= p.cfg.PruneInterval
}

// DecayedImportance applies exponential relevance decay plus an access
// boost, per the decay/boost formulas in pruning.py:
//
//	decay_factor = (1 - rate)^cycles_elapsed
//	access_boost = min(1, access_count * 0.1) * (1 - decayed_without_boost)
//	decayed = decayed_without_boost + access_boost, clamped to [0, 1]
func (p *PruningPolicy) DecayedImportance(originalImportance float64, cyclesElapsed, accessCount int) float64 {
	decayFactor := math.Pow(1-p.cfg.DecayRate, float64(cyclesElapsed))
	decayedWithoutBoost := originalImportance * decayFactor

	accessBoost := math.Min(1.0, float64(accessCount)*0.1) * (1 - decayedWithoutBoost)
	decayed := decayedWithoutBoost + accessBoost

	if decayed < 0 {
		return 0
	}
	if decayed > 1 {
		return 1
	}
	return decayed
}

// ShouldPrune reports whether a row's decayed importance falls below the
// minimum-importance floor.
func (p *PruningPolicy) ShouldPrune(decayedImportance float64) bool {
	return decayedImportance < p.cfg.MinImportance
}

// jaccardSimilarity is the default token-set similarity used to find
// consolidation candidates (pruning.py's _default_similarity): lowercased
// whitespace-split tokens, intersection over union.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// consolidatePair merges two similar entries into one: the more important
// entry's text is kept, and its importance is boosted 20%, capped at 1.0
// (pruning.py's consolidate_pair).
func consolidatePair(a, b *Entry) *Entry {
	base, other := a, b
	if other.Importance > base.Importance {
		base, other = other, base
	}
	_ = other
	merged := *base
	merged.Importance = math.Min(1.0, base.Importance*1.2)
	return &merged
}

// Run decays every entry's importance against currentCycle, drops rows
// that fall below the floor, consolidates near-duplicate survivors, and —
// if the survivor count still exceeds MaxMemories — keeps only the
// highest-importance rows (pruning.py's run_pruning). It records
// currentCycle as the new last-prune-cycle regardless of what it finds.
func (p *PruningPolicy) Run(ctx context.Context, bank *Bank, currentCycle int) error {
	p.lastPruneCycle = currentCycle

	entries := bank.entriesSnapshot()
	survivors := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		decayed := p.DecayedImportance(e.Importance, currentCycle-e.Cycle, e.accessCount)
		if p.ShouldPrune(decayed) {
			continue
		}
		copyE := *e
		copyE.Importance = decayed
		survivors = append(survivors, &copyE)
	}

	survivors = p.consolidate(survivors)

	if len(survivors) > p.cfg.MaxMemories {
		sort.Slice(survivors, func(i, j int) bool {
			return survivors[i].Importance > survivors[j].Importance
		})
		survivors = survivors[:p.cfg.MaxMemories]
	}

	return bank.replaceEntries(ctx, survivors)
}

// consolidate merges any pair of entries whose Jaccard similarity meets
// the consolidation threshold, keeping the merged result in place of both.
func (p *PruningPolicy) consolidate(entries []*Entry) []*Entry {
	consumed := make([]bool, len(entries))
	var out []*Entry

	for i := range entries {
		if consumed[i] {
			continue
		}
		merged := entries[i]
		for j := i + 1; j < len(entries); j++ {
			if consumed[j] {
				continue
			}
			if jaccardSimilarity(merged.Text, entries[j].Text) >= p.cfg.ConsolidationThreshold {
				merged = consolidatePair(merged, entries[j])
				consumed[j] = true
			}
		}
		out = append(out, merged)
	}
	return out
}
