// Package memory implements the scoped associative memory bank (spec
// §3, §4.2): per-simulation memory rows with vector retrieval, public/
// private/shared-group access control, and a decay/consolidation pruning
// policy invoked by the host.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/universalis-sim/universalis/pkg/databases"
	"github.com/universalis-sim/universalis/pkg/embedders"
)

// Entry is one memory row (spec §3 "Memory entry").
type Entry struct {
	ID           string
	Text         string
	Scope        Scope
	OwnerID      string
	GroupID      string
	Cycle        int
	Importance   float64
	Tags         []string
	Timestamp    time.Time
	SimulationID string

	accessCount int
}

// State is the serializable snapshot returned by GetState/restored by
// SetState (spec §4.2).
type State struct {
	SimulationID string   `json:"simulation_id"`
	TableName    string   `json:"table_name"`
	StoredHashes []string `json:"stored_hashes"`
	MemoryCount  int      `json:"memory_count"`
}

// Bank is a per-simulation scoped memory bank backed by a vector database
// and embedder. All mutating operations are serialized by mu; embedding
// computation happens outside the critical section (spec §4.2
// Concurrency).
type Bank struct {
	db           databases.DatabaseProvider
	embedder     embedders.EmbedderProvider
	collection   string
	simulationID string

	mu      sync.Mutex
	entries map[string]*Entry
	hashes  map[string]struct{}
	order   []string // insertion order, for deterministic recency ties
}

// NewBank constructs a bank backed by db/embedder, scoped to
// (simulationID, collection). The caller is expected to have already
// created the collection via db.CreateCollection.
func NewBank(db databases.DatabaseProvider, embedder embedders.EmbedderProvider, simulationID, collection string) *Bank {
	return &Bank{
		db:           db,
		embedder:     embedder,
		collection:   collection,
		simulationID: simulationID,
		entries:      make(map[string]*Entry),
		hashes:       make(map[string]struct{}),
	}
}

func contentHash(text, ownerID string, scope Scope) string {
	sum := sha256.Sum256([]byte(text + "\x00" + ownerID + "\x00" + string(scope)))
	return hex.EncodeToString(sum[:])
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Add normalizes and embeds text, then writes a row. Returns false without
// writing if text is empty after trim or its content hash already exists
// in this simulation (spec §3 invariant, §4.2).
func (b *Bank) Add(ctx context.Context, text string, scope Scope, ownerID, groupID string, cycle int, importance float64, tags []string) (bool, error) {
	normalized := normalizeText(text)
	if normalized == "" {
		return false, nil
	}
	hash := contentHash(normalized, ownerID, scope)

	b.mu.Lock()
	if _, exists := b.hashes[hash]; exists {
		b.mu.Unlock()
		return false, nil
	}
	b.mu.Unlock()

	vector, err := b.embedder.Embed(normalized)
	if err != nil {
		return false, fmt.Errorf("memory: embed: %w", err)
	}

	id := uuid.NewString()
	entry := &Entry{
		ID:           id,
		Text:         normalized,
		Scope:        scope,
		OwnerID:      ownerID,
		GroupID:      groupID,
		Cycle:        cycle,
		Importance:   importance,
		Tags:         tags,
		Timestamp:    time.Now().UTC(),
		SimulationID: b.simulationID,
	}

	metadata := map[string]interface{}{
		"content":       normalized,
		"scope":         string(scope),
		"owner_id":      ownerID,
		"group_id":      groupID,
		"cycle":         cycle,
		"importance":    importance,
		"tags":          tags,
		"timestamp":     entry.Timestamp.Format(time.RFC3339Nano),
		"simulation_id": b.simulationID,
		"content_hash":  hash,
	}

	if err := b.db.Upsert(ctx, b.collection, id, vector, metadata); err != nil {
		return false, fmt.Errorf("memory: upsert: %w", err)
	}

	b.mu.Lock()
	if _, exists := b.hashes[hash]; exists {
		b.mu.Unlock()
		return false, nil
	}
	b.entries[id] = entry
	b.hashes[hash] = struct{}{}
	b.order = append(b.order, id)
	b.mu.Unlock()

	return true, nil
}

// Extend batch-adds texts sharing the same scope/owner/group/cycle,
// returning the count actually inserted.
func (b *Bank) Extend(ctx context.Context, texts []string, scope Scope, ownerID, groupID string, cycle int, importance float64, tags []string) (int, error) {
	count := 0
	for _, text := range texts {
		inserted, err := b.Add(ctx, text, scope, ownerID, groupID, cycle, importance, tags)
		if err != nil {
			return count, err
		}
		if inserted {
			count++
		}
	}
	return count, nil
}

// RetrieveAssociative returns the top-k rows by vector similarity whose
// scope filter admits the requester. k=0 returns an empty slice.
func (b *Bank) RetrieveAssociative(ctx context.Context, query string, k int, filter ScopeFilter) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := b.embedder.Embed(normalizeText(query))
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	// The vector backend has no notion of scope, so over-fetch a pool and
	// filter client-side using the local entry index (kept in lockstep
	// with every write).
	pool := k * 5
	if pool < 50 {
		pool = 50
	}
	b.mu.Lock()
	if total := len(b.entries); pool > total {
		pool = total
	}
	b.mu.Unlock()
	if pool == 0 {
		return nil, nil
	}

	results, err := b.db.Search(ctx, b.collection, vector, pool)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	texts := make([]string, 0, k)
	for _, r := range results {
		entry, ok := b.entries[r.ID]
		if !ok || !filter.CanAccess(entry.Scope, entry.OwnerID, entry.GroupID) {
			continue
		}
		texts = append(texts, entry.Text)
		if len(texts) == k {
			break
		}
	}
	return texts, nil
}

// RetrieveRecent returns up to k rows sorted by timestamp descending,
// filtered by scope.
func (b *Bank) RetrieveRecent(k int, filter ScopeFilter) []string {
	if k <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	visible := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if filter.CanAccess(e.Scope, e.OwnerID, e.GroupID) {
			visible = append(visible, e)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return visible[i].Timestamp.After(visible[j].Timestamp)
	})
	if len(visible) > k {
		visible = visible[:k]
	}
	texts := make([]string, len(visible))
	for i, e := range visible {
		texts[i] = e.Text
	}
	return texts
}

// Scan returns all visible rows whose text matches predicate.
func (b *Bank) Scan(predicate func(text string) bool, filter ScopeFilter) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var texts []string
	for _, id := range b.order {
		e, ok := b.entries[id]
		if !ok || !filter.CanAccess(e.Scope, e.OwnerID, e.GroupID) {
			continue
		}
		if predicate(e.Text) {
			texts = append(texts, e.Text)
		}
	}
	return texts
}

// GetState returns a snapshot of the bank's hash index and row count. The
// row-level data itself is expected to persist in the backing vector store.
func (b *Bank) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	hashes := make([]string, 0, len(b.hashes))
	for h := range b.hashes {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	return State{
		SimulationID: b.simulationID,
		TableName:    b.collection,
		StoredHashes: hashes,
		MemoryCount:  len(b.entries),
	}
}

// SetState restores the stored-hash set from a prior GetState snapshot.
func (b *Bank) SetState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hashes = make(map[string]struct{}, len(s.StoredHashes))
	for _, h := range s.StoredHashes {
		b.hashes[h] = struct{}{}
	}
}

// Clear drops all rows for this (simulation_id, table).
func (b *Bank) Clear(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		if err := b.db.Delete(ctx, b.collection, id); err != nil {
			return fmt.Errorf("memory: clear: delete %s: %w", id, err)
		}
	}

	b.mu.Lock()
	b.entries = make(map[string]*Entry)
	b.hashes = make(map[string]struct{})
	b.order = nil
	b.mu.Unlock()
	return nil
}

// UpdateAccess increments the access count used by relevance decay, and
// returns the new count.
func (b *Bank) UpdateAccess(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return 0
	}
	e.accessCount++
	return e.accessCount
}

// entriesSnapshot returns a defensive copy of the current entry list, used
// by the pruner so it never holds the bank's lock during decay math.
func (b *Bank) entriesSnapshot() []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Entry, 0, len(b.entries))
	for _, id := range b.order {
		if e, ok := b.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// replaceEntries atomically swaps the live entry set and hash index —
// used by the pruner after decay/consolidation/hard-cap have decided the
// surviving set.
func (b *Bank) replaceEntries(ctx context.Context, survivors []*Entry) error {
	b.mu.Lock()
	keep := make(map[string]struct{}, len(survivors))
	for _, e := range survivors {
		keep[e.ID] = struct{}{}
	}
	var toDelete []string
	for id := range b.entries {
		if _, ok := keep[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	b.mu.Unlock()

	for _, id := range toDelete {
		if err := b.db.Delete(ctx, b.collection, id); err != nil {
			return fmt.Errorf("memory: prune: delete %s: %w", id, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*Entry, len(survivors))
	b.order = b.order[:0]
	b.hashes = make(map[string]struct{}, len(survivors))
	for _, e := range survivors {
		b.entries[e.ID] = e
		b.order = append(b.order, e.ID)
		b.hashes[contentHash(e.Text, e.OwnerID, e.Scope)] = struct{}{}
	}
	return nil
}
