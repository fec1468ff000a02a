package memory

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/universalis-sim/universalis/pkg/databases"
)

// fakeDatabase is a minimal in-memory stand-in for databases.DatabaseProvider,
// sufficient to exercise Bank's contract without a live vector backend.
// Search ranks by cosine similarity over the stored float32 vectors.
type fakeDatabase struct {
	vectors map[string][]float32
	meta    map[string]map[string]interface{}
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		vectors: make(map[string][]float32),
		meta:    make(map[string]map[string]interface{}),
	}
}

func (f *fakeDatabase) Upsert(_ context.Context, _ string, id string, vector []float32, metadata map[string]interface{}) error {
	f.vectors[id] = vector
	f.meta[id] = metadata
	return nil
}

func (f *fakeDatabase) Search(_ context.Context, _ string, vector []float32, topK int) ([]databases.SearchResult, error) {
	type scored struct {
		id    string
		score float32
	}
	var all []scored
	for id, v := range f.vectors {
		all = append(all, scored{id: id, score: cosine(v, vector)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if topK < len(all) {
		all = all[:topK]
	}
	results := make([]databases.SearchResult, 0, len(all))
	for _, s := range all {
		results = append(results, databases.SearchResult{ID: s.id, Score: s.score, Metadata: f.meta[s.id]})
	}
	return results, nil
}

func (f *fakeDatabase) Delete(_ context.Context, _ string, id string) error {
	delete(f.vectors, id)
	delete(f.meta, id)
	return nil
}

func (f *fakeDatabase) CreateCollection(_ context.Context, _ string, _ uint64) error { return nil }
func (f *fakeDatabase) DeleteCollection(_ context.Context, _ string) error           { return nil }
func (f *fakeDatabase) Close() error                                                { return nil }

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (sqrt(na) * sqrt(nb)))
}

func sqrt(x float64) float64 {
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 40; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// fakeEmbedder deterministically hashes words into a small fixed-size
// vector so that similar text produces similar vectors.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, 16)
	for i, r := range text {
		vec[i%16] += float32(r)
	}
	return vec, nil
}
func (fakeEmbedder) GetDimension() int    { return 16 }
func (fakeEmbedder) GetModelName() string { return "fake" }
func (fakeEmbedder) Close() error         { return nil }

func newTestBank() *Bank {
	return NewBank(newFakeDatabase(), fakeEmbedder{}, "sim-1", "memories")
}

func strPtr(s string) *string { return &s }

func TestAddIsIdempotentOnContentHash(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()

	inserted, err := bank.Add(ctx, "the scouts saw smoke on the ridge", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = bank.Add(ctx, "the scouts saw smoke on the ridge", ScopePublic, "", "", 2, 0.9, nil)
	require.NoError(t, err)
	require.False(t, inserted)

	require.Equal(t, 1, bank.GetState().MemoryCount)
}

func TestAddRejectsEmptyText(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()

	inserted, err := bank.Add(ctx, "   ", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)
	require.False(t, inserted)
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()

	_, err := bank.Add(ctx, "actor-a private note", ScopePrivate, "actor-a", "", 1, 0.5, nil)
	require.NoError(t, err)
	_, err = bank.Add(ctx, "public briefing", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)
	_, err = bank.Add(ctx, "squad shared intel", ScopeSharedGroup, "actor-b", "squad-1", 1, 0.5, nil)
	require.NoError(t, err)

	filterA := ScopeFilter{RequestingAgentID: strPtr("actor-a"), IncludePublic: true}
	recentA := bank.RetrieveRecent(10, filterA)
	require.Len(t, recentA, 2) // own private + public, not actor-b's shared note

	filterInSquad := ScopeFilter{RequestingAgentID: strPtr("actor-c"), AgentGroups: []string{"squad-1"}, IncludePublic: true}
	recentSquad := bank.RetrieveRecent(10, filterInSquad)
	require.Len(t, recentSquad, 2) // public + shared (actor-c is in squad-1), not actor-a's private note
}

func TestRetrieveAssociativeZeroK(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	_, err := bank.Add(ctx, "some memory", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)

	texts, err := bank.RetrieveAssociative(ctx, "some memory", 0, DefaultScopeFilter())
	require.NoError(t, err)
	require.Empty(t, texts)
}

func TestRetrieveAssociativeReturnsMatches(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	_, err := bank.Add(ctx, "scouts spotted enemy armor near the pass", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)
	_, err = bank.Add(ctx, "weather turned cold overnight", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)

	texts, err := bank.RetrieveAssociative(ctx, "scouts spotted enemy armor near the pass", 1, DefaultScopeFilter())
	require.NoError(t, err)
	require.Len(t, texts, 1)
	require.Equal(t, "scouts spotted enemy armor near the pass", texts[0])
}

func TestScanMatchesPredicate(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	_, err := bank.Add(ctx, "the bridge is destroyed", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)
	_, err = bank.Add(ctx, "supplies are running low", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)

	hits := bank.Scan(func(text string) bool {
		return len(text) > 0 && text[0] == 't'
	}, DefaultScopeFilter())
	require.Len(t, hits, 1)
	require.Equal(t, "the bridge is destroyed", hits[0])
}

func TestGetStateSetStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	_, err := bank.Add(ctx, "a durable memory", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)

	state := bank.GetState()
	require.Equal(t, 1, state.MemoryCount)

	restored := newTestBank()
	restored.SetState(state)
	inserted, err := restored.Add(ctx, "a durable memory", ScopePublic, "", "", 9, 0.1, nil)
	require.NoError(t, err)
	require.False(t, inserted, "restored hash set should still reject the duplicate")
}

func TestClearRemovesAllRows(t *testing.T) {
	ctx := context.Background()
	bank := newTestBank()
	_, err := bank.Add(ctx, "one", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)
	_, err = bank.Add(ctx, "two", ScopePublic, "", "", 1, 0.5, nil)
	require.NoError(t, err)

	require.NoError(t, bank.Clear(ctx))
	require.Equal(t, 0, bank.GetState().MemoryCount)
}
