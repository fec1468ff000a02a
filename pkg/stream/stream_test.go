package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func actorPtr(s string) *string { return &s }

func TestAddEventAssignsDeterministicID(t *testing.T) {
	s := New(100)
	e := s.AddEvent(EventObservation, "scouts spotted movement", 1, nil, nil, nil)
	require.NotEmpty(t, e.ID)

	got, ok := s.ByID(e.ID)
	require.True(t, ok)
	require.Equal(t, e.Content, got.Content)
}

func TestOverflowDropsOldest(t *testing.T) {
	s := New(2)
	first := s.AddEvent(EventSystem, "first", 1, nil, nil, nil)
	s.AddEvent(EventSystem, "second", 2, nil, nil, nil)
	s.AddEvent(EventSystem, "third", 3, nil, nil, nil)

	_, ok := s.ByID(first.ID)
	require.False(t, ok, "oldest event should have been evicted")

	recent := s.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "third", recent[0].Content)
	require.Equal(t, "second", recent[1].Content)
}

func TestByCycleByTypeByActor(t *testing.T) {
	s := New(100)
	s.AddEvent(EventIntent, "actor-1 intends to advance", 5, actorPtr("actor-1"), nil, nil)
	s.AddEvent(EventIntent, "actor-2 intends to retreat", 5, actorPtr("actor-2"), nil, nil)
	s.AddEvent(EventAdjudication, "cycle 5 resolved", 5, nil, nil, nil)
	s.AddEvent(EventIntent, "actor-1 intends to hold", 6, actorPtr("actor-1"), nil, nil)

	require.Len(t, s.ByCycle(5), 3)
	require.Len(t, s.ByType(EventIntent), 3)
	require.Len(t, s.ByActor("actor-1"), 2)
}

func TestSearchFieldedQuery(t *testing.T) {
	s := New(100)
	intentType := EventIntent
	s.AddEvent(EventIntent, "actor-1 advances toward the ridge", 1, actorPtr("actor-1"), nil, nil)
	s.AddEvent(EventIntent, "actor-2 retreats from the river", 2, actorPtr("actor-2"), nil, nil)
	s.AddEvent(EventSystem, "simulation started", 0, nil, nil, nil)

	results := s.Search(SearchQuery{ContentContains: "ridge", Type: &intentType})
	require.Len(t, results, 1)
	require.Equal(t, "actor-1 advances toward the ridge", results[0].Content)

	from, to := 1, 1
	rangeResults := s.Search(SearchQuery{CycleFrom: &from, CycleTo: &to})
	require.Len(t, rangeResults, 1)
}

func TestGetStateSetStateRoundTrip(t *testing.T) {
	s := New(10)
	s.AddEvent(EventSystem, "alpha", 1, nil, nil, nil)
	s.AddEvent(EventSystem, "beta", 2, nil, nil, nil)

	state := s.GetState()
	require.Len(t, state.Events, 2)

	restored := New(10)
	restored.SetState(state)
	require.Len(t, restored.Recent(10), 2)
	require.Equal(t, "beta", restored.Recent(1)[0].Content)
}
