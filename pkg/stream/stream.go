// Package stream implements the chronological event stream (spec §3,
// §4.3): a bounded, append-only, thread-safe log of typed events used for
// traceability and rationale reconstruction.
package stream

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// EventType enumerates the recognized stream event kinds (spec §3).
type EventType string

const (
	EventObservation  EventType = "OBSERVATION"
	EventIntent       EventType = "INTENT"
	EventAdjudication EventType = "ADJUDICATION"
	EventRationale    EventType = "RATIONALE"
	EventStateChange  EventType = "STATE_CHANGE"
	EventSystem       EventType = "SYSTEM"
	EventActorAction  EventType = "ACTOR_ACTION"
	EventEnvironment  EventType = "ENVIRONMENT"
)

// Event is one stream entry (spec §3 "Stream event").
type Event struct {
	ID          string
	Type        EventType
	Content     string
	Cycle       int
	Timestamp   time.Time
	ActorID     *string
	Metadata    map[string]any
	LinkedEvents []string
}

func computeEventID(eventType EventType, content string, cycle int, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d\x00%s", eventType, content, cycle, ts.Format(time.RFC3339Nano))))
	return hex.EncodeToString(sum[:])
}

// State is the serializable snapshot returned by GetState/restored by
// SetState.
type State struct {
	Events    []Event `json:"events"`
	MaxEvents int     `json:"max_events"`
}

// Stream is a bounded, append-only, thread-safe event log. Overflow drops
// the oldest event from both the ordered list and the id index in O(1)
// (spec §4.3) — a stdlib container/list ring rather than a third-party
// cache, since the pack's one bounded-cache dependency (hashicorp/
// golang-lru) evicts by access recency, not strict insertion order, and
// this stream must never reorder on read.
type Stream struct {
	mu        sync.Mutex
	order     *list.List               // front = oldest, back = newest
	elements  map[string]*list.Element // id -> node in order
	maxEvents int
}

// New constructs a stream bounded at maxEvents.
func New(maxEvents int) *Stream {
	if maxEvents <= 0 {
		maxEvents = 10000
	}
	return &Stream{
		order:     list.New(),
		elements:  make(map[string]*list.Element),
		maxEvents: maxEvents,
	}
}

// AddEvent constructs and appends an event, evicting the oldest if the
// stream is at capacity, and returns the constructed event.
func (s *Stream) AddEvent(eventType EventType, content string, cycle int, actorID *string, metadata map[string]any, linkedEvents []string) Event {
	now := time.Now().UTC()
	event := Event{
		ID:           computeEventID(eventType, content, cycle, now),
		Type:         eventType,
		Content:      content,
		Cycle:        cycle,
		Timestamp:    now,
		ActorID:      actorID,
		Metadata:     metadata,
		LinkedEvents: linkedEvents,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	elem := s.order.PushBack(event)
	s.elements[event.ID] = elem

	if s.order.Len() > s.maxEvents {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.elements, oldest.Value.(Event).ID)
	}

	return event
}

// ByID returns the event with the given id, if present.
func (s *Stream) ByID(id string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.elements[id]
	if !ok {
		return Event{}, false
	}
	return elem.Value.(Event), true
}

// ByCycle returns all events at the given cycle, in insertion order.
func (s *Stream) ByCycle(cycle int) []Event {
	return s.filter(func(e Event) bool { return e.Cycle == cycle })
}

// ByType returns all events of the given type, in insertion order.
func (s *Stream) ByType(eventType EventType) []Event {
	return s.filter(func(e Event) bool { return e.Type == eventType })
}

// ByActor returns all events attributed to actorID, in insertion order.
func (s *Stream) ByActor(actorID string) []Event {
	return s.filter(func(e Event) bool { return e.ActorID != nil && *e.ActorID == actorID })
}

// Recent returns up to k events, most recent first.
func (s *Stream) Recent(k int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for elem := s.order.Back(); elem != nil && len(out) < k; elem = elem.Prev() {
		out = append(out, elem.Value.(Event))
	}
	return out
}

// SearchQuery is a fielded filter for Search (spec §4.3 "fielded search").
type SearchQuery struct {
	ContentContains string
	Type            *EventType
	ActorID         *string
	CycleFrom       *int
	CycleTo         *int
}

// Search returns all events matching every non-zero field of q, in
// insertion order.
func (s *Stream) Search(q SearchQuery) []Event {
	return s.filter(func(e Event) bool {
		if q.ContentContains != "" && !strings.Contains(e.Content, q.ContentContains) {
			return false
		}
		if q.Type != nil && e.Type != *q.Type {
			return false
		}
		if q.ActorID != nil && (e.ActorID == nil || *e.ActorID != *q.ActorID) {
			return false
		}
		if q.CycleFrom != nil && e.Cycle < *q.CycleFrom {
			return false
		}
		if q.CycleTo != nil && e.Cycle > *q.CycleTo {
			return false
		}
		return true
	})
}

func (s *Stream) filter(pred func(Event) bool) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(Event)
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// GetState serializes the event list for persistence.
func (s *Stream) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]Event, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		events = append(events, elem.Value.(Event))
	}
	return State{Events: events, MaxEvents: s.maxEvents}
}

// SetState restores the event list from a prior GetState snapshot.
func (s *Stream) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.MaxEvents > 0 {
		s.maxEvents = state.MaxEvents
	}
	s.order.Init()
	s.elements = make(map[string]*list.Element)
	for _, e := range state.Events {
		elem := s.order.PushBack(e)
		s.elements[e.ID] = elem
	}
}
