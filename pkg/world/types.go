// Package world implements the spatial state store (spec §4.1, §3): durable
// entity/terrain/environment persistence, per-cycle snapshots, and the
// spatial predicates the feasibility engine and adjudicator depend on.
package world

import "fmt"

// Resolution tags an actor's reasoning mode.
type Resolution string

const (
	ResolutionMacro Resolution = "MACRO"
	ResolutionMicro Resolution = "MICRO"
)

// TerrainType enumerates the recognized terrain kinds.
type TerrainType string

const (
	TerrainPlains    TerrainType = "PLAINS"
	TerrainMountains TerrainType = "MOUNTAINS"
	TerrainForest    TerrainType = "FOREST"
	TerrainWater     TerrainType = "WATER"
	TerrainUrban     TerrainType = "URBAN"
	TerrainDesert    TerrainType = "DESERT"
	TerrainRoad      TerrainType = "ROAD"
)

// Location is a geographic point with optional elevation (spec §3).
type Location struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Elevation *float64 `json:"elevation,omitempty"`
}

// WKT renders the location as the POINT(lon lat) string the spec's data
// model mandates.
func (l Location) WKT() string {
	return fmt.Sprintf("POINT(%g %g)", l.Lon, l.Lat)
}

// Environment carries the simulation's time-varying global state.
type Environment struct {
	Cycle            int               `json:"cycle"`
	Time             string            `json:"time"` // "HH:MM"
	Weather          string            `json:"weather"`
	GlobalEvents     []string          `json:"global_events"`
	TerrainModifiers map[string]float64 `json:"terrain_modifiers"`
}

// Actor is an LLM-driven agent that proposes intents (spec §3, §4.5).
type Actor struct {
	ID         string            `json:"id"`
	Role       string            `json:"role"`
	Description string           `json:"description"`
	Resolution Resolution        `json:"resolution"`
	Assets     []string          `json:"assets"`
	Objectives []string          `json:"objectives"`
	Location   *Location         `json:"location,omitempty"`
	Attributes map[string]any    `json:"attributes"`
	Status     string            `json:"status"`
}

// Asset is a resource controlled by an actor (spec §3).
type Asset struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Location   map[string]any `json:"location"` // {lat, lon, elevation?}, keys may be absent
	Attributes map[string]any `json:"attributes"`
	Status     string         `json:"status"`
}

// LocationPoint extracts a Location from Asset.Location's loosely typed
// map, returning (loc, ok) where ok is false if lat/lon are absent.
func (a Asset) LocationPoint() (Location, bool) {
	lat, latOK := toFloat(a.Location["lat"])
	lon, lonOK := toFloat(a.Location["lon"])
	if !latOK || !lonOK {
		return Location{}, false
	}
	loc := Location{Lat: lat, Lon: lon}
	if elev, ok := toFloat(a.Location["elevation"]); ok {
		loc.Elevation = &elev
	}
	return loc, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// TerrainFeature is a polygonal region with passability and movement-cost
// attributes (spec §3).
type TerrainFeature struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Type         TerrainType    `json:"type"`
	GeometryWKT  string         `json:"geometry_wkt"`
	MovementCost float64        `json:"movement_cost"`
	Passable     bool           `json:"passable"`
	Attributes   map[string]any `json:"attributes"`
}

// Snapshot is the persisted world state at a specific cycle (spec §3).
type Snapshot struct {
	SimulationID string            `json:"simulation_id"`
	Environment  Environment       `json:"environment"`
	Actors       map[string]Actor  `json:"actors"`
	Assets       map[string]Asset  `json:"assets"`
	Metadata     map[string]any    `json:"metadata"`
	LastUpdated  string            `json:"last_updated"` // ISO-8601
}

// EntityHit is one row returned by GetEntitiesWithinDistance.
type EntityHit struct {
	ID         string
	Type       string // "actor" | "asset"
	Name       string
	Lon        float64
	Lat        float64
	Distance   float64
	Properties map[string]any
	Status     string
}
