package feasibility

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/universalis-sim/universalis/pkg/world"
)

// movementVerbs is the verb set that triggers the spatial movement
// constraint (spec §4.7 constraint 4).
var movementVerbs = []string{"move", "go", "travel", "deploy", "relocate", "dispatch", "send"}

// coordinatePairPattern matches a pair of floating-point numbers separated
// by a comma or whitespace (spec §4.7's exact regex).
var coordinatePairPattern = regexp.MustCompile(`-?\d+\.?\d*[,\s]+-?\d+\.?\d*`)

func containsMovementVerb(intentText string) bool {
	lower := strings.ToLower(intentText)
	for _, v := range movementVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// coordinatePair is one (lon, lat) extracted from intent text. The
// extracted order follows the spec's data model convention of
// "POINT(lon lat)" (spec §3): the first number in each matched pair is
// treated as longitude, the second as latitude.
type coordinatePair struct {
	Lon, Lat float64
}

func extractCoordinatePairs(intentText string) []coordinatePair {
	matches := coordinatePairPattern.FindAllString(intentText, -1)
	pairs := make([]coordinatePair, 0, len(matches))
	for _, m := range matches {
		fields := strings.FieldsFunc(m, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if len(fields) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(fields[0], 64)
		lat, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		pairs = append(pairs, coordinatePair{Lon: lon, Lat: lat})
	}
	return pairs
}

// spatialMovementConstraint is default constraint 4 (spec §4.7). It is the
// one constraint that reaches into the state store rather than the
// in-memory snapshot, since terrain passability is a spatial-index query
// grounded on spatial_constraints.py's check_terrain_passability.
func (e *Engine) spatialMovementConstraint() Constraint {
	return Constraint{
		Name: "spatial_movement",
		Type: ConstraintSpatial,
		Check: func(ctx context.Context, intentText string, _ world.Snapshot) (bool, string) {
			if !containsMovementVerb(intentText) {
				return true, ""
			}
			pairs := extractCoordinatePairs(intentText)
			if len(pairs) == 0 {
				return true, ""
			}
			if e.store == nil {
				return true, ""
			}
			for _, p := range pairs {
				terrain, err := e.store.GetTerrainAtPoint(ctx, p.Lon, p.Lat)
				if err != nil {
					return true, "" // store error: treat like "no terrain restriction" per spatial_constraints.py
				}
				if terrain != nil && !terrain.Passable {
					return false, fmt.Sprintf("target (%g, %g) is impassable terrain %q", p.Lon, p.Lat, terrain.Name)
				}
			}
			return true, ""
		},
		ErrorMessage: "movement target is blocked by impassable terrain",
	}
}

// CheckDistanceConstraint reports whether entity1 and entity2 are within
// maxDistance degrees of each other (additional API, spec §4.7; grounded on
// spatial_constraints.py's check_distance_constraint). Entities missing
// geometry are treated as failing the constraint.
func (e *Engine) CheckDistanceConstraint(ctx context.Context, entity1ID, entity2ID string, maxDistance float64) bool {
	dist, err := e.store.CalculateDistance(ctx, entity1ID, entity2ID)
	if err != nil || dist == nil {
		return false
	}
	return *dist <= maxDistance
}

// CheckPathFeasibility reports whether a straight path between a and b is
// clear of impassable terrain, and its movement cost (additional API, spec
// §4.7, grounded on spatial_constraints.py's check_path_constraint).
func (e *Engine) CheckPathFeasibility(ctx context.Context, a, b world.Location) (ok bool, cost float64, blocker *string) {
	blocked, blockerName, err := e.store.CheckPathBlocked(ctx, a, b)
	if err != nil {
		return false, 0, nil
	}
	if blocked {
		name := blockerName
		return false, 0, &name
	}
	pathCost, err := e.store.CalculatePathCost(ctx, a, b)
	if err != nil {
		pathCost = 1.0
	}
	return true, pathCost, nil
}

// CheckProximityConstraint reports whether entityID's current location is
// within [minDistance, maxDistance] degrees of (targetLon, targetLat)
// (additional API, spec §4.7; grounded on spatial_constraints.py's
// check_proximity_constraint). An entity with no location fails the
// constraint, matching the Python original's "not found or too far" case.
func (e *Engine) CheckProximityConstraint(ctx context.Context, entityID string, targetLon, targetLat, minDistance, maxDistance float64) bool {
	loc, ok, err := e.store.EntityPoint(ctx, entityID)
	if err != nil || !ok {
		return false
	}
	dx, dy := targetLon-loc.Lon, targetLat-loc.Lat
	distance := math.Sqrt(dx*dx + dy*dy)
	return distance >= minDistance && distance <= maxDistance
}

// CheckZoneConstraint reports whether (lon, lat) lies in an allowed zone:
// its terrain type must not appear in forbiddenTypes, and, when
// allowedTypes is non-empty, must appear in it (additional API, spec §4.7;
// grounded on spatial_constraints.py's check_zone_constraint). A location
// with no terrain defined is allowed by default.
func (e *Engine) CheckZoneConstraint(ctx context.Context, lon, lat float64, allowedTypes, forbiddenTypes []string) bool {
	terrain, err := e.store.GetTerrainAtPoint(ctx, lon, lat)
	if err != nil || terrain == nil {
		return true
	}
	for _, t := range forbiddenTypes {
		if t == string(terrain.Type) {
			return false
		}
	}
	if len(allowedTypes) > 0 {
		for _, t := range allowedTypes {
			if t == string(terrain.Type) {
				return true
			}
		}
		return false
	}
	return true
}

// CheckMovementFeasibility runs distance, target-passability, and
// path-blocking checks for one entity moving to (targetLon, targetLat),
// returning a full Report (spec §4.7 additional API; grounded on
// spatial_constraints.py's validate_movement). maxDistance of nil skips the
// distance check, matching the Python original's optional parameter.
func (e *Engine) CheckMovementFeasibility(ctx context.Context, entityID string, targetLon, targetLat float64, maxDistance *float64) Report {
	report := Report{
		Intent:            fmt.Sprintf("move %s to (%g, %g)", entityID, targetLon, targetLat),
		ConstraintsChecked: []string{},
		Violations:        []Violation{},
		Recommendations:   []string{},
	}

	start, ok, err := e.store.EntityPoint(ctx, entityID)
	if err != nil || !ok {
		report.ConstraintsChecked = append(report.ConstraintsChecked, "entity_location")
		report.Violations = append(report.Violations, Violation{
			Constraint: "entity_location",
			Type:       ConstraintSpatial,
			Message:    fmt.Sprintf("entity %q not found or has no location", entityID),
		})
		report.Recommendations = append(report.Recommendations, recommendations[ConstraintSpatial])
		report.Feasible = false
		return report
	}

	if maxDistance != nil {
		report.ConstraintsChecked = append(report.ConstraintsChecked, "distance")
		dx, dy := targetLon-start.Lon, targetLat-start.Lat
		distance := math.Sqrt(dx*dx + dy*dy)
		if distance > *maxDistance {
			report.Violations = append(report.Violations, Violation{
				Constraint: "distance",
				Type:       ConstraintSpatial,
				Message:    fmt.Sprintf("movement distance %.4f exceeds max %.4f", distance, *maxDistance),
			})
			report.Recommendations = append(report.Recommendations, recommendations[ConstraintSpatial])
		}
	}

	report.ConstraintsChecked = append(report.ConstraintsChecked, "terrain_passability")
	terrain, err := e.store.GetTerrainAtPoint(ctx, targetLon, targetLat)
	if err == nil && terrain != nil && !terrain.Passable {
		report.Violations = append(report.Violations, Violation{
			Constraint: "terrain_passability",
			Type:       ConstraintSpatial,
			Message:    fmt.Sprintf("target terrain %q is impassable", terrain.Name),
		})
		report.Recommendations = append(report.Recommendations, recommendations[ConstraintSpatial])
	}

	report.ConstraintsChecked = append(report.ConstraintsChecked, "path_clearance")
	blocked, blockerName, err := e.store.CheckPathBlocked(ctx, start, world.Location{Lon: targetLon, Lat: targetLat})
	if err == nil && blocked {
		report.Violations = append(report.Violations, Violation{
			Constraint: "path_clearance",
			Type:       ConstraintSpatial,
			Message:    fmt.Sprintf("path blocked by %s", blockerName),
		})
		report.Recommendations = append(report.Recommendations, recommendations[ConstraintSpatial])
	}

	report.Feasible = len(report.Violations) == 0
	return report
}
