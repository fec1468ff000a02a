// Package feasibility implements the feasibility engine (spec §4.7): a
// registry of named constraints checked against an intent and the current
// world state, producing a FeasibilityReport the adjudicator attaches to
// each actor's intent before the final adjudication pass.
package feasibility

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/universalis-sim/universalis/pkg/world"
)

// ConstraintType classifies a constraint for the recommendation table and
// for callers that want to filter violations by kind.
type ConstraintType string

const (
	ConstraintResource      ConstraintType = "resource"
	ConstraintOperational   ConstraintType = "operational"
	ConstraintAuthorization ConstraintType = "authorization"
	ConstraintSpatial       ConstraintType = "spatial"
)

// Violation is one failed constraint (spec §4.7 Result).
type Violation struct {
	Constraint string         `json:"constraint"`
	Type       ConstraintType `json:"type"`
	Message    string         `json:"message"`
}

// Report is the output of CheckFeasibility for one intent (spec §4.7).
type Report struct {
	Feasible           bool        `json:"feasible"`
	Intent             string      `json:"intent"`
	ConstraintsChecked []string    `json:"constraints_checked"`
	Violations         []Violation `json:"violations"`
	Recommendations    []string    `json:"recommendations"`
}

// Predicate evaluates one constraint against an intent's text and the
// current world state, returning (passed, detail). Detail is folded into
// the violation message when passed is false.
type Predicate func(ctx context.Context, intentText string, snap world.Snapshot) (bool, string)

// Constraint is one named, typed entry in the engine's registry (spec §4.7:
// "(name, type, predicate(intent, world_state) -> bool, error_message)").
type Constraint struct {
	Name         string
	Type         ConstraintType
	Check        Predicate
	ErrorMessage string
}

// recommendations is the fixed table keyed by constraint type (spec §4.7).
var recommendations = map[ConstraintType]string{
	ConstraintResource:      "resource → reallocate or wait for the asset to become available",
	ConstraintOperational:   "operational → repair or replace the asset before tasking it",
	ConstraintAuthorization: "authorization → route the intent through an actor that controls the asset",
	ConstraintSpatial:       "spatial → choose a different route or target location",
}

// Engine holds the constraint registry and the state store that default
// constraint 4 and the movement/distance/path API need for terrain and
// entity lookups.
type Engine struct {
	store       *world.Store
	constraints []Constraint
}

// NewEngine builds an engine with the four default constraints registered
// (spec §4.7). store may be nil only if callers never invoke the spatial
// constraint or the additional movement/distance/path API.
func NewEngine(store *world.Store) *Engine {
	e := &Engine{store: store}
	e.constraints = []Constraint{
		e.resourceAvailabilityConstraint(),
		e.assetOperationalConstraint(),
		e.actorAuthorizationConstraint(),
		e.spatialMovementConstraint(),
	}
	return e
}

// Register appends an additional constraint to the engine's registry.
func (e *Engine) Register(c Constraint) {
	e.constraints = append(e.constraints, c)
}

// CheckFeasibility runs every registered constraint against intentText and
// the given world state, producing a Report (spec §4.7). A constraint whose
// predicate panics is logged as a warning and does not count as a
// violation (spec: "Every constraint's exception is caught and logged but
// does not itself count as a violation.").
func (e *Engine) CheckFeasibility(ctx context.Context, intentText string, snap world.Snapshot) Report {
	report := Report{
		Intent:            intentText,
		ConstraintsChecked: make([]string, 0, len(e.constraints)),
		Violations:        []Violation{},
		Recommendations:   []string{},
	}

	seenRecommendation := make(map[ConstraintType]bool)

	for _, c := range e.constraints {
		report.ConstraintsChecked = append(report.ConstraintsChecked, c.Name)

		passed, detail := e.safeCheck(ctx, c, intentText, snap)
		if passed {
			continue
		}

		msg := c.ErrorMessage
		if detail != "" {
			msg = fmt.Sprintf("%s: %s", c.ErrorMessage, detail)
		}
		report.Violations = append(report.Violations, Violation{
			Constraint: c.Name,
			Type:       c.Type,
			Message:    msg,
		})

		if !seenRecommendation[c.Type] {
			if rec, ok := recommendations[c.Type]; ok {
				report.Recommendations = append(report.Recommendations, rec)
			}
			seenRecommendation[c.Type] = true
		}
	}

	report.Feasible = len(report.Violations) == 0
	return report
}

// safeCheck invokes a constraint's predicate, recovering from a panic (the
// closest Go equivalent of Python's try/except around an arbitrary
// constraint check) and treating it as "skipped", matching the Python
// original's exception handling in FeasibilityEngine.check_feasibility.
func (e *Engine) safeCheck(ctx context.Context, c Constraint, intentText string, snap world.Snapshot) (passed bool, detail string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("feasibility: constraint check panicked, skipping", "constraint", c.Name, "panic", r)
			passed = true
			detail = ""
		}
	}()
	return c.Check(ctx, intentText, snap)
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// matchedAsset returns the first asset named (by id or name, case-insensitive
// substring) in intentText, per spec §4.7 constraints 1-3.
func matchedAsset(intentText string, snap world.Snapshot) (world.Asset, bool) {
	for _, a := range snap.Assets {
		if containsFold(intentText, a.ID) || (a.Name != "" && containsFold(intentText, a.Name)) {
			return a, true
		}
	}
	return world.Asset{}, false
}

// matchedActor returns the first actor named (by id, case-insensitive
// substring) in intentText. No actor is excluded, including the one the
// intent belongs to.
func matchedActor(intentText string, snap world.Snapshot) (world.Actor, bool) {
	for _, a := range snap.Actors {
		if containsFold(intentText, a.ID) {
			return a, true
		}
	}
	return world.Actor{}, false
}

// resourceAvailabilityConstraint is default constraint 1 (spec §4.7).
func (e *Engine) resourceAvailabilityConstraint() Constraint {
	return Constraint{
		Name: "resource_availability",
		Type: ConstraintResource,
		Check: func(_ context.Context, intentText string, snap world.Snapshot) (bool, string) {
			asset, ok := matchedAsset(intentText, snap)
			if !ok {
				return true, ""
			}
			status := strings.ToLower(asset.Status)
			if status == "destroyed" || status == "unavailable" {
				return false, fmt.Sprintf("asset %q has status %q", asset.ID, asset.Status)
			}
			if fuel, ok := toFloat(asset.Attributes["fuel"]); ok && fuel <= 0 {
				return false, fmt.Sprintf("asset %q is out of fuel", asset.ID)
			}
			return true, ""
		},
		ErrorMessage: "asset is unavailable or out of resources",
	}
}

// assetOperationalConstraint is default constraint 2 (spec §4.7).
func (e *Engine) assetOperationalConstraint() Constraint {
	operational := map[string]bool{"active": true, "ready": true, "standby": true}
	return Constraint{
		Name: "asset_operational",
		Type: ConstraintOperational,
		Check: func(_ context.Context, intentText string, snap world.Snapshot) (bool, string) {
			asset, ok := matchedAsset(intentText, snap)
			if !ok {
				return true, ""
			}
			if !operational[strings.ToLower(asset.Status)] {
				return false, fmt.Sprintf("asset %q has status %q", asset.ID, asset.Status)
			}
			return true, ""
		},
		ErrorMessage: "asset is not operational",
	}
}

// actorAuthorizationConstraint is default constraint 3 (spec §4.7).
func (e *Engine) actorAuthorizationConstraint() Constraint {
	return Constraint{
		Name: "actor_authorized",
		Type: ConstraintAuthorization,
		Check: func(_ context.Context, intentText string, snap world.Snapshot) (bool, string) {
			asset, assetOK := matchedAsset(intentText, snap)
			actor, actorOK := matchedActor(intentText, snap)
			if !assetOK || !actorOK {
				return true, ""
			}
			for _, controlled := range actor.Assets {
				if controlled == asset.ID {
					return true, ""
				}
			}
			return false, fmt.Sprintf("actor %q does not control asset %q", actor.ID, asset.ID)
		},
		ErrorMessage: "actor is not authorized to task this asset",
	}
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
