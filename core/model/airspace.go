package model

import (
	"strings"
	"time"
)

// Priority of an airspace reservation.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityEmergency
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool { return p == PriorityNormal || p == PriorityEmergency }

// TimeWindow is the half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration of the window.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// Overlap returns the length of the intersection of two windows.
func (w TimeWindow) Overlap(o TimeWindow) time.Duration {
	start := w.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := w.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// Shift moves the window by d keeping its duration.
func (w TimeWindow) Shift(d time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(d), End: w.End.Add(d)}
}

// AltitudeBand is the closed interval [MinM, MaxM] in meters above ground.
type AltitudeBand struct {
	MinM float64 `json:"min_m"`
	MaxM float64 `json:"max_m"`
}

// Height of the band.
func (b AltitudeBand) Height() float64 { return b.MaxM - b.MinM }

// Overlap returns the height of the intersection of two bands, or a negative
// value when they are disjoint. Touching bands overlap with height zero.
func (b AltitudeBand) Overlap(o AltitudeBand) float64 {
	lo := b.MinM
	if o.MinM > lo {
		lo = o.MinM
	}
	hi := b.MaxM
	if o.MaxM < hi {
		hi = o.MaxM
	}
	return hi - lo
}

// Intersects reports whether the bands share at least one altitude.
func (b AltitudeBand) Intersects(o AltitudeBand) bool { return b.Overlap(o) >= 0 }

// AirspaceSlot is a reserved space-time-altitude allocation for one route.
type AirspaceSlot struct {
	ID         string       `json:"id"`
	RouteID    string       `json:"route_id"`
	Window     TimeWindow   `json:"window"`
	Band       AltitudeBand `json:"band"`
	AgentID    string       `json:"agent_id"`
	Priority   Priority     `json:"priority"`
	ReservedAt time.Time    `json:"reserved_at"`
	ReleasedAt time.Time    `json:"released_at,omitempty"`
}

// EntityID implements ledger.Entity.
func (s AirspaceSlot) EntityID() string { return s.ID }

// EntityKind implements ledger.Entity.
func (AirspaceSlot) EntityKind() string { return "slot" }

// ConflictKind classifies the dominant overlap between two slots.
type ConflictKind int

const (
	ConflictTimeOverlap ConflictKind = iota
	ConflictAltitudeOverlap
	ConflictRouteIntersection
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictTimeOverlap:
		return "time_overlap"
	case ConflictAltitudeOverlap:
		return "altitude_overlap"
	case ConflictRouteIntersection:
		return "route_intersection"
	default:
		return "unknown"
	}
}

// Severity grades a conflict.
type Severity int

const (
	SeverityMinor Severity = iota
	SeverityModerate
	SeverityMajor
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityModerate:
		return "moderate"
	case SeverityMajor:
		return "major"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ResolutionStrategy is how a conflict gets separated.
type ResolutionStrategy int

const (
	StrategyTimeShift ResolutionStrategy = iota
	StrategyAltitudeChange
	StrategyReroute
	StrategyPriority
)

func (s ResolutionStrategy) String() string {
	switch s {
	case StrategyTimeShift:
		return "time_shift"
	case StrategyAltitudeChange:
		return "altitude_change"
	case StrategyReroute:
		return "reroute"
	case StrategyPriority:
		return "priority"
	default:
		return "unknown"
	}
}

// ParseResolutionStrategy is the inverse of String.
func ParseResolutionStrategy(s string) (ResolutionStrategy, error) {
	for r := StrategyTimeShift; r <= StrategyPriority; r++ {
		if r.String() == strings.ToLower(s) {
			return r, nil
		}
	}
	return StrategyTimeShift, Validationf("unknown resolution strategy %q", s)
}

// Conflict records an overlap between airspace slots and how it was handled.
type Conflict struct {
	ID         string             `json:"id"`
	SlotIDs    []string           `json:"slot_ids"`
	Kind       ConflictKind       `json:"kind"`
	Severity   Severity           `json:"severity"`
	Strategy   ResolutionStrategy `json:"strategy"`
	DetectedAt time.Time          `json:"detected_at"`
	ResolvedAt time.Time          `json:"resolved_at,omitempty"`
}

// Resolved reports whether a strategy has been applied.
func (c Conflict) Resolved() bool { return !c.ResolvedAt.IsZero() }

// EntityID implements ledger.Entity.
func (c Conflict) EntityID() string { return c.ID }

// EntityKind implements ledger.Entity.
func (Conflict) EntityKind() string { return "conflict" }
