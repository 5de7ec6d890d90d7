package model

import (
	"strconv"
	"time"
)

// FlightMode is the navigation state machine's operating mode.
type FlightMode int

const (
	ModeAuto FlightMode = iota
	ModeManual
	ModeEmergency
	ModeLanding
)

func (m FlightMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeManual:
		return "manual"
	case ModeEmergency:
		return "emergency"
	case ModeLanding:
		return "landing"
	default:
		return "unknown"
	}
}

// ParseFlightMode is the inverse of String.
func ParseFlightMode(s string) (FlightMode, error) {
	for m := ModeAuto; m <= ModeLanding; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeAuto, Validationf("unknown flight mode %q", s)
}

// CanTransition reports whether the state machine allows moving from m to next.
// Landing is terminal for the current flight and nothing leaves Emergency
// except the landing sequence.
func (m FlightMode) CanTransition(next FlightMode) bool {
	switch m {
	case ModeAuto:
		return next == ModeManual || next == ModeEmergency
	case ModeManual:
		return next == ModeAuto || next == ModeEmergency
	case ModeEmergency:
		return next == ModeLanding
	case ModeLanding:
		return false
	default:
		return false
	}
}

// ObstacleKind classifies a detected hazard.
type ObstacleKind int

const (
	ObstacleAircraft ObstacleKind = iota
	ObstacleBuilding
	ObstacleWeather
	ObstacleNoFlyZone
	ObstacleBird
)

func (k ObstacleKind) String() string {
	switch k {
	case ObstacleAircraft:
		return "aircraft"
	case ObstacleBuilding:
		return "building"
	case ObstacleWeather:
		return "weather"
	case ObstacleNoFlyZone:
		return "no_fly_zone"
	case ObstacleBird:
		return "bird"
	default:
		return "unknown"
	}
}

// AvoidanceAction is the maneuver chosen for an obstacle.
type AvoidanceAction int

const (
	AvoidNone AvoidanceAction = iota
	AvoidAltitudeClimb
	AvoidLateralTurn
	AvoidSpeedReduce
	AvoidLand
)

func (a AvoidanceAction) String() string {
	switch a {
	case AvoidNone:
		return "none"
	case AvoidAltitudeClimb:
		return "altitude_climb"
	case AvoidLateralTurn:
		return "lateral_turn"
	case AvoidSpeedReduce:
		return "speed_reduce"
	case AvoidLand:
		return "land"
	default:
		return "unknown"
	}
}

// Threat levels.
const (
	ThreatLow      = 0
	ThreatMedium   = 1
	ThreatHigh     = 2
	ThreatCritical = 3
)

// Vector is a movement vector in km/h along the local north/east/up axes.
type Vector struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
	Up    float64 `json:"up"`
}

// Obstacle is a hazard detected by the agent's sensors.
type Obstacle struct {
	ID          string          `json:"id"`
	Kind        ObstacleKind    `json:"kind"`
	Position    Coordinates     `json:"position"`
	AltitudeM   float64         `json:"altitude_m"`
	SizeM       float64         `json:"size_m"`
	Movement    Vector          `json:"movement"`
	ThreatLevel int             `json:"threat_level"`
	Avoidance   AvoidanceAction `json:"avoidance"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// Validate checks the threat level range.
func (o Obstacle) Validate() error {
	if o.ThreatLevel < ThreatLow || o.ThreatLevel > ThreatCritical {
		return Validationf("obstacle %s: threat level %d out of range", o.ID, o.ThreatLevel)
	}
	return nil
}

// Key identifies one observation of an obstacle. Redelivered observations
// share the same key.
func (o Obstacle) Key() string {
	return o.ID + "@" + strconv.FormatInt(o.ObservedAt.UnixNano(), 10)
}

// DecisionKind is the family of an autonomous decision.
type DecisionKind int

const (
	DecisionRouteChange DecisionKind = iota
	DecisionSpeedAdjust
	DecisionAltitudeChange
	DecisionEmergencyLand
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRouteChange:
		return "route_change"
	case DecisionSpeedAdjust:
		return "speed_adjust"
	case DecisionAltitudeChange:
		return "altitude_change"
	case DecisionEmergencyLand:
		return "emergency_land"
	default:
		return "unknown"
	}
}

// Outcome of an executed decision.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailed
	OutcomePartial
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// AutonomousDecision is one entry of the navigation decision log.
type AutonomousDecision struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agent_id"`
	Kind       DecisionKind      `json:"kind"`
	Reason     string            `json:"reason"`
	Params     map[string]string `json:"params,omitempty"`
	Confidence int               `json:"confidence"`
	Time       time.Time         `json:"time"`
	Outcome    Outcome           `json:"outcome"`
}

// DecisionLogCapacity bounds the rolling decision log.
const DecisionLogCapacity = 20

// NavigationState is the live navigation picture of one agent.
type NavigationState struct {
	AgentID     string               `json:"agent_id"`
	Route       *Route               `json:"route,omitempty"`
	Position    Coordinates          `json:"position"`
	AltitudeM   float64              `json:"altitude_m"`
	SpeedKmh    float64              `json:"speed_kmh"`
	HeadingDeg  float64              `json:"heading_deg"`
	Target      *Waypoint            `json:"target,omitempty"`
	Obstacles   []Obstacle           `json:"obstacles"`
	Weather     Weather              `json:"weather"`
	Mode        FlightMode           `json:"mode"`
	DecisionLog []AutonomousDecision `json:"decision_log"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// RecordDecision appends d to the rolling log, evicting the oldest entries
// once the capacity is exceeded.
func (s *NavigationState) RecordDecision(d AutonomousDecision) {
	s.DecisionLog = append(s.DecisionLog, d)
	if over := len(s.DecisionLog) - DecisionLogCapacity; over > 0 {
		kept := make([]AutonomousDecision, DecisionLogCapacity)
		copy(kept, s.DecisionLog[over:])
		s.DecisionLog = kept
	}
}

// Clone returns a deep copy safe to hand out of the engine.
func (s NavigationState) Clone() NavigationState {
	out := s
	if s.Route != nil {
		r := *s.Route
		r.Waypoints = append([]Waypoint(nil), s.Route.Waypoints...)
		out.Route = &r
	}
	if s.Target != nil {
		t := *s.Target
		out.Target = &t
	}
	out.Obstacles = append([]Obstacle(nil), s.Obstacles...)
	out.DecisionLog = make([]AutonomousDecision, len(s.DecisionLog))
	for i, d := range s.DecisionLog {
		if d.Params != nil {
			p := make(map[string]string, len(d.Params))
			for k, v := range d.Params {
				p[k] = v
			}
			d.Params = p
		}
		out.DecisionLog[i] = d
	}
	return out
}

// EntityID implements ledger.Entity.
func (s NavigationState) EntityID() string { return s.AgentID }

// EntityKind implements ledger.Entity.
func (NavigationState) EntityKind() string { return "navigation" }
