package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/skyswarm/core/model"
)

// Kind identifies the event type. Its string form is used as topic suffix.
type Kind int

const (
	KindSlotReserved Kind = iota
	KindConflictDetected
	KindConflictResolved
	KindRouteCalculated
	KindObstacleAvoided
	KindEmergencyLandingInitiated
	KindEmergencyDispatched
	KindEmergencyCompleted
)

var kindNames = [...]string{
	"slot_reserved",
	"conflict_detected",
	"conflict_resolved",
	"route_calculated",
	"obstacle_avoided",
	"emergency_landing_initiated",
	"emergency_dispatched",
	"emergency_completed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k.String() == "unknown" {
		return nil, fmt.Errorf("events: unknown kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	for i, n := range kindNames {
		if n == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("events: unknown kind %q", string(b))
}

// Kinds lists every event kind.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// Event is the envelope published on the bus.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	AgentID string    `json:"agent_id,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// New wraps payload in an envelope with a fresh identifier.
func New(kind Kind, agentID string, at time.Time, payload any) Event {
	return Event{ID: uuid.NewString(), Kind: kind, AgentID: agentID, Time: at, Payload: payload}
}

// Publisher accepts events. eventbus.TypedBus[Event] satisfies it.
type Publisher interface {
	Publish(Event)
}

// SlotReserved is published when a slot enters the active list.
type SlotReserved struct {
	Slot      model.AirspaceSlot `json:"slot"`
	Conflicts int                `json:"conflicts"`
}

// ConflictDetected is published for every conflict found during admission.
type ConflictDetected struct {
	Conflict model.Conflict `json:"conflict"`
}

// ConflictResolved is published once a strategy has been applied.
type ConflictResolved struct {
	Conflict model.Conflict       `json:"conflict"`
	Slots    []model.AirspaceSlot `json:"slots"`
}

// RouteCalculated is published after a successful plan.
type RouteCalculated struct {
	Route model.Route `json:"route"`
}

// ObstacleAvoided is published after every executed avoidance maneuver.
type ObstacleAvoided struct {
	Obstacle model.Obstacle           `json:"obstacle"`
	Action   model.AvoidanceAction    `json:"action"`
	Decision model.AutonomousDecision `json:"decision"`
}

// EmergencyLandingInitiated is published when an agent enters emergency mode
// to land.
type EmergencyLandingInitiated struct {
	Position  model.Coordinates `json:"position"`
	AltitudeM float64           `json:"altitude_m"`
	Reason    string            `json:"reason"`
}

// EmergencyDispatched is published when responders are assigned.
type EmergencyDispatched struct {
	Request  model.EmergencyRequest  `json:"request"`
	Response model.EmergencyResponse `json:"response"`
}

// EmergencyCompleted is published when a response is closed.
type EmergencyCompleted struct {
	Request  model.EmergencyRequest  `json:"request"`
	Response model.EmergencyResponse `json:"response"`
	Outcome  model.Outcome           `json:"outcome"`
}
