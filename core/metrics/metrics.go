package metrics

import (
	"time"

	"github.com/kilianp07/skyswarm/core/model"
)

// ReservationEvent records one admitted airspace slot.
type ReservationEvent struct {
	SlotID    string
	RouteID   string
	AgentID   string
	Priority  model.Priority
	Conflicts int
	Time      time.Time
}

// MetricsSink records coordination activity for observability purposes.
type MetricsSink interface {
	RecordReservation(ev ReservationEvent) error
}

// ConflictEvent records a detected or resolved conflict.
type ConflictEvent struct {
	ConflictID string
	Kind       model.ConflictKind
	Severity   model.Severity
	Strategy   model.ResolutionStrategy
	Resolved   bool
	Time       time.Time
}

// ConflictRecorder records conflict lifecycle events.
type ConflictRecorder interface {
	RecordConflict(ev ConflictEvent) error
}

// RouteEvent records a planned route.
type RouteEvent struct {
	RouteID    string
	AgentID    string
	DistanceKm float64
	Duration   time.Duration
	EnergyWh   float64
	Score      float64
	Time       time.Time
}

// RouteRecorder records planner output.
type RouteRecorder interface {
	RecordRoute(ev RouteEvent) error
}

// DecisionEvent records one autonomous navigation decision.
type DecisionEvent struct {
	AgentID    string
	Kind       model.DecisionKind
	Action     model.AvoidanceAction
	Confidence int
	Outcome    model.Outcome
	Mode       model.FlightMode
	Time       time.Time
}

// DecisionRecorder records navigation decisions.
type DecisionRecorder interface {
	RecordDecision(ev DecisionEvent) error
}

// EmergencyEvent records a dispatched or completed emergency response.
type EmergencyEvent struct {
	RequestID   string
	ResponseID  string
	AgentID     string
	Response    model.ResponseType
	Responders  int
	Estimated   time.Duration
	Actual      time.Duration
	SuccessRate int
	Cost        float64
	Completed   bool
	Time        time.Time
}

// EmergencyRecorder records emergency dispatch lifecycle events.
type EmergencyRecorder interface {
	RecordEmergency(ev EmergencyEvent) error
}

// WorkloadEvent is a snapshot of one region's workload distribution after a
// rebalance.
type WorkloadEvent struct {
	Region   string
	Strategy string
	Pending  int
	Workload map[string]int
	Time     time.Time
}

// WorkloadRecorder records load balancer snapshots.
type WorkloadRecorder interface {
	RecordWorkload(ev WorkloadEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordReservation(ReservationEvent) error { return nil }
func (NopSink) RecordConflict(ConflictEvent) error       { return nil }
func (NopSink) RecordRoute(RouteEvent) error             { return nil }
func (NopSink) RecordDecision(DecisionEvent) error       { return nil }
func (NopSink) RecordEmergency(EmergencyEvent) error     { return nil }
func (NopSink) RecordWorkload(WorkloadEvent) error       { return nil }
