package model

import (
	"fmt"
	"time"
)

// AssistanceType is what the requesting agent needs.
type AssistanceType int

const (
	AssistLowBattery AssistanceType = iota
	AssistPayloadTransfer
	AssistNavigationFailure
	AssistCrash
)

func (a AssistanceType) String() string {
	switch a {
	case AssistLowBattery:
		return "low_battery"
	case AssistPayloadTransfer:
		return "payload_transfer"
	case AssistNavigationFailure:
		return "navigation_failure"
	case AssistCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// ResponseType is the kind of help dispatched.
type ResponseType int

const (
	ResponseBatteryAssist ResponseType = iota
	ResponsePickupTransfer
	ResponseNavigationAid
	ResponsePhysicalRescue
)

func (r ResponseType) String() string {
	switch r {
	case ResponseBatteryAssist:
		return "battery_assist"
	case ResponsePickupTransfer:
		return "pickup_transfer"
	case ResponseNavigationAid:
		return "navigation_aid"
	case ResponsePhysicalRescue:
		return "physical_rescue"
	default:
		return "unknown"
	}
}

// RequestStatus only moves forward: Open -> InProgress -> Resolved, or
// Cancelled from Open or InProgress.
type RequestStatus int

const (
	RequestOpen RequestStatus = iota
	RequestInProgress
	RequestResolved
	RequestCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case RequestOpen:
		return "open"
	case RequestInProgress:
		return "in_progress"
	case RequestResolved:
		return "resolved"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CanTransition reports whether the request lifecycle allows s -> next.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case RequestOpen:
		return next == RequestInProgress || next == RequestCancelled
	case RequestInProgress:
		return next == RequestResolved || next == RequestCancelled
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool { return s == RequestResolved || s == RequestCancelled }

// Urgency bounds.
const (
	UrgencyLow      = 0
	UrgencyCritical = 3
)

// MaxResponders caps the agents attached to one response.
const MaxResponders = 3

// EmergencyRequest is a call for assistance raised by or for an agent.
type EmergencyRequest struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	Location     Coordinates    `json:"location"`
	Assistance   AssistanceType `json:"assistance"`
	Urgency      int            `json:"urgency"`
	Responders   []string       `json:"responders"`
	Status       RequestStatus  `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	ResolvedAt   time.Time      `json:"resolved_at,omitempty"`
	CancelReason string         `json:"cancel_reason,omitempty"`
}

// Validate checks the caller-supplied fields.
func (r EmergencyRequest) Validate() error {
	if r.AgentID == "" {
		return Validationf("emergency request: agent id is required")
	}
	if err := r.Location.Validate(); err != nil {
		return err
	}
	if r.Urgency < UrgencyLow || r.Urgency > UrgencyCritical {
		return Validationf("emergency request: urgency %d out of range", r.Urgency)
	}
	return nil
}

// Transition moves the request to next, enforcing forward-only progress.
func (r *EmergencyRequest) Transition(next RequestStatus) error {
	if r.Status == next {
		return nil
	}
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: emergency request %s: %s -> %s", ErrInvalidTransition, r.ID, r.Status, next)
	}
	r.Status = next
	return nil
}

// EntityID implements ledger.Entity.
func (r EmergencyRequest) EntityID() string { return r.ID }

// EntityKind implements ledger.Entity.
func (EmergencyRequest) EntityKind() string { return "emergency_request" }

// PlanStep is one structured step of a coordination plan.
type PlanStep struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	Action  string `json:"action"`
}

// CoordinationPlan is the text and structured form of the response plan.
type CoordinationPlan struct {
	Summary string     `json:"summary"`
	Steps   []PlanStep `json:"steps"`
}

// EmergencyResponse is the fleet's answer to one request.
type EmergencyResponse struct {
	ID            string           `json:"id"`
	RequestID     string           `json:"request_id"`
	Responders    []string         `json:"responders"`
	Type          ResponseType     `json:"type"`
	Plan          CoordinationPlan `json:"plan"`
	EstimatedTime time.Duration    `json:"estimated_time"`
	ActualTime    time.Duration    `json:"actual_time"`
	SuccessRate   int              `json:"success_rate"`
	Cost          float64          `json:"cost"`
	DispatchedAt  time.Time        `json:"dispatched_at"`
	CompletedAt   time.Time        `json:"completed_at,omitempty"`
}

// EntityID implements ledger.Entity.
func (r EmergencyResponse) EntityID() string { return r.ID }

// EntityKind implements ledger.Entity.
func (EmergencyResponse) EntityKind() string { return "emergency_response" }
