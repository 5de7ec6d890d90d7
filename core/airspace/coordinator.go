// Package airspace admits airspace slot reservations, detects conflicts
// between them and separates conflicting slots in time, altitude or space.
package airspace

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/model"
)

// Resolution modes.
const (
	// ModeAuto separates every conflict before the slot is admitted.
	ModeAuto = "auto"
	// ModeManual admits the slot and records conflicts for ResolveConflict.
	ModeManual = "manual"
)

// Config holds the airspace settings.
type Config struct {
	Mode                   string        `json:"mode"`
	MaxResolutionAttempts  int           `json:"max_resolution_attempts"`
	MaxAltitudeM           float64       `json:"max_altitude_m"`
	VerticalSeparationM    float64       `json:"vertical_separation_m"`
	HorizontalSeparationKm float64       `json:"horizontal_separation_km"`
	TimeBuffer             time.Duration `json:"time_buffer"`
	RerouteOffsetKm        float64       `json:"reroute_offset_km"`
	// TrackSeparation lets slots on different routes share a band and
	// window when their tracks stay HorizontalSeparationKm apart. Off by
	// default: any band and window overlap is a conflict.
	TrackSeparation bool `json:"track_separation"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.MaxResolutionAttempts <= 0 {
		c.MaxResolutionAttempts = 8
	}
	if c.MaxAltitudeM <= 0 {
		c.MaxAltitudeM = 120
	}
	if c.VerticalSeparationM <= 0 {
		c.VerticalSeparationM = 10
	}
	if c.HorizontalSeparationKm <= 0 {
		c.HorizontalSeparationKm = 0.5
	}
	if c.RerouteOffsetKm <= 0 {
		c.RerouteOffsetKm = 1
	}
}

// Validate checks the mode.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeManual, "":
		return nil
	default:
		return fmt.Errorf("airspace: unknown mode %q", c.Mode)
	}
}

// Request describes a slot reservation.
type Request struct {
	RouteID  string             `json:"route_id"`
	AgentID  string             `json:"agent_id"`
	Window   model.TimeWindow   `json:"window"`
	Band     model.AltitudeBand `json:"band"`
	Priority model.Priority     `json:"priority"`
	// Route optionally carries the planned track, enabling crossing
	// detection and rerouting.
	Route *model.Route `json:"route,omitempty"`
}

func (r Request) validate(maxAlt float64) error {
	if strings.TrimSpace(r.RouteID) == "" {
		return model.Validationf("airspace: route id is required")
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return model.Validationf("airspace: agent id is required")
	}
	if !r.Window.Start.Before(r.Window.End) {
		return model.Validationf("airspace: window start must precede end")
	}
	if r.Band.MinM < 0 || r.Band.MinM >= r.Band.MaxM {
		return model.Validationf("airspace: invalid altitude band [%.0f,%.0f]", r.Band.MinM, r.Band.MaxM)
	}
	if r.Band.MaxM > maxAlt {
		return model.Validationf("airspace: band ceiling %.0f m above the %.0f m limit", r.Band.MaxM, maxAlt)
	}
	if !r.Priority.Valid() {
		return model.Validationf("airspace: priority %d out of range", r.Priority)
	}
	if r.Route != nil && r.Route.ID != "" && r.Route.ID != r.RouteID {
		return model.Validationf("airspace: route %s does not match route id %s", r.Route.ID, r.RouteID)
	}
	return nil
}

// Rerouter builds an alternate route passing offsetKm beside the original.
type Rerouter interface {
	Reroute(route model.Route, offsetKm float64) (model.Route, error)
}

// RerouterFunc adapts a function to Rerouter.
type RerouterFunc func(route model.Route, offsetKm float64) (model.Route, error)

// Reroute implements Rerouter.
func (f RerouterFunc) Reroute(route model.Route, offsetKm float64) (model.Route, error) {
	return f(route, offsetKm)
}

// Reservation is the outcome of Reserve.
type Reservation struct {
	Slot      model.AirspaceSlot
	Conflicts []model.Conflict
	// Adjusted lists previously admitted slots moved by preemption.
	Adjusted []model.AirspaceSlot
	// Routes lists alternate routes created by rerouting.
	Routes []model.Route
}

// Resolution is the outcome of ResolveConflict.
type Resolution struct {
	Conflict model.Conflict
	Adjusted []model.AirspaceSlot
	Routes   []model.Route
}

// Coordinator owns the active slots, the completed slots and the conflict
// records. All mutations go through its methods.
type Coordinator struct {
	mu       sync.RWMutex
	cfg      Config
	rerouter Rerouter
	log      logger.Logger
	now      func() time.Time
	newID    func() string

	active        map[string]model.AirspaceSlot
	order         []string
	completed     []model.AirspaceSlot
	conflicts     map[string]model.Conflict
	conflictOrder []string
	routes        map[string]model.Route
	flights       int
}

// New returns an empty coordinator.
func New(cfg Config, log logger.Logger) *Coordinator {
	cfg.SetDefaults()
	return &Coordinator{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
		active:    make(map[string]model.AirspaceSlot),
		conflicts: make(map[string]model.Conflict),
		routes:    make(map[string]model.Route),
	}
}

// SetRerouter enables the Reroute strategy.
func (c *Coordinator) SetRerouter(r Rerouter) {
	c.mu.Lock()
	c.rerouter = r
	c.mu.Unlock()
}

// TrackRoute records a planned route so reservations referencing it get
// crossing detection and rerouting.
func (c *Coordinator) TrackRoute(r model.Route) {
	if r.ID == "" {
		return
	}
	c.mu.Lock()
	c.routes[r.ID] = r
	c.mu.Unlock()
}

// Reserve admits a slot for the request. In auto mode every conflict is
// separated before admission and the slot is rejected with a
// *model.ConflictError when that takes more than MaxResolutionAttempts
// steps. In manual mode the slot is admitted as requested and its conflicts
// are recorded unresolved.
func (c *Coordinator) Reserve(req Request) (Reservation, error) {
	if err := req.validate(c.cfg.MaxAltitudeM); err != nil {
		return Reservation{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admit(req, "")
}

// Replace admits a reservation in place of an active slot. The old slot is
// released only when the new one is admitted; on error the active set is
// left untouched and the old slot stays in force. The new slot does not
// conflict with the slot it replaces.
func (c *Coordinator) Replace(slotID string, req Request) (Reservation, model.AirspaceSlot, error) {
	if err := req.validate(c.cfg.MaxAltitudeM); err != nil {
		return Reservation{}, model.AirspaceSlot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.active[slotID]
	if !ok {
		return Reservation{}, model.AirspaceSlot{}, fmt.Errorf("airspace: slot %s: %w", slotID, model.ErrNotFound)
	}
	res, err := c.admit(req, slotID)
	if err != nil {
		return Reservation{}, model.AirspaceSlot{}, err
	}
	old.ReleasedAt = c.now()
	c.completed = append(c.completed, old)
	return res, old, nil
}

// admit stages the candidate, without the replaced slot when one is given,
// and commits the stage when the candidate is admissible. Callers hold mu.
func (c *Coordinator) admit(req Request, replaced string) (Reservation, error) {
	now := c.now()
	cand := model.AirspaceSlot{
		ID:         c.newID(),
		RouteID:    req.RouteID,
		Window:     req.Window,
		Band:       req.Band,
		AgentID:    req.AgentID,
		Priority:   req.Priority,
		ReservedAt: now,
	}
	st := c.newStage()
	if replaced != "" {
		st.remove(replaced)
	}
	if req.Route != nil {
		r := *req.Route
		r.ID = req.RouteID
		st.routes[r.ID] = r
	}
	st.add(cand)

	var conflicts []model.Conflict
	if c.cfg.Mode == ModeManual {
		conflicts = c.detect(st, cand.ID, now)
	} else {
		var err error
		conflicts, err = c.resolveAuto(st, cand.ID, now)
		if err != nil {
			return Reservation{}, err
		}
	}

	adjusted, routes := c.commit(st)
	for _, cf := range conflicts {
		c.conflicts[cf.ID] = cf
		c.conflictOrder = append(c.conflictOrder, cf.ID)
	}
	c.flights++
	slot := c.active[cand.ID]
	c.log.Debugw("airspace slot reserved", logger.Fields{
		"slot_id": slot.ID, "route_id": slot.RouteID, "agent_id": slot.AgentID,
		"priority": slot.Priority.String(), "conflicts": len(conflicts), "replaces": replaced,
	})
	return Reservation{Slot: slot, Conflicts: conflicts, Adjusted: adjusted, Routes: routes}, nil
}

// ResolveConflict applies strategy to the lower-priority slot of a recorded
// conflict. On equal priority the slot that triggered the conflict moves.
func (c *Coordinator) ResolveConflict(conflictID string, strategy model.ResolutionStrategy) (Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cf, ok := c.conflicts[conflictID]
	if !ok {
		return Resolution{}, fmt.Errorf("airspace: conflict %s: %w", conflictID, model.ErrNotFound)
	}
	if cf.Resolved() {
		return Resolution{}, fmt.Errorf("airspace: conflict %s already resolved: %w", conflictID, model.ErrInvalidTransition)
	}
	if len(cf.SlotIDs) != 2 {
		return Resolution{}, model.Validationf("airspace: conflict %s has %d slots", conflictID, len(cf.SlotIDs))
	}
	a, aok := c.active[cf.SlotIDs[0]]
	b, bok := c.active[cf.SlotIDs[1]]
	if !aok || !bok {
		return Resolution{}, fmt.Errorf("airspace: conflict %s references a released slot: %w", conflictID, model.ErrNotFound)
	}
	loser, winner := a, b
	if a.Priority != b.Priority && a.Priority == model.PriorityEmergency {
		loser, winner = b, a
	}

	st := c.newStage()
	switch strategy {
	case model.StrategyPriority:
		if a.Priority == b.Priority {
			return Resolution{}, model.Validationf("airspace: priority resolution needs different priorities")
		}
	case model.StrategyReroute:
		if c.rerouter == nil {
			return Resolution{}, fmt.Errorf("airspace: reroute: %w", model.ErrStrategyNotImplemented)
		}
		if _, ok := st.route(loser.RouteID); !ok {
			return Resolution{}, model.Validationf("airspace: route %s has no known track", loser.RouteID)
		}
	case model.StrategyAltitudeChange:
		if loser.RouteID == winner.RouteID {
			return Resolution{}, model.Validationf("airspace: slots on route %s cannot be separated vertically", loser.RouteID)
		}
		if _, ok := c.altitudeFor(loser, winner); !ok {
			return Resolution{}, model.Unavailablef("airspace: no free altitude band for slot %s", loser.ID)
		}
	case model.StrategyTimeShift:
	default:
		return Resolution{}, model.Validationf("airspace: unknown strategy %d", strategy)
	}

	if err := c.apply(st, loser.ID, winner.ID, strategy); err != nil {
		return Resolution{}, err
	}
	if remaining := c.detect(st, loser.ID, c.now()); len(remaining) > 0 {
		return Resolution{}, &model.ConflictError{Conflicts: remaining}
	}

	adjusted, routes := c.commit(st)
	cf.Strategy = strategy
	cf.ResolvedAt = c.now()
	c.conflicts[cf.ID] = cf
	c.log.Infof("conflict %s resolved with %s", cf.ID, strategy)
	return Resolution{Conflict: cf, Adjusted: adjusted, Routes: routes}, nil
}

// Release moves an active slot to the completed collection.
func (c *Coordinator) Release(slotID string) (model.AirspaceSlot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.active[slotID]
	if !ok {
		return model.AirspaceSlot{}, fmt.Errorf("airspace: slot %s: %w", slotID, model.ErrNotFound)
	}
	delete(c.active, slotID)
	for i, id := range c.order {
		if id == slotID {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	s.ReleasedAt = c.now()
	c.completed = append(c.completed, s)
	return s, nil
}

// Active returns the active slots in admission order.
func (c *Coordinator) Active() []model.AirspaceSlot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.AirspaceSlot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.active[id])
	}
	return out
}

// Completed returns the released slots.
func (c *Coordinator) Completed() []model.AirspaceSlot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.AirspaceSlot(nil), c.completed...)
}

// Slot returns an active slot.
func (c *Coordinator) Slot(id string) (model.AirspaceSlot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.active[id]
	return s, ok
}

// Conflicts returns every recorded conflict in detection order.
func (c *Coordinator) Conflicts() []model.Conflict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Conflict, 0, len(c.conflictOrder))
	for _, id := range c.conflictOrder {
		out = append(out, c.conflicts[id])
	}
	return out
}

// Conflict returns one recorded conflict.
func (c *Coordinator) Conflict(id string) (model.Conflict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cf, ok := c.conflicts[id]
	return cf, ok
}

// Route returns a tracked route.
func (c *Coordinator) Route(id string) (model.Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[id]
	return r, ok
}

// CoordinatedFlights returns how many reservations were admitted.
func (c *Coordinator) CoordinatedFlights() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flights
}
