// Package navigation runs the per-agent autonomous decision loop: live
// telemetry, obstacle avoidance and the flight-mode state machine.
package navigation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/core/model"
)

// Avoidance effects and decision thresholds.
const (
	ClimbM            = 50.0
	TurnDeg           = 15.0
	SpeedReduceFactor = 0.8

	LowAltitudeM = 50.0
	HighWindKmh  = 30.0
	HighSpeedKmh = 60.0
)

const (
	confidenceLand  = 95
	confidenceAlt   = 80
	confidenceSpeed = 70
	confidenceRoute = 60
)

// Config holds the engine settings.
type Config struct {
	StreamBuffer int `json:"stream_buffer"`
	// DedupeWindow is how many observation keys are remembered.
	DedupeWindow int `json:"dedupe_window"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = 32
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 256
	}
}

// Telemetry is one live report from an agent.
type Telemetry struct {
	AgentID    string            `json:"agent_id"`
	Position   model.Coordinates `json:"position"`
	AltitudeM  float64           `json:"altitude_m"`
	SpeedKmh   float64           `json:"speed_kmh"`
	HeadingDeg float64           `json:"heading_deg"`
	Obstacles  []model.Obstacle  `json:"obstacles"`
	Weather    model.Weather     `json:"weather"`
	Time       time.Time         `json:"time"`
}

// Key identifies a telemetry report for duplicate suppression.
func (t Telemetry) Key() string {
	return t.AgentID + "@" + strconv.FormatInt(t.Time.UnixNano(), 10)
}

// EmergencyTrigger is called after a decision puts the agent on an emergency
// landing path.
type EmergencyTrigger func(state model.NavigationState, d model.AutonomousDecision)

// RerouteRequester is called after a lateral turn moves the agent off its
// planned track.
type RerouteRequester func(state model.NavigationState, o model.Obstacle)

// Options wires the engine collaborators. Every field is optional.
type Options struct {
	Publisher   events.Publisher
	Metrics     metrics.DecisionRecorder
	OnEmergency EmergencyTrigger
	OnReroute   RerouteRequester
	Log         logger.Logger
}

// keyRing is a bounded set of recently seen keys with FIFO eviction.
type keyRing struct {
	max   int
	order []string
	vals  map[string]model.AutonomousDecision
}

func newKeyRing(max int) *keyRing {
	return &keyRing{max: max, vals: make(map[string]model.AutonomousDecision)}
}

func (r *keyRing) get(k string) (model.AutonomousDecision, bool) {
	d, ok := r.vals[k]
	return d, ok
}

func (r *keyRing) put(k string, d model.AutonomousDecision) {
	if _, ok := r.vals[k]; ok {
		return
	}
	r.vals[k] = d
	r.order = append(r.order, k)
	if len(r.order) > r.max {
		delete(r.vals, r.order[0])
		r.order = r.order[1:]
	}
}

// Engine is the decision engine of one agent. Methods are serialized by the
// engine mutex so a maneuver always completes before newer telemetry is
// applied.
type Engine struct {
	mu          sync.Mutex
	cfg         Config
	opts        Options
	state       model.NavigationState
	initialized bool
	executed    *keyRing
	seen        *keyRing
	stream      chan Telemetry
	now         func() time.Time
	newID       func() string
}

// NewEngine returns an engine for agentID.
func NewEngine(agentID string, cfg Config, opts Options) *Engine {
	cfg.SetDefaults()
	return &Engine{
		cfg:      cfg,
		opts:     opts,
		state:    model.NavigationState{AgentID: agentID},
		executed: newKeyRing(cfg.DedupeWindow),
		seen:     newKeyRing(cfg.DedupeWindow),
		stream:   make(chan Telemetry, cfg.StreamBuffer),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// AgentID returns the agent driven by the engine.
func (e *Engine) AgentID() string { return e.state.AgentID }

// Initialize starts a new flight in Auto mode. A nil route starts a flight
// without a plan.
func (e *Engine) Initialize(agent model.Agent, route *model.Route, weather model.Weather) (model.NavigationState, error) {
	if agent.ID != e.state.AgentID {
		return model.NavigationState{}, model.Validationf("navigation: agent %s does not match engine %s", agent.ID, e.state.AgentID)
	}
	if route != nil && route.AgentID != "" && route.AgentID != agent.ID {
		return model.NavigationState{}, model.Validationf("navigation: route %s belongs to %s", route.ID, route.AgentID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	st := model.NavigationState{
		AgentID:   agent.ID,
		Position:  agent.Position,
		SpeedKmh:  agent.CruiseSpeedKmh,
		Weather:   weather,
		Mode:      model.ModeAuto,
		UpdatedAt: e.now(),
	}
	if route != nil {
		r := *route
		r.Waypoints = append([]model.Waypoint(nil), route.Waypoints...)
		r.Status = model.RouteActive
		r.CurrentWaypoint = 0
		if len(r.Waypoints) > 1 {
			r.CurrentWaypoint = 1
		}
		st.Route = &r
		if len(r.Waypoints) > 0 {
			first := r.Waypoints[0]
			if st.Position.IsZero() {
				st.Position = first.Position
			}
			st.AltitudeM = first.AltitudeM
			if first.SpeedKmh > 0 {
				st.SpeedKmh = first.SpeedKmh
			}
		}
		e.retarget(&st)
	}
	e.state = st
	e.initialized = true
	e.opts.logf("navigation initialized for %s", agent.ID)
	return st.Clone(), nil
}

// retarget points the state at the current waypoint of its route.
func (e *Engine) retarget(st *model.NavigationState) {
	st.Target = nil
	if st.Route == nil {
		return
	}
	if w, ok := st.Route.Target(); ok {
		st.Target = &w
		if !st.Position.IsZero() && !w.Position.IsZero() && st.Position != w.Position {
			st.HeadingDeg = model.BearingDeg(st.Position, w.Position)
		}
	}
}

// Update overwrites the live telemetry and replaces the obstacle list. Every
// obstacle at threat level 2 or above is recorded as an informational route
// change. Redelivered telemetry is ignored.
func (e *Engine) Update(t Telemetry) (model.NavigationState, error) {
	st, _, err := e.update(t)
	return st, err
}

func (e *Engine) update(t Telemetry) (model.NavigationState, bool, error) {
	for _, o := range t.Obstacles {
		if err := o.Validate(); err != nil {
			return model.NavigationState{}, false, err
		}
	}
	if !t.Position.IsZero() {
		if err := t.Position.Validate(); err != nil {
			return model.NavigationState{}, false, fmt.Errorf("navigation: %w", err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return model.NavigationState{}, false, fmt.Errorf("navigation: agent %s not initialized: %w", e.state.AgentID, model.ErrNotFound)
	}
	if !t.Time.IsZero() {
		if _, dup := e.seen.get(t.Key()); dup {
			return e.state.Clone(), true, nil
		}
		e.seen.put(t.Key(), model.AutonomousDecision{})
	}

	st := &e.state
	if !t.Position.IsZero() {
		st.Position = t.Position
	}
	st.AltitudeM = t.AltitudeM
	st.SpeedKmh = t.SpeedKmh
	st.HeadingDeg = math.Mod(t.HeadingDeg+360, 360)
	st.Obstacles = append([]model.Obstacle(nil), t.Obstacles...)
	st.Weather = t.Weather
	st.UpdatedAt = e.stamp(t.Time)

	for _, o := range st.Obstacles {
		if o.ThreatLevel < model.ThreatHigh {
			continue
		}
		st.RecordDecision(e.decision(model.DecisionRouteChange, confidenceRoute,
			fmt.Sprintf("obstacle %s at threat level %d", o.ID, o.ThreatLevel),
			map[string]string{"obstacle_id": o.ID, "threat_level": strconv.Itoa(o.ThreatLevel)}))
	}
	e.arrive(st)
	return st.Clone(), false, nil
}

// arrive advances the route once the agent is within the safety radius of
// its target waypoint.
func (e *Engine) arrive(st *model.NavigationState) {
	if st.Target == nil || st.Route == nil || st.Route.Status != model.RouteActive {
		return
	}
	radiusKm := st.Target.SafetyRadiusM / 1000
	if radiusKm > 0 && model.DistanceKm(st.Position, st.Target.Position) <= radiusKm {
		e.advance(st)
	}
}

func (e *Engine) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return e.now()
	}
	return t
}

func (e *Engine) decision(kind model.DecisionKind, confidence int, reason string, params map[string]string) model.AutonomousDecision {
	return model.AutonomousDecision{
		ID:         e.newID(),
		AgentID:    e.state.AgentID,
		Kind:       kind,
		Reason:     reason,
		Params:     params,
		Confidence: confidence,
		Time:       e.now(),
	}
}

// Decide evaluates the live state and records the first matching decision:
// a critical obstacle forces an emergency landing, severe weather or low
// altitude asks for an altitude change, strong wind or overspeed asks for a
// speed adjustment, and anything else is a minor route change.
func (e *Engine) Decide() (model.AutonomousDecision, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return model.AutonomousDecision{}, fmt.Errorf("navigation: agent %s not initialized: %w", e.state.AgentID, model.ErrNotFound)
	}
	st := &e.state
	var d model.AutonomousDecision
	emergency := false
	switch {
	case criticalObstacle(st.Obstacles) != nil:
		o := criticalObstacle(st.Obstacles)
		d = e.decision(model.DecisionEmergencyLand, confidenceLand,
			fmt.Sprintf("critical obstacle %s (%s)", o.ID, o.Kind), map[string]string{"obstacle_id": o.ID})
		e.enterEmergency(st)
		emergency = true
	case st.Weather.Condition >= model.WeatherSnow || st.AltitudeM < LowAltitudeM:
		d = e.decision(model.DecisionAltitudeChange, confidenceAlt,
			fmt.Sprintf("weather %s at %.0f m", st.Weather.Condition, st.AltitudeM),
			map[string]string{"altitude_m": strconv.FormatFloat(st.AltitudeM, 'f', 1, 64)})
	case st.Weather.WindSpeedKmh > HighWindKmh || st.SpeedKmh > HighSpeedKmh:
		d = e.decision(model.DecisionSpeedAdjust, confidenceSpeed,
			fmt.Sprintf("wind %.0f km/h, speed %.0f km/h", st.Weather.WindSpeedKmh, st.SpeedKmh),
			map[string]string{"speed_kmh": strconv.FormatFloat(st.SpeedKmh, 'f', 1, 64)})
	default:
		d = e.decision(model.DecisionRouteChange, confidenceRoute, "nominal flight", nil)
	}
	st.RecordDecision(d)
	snapshot := st.Clone()
	e.mu.Unlock()

	e.record(d, model.AvoidNone, snapshot.Mode)
	if emergency {
		e.land(snapshot, d)
	}
	return d, nil
}

// land announces an emergency landing decision and hands it to the
// emergency trigger. Called without the engine mutex held.
func (e *Engine) land(snapshot model.NavigationState, d model.AutonomousDecision) {
	e.publish(events.KindEmergencyLandingInitiated, events.EmergencyLandingInitiated{
		Position: snapshot.Position, AltitudeM: snapshot.AltitudeM, Reason: d.Reason,
	})
	if e.opts.OnEmergency != nil {
		e.opts.OnEmergency(snapshot, d)
	}
}

func criticalObstacle(obs []model.Obstacle) *model.Obstacle {
	for i := range obs {
		if obs[i].ThreatLevel >= model.ThreatCritical {
			return &obs[i]
		}
	}
	return nil
}

// enterEmergency moves to Emergency unless the flight is already on an
// emergency or landing path.
func (e *Engine) enterEmergency(st *model.NavigationState) {
	if st.Mode.CanTransition(model.ModeEmergency) {
		st.Mode = model.ModeEmergency
	}
}

// ChooseAvoidance maps an obstacle to its avoidance action.
func ChooseAvoidance(o model.Obstacle) model.AvoidanceAction {
	switch {
	case o.ThreatLevel >= model.ThreatCritical:
		return model.AvoidLand
	case o.Kind == model.ObstacleAircraft:
		return model.AvoidAltitudeClimb
	case o.Kind == model.ObstacleWeather:
		return model.AvoidLateralTurn
	default:
		return model.AvoidSpeedReduce
	}
}

// ExecuteAvoidance performs the avoidance maneuver for o and records a
// successful decision. Repeated calls for the same observation return the
// first decision without applying the maneuver again.
func (e *Engine) ExecuteAvoidance(o model.Obstacle) (model.AutonomousDecision, error) {
	if err := o.Validate(); err != nil {
		return model.AutonomousDecision{}, err
	}
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return model.AutonomousDecision{}, fmt.Errorf("navigation: agent %s not initialized: %w", e.state.AgentID, model.ErrNotFound)
	}
	if d, ok := e.executed.get(o.Key()); ok {
		e.mu.Unlock()
		return d, nil
	}

	st := &e.state
	action := ChooseAvoidance(o)
	params := map[string]string{"obstacle_id": o.ID, "action": action.String()}
	var d model.AutonomousDecision
	switch action {
	case model.AvoidLand:
		e.enterEmergency(st)
		d = e.decision(model.DecisionEmergencyLand, confidenceLand, fmt.Sprintf("land to avoid %s", o.ID), params)
	case model.AvoidAltitudeClimb:
		st.AltitudeM += ClimbM
		params["altitude_m"] = strconv.FormatFloat(st.AltitudeM, 'f', 1, 64)
		d = e.decision(model.DecisionAltitudeChange, confidenceAlt, fmt.Sprintf("climb over aircraft %s", o.ID), params)
	case model.AvoidLateralTurn:
		st.HeadingDeg = math.Mod(st.HeadingDeg+TurnDeg, 360)
		params["heading_deg"] = strconv.FormatFloat(st.HeadingDeg, 'f', 1, 64)
		d = e.decision(model.DecisionRouteChange, confidenceRoute, fmt.Sprintf("turn around weather cell %s", o.ID), params)
	default:
		st.SpeedKmh *= SpeedReduceFactor
		params["speed_kmh"] = strconv.FormatFloat(st.SpeedKmh, 'f', 1, 64)
		d = e.decision(model.DecisionSpeedAdjust, confidenceSpeed, fmt.Sprintf("slow down near %s", o.ID), params)
	}
	d.Outcome = model.OutcomeSuccess
	st.RecordDecision(d)
	for i := range st.Obstacles {
		if st.Obstacles[i].ID == o.ID {
			st.Obstacles[i].Avoidance = action
		}
	}
	o.Avoidance = action
	e.executed.put(o.Key(), d)
	snapshot := st.Clone()
	e.mu.Unlock()

	e.record(d, action, snapshot.Mode)
	e.publish(events.KindObstacleAvoided, events.ObstacleAvoided{Obstacle: o, Action: action, Decision: d})
	switch action {
	case model.AvoidLand:
		e.land(snapshot, d)
	case model.AvoidLateralTurn:
		if e.opts.OnReroute != nil {
			e.opts.OnReroute(snapshot, o)
		}
	}
	return d, nil
}

// SetMode applies an operator mode change.
func (e *Engine) SetMode(mode model.FlightMode) (model.NavigationState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return model.NavigationState{}, fmt.Errorf("navigation: agent %s not initialized: %w", e.state.AgentID, model.ErrNotFound)
	}
	if e.state.Mode == mode {
		return e.state.Clone(), nil
	}
	if !e.state.Mode.CanTransition(mode) {
		return model.NavigationState{}, fmt.Errorf("navigation: %s -> %s: %w", e.state.Mode, mode, model.ErrInvalidTransition)
	}
	e.state.Mode = mode
	e.state.UpdatedAt = e.now()
	e.opts.logf("agent %s switched to %s", e.state.AgentID, mode)
	return e.state.Clone(), nil
}

// AbortRoute aborts the active route between waypoints.
func (e *Engine) AbortRoute() (model.NavigationState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.state.Route == nil {
		return model.NavigationState{}, fmt.Errorf("navigation: agent %s has no route: %w", e.state.AgentID, model.ErrNotFound)
	}
	if e.state.Route.Status != model.RouteActive && e.state.Route.Status != model.RoutePlanned {
		return model.NavigationState{}, fmt.Errorf("navigation: route %s is %s: %w", e.state.Route.ID, e.state.Route.Status, model.ErrInvalidTransition)
	}
	e.state.Route.Status = model.RouteAborted
	e.state.Target = nil
	return e.state.Clone(), nil
}

// AdvanceWaypoint moves the target to the next waypoint and completes the
// route after the last one.
func (e *Engine) AdvanceWaypoint() (model.NavigationState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.state.Route == nil {
		return model.NavigationState{}, fmt.Errorf("navigation: agent %s has no route: %w", e.state.AgentID, model.ErrNotFound)
	}
	if e.state.Route.Status != model.RouteActive {
		return model.NavigationState{}, fmt.Errorf("navigation: route %s is %s: %w", e.state.Route.ID, e.state.Route.Status, model.ErrInvalidTransition)
	}
	e.advance(&e.state)
	return e.state.Clone(), nil
}

func (e *Engine) advance(st *model.NavigationState) {
	st.Route.CurrentWaypoint++
	if st.Route.CurrentWaypoint >= len(st.Route.Waypoints) {
		st.Route.CurrentWaypoint = len(st.Route.Waypoints)
		st.Route.Status = model.RouteCompleted
	}
	e.retarget(st)
}

// ReplaceRoute swaps the active route, for example after a reroute.
func (e *Engine) ReplaceRoute(route model.Route) (model.NavigationState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return model.NavigationState{}, fmt.Errorf("navigation: agent %s not initialized: %w", e.state.AgentID, model.ErrNotFound)
	}
	r := route
	r.Waypoints = append([]model.Waypoint(nil), route.Waypoints...)
	r.Status = model.RouteActive
	if r.CurrentWaypoint == 0 && len(r.Waypoints) > 1 {
		r.CurrentWaypoint = 1
	}
	e.state.Route = &r
	e.retarget(&e.state)
	return e.state.Clone(), nil
}

// State returns a copy of the live state.
func (e *Engine) State() model.NavigationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Ingest queues telemetry for Run. It blocks while the stream is full.
func (e *Engine) Ingest(ctx context.Context, t Telemetry) error {
	select {
	case e.stream <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued telemetry until ctx is done: each report updates the
// state, every new observation at threat level 2 or above is avoided and a
// decision is taken.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.stream:
			e.process(t)
		}
	}
}

func (e *Engine) process(t Telemetry) {
	_, dup, err := e.update(t)
	if err != nil {
		e.opts.warnf("telemetry for %s rejected: %v", e.state.AgentID, err)
		return
	}
	if dup {
		return
	}
	for _, o := range t.Obstacles {
		if o.ThreatLevel < model.ThreatHigh {
			continue
		}
		if _, err := e.ExecuteAvoidance(o); err != nil {
			e.opts.warnf("avoidance of %s failed: %v", o.ID, err)
		}
	}
	if _, err := e.Decide(); err != nil {
		e.opts.warnf("decision for %s failed: %v", e.state.AgentID, err)
	}
}

func (e *Engine) record(d model.AutonomousDecision, action model.AvoidanceAction, mode model.FlightMode) {
	if e.opts.Metrics == nil {
		return
	}
	if err := e.opts.Metrics.RecordDecision(metrics.DecisionEvent{
		AgentID: d.AgentID, Kind: d.Kind, Action: action, Confidence: d.Confidence,
		Outcome: d.Outcome, Mode: mode, Time: d.Time,
	}); err != nil {
		e.opts.warnf("record decision: %v", err)
	}
}

func (e *Engine) publish(kind events.Kind, payload any) {
	if e.opts.Publisher == nil {
		return
	}
	e.opts.Publisher.Publish(events.New(kind, e.state.AgentID, e.now(), payload))
}

func (o Options) logf(format string, args ...any) {
	if o.Log != nil {
		o.Log.Debugf(format, args...)
	}
}

func (o Options) warnf(format string, args ...any) {
	if o.Log != nil {
		o.Log.Warnf(format, args...)
	}
}
