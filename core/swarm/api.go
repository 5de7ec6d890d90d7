package swarm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kilianp07/skyswarm/core/airspace"
	"github.com/kilianp07/skyswarm/core/emergency"
	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/ledger"
	"github.com/kilianp07/skyswarm/core/loadbalance"
	"github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/core/navigation"
	"github.com/kilianp07/skyswarm/core/planner"
)

// call runs fn on the actor and hands back its result.
func call[T any](ctx context.Context, c *Coordinator, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	if err := c.do(ctx, func() {
		v, err := fn()
		ch <- result{v, err}
	}); err != nil {
		var zero T
		return zero, err
	}
	r := <-ch
	return r.v, r.err
}

// RegisterAgent admits an authorized agent to the fleet.
func (c *Coordinator) RegisterAgent(ctx context.Context, a model.Agent) error {
	ctx, span, began := c.start(ctx, "register_agent", attribute.String("agent_id", a.ID))
	_, err := call(ctx, c, func() (struct{}, error) {
		if err := a.Validate(); err != nil {
			return struct{}{}, err
		}
		if err := c.authorize(ctx, a.ID); err != nil {
			return struct{}{}, err
		}
		if err := c.balancer.Register(a); err != nil {
			return struct{}{}, err
		}
		c.mu.Lock()
		c.agents[a.ID] = a
		c.mu.Unlock()
		c.fleet.Engine(a.ID)
		c.persist(ctx, a)
		return struct{}{}, nil
	})
	c.outcome(ctx, span, "register_agent", began, a.ID, nil, nil, err)
	return err
}

// UpdateAgent refreshes the live description of a registered agent.
func (c *Coordinator) UpdateAgent(ctx context.Context, a model.Agent) error {
	ctx, span, began := c.start(ctx, "update_agent", attribute.String("agent_id", a.ID))
	_, err := call(ctx, c, func() (struct{}, error) {
		if err := a.Validate(); err != nil {
			return struct{}{}, err
		}
		if err := c.balancer.UpdateAgent(a); err != nil {
			return struct{}{}, err
		}
		c.mu.Lock()
		c.agents[a.ID] = a
		c.mu.Unlock()
		c.persist(ctx, a)
		return struct{}{}, nil
	})
	c.outcome(ctx, span, "update_agent", began, a.ID, nil, nil, err)
	return err
}

// Agents returns the registered agents.
func (c *Coordinator) Agents() []model.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	return out
}

// PlanRoute computes a route for a registered agent and tracks it for
// airspace reservations. Planning does not go through the actor.
func (c *Coordinator) PlanRoute(ctx context.Context, agentID string, origin, destination model.Coordinates, params planner.Params, weather model.Weather) (model.Route, error) {
	ctx, span, began := c.start(ctx, "plan_route", attribute.String("agent_id", agentID))
	var route model.Route
	a, err := c.agent(agentID)
	if err == nil {
		route, err = c.planner.Plan(a, origin, destination, params, weather)
	}
	if err == nil {
		c.airspace.TrackRoute(route)
		c.persist(ctx, route)
		c.publish(events.KindRouteCalculated, agentID, events.RouteCalculated{Route: route})
		if rr, ok := c.deps.Metrics.(metrics.RouteRecorder); ok {
			if merr := rr.RecordRoute(metrics.RouteEvent{
				RouteID: route.ID, AgentID: agentID, DistanceKm: route.DistanceKm, Duration: route.EstimatedTime,
				EnergyWh: route.EnergyWh, Score: route.OptimizationScore, Time: route.CreatedAt,
			}); merr != nil {
				c.log.Errorf("route metrics error: %v", merr)
			}
		}
	}
	c.outcome(ctx, span, "plan_route", began, agentID, []string{route.ID}, map[string]any{"distance_km": route.DistanceKm}, err)
	return route, err
}

// ReserveAirspace admits a slot, separating it from the active slots.
func (c *Coordinator) ReserveAirspace(ctx context.Context, req airspace.Request) (airspace.Reservation, error) {
	ctx, span, began := c.start(ctx, "reserve_airspace",
		attribute.String("agent_id", req.AgentID), attribute.String("route_id", req.RouteID))
	res, err := call(ctx, c, func() (airspace.Reservation, error) {
		if err := c.authorize(ctx, req.AgentID); err != nil {
			return airspace.Reservation{}, err
		}
		return c.reserve(ctx, req)
	})
	ids := []string{req.RouteID}
	if res.Slot.ID != "" {
		ids = append(ids, res.Slot.ID)
	}
	c.outcome(ctx, span, "reserve_airspace", began, req.AgentID, ids, map[string]any{"conflicts": len(res.Conflicts)}, err)
	return res, err
}

// reserve runs on the actor.
func (c *Coordinator) reserve(ctx context.Context, req airspace.Request) (airspace.Reservation, error) {
	res, err := c.airspace.Reserve(req)
	if err != nil {
		return res, err
	}
	c.admitted(ctx, res)
	return res, nil
}

// replace swaps an active slot for a new reservation. It runs on the actor.
func (c *Coordinator) replace(ctx context.Context, slotID string, req airspace.Request) (airspace.Reservation, error) {
	res, old, err := c.airspace.Replace(slotID, req)
	if err != nil {
		return res, err
	}
	c.persist(ctx, old)
	c.admitted(ctx, res)
	return res, nil
}

// admitted persists, publishes and records a new slot.
func (c *Coordinator) admitted(ctx context.Context, res airspace.Reservation) {
	entities := []ledger.Entity{res.Slot}
	for _, s := range res.Adjusted {
		entities = append(entities, s)
	}
	for _, cf := range res.Conflicts {
		entities = append(entities, cf)
	}
	for _, r := range res.Routes {
		entities = append(entities, r)
	}
	c.persist(ctx, entities...)

	c.publish(events.KindSlotReserved, res.Slot.AgentID, events.SlotReserved{Slot: res.Slot, Conflicts: len(res.Conflicts)})
	for _, cf := range res.Conflicts {
		c.publish(events.KindConflictDetected, res.Slot.AgentID, events.ConflictDetected{Conflict: cf})
		if cf.Resolved() {
			c.publish(events.KindConflictResolved, res.Slot.AgentID, events.ConflictResolved{Conflict: cf, Slots: res.Adjusted})
		}
		c.recordConflict(cf)
	}
	if err := c.deps.Metrics.RecordReservation(metrics.ReservationEvent{
		SlotID: res.Slot.ID, RouteID: res.Slot.RouteID, AgentID: res.Slot.AgentID,
		Priority: res.Slot.Priority, Conflicts: len(res.Conflicts), Time: res.Slot.ReservedAt,
	}); err != nil {
		c.log.Errorf("reservation metrics error: %v", err)
	}
	c.recordSlots()
}

func (c *Coordinator) recordConflict(cf model.Conflict) {
	cr, ok := c.deps.Metrics.(metrics.ConflictRecorder)
	if !ok {
		return
	}
	if err := cr.RecordConflict(metrics.ConflictEvent{
		ConflictID: cf.ID, Kind: cf.Kind, Severity: cf.Severity, Strategy: cf.Strategy,
		Resolved: cf.Resolved(), Time: cf.DetectedAt,
	}); err != nil {
		c.log.Errorf("conflict metrics error: %v", err)
	}
}

// ResolveConflict applies strategy to a recorded conflict.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflictID string, strategy model.ResolutionStrategy) (airspace.Resolution, error) {
	ctx, span, began := c.start(ctx, "resolve_conflict",
		attribute.String("conflict_id", conflictID), attribute.String("strategy", strategy.String()))
	res, err := call(ctx, c, func() (airspace.Resolution, error) {
		res, err := c.airspace.ResolveConflict(conflictID, strategy)
		if err != nil {
			return res, err
		}
		entities := []ledger.Entity{res.Conflict}
		for _, s := range res.Adjusted {
			entities = append(entities, s)
		}
		for _, r := range res.Routes {
			entities = append(entities, r)
		}
		c.persist(ctx, entities...)
		c.publish(events.KindConflictResolved, "", events.ConflictResolved{Conflict: res.Conflict, Slots: res.Adjusted})
		c.recordConflict(res.Conflict)
		return res, nil
	})
	c.outcome(ctx, span, "resolve_conflict", began, "", []string{conflictID}, map[string]any{"strategy": strategy.String()}, err)
	return res, err
}

// ReleaseAirspace moves a slot to the completed collection.
func (c *Coordinator) ReleaseAirspace(ctx context.Context, slotID string) (model.AirspaceSlot, error) {
	ctx, span, began := c.start(ctx, "release_airspace", attribute.String("slot_id", slotID))
	slot, err := call(ctx, c, func() (model.AirspaceSlot, error) {
		s, err := c.airspace.Release(slotID)
		if err != nil {
			return s, err
		}
		c.persist(ctx, s)
		c.recordSlots()
		return s, nil
	})
	c.outcome(ctx, span, "release_airspace", began, slot.AgentID, []string{slotID}, nil, err)
	return slot, err
}

// Slots returns the active airspace slots.
func (c *Coordinator) Slots() []model.AirspaceSlot { return c.airspace.Active() }

// Conflicts returns every recorded conflict.
func (c *Coordinator) Conflicts() []model.Conflict { return c.airspace.Conflicts() }

// CoordinatedFlights returns the number of admitted reservations.
func (c *Coordinator) CoordinatedFlights() int { return c.airspace.CoordinatedFlights() }

// InitializeNavigation starts a flight for a registered agent. An empty
// routeID starts a flight without a plan.
func (c *Coordinator) InitializeNavigation(ctx context.Context, agentID, routeID string, weather model.Weather) (model.NavigationState, error) {
	ctx, span, began := c.start(ctx, "initialize_navigation", attribute.String("agent_id", agentID))
	st, err := c.initialize(agentID, routeID, weather)
	if err == nil {
		c.persist(ctx, st)
	}
	c.outcome(ctx, span, "initialize_navigation", began, agentID, []string{routeID}, nil, err)
	return st, err
}

func (c *Coordinator) initialize(agentID, routeID string, weather model.Weather) (model.NavigationState, error) {
	a, err := c.agent(agentID)
	if err != nil {
		return model.NavigationState{}, err
	}
	var route *model.Route
	if routeID != "" {
		r, ok := c.airspace.Route(routeID)
		if !ok {
			return model.NavigationState{}, fmt.Errorf("swarm: route %s: %w", routeID, model.ErrNotFound)
		}
		route = &r
	}
	return c.fleet.Engine(agentID).Initialize(a, route, weather)
}

func (c *Coordinator) engine(agentID string) (*navigation.Engine, error) {
	return c.fleet.Lookup(agentID)
}

// UpdateNavigation applies one telemetry report synchronously.
func (c *Coordinator) UpdateNavigation(ctx context.Context, t navigation.Telemetry) (model.NavigationState, error) {
	ctx, span, began := c.start(ctx, "update_navigation", attribute.String("agent_id", t.AgentID))
	var st model.NavigationState
	e, err := c.engine(t.AgentID)
	if err == nil {
		st, err = e.Update(t)
	}
	if err == nil {
		c.persist(ctx, st)
	}
	c.outcome(ctx, span, "update_navigation", began, t.AgentID, nil, map[string]any{"obstacles": len(t.Obstacles)}, err)
	return st, err
}

// Ingest queues telemetry on the agent's navigation stream.
func (c *Coordinator) Ingest(ctx context.Context, t navigation.Telemetry) error {
	return c.fleet.Ingest(ctx, t)
}

// Decide runs the decision rules for an agent.
func (c *Coordinator) Decide(ctx context.Context, agentID string) (model.AutonomousDecision, error) {
	ctx, span, began := c.start(ctx, "decide", attribute.String("agent_id", agentID))
	var d model.AutonomousDecision
	e, err := c.engine(agentID)
	if err == nil {
		d, err = e.Decide()
	}
	if err == nil {
		c.persist(ctx, e.State())
	}
	c.outcome(ctx, span, "decide", began, agentID, []string{d.ID}, map[string]any{"kind": d.Kind.String()}, err)
	return d, err
}

// ExecuteAvoidance performs the avoidance maneuver for an obstacle.
func (c *Coordinator) ExecuteAvoidance(ctx context.Context, agentID string, o model.Obstacle) (model.AutonomousDecision, error) {
	ctx, span, began := c.start(ctx, "execute_avoidance",
		attribute.String("agent_id", agentID), attribute.String("obstacle_id", o.ID))
	var d model.AutonomousDecision
	e, err := c.engine(agentID)
	if err == nil {
		d, err = e.ExecuteAvoidance(o)
	}
	if err == nil {
		c.persist(ctx, e.State())
	}
	c.outcome(ctx, span, "execute_avoidance", began, agentID, []string{o.ID, d.ID}, map[string]any{"threat_level": o.ThreatLevel}, err)
	return d, err
}

// SetFlightMode applies an operator mode change.
func (c *Coordinator) SetFlightMode(ctx context.Context, agentID string, mode model.FlightMode) (model.NavigationState, error) {
	ctx, span, began := c.start(ctx, "set_flight_mode",
		attribute.String("agent_id", agentID), attribute.String("mode", mode.String()))
	var st model.NavigationState
	e, err := c.engine(agentID)
	if err == nil {
		st, err = e.SetMode(mode)
	}
	if err == nil {
		c.persist(ctx, st)
	}
	c.outcome(ctx, span, "set_flight_mode", began, agentID, nil, map[string]any{"mode": mode.String()}, err)
	return st, err
}

// Navigation returns the live state of an agent.
func (c *Coordinator) Navigation(agentID string) (model.NavigationState, error) {
	e, err := c.engine(agentID)
	if err != nil {
		return model.NavigationState{}, err
	}
	return e.State(), nil
}

// NavigationStates returns the live state of every known agent.
func (c *Coordinator) NavigationStates() []model.NavigationState { return c.fleet.States() }

// DispatchEmergency assigns responders from the registered fleet.
func (c *Coordinator) DispatchEmergency(ctx context.Context, req model.EmergencyRequest) (model.EmergencyResponse, error) {
	ctx, span, began := c.start(ctx, "dispatch_emergency",
		attribute.String("agent_id", req.AgentID), attribute.String("assistance", req.Assistance.String()))
	type dispatched struct {
		resp model.EmergencyResponse
		req  model.EmergencyRequest
	}
	out, err := call(ctx, c, func() (dispatched, error) {
		if err := c.authorize(ctx, req.AgentID); err != nil {
			return dispatched{}, err
		}
		resp, r, err := c.emergency.Dispatch(req, c.candidates(ctx))
		if err != nil {
			return dispatched{}, err
		}
		c.persist(ctx, r, resp)
		c.publish(events.KindEmergencyDispatched, r.AgentID, events.EmergencyDispatched{Request: r, Response: resp})
		c.recordEmergency(r, resp, false)
		c.recordPending()
		return dispatched{resp: resp, req: r}, nil
	})
	c.outcome(ctx, span, "dispatch_emergency", began, req.AgentID, append([]string{out.req.ID, out.resp.ID}, out.resp.Responders...),
		map[string]any{"urgency": req.Urgency, "response_type": out.resp.Type.String()}, err)
	return out.resp, err
}

// candidates builds the responder pool from the load balancer, least loaded
// first, with the registry reputation.
func (c *Coordinator) candidates(ctx context.Context) []emergency.Candidate {
	agents := c.balancer.Available(0)
	out := make([]emergency.Candidate, 0, len(agents))
	for _, a := range agents {
		load, _ := c.balancer.Workload(a.ID)
		rep, err := c.deps.Registry.ReputationOf(ctx, a.ID)
		if err != nil {
			c.log.Warnf("reputation of %s: %v", a.ID, err)
			rep = ledger.DefaultReputation
		}
		out = append(out, emergency.Candidate{Agent: a, Workload: load, Reputation: int(rep)})
	}
	return out
}

// CompleteEmergency closes a response and settles its cost with the lead
// responder in proportion to the success rate.
func (c *Coordinator) CompleteEmergency(ctx context.Context, responseID string, outcome model.Outcome) (model.EmergencyResponse, error) {
	ctx, span, began := c.start(ctx, "complete_emergency",
		attribute.String("response_id", responseID), attribute.String("outcome", outcome.String()))
	type completed struct {
		resp model.EmergencyResponse
		req  model.EmergencyRequest
	}
	out, err := call(ctx, c, func() (completed, error) {
		resp, req, err := c.emergency.Complete(responseID, outcome, c.now())
		if err != nil {
			return completed{}, err
		}
		if amount := resp.Cost * float64(resp.SuccessRate) / 100; amount > 0 && len(resp.Responders) > 0 {
			if err := c.deps.Settlement.Transfer(ctx, amount, c.cfg.Treasury, resp.Responders[0]); err != nil {
				c.log.Errorf("settlement of response %s failed: %v", resp.ID, err)
			}
		}
		c.mu.Lock()
		delete(c.rescue, req.AgentID)
		c.mu.Unlock()
		c.persist(ctx, req, resp)
		c.publish(events.KindEmergencyCompleted, req.AgentID, events.EmergencyCompleted{Request: req, Response: resp, Outcome: outcome})
		c.recordEmergency(req, resp, true)
		c.recordPending()
		return completed{resp: resp, req: req}, nil
	})
	c.outcome(ctx, span, "complete_emergency", began, out.req.AgentID, []string{out.req.ID, responseID},
		map[string]any{"success_rate": out.resp.SuccessRate}, err)
	return out.resp, err
}

// CancelEmergency cancels a pending request.
func (c *Coordinator) CancelEmergency(ctx context.Context, requestID, reason string) (model.EmergencyRequest, error) {
	ctx, span, began := c.start(ctx, "cancel_emergency", attribute.String("request_id", requestID))
	req, err := call(ctx, c, func() (model.EmergencyRequest, error) {
		req, err := c.emergency.Cancel(requestID, reason)
		if err != nil {
			return req, err
		}
		c.mu.Lock()
		delete(c.rescue, req.AgentID)
		c.mu.Unlock()
		c.persist(ctx, req)
		c.recordPending()
		return req, nil
	})
	c.outcome(ctx, span, "cancel_emergency", began, req.AgentID, []string{requestID}, map[string]any{"reason": reason}, err)
	return req, err
}

// PendingEmergencies returns the open emergency requests.
func (c *Coordinator) PendingEmergencies() []model.EmergencyRequest { return c.emergency.Pending() }

// EmergencyHistory returns the completed responses.
func (c *Coordinator) EmergencyHistory() []model.EmergencyResponse { return c.emergency.History() }

func (c *Coordinator) recordEmergency(req model.EmergencyRequest, resp model.EmergencyResponse, completed bool) {
	er, ok := c.deps.Metrics.(metrics.EmergencyRecorder)
	if !ok {
		return
	}
	at := resp.DispatchedAt
	if completed {
		at = resp.CompletedAt
	}
	if err := er.RecordEmergency(metrics.EmergencyEvent{
		RequestID: req.ID, ResponseID: resp.ID, AgentID: req.AgentID, Response: resp.Type,
		Responders: len(resp.Responders), Estimated: resp.EstimatedTime, Actual: resp.ActualTime,
		SuccessRate: resp.SuccessRate, Cost: resp.Cost, Completed: completed, Time: at,
	}); err != nil {
		c.log.Errorf("emergency metrics error: %v", err)
	}
}

// EnqueueWork adds work items to the load balancer.
func (c *Coordinator) EnqueueWork(ctx context.Context, items ...loadbalance.WorkItem) error {
	_, err := call(ctx, c, func() (struct{}, error) {
		return struct{}{}, c.balancer.Enqueue(items...)
	})
	return err
}

// OptimizeLoad rebalances the pending work across the registered agents.
func (c *Coordinator) OptimizeLoad(ctx context.Context) (loadbalance.Result, error) {
	ctx, span, began := c.start(ctx, "optimize_load")
	res, err := call(ctx, c, func() (loadbalance.Result, error) {
		res, err := c.balancer.Optimize(c.now())
		if err != nil || res.Skipped {
			return res, err
		}
		if wr, ok := c.deps.Metrics.(metrics.WorkloadRecorder); ok {
			if err := wr.RecordWorkload(metrics.WorkloadEvent{
				Region: c.balancer.Region(), Strategy: res.Strategy, Pending: res.Pending,
				Workload: res.Workload, Time: res.At,
			}); err != nil {
				c.log.Errorf("workload metrics error: %v", err)
			}
		}
		return res, nil
	})
	c.outcome(ctx, span, "optimize_load", began, "", nil, map[string]any{"pending": res.Pending, "skipped": res.Skipped}, err)
	return res, err
}

// SetLoadStrategy replaces the load balancing strategy.
func (c *Coordinator) SetLoadStrategy(s loadbalance.Strategy) { c.balancer.SetStrategy(s) }

// SetEmergencySelector replaces the responder selection policy.
func (c *Coordinator) SetEmergencySelector(s emergency.Selector) { c.emergency.SetSelector(s) }
