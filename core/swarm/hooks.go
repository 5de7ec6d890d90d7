package swarm

import (
	"context"
	"time"

	"github.com/kilianp07/skyswarm/core/airspace"
	"github.com/kilianp07/skyswarm/core/events"
	"github.com/kilianp07/skyswarm/core/model"
)

const hookTimeout = 10 * time.Second

// onEmergency raises a rescue request for an agent entering an emergency
// landing. At most one automatic request per agent is open at a time.
func (c *Coordinator) onEmergency(st model.NavigationState, d model.AutonomousDecision) {
	if !c.cfg.AutoDispatch {
		return
	}
	c.mu.Lock()
	if c.rescue[st.AgentID] {
		c.mu.Unlock()
		return
	}
	c.rescue[st.AgentID] = true
	c.mu.Unlock()

	c.hooks.Add(1)
	go func() {
		defer c.hooks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		req := model.EmergencyRequest{
			AgentID:    st.AgentID,
			Location:   st.Position,
			Assistance: model.AssistCrash,
			Urgency:    model.UrgencyCritical,
		}
		if _, err := c.DispatchEmergency(ctx, req); err != nil {
			c.log.Warnf("automatic rescue for %s (%s) failed: %v", st.AgentID, d.Reason, err)
			c.mu.Lock()
			delete(c.rescue, st.AgentID)
			c.mu.Unlock()
		}
	}()
}

// onReroute replaces the route of an agent that turned off its track and
// moves its airspace slot to the new route.
func (c *Coordinator) onReroute(st model.NavigationState, o model.Obstacle) {
	if !c.cfg.AutoReroute || st.Route == nil {
		return
	}
	c.hooks.Add(1)
	go func() {
		defer c.hooks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := c.rerouteFlight(ctx, st); err != nil {
			c.log.Warnf("reroute of %s around %s failed: %v", st.AgentID, o.ID, err)
		}
	}()
}

// rerouteFlight moves the slots of the agent to a detour and switches the
// engine to it. When a slot cannot be moved the slots already moved are put
// back and the agent keeps its current route.
func (c *Coordinator) rerouteFlight(ctx context.Context, st model.NavigationState) error {
	a, err := c.agent(st.AgentID)
	if err != nil {
		return err
	}
	alt, err := c.planner.Alternate(a, *st.Route, c.cfg.Airspace.RerouteOffsetKm, st.Weather)
	if err != nil {
		return err
	}
	e, err := c.engine(st.AgentID)
	if err != nil {
		return err
	}
	c.airspace.TrackRoute(alt)

	_, err = call(ctx, c, func() (struct{}, error) {
		type moved struct {
			from model.AirspaceSlot
			to   string
		}
		var done []moved
		for _, s := range c.airspace.Active() {
			if s.RouteID != st.Route.ID || s.AgentID != st.AgentID {
				continue
			}
			res, err := c.replace(ctx, s.ID, airspace.Request{
				RouteID: alt.ID, AgentID: s.AgentID, Window: s.Window, Band: s.Band, Priority: s.Priority, Route: &alt,
			})
			if err != nil {
				for i := len(done) - 1; i >= 0; i-- {
					m := done[i]
					if _, rerr := c.replace(ctx, m.to, airspace.Request{
						RouteID: m.from.RouteID, AgentID: m.from.AgentID, Window: m.from.Window, Band: m.from.Band, Priority: m.from.Priority,
					}); rerr != nil {
						c.log.Errorf("restoring slot %s of %s: %v", m.from.ID, st.AgentID, rerr)
					}
				}
				return struct{}{}, err
			}
			done = append(done, moved{from: s, to: res.Slot.ID})
		}
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}
	if _, err := e.ReplaceRoute(alt); err != nil {
		return err
	}
	c.persist(ctx, alt)
	c.publish(events.KindRouteCalculated, st.AgentID, events.RouteCalculated{Route: alt})
	return nil
}
