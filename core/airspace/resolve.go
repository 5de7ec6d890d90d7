package airspace

import (
	"time"

	"github.com/kilianp07/skyswarm/core/model"
)

// stage is a copy-on-write view of the active slots. Resolution works on a
// stage and commits it only when every conflict has been separated.
type stage struct {
	slots    map[string]model.AirspaceSlot
	order    []string
	routes   map[string]model.Route
	base     map[string]model.Route
	rerouted map[string]bool
	created  []string
	// removed is the slot a replacement is staged without.
	removed string
}

func (c *Coordinator) newStage() *stage {
	st := &stage{
		slots:    make(map[string]model.AirspaceSlot, len(c.active)+1),
		order:    append([]string(nil), c.order...),
		routes:   make(map[string]model.Route),
		base:     c.routes,
		rerouted: make(map[string]bool),
	}
	for id, s := range c.active {
		st.slots[id] = s
	}
	return st
}

func (st *stage) remove(id string) {
	delete(st.slots, id)
	for i, oid := range st.order {
		if oid == id {
			st.order = append(st.order[:i:i], st.order[i+1:]...)
			break
		}
	}
	st.removed = id
}

func (st *stage) add(s model.AirspaceSlot) {
	st.slots[s.ID] = s
	st.order = append(st.order, s.ID)
}

func (st *stage) route(id string) (model.Route, bool) {
	if r, ok := st.routes[id]; ok {
		return r, true
	}
	r, ok := st.base[id]
	return r, ok
}

func (st *stage) track(s model.AirspaceSlot) []model.Coordinates {
	r, ok := st.route(s.RouteID)
	if !ok {
		return nil
	}
	return r.Track()
}

// inConflict applies the detection rule: the windows must overlap and the
// slots must either share a route or share altitude. Slots on different
// routes whose tracks are both known and horizontally separated do not
// conflict.
func (c *Coordinator) inConflict(st *stage, a, b model.AirspaceSlot) bool {
	if a.Window.Overlap(b.Window) <= 0 {
		return false
	}
	if a.RouteID == b.RouteID {
		return true
	}
	if !a.Band.Intersects(b.Band) {
		return false
	}
	if !c.cfg.TrackSeparation {
		return true
	}
	ta, tb := st.track(a), st.track(b)
	if len(ta) > 0 && len(tb) > 0 && TrackDistanceKm(ta, tb) > c.cfg.HorizontalSeparationKm {
		return false
	}
	return true
}

func (st *stage) firstConflict(c *Coordinator, id string) (string, bool) {
	s := st.slots[id]
	for _, oid := range st.order {
		if oid == id {
			continue
		}
		if c.inConflict(st, s, st.slots[oid]) {
			return oid, true
		}
	}
	return "", false
}

// loserOf returns the slot that has to move: the normal-priority one when
// priorities differ, otherwise the slot being checked.
func loserOf(checked, other model.AirspaceSlot) (loser, winner model.AirspaceSlot) {
	if checked.Priority != other.Priority && checked.Priority == model.PriorityEmergency {
		return other, checked
	}
	return checked, other
}

func (c *Coordinator) newConflict(st *stage, a, b model.AirspaceSlot, now time.Time) model.Conflict {
	ov := measure(a, b, st.track(a), st.track(b))
	loser, winner := loserOf(a, b)
	return model.Conflict{
		ID:         c.newID(),
		SlotIDs:    []string{a.ID, b.ID},
		Kind:       ov.kind(),
		Severity:   ov.severity(),
		Strategy:   c.choose(st, loser, winner, ov.kind()),
		DetectedAt: now,
	}
}

// detect lists the unresolved conflicts of slot id with a proposed strategy.
func (c *Coordinator) detect(st *stage, id string, now time.Time) []model.Conflict {
	s := st.slots[id]
	var out []model.Conflict
	for _, oid := range st.order {
		if oid == id {
			continue
		}
		if o := st.slots[oid]; c.inConflict(st, s, o) {
			out = append(out, c.newConflict(st, s, o, now))
		}
	}
	return out
}

func (c *Coordinator) choose(st *stage, loser, winner model.AirspaceSlot, kind model.ConflictKind) model.ResolutionStrategy {
	if loser.Priority != winner.Priority {
		return model.StrategyPriority
	}
	if c.reroutable(st, loser, kind) {
		return model.StrategyReroute
	}
	if loser.RouteID != winner.RouteID {
		if _, ok := c.altitudeFor(loser, winner); ok {
			return model.StrategyAltitudeChange
		}
	}
	return model.StrategyTimeShift
}

// reroutable reports whether moving the loser to an alternate route can
// clear the conflict. Without track separation a detour never does.
func (c *Coordinator) reroutable(st *stage, loser model.AirspaceSlot, kind model.ConflictKind) bool {
	if !c.cfg.TrackSeparation || kind != model.ConflictRouteIntersection {
		return false
	}
	if c.rerouter == nil || st.rerouted[loser.ID] {
		return false
	}
	_, ok := st.route(loser.RouteID)
	return ok
}

// altitudeFor returns a band of the loser height placed above the winner,
// or below it when the ceiling is reached.
func (c *Coordinator) altitudeFor(loser, winner model.AirspaceSlot) (model.AltitudeBand, bool) {
	h := loser.Band.Height()
	sep := c.cfg.VerticalSeparationM
	above := model.AltitudeBand{MinM: winner.Band.MaxM + sep, MaxM: winner.Band.MaxM + sep + h}
	if above.MaxM <= c.cfg.MaxAltitudeM {
		return above, true
	}
	below := model.AltitudeBand{MinM: winner.Band.MinM - sep - h, MaxM: winner.Band.MinM - sep}
	if below.MinM >= 0 {
		return below, true
	}
	return model.AltitudeBand{}, false
}

// apply mutates the staged loser slot according to strategy.
func (c *Coordinator) apply(st *stage, loserID, winnerID string, strategy model.ResolutionStrategy) error {
	loser, winner := st.slots[loserID], st.slots[winnerID]
	switch strategy {
	case model.StrategyTimeShift, model.StrategyPriority:
		shift := winner.Window.End.Add(c.cfg.TimeBuffer).Sub(loser.Window.Start)
		loser.Window = loser.Window.Shift(shift)
	case model.StrategyAltitudeChange:
		band, ok := c.altitudeFor(loser, winner)
		if !ok {
			return model.Unavailablef("airspace: no free altitude band for slot %s", loser.ID)
		}
		loser.Band = band
	case model.StrategyReroute:
		route, ok := st.route(loser.RouteID)
		if !ok {
			return model.Validationf("airspace: route %s has no known track", loser.RouteID)
		}
		st.rerouted[loser.ID] = true
		alt, err := c.rerouter.Reroute(route, c.cfg.RerouteOffsetKm)
		if err != nil {
			return err
		}
		st.routes[alt.ID] = alt
		st.created = append(st.created, alt.ID)
		loser.RouteID = alt.ID
	}
	st.slots[loserID] = loser
	return nil
}

// resolveAuto separates every conflict of the candidate, re-checking each
// moved slot, until the stage is conflict free.
func (c *Coordinator) resolveAuto(st *stage, candID string, now time.Time) ([]model.Conflict, error) {
	orig := st.slots[candID]
	queue := []string{candID}
	var recorded []model.Conflict
	attempts := 0
	for len(queue) > 0 {
		id := queue[0]
		otherID, found := st.firstConflict(c, id)
		if !found {
			queue = queue[1:]
			continue
		}
		attempts++
		if attempts > c.cfg.MaxResolutionAttempts {
			return nil, c.unresolved(orig, st.removed, now)
		}

		cf := c.newConflict(st, st.slots[id], st.slots[otherID], now)
		loser, winner := loserOf(st.slots[id], st.slots[otherID])
		err := c.apply(st, loser.ID, winner.ID, cf.Strategy)
		if err != nil && cf.Strategy == model.StrategyReroute {
			c.log.Warnf("reroute of slot %s failed, falling back: %v", loser.ID, err)
			cf.Strategy = c.choose(st, st.slots[loser.ID], winner, cf.Kind)
			err = c.apply(st, loser.ID, winner.ID, cf.Strategy)
		}
		if err != nil {
			return nil, err
		}
		cf.ResolvedAt = now
		recorded = append(recorded, cf)
		if loser.ID != id {
			queue = append(queue, loser.ID)
		}
	}
	return recorded, nil
}

// unresolved builds the error returned when auto resolution gives up. It
// lists the conflicts of the candidate against the untouched active set.
func (c *Coordinator) unresolved(cand model.AirspaceSlot, removed string, now time.Time) error {
	st := c.newStage()
	if removed != "" {
		st.remove(removed)
	}
	st.add(cand)
	conflicts := c.detect(st, cand.ID, now)
	c.log.Warnf("reservation on route %s rejected after %d attempts: %d conflicts", cand.RouteID, c.cfg.MaxResolutionAttempts, len(conflicts))
	return &model.ConflictError{Conflicts: conflicts}
}

// commit replaces the active set with the stage and returns the previously
// admitted slots that moved and the routes created.
func (c *Coordinator) commit(st *stage) ([]model.AirspaceSlot, []model.Route) {
	var adjusted []model.AirspaceSlot
	for _, id := range c.order {
		s, ok := st.slots[id]
		if ok && s != c.active[id] {
			adjusted = append(adjusted, s)
		}
	}
	for id, r := range st.routes {
		c.routes[id] = r
	}
	routes := make([]model.Route, 0, len(st.created))
	for _, id := range st.created {
		routes = append(routes, st.routes[id])
	}
	c.active = st.slots
	c.order = st.order
	return adjusted, routes
}
