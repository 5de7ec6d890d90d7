package airspace

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/infra/logger"
)

var epoch = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func window(start, end int) model.TimeWindow {
	return model.TimeWindow{Start: epoch.Add(time.Duration(start) * time.Second), End: epoch.Add(time.Duration(end) * time.Second)}
}

func band(min, max float64) model.AltitudeBand { return model.AltitudeBand{MinM: min, MaxM: max} }

func newCoordinator(cfg Config) *Coordinator {
	c := New(cfg, logger.NopLogger{})
	c.now = func() time.Time { return epoch }
	return c
}

func reserve(t *testing.T, c *Coordinator, req Request) Reservation {
	t.Helper()
	res, err := c.Reserve(req)
	require.NoError(t, err)
	return res
}

func straightRoute(id string, from, to model.Coordinates) *model.Route {
	return &model.Route{ID: id, Origin: from, Destination: to, Waypoints: []model.Waypoint{{Position: from}, {Position: to}}}
}

func countActive(c *Coordinator, id string) int {
	n := 0
	for _, s := range c.Active() {
		if s.ID == id {
			n++
		}
	}
	return n
}

func TestDisjointReservationsAreAdmitted(t *testing.T) {
	cases := []struct {
		name string
		a, b Request
	}{
		{
			"separate windows same route",
			Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)},
			Request{RouteID: "R1", AgentID: "B", Window: window(1000, 2000), Band: band(50, 100)},
		},
		{
			"separate bands different routes",
			Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(30, 60)},
			Request{RouteID: "R2", AgentID: "B", Window: window(0, 1000), Band: band(70, 100)},
		},
		{
			"separate windows and bands",
			Request{RouteID: "R1", AgentID: "A", Window: window(0, 500), Band: band(30, 60)},
			Request{RouteID: "R2", AgentID: "B", Window: window(600, 900), Band: band(70, 100)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newCoordinator(Config{})
			ra := reserve(t, c, tc.a)
			rb := reserve(t, c, tc.b)
			assert.Empty(t, ra.Conflicts)
			assert.Empty(t, rb.Conflicts)
			assert.Equal(t, 1, countActive(c, ra.Slot.ID))
			assert.Equal(t, 1, countActive(c, rb.Slot.ID))
			assert.Len(t, c.Active(), 2)
			assert.Equal(t, tc.b.Window, rb.Slot.Window)
			assert.Equal(t, 2, c.CoordinatedFlights())
		})
	}
}

func TestSharedRouteConflictIsDetectedAndResolved(t *testing.T) {
	c := newCoordinator(Config{})
	ra := reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(1000, 2000), Band: band(50, 100)})
	rb := reserve(t, c, Request{RouteID: "R1", AgentID: "B", Window: window(1500, 2500), Band: band(60, 90)})

	if len(rb.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %d", len(rb.Conflicts))
	}
	cf := rb.Conflicts[0]
	assert.Equal(t, model.ConflictTimeOverlap, cf.Kind)
	assert.GreaterOrEqual(t, cf.Severity, model.SeverityModerate)
	assert.Equal(t, model.StrategyTimeShift, cf.Strategy)
	assert.True(t, cf.Resolved())
	assert.Equal(t, []string{rb.Slot.ID, ra.Slot.ID}, cf.SlotIDs)

	assert.Equal(t, 1, countActive(c, ra.Slot.ID))
	assert.Equal(t, 1, countActive(c, rb.Slot.ID))
	assert.Equal(t, window(2000, 3000), rb.Slot.Window)
	a, _ := c.Slot(ra.Slot.ID)
	assert.Equal(t, window(1000, 2000), a.Window)
	assert.Len(t, c.Conflicts(), 1)
}

func TestIdenticalSlotsAreCritical(t *testing.T) {
	c := newCoordinator(Config{})
	req := Request{RouteID: "R1", AgentID: "A", Window: window(0, 600), Band: band(50, 100)}
	reserve(t, c, req)
	req.AgentID = "B"
	res := reserve(t, c, req)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.SeverityCritical, res.Conflicts[0].Severity)
}

func TestNarrowAltitudeOverlapMovesBand(t *testing.T) {
	c := newCoordinator(Config{})
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)})
	res := reserve(t, c, Request{RouteID: "R2", AgentID: "B", Window: window(900, 1900), Band: band(95, 115)})
	require.Len(t, res.Conflicts, 1)
	cf := res.Conflicts[0]
	assert.Equal(t, model.ConflictAltitudeOverlap, cf.Kind)
	assert.Equal(t, model.SeverityMinor, cf.Severity)
	assert.Equal(t, model.StrategyAltitudeChange, cf.Strategy)
	assert.Equal(t, band(20, 40), res.Slot.Band, "no room above the ceiling so the slot drops below")
	assert.Equal(t, window(900, 1900), res.Slot.Window)
}

func TestEmergencyPreemptsNormalSlot(t *testing.T) {
	c := newCoordinator(Config{})
	ra := reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(1000, 2000), Band: band(50, 100)})
	re := reserve(t, c, Request{RouteID: "R2", AgentID: "E", Window: window(1500, 2500), Band: band(60, 90), Priority: model.PriorityEmergency})

	require.Len(t, re.Conflicts, 1)
	assert.Equal(t, model.StrategyPriority, re.Conflicts[0].Strategy)
	assert.Equal(t, window(1500, 2500), re.Slot.Window, "emergency slot keeps its window")
	require.Len(t, re.Adjusted, 1)
	assert.Equal(t, ra.Slot.ID, re.Adjusted[0].ID)
	a, _ := c.Slot(ra.Slot.ID)
	assert.Equal(t, window(2500, 3500), a.Window)
}

func TestNormalYieldsToExistingEmergency(t *testing.T) {
	c := newCoordinator(Config{})
	reserve(t, c, Request{RouteID: "R1", AgentID: "E", Window: window(0, 1000), Band: band(50, 100), Priority: model.PriorityEmergency})
	res := reserve(t, c, Request{RouteID: "R1", AgentID: "B", Window: window(500, 1500), Band: band(50, 100)})
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.StrategyPriority, res.Conflicts[0].Strategy)
	assert.Empty(t, res.Adjusted)
	assert.Equal(t, window(1000, 2000), res.Slot.Window)
}

var (
	west  = model.Coordinates{Lat: 48.85, Lon: 2.30}
	east  = model.Coordinates{Lat: 48.85, Lon: 2.40}
	south = model.Coordinates{Lat: 48.80, Lon: 2.35}
	north = model.Coordinates{Lat: 48.90, Lon: 2.35}
)

func TestCrossingRoutesAreRerouted(t *testing.T) {
	c := newCoordinator(Config{TrackSeparation: true})
	c.SetRerouter(RerouterFunc(func(r model.Route, offsetKm float64) (model.Route, error) {
		alt := *straightRoute(r.ID+"-alt", model.Offset(r.Origin, 0, 20), model.Offset(r.Destination, 0, 20))
		return alt, nil
	}))
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100), Route: straightRoute("R1", west, east)})
	res := reserve(t, c, Request{RouteID: "R2", AgentID: "B", Window: window(0, 1000), Band: band(50, 100), Route: straightRoute("R2", south, north)})

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.ConflictRouteIntersection, res.Conflicts[0].Kind)
	assert.Equal(t, model.StrategyReroute, res.Conflicts[0].Strategy)
	require.Len(t, res.Routes, 1)
	assert.Equal(t, "R2-alt", res.Slot.RouteID)
	assert.Equal(t, window(0, 1000), res.Slot.Window)
	_, ok := c.Route("R2-alt")
	assert.True(t, ok)
}

func TestCrossingRoutesWithoutRerouterChangeAltitude(t *testing.T) {
	c := newCoordinator(Config{})
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(40, 60), Route: straightRoute("R1", west, east)})
	res := reserve(t, c, Request{RouteID: "R2", AgentID: "B", Window: window(0, 1000), Band: band(40, 60), Route: straightRoute("R2", south, north)})
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.StrategyAltitudeChange, res.Conflicts[0].Strategy)
	assert.Equal(t, band(70, 90), res.Slot.Band)
}

func TestParallelTracksConflictByDefault(t *testing.T) {
	c := newCoordinator(Config{})
	far := model.Coordinates{Lat: 48.95, Lon: 2.30}
	farEast := model.Coordinates{Lat: 48.95, Lon: 2.40}
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100), Route: straightRoute("R1", west, east)})
	res := reserve(t, c, Request{RouteID: "R3", AgentID: "B", Window: window(0, 1000), Band: band(50, 100), Route: straightRoute("R3", far, farEast)})

	if len(res.Conflicts) != 1 {
		t.Fatalf("expected one conflict between intersecting bands, got %d", len(res.Conflicts))
	}
	assert.Equal(t, model.ConflictAltitudeOverlap, res.Conflicts[0].Kind)
	assert.Equal(t, model.StrategyTimeShift, res.Conflicts[0].Strategy)
	assert.Equal(t, window(1000, 2000), res.Slot.Window)
}

func TestTrackSeparation(t *testing.T) {
	c := newCoordinator(Config{TrackSeparation: true})
	far := model.Coordinates{Lat: 48.95, Lon: 2.30}
	farEast := model.Coordinates{Lat: 48.95, Lon: 2.40}
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100), Route: straightRoute("R1", west, east)})
	res := reserve(t, c, Request{RouteID: "R3", AgentID: "B", Window: window(0, 1000), Band: band(50, 100), Route: straightRoute("R3", far, farEast)})
	assert.Empty(t, res.Conflicts, "tracks 11 km apart are separated")

	// Slots without a known track still conflict.
	res = reserve(t, c, Request{RouteID: "R4", AgentID: "C", Window: window(0, 1000), Band: band(50, 100)})
	assert.NotEmpty(t, res.Conflicts)
}

func TestCrossingRoutesAreNotReroutedWithoutTrackSeparation(t *testing.T) {
	c := newCoordinator(Config{})
	c.SetRerouter(RerouterFunc(func(r model.Route, offsetKm float64) (model.Route, error) {
		t.Fatalf("rerouter must not be called")
		return model.Route{}, nil
	}))
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(40, 60), Route: straightRoute("R1", west, east)})
	res := reserve(t, c, Request{RouteID: "R2", AgentID: "B", Window: window(0, 1000), Band: band(40, 60), Route: straightRoute("R2", south, north)})
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, model.ConflictRouteIntersection, res.Conflicts[0].Kind)
	assert.Equal(t, model.StrategyAltitudeChange, res.Conflicts[0].Strategy)
	assert.Equal(t, "R2", res.Slot.RouteID)
}

func TestReplace(t *testing.T) {
	t.Run("moves the slot", func(t *testing.T) {
		c := newCoordinator(Config{})
		ra := reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)})
		res, old, err := c.Replace(ra.Slot.ID, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)})
		require.NoError(t, err)
		assert.Empty(t, res.Conflicts, "the replaced slot does not conflict with its successor")
		assert.Equal(t, ra.Slot.ID, old.ID)
		assert.Equal(t, epoch, old.ReleasedAt)
		assert.Equal(t, 0, countActive(c, ra.Slot.ID))
		assert.Equal(t, 1, countActive(c, res.Slot.ID))
		require.Len(t, c.Completed(), 1)
		assert.Equal(t, ra.Slot.ID, c.Completed()[0].ID)
	})

	t.Run("rejected replacement keeps the slot", func(t *testing.T) {
		c := newCoordinator(Config{MaxResolutionAttempts: 1})
		ra := reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(10000, 10600), Band: band(80, 100)})
		reserve(t, c, Request{RouteID: "R2", AgentID: "B", Window: window(0, 3000), Band: band(0, 120)})
		reserve(t, c, Request{RouteID: "R2", AgentID: "C", Window: window(3000, 9000), Band: band(0, 120)})
		before := c.Active()

		// The full-height blockers leave only a time shift, which lands on C.
		_, _, err := c.Replace(ra.Slot.ID, Request{RouteID: "R3", AgentID: "A", Window: window(0, 600), Band: band(80, 100)})
		assert.ErrorIs(t, err, model.ErrConflictUnresolved)
		assert.ElementsMatch(t, before, c.Active())
		assert.Equal(t, 1, countActive(c, ra.Slot.ID))
		assert.Empty(t, c.Completed())
		assert.Equal(t, 3, c.CoordinatedFlights())
	})

	t.Run("unknown slot", func(t *testing.T) {
		c := newCoordinator(Config{})
		_, _, err := c.Replace("missing", Request{RouteID: "R1", AgentID: "A", Window: window(0, 600), Band: band(80, 100)})
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.Empty(t, c.Active())
	})
}

func TestExhaustedResolutionRejectsWithoutWrites(t *testing.T) {
	c := newCoordinator(Config{MaxResolutionAttempts: 1})
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)})
	reserve(t, c, Request{RouteID: "R1", AgentID: "B", Window: window(1000, 2000), Band: band(50, 100)})

	_, err := c.Reserve(Request{RouteID: "R1", AgentID: "C", Window: window(500, 1500), Band: band(50, 100)})
	var ce *model.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	assert.ErrorIs(t, err, model.ErrConflictUnresolved)
	assert.Len(t, ce.Conflicts, 2)
	assert.Len(t, c.Active(), 2)
	assert.Empty(t, c.Conflicts())
	assert.Equal(t, 2, c.CoordinatedFlights())
}

func TestCascadingTimeShift(t *testing.T) {
	c := newCoordinator(Config{})
	reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)})
	reserve(t, c, Request{RouteID: "R1", AgentID: "B", Window: window(1000, 2000), Band: band(50, 100)})
	res := reserve(t, c, Request{RouteID: "R1", AgentID: "C", Window: window(500, 1500), Band: band(50, 100)})
	assert.Len(t, res.Conflicts, 2)
	assert.Equal(t, window(2000, 3000), res.Slot.Window)
}

func TestManualMode(t *testing.T) {
	setup := func(t *testing.T) (*Coordinator, Reservation, Reservation) {
		c := newCoordinator(Config{Mode: ModeManual})
		ra := reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(1000, 2000), Band: band(50, 100)})
		rb := reserve(t, c, Request{RouteID: "R1", AgentID: "B", Window: window(1500, 2500), Band: band(60, 90)})
		require.Len(t, rb.Conflicts, 1)
		return c, ra, rb
	}

	t.Run("records unresolved conflict", func(t *testing.T) {
		c, _, rb := setup(t)
		assert.False(t, rb.Conflicts[0].Resolved())
		assert.Equal(t, model.StrategyTimeShift, rb.Conflicts[0].Strategy)
		assert.Equal(t, window(1500, 2500), rb.Slot.Window)
		assert.Len(t, c.Active(), 2)
	})

	t.Run("time shift", func(t *testing.T) {
		c, _, rb := setup(t)
		res, err := c.ResolveConflict(rb.Conflicts[0].ID, model.StrategyTimeShift)
		require.NoError(t, err)
		assert.True(t, res.Conflict.Resolved())
		require.Len(t, res.Adjusted, 1)
		b, _ := c.Slot(rb.Slot.ID)
		assert.Equal(t, window(2000, 3000), b.Window)

		_, err = c.ResolveConflict(rb.Conflicts[0].ID, model.StrategyTimeShift)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("invalid strategies", func(t *testing.T) {
		c, _, rb := setup(t)
		id := rb.Conflicts[0].ID
		_, err := c.ResolveConflict(id, model.StrategyPriority)
		assert.ErrorIs(t, err, model.ErrValidation)
		_, err = c.ResolveConflict(id, model.StrategyAltitudeChange)
		assert.ErrorIs(t, err, model.ErrValidation)
		_, err = c.ResolveConflict(id, model.StrategyReroute)
		assert.ErrorIs(t, err, model.ErrStrategyNotImplemented)
		_, err = c.ResolveConflict("missing", model.StrategyTimeShift)
		assert.ErrorIs(t, err, model.ErrNotFound)
		cf, _ := c.Conflict(id)
		assert.False(t, cf.Resolved())
	})
}

func TestReserveValidation(t *testing.T) {
	valid := Request{RouteID: "R1", AgentID: "A", Window: window(0, 10), Band: band(50, 100)}
	cases := map[string]func(r *Request){
		"empty route":     func(r *Request) { r.RouteID = "" },
		"empty agent":     func(r *Request) { r.AgentID = " " },
		"inverted window": func(r *Request) { r.Window = window(10, 0) },
		"empty window":    func(r *Request) { r.Window = window(10, 10) },
		"inverted band":   func(r *Request) { r.Band = band(100, 50) },
		"negative band":   func(r *Request) { r.Band = band(-5, 50) },
		"above ceiling":   func(r *Request) { r.Band = band(100, 150) },
		"priority":        func(r *Request) { r.Priority = 7 },
		"route mismatch":  func(r *Request) { r.Route = &model.Route{ID: "R9"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := newCoordinator(Config{})
			req := valid
			mutate(&req)
			_, err := c.Reserve(req)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Empty(t, c.Active())
			assert.Zero(t, c.CoordinatedFlights())
		})
	}
}

func TestRelease(t *testing.T) {
	c := newCoordinator(Config{})
	ra := reserve(t, c, Request{RouteID: "R1", AgentID: "A", Window: window(0, 1000), Band: band(50, 100)})
	released, err := c.Release(ra.Slot.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch, released.ReleasedAt)
	assert.Empty(t, c.Active())
	assert.Len(t, c.Completed(), 1)

	_, err = c.Release(ra.Slot.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	rb := reserve(t, c, Request{RouteID: "R1", AgentID: "B", Window: window(0, 1000), Band: band(50, 100)})
	assert.Empty(t, rb.Conflicts, "released slots no longer conflict")
}

func TestTrackGeometry(t *testing.T) {
	assert.True(t, TracksIntersect([]model.Coordinates{west, east}, []model.Coordinates{south, north}))
	farWest := model.Coordinates{Lat: 48.90, Lon: 2.30}
	farEast := model.Coordinates{Lat: 48.90, Lon: 2.40}
	assert.False(t, TracksIntersect([]model.Coordinates{west, east}, []model.Coordinates{farWest, farEast}))
	d := TrackDistanceKm([]model.Coordinates{west, east}, []model.Coordinates{farWest, farEast})
	assert.InDelta(t, 5.56, d, 0.05)
	assert.Zero(t, TrackDistanceKm([]model.Coordinates{west, east}, []model.Coordinates{south, north}))
}
