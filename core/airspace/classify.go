package airspace

import (
	"time"

	"github.com/kilianp07/skyswarm/core/model"
)

// overlap describes how two slots intersect.
type overlap struct {
	sameRoute bool
	time      time.Duration
	timeFrac  float64
	altFrac   float64
	crossing  bool
}

func measure(a, b model.AirspaceSlot, trackA, trackB []model.Coordinates) overlap {
	o := overlap{sameRoute: a.RouteID == b.RouteID, time: a.Window.Overlap(b.Window)}
	if shortest := minDuration(a.Window.Duration(), b.Window.Duration()); shortest > 0 {
		o.timeFrac = float64(o.time) / float64(shortest)
	}
	if h := a.Band.Overlap(b.Band); h >= 0 {
		shortest := minFloat(a.Band.Height(), b.Band.Height())
		if shortest > 0 {
			o.altFrac = h / shortest
		} else {
			o.altFrac = 1
		}
	}
	if !o.sameRoute {
		o.crossing = TracksIntersect(trackA, trackB)
	}
	return o
}

// kind returns the dominant overlap: a shared route always competes for the
// same corridor in time, crossing tracks intersect in space and anything else
// shares altitude.
func (o overlap) kind() model.ConflictKind {
	switch {
	case o.sameRoute:
		return model.ConflictTimeOverlap
	case o.crossing:
		return model.ConflictRouteIntersection
	default:
		return model.ConflictAltitudeOverlap
	}
}

// severity grades the conflict on three dimensions: shared route, time
// overlap fraction and altitude overlap fraction.
func (o overlap) severity() model.Severity {
	if o.sameRoute && o.timeFrac >= 1 && o.altFrac >= 1 {
		return model.SeverityCritical
	}
	significant := 0
	if o.sameRoute || o.crossing {
		significant++
	}
	if o.timeFrac >= 0.5 {
		significant++
	}
	if o.altFrac >= 0.5 {
		significant++
	}
	switch {
	case significant == 3:
		return model.SeverityMajor
	case significant == 2 || o.sameRoute:
		return model.SeverityModerate
	default:
		return model.SeverityMinor
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
