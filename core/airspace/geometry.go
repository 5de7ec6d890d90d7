package airspace

import (
	"math"

	"github.com/kilianp07/skyswarm/core/model"
)

const earthRadiusKm = 6371.0

type point struct{ x, y float64 }

// project maps c onto a local equirectangular plane in km centred on ref.
// The error is negligible at the scale of urban delivery routes.
func project(c, ref model.Coordinates) point {
	k := math.Pi / 180 * earthRadiusKm
	return point{
		x: (c.Lon - ref.Lon) * k * math.Cos(ref.Lat*math.Pi/180),
		y: (c.Lat - ref.Lat) * k,
	}
}

func orientation(a, b, c point) float64 {
	return (b.x-a.x)*(c.y-a.y) - (b.y-a.y)*(c.x-a.x)
}

func onSegment(a, b, p point) bool {
	return math.Min(a.x, b.x)-1e-12 <= p.x && p.x <= math.Max(a.x, b.x)+1e-12 &&
		math.Min(a.y, b.y)-1e-12 <= p.y && p.y <= math.Max(a.y, b.y)+1e-12
}

func segmentsIntersect(p1, p2, p3, p4 point) bool {
	d1 := orientation(p3, p4, p1)
	d2 := orientation(p3, p4, p2)
	d3 := orientation(p1, p2, p3)
	d4 := orientation(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(p3, p4, p1):
		return true
	case d2 == 0 && onSegment(p3, p4, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, p3):
		return true
	case d4 == 0 && onSegment(p1, p2, p4):
		return true
	}
	return false
}

func pointSegmentDistance(p, a, b point) float64 {
	dx, dy := b.x-a.x, b.y-a.y
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.x-a.x, p.y-a.y)
	}
	t := ((p.x-a.x)*dx + (p.y-a.y)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.x-(a.x+t*dx), p.y-(a.y+t*dy))
}

func projectTrack(track []model.Coordinates, ref model.Coordinates) []point {
	out := make([]point, len(track))
	for i, c := range track {
		out[i] = project(c, ref)
	}
	return out
}

// segments returns consecutive point pairs. A single point is a degenerate
// segment.
func segments(pts []point) [][2]point {
	if len(pts) == 1 {
		return [][2]point{{pts[0], pts[0]}}
	}
	out := make([][2]point, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		out = append(out, [2]point{pts[i-1], pts[i]})
	}
	return out
}

// TracksIntersect reports whether two polylines cross or touch.
func TracksIntersect(a, b []model.Coordinates) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	pa, pb := projectTrack(a, a[0]), projectTrack(b, a[0])
	for _, sa := range segments(pa) {
		for _, sb := range segments(pb) {
			if segmentsIntersect(sa[0], sa[1], sb[0], sb[1]) {
				return true
			}
		}
	}
	return false
}

// TrackDistanceKm returns the minimum horizontal distance between two
// polylines, zero when they intersect and +Inf when either is empty.
func TrackDistanceKm(a, b []model.Coordinates) float64 {
	if len(a) == 0 || len(b) == 0 {
		return math.Inf(1)
	}
	if TracksIntersect(a, b) {
		return 0
	}
	pa, pb := projectTrack(a, a[0]), projectTrack(b, a[0])
	best := math.Inf(1)
	for _, p := range pa {
		for _, s := range segments(pb) {
			best = math.Min(best, pointSegmentDistance(p, s[0], s[1]))
		}
	}
	for _, p := range pb {
		for _, s := range segments(pa) {
			best = math.Min(best, pointSegmentDistance(p, s[0], s[1]))
		}
	}
	return best
}
