package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// IsZero reports whether the coordinates were left unset. The null island
// point is never a valid delivery location.
func (c Coordinates) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

// Validate checks that the coordinates are set and within range.
func (c Coordinates) Validate() error {
	if c.IsZero() {
		return Validationf("empty coordinates")
	}
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return Validationf("malformed coordinates %s", c)
	}
	return nil
}

func (c Coordinates) String() string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 6, 64)
}

// ParseCoordinates parses "lat,lon".
func ParseCoordinates(s string) (Coordinates, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Coordinates{}, Validationf("coordinates %q: expected lat,lon", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinates{}, Validationf("coordinates %q: %v", s, err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinates{}, Validationf("coordinates %q: %v", s, err)
	}
	c := Coordinates{Lat: lat, Lon: lon}
	return c, c.Validate()
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b Coordinates) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BearingDeg returns the initial bearing from a to b in degrees [0,360).
func BearingDeg(a, b Coordinates) float64 {
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Offset moves a point by distKm along bearingDeg.
func Offset(c Coordinates, bearingDeg, distKm float64) Coordinates {
	d := distKm / earthRadiusKm
	brg := toRad(bearingDeg)
	lat1 := toRad(c.Lat)
	lon1 := toRad(c.Lon)
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return Coordinates{Lat: lat2 * 180 / math.Pi, Lon: math.Mod(lon2*180/math.Pi+540, 360) - 180}
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Capability is a task an agent is equipped for.
type Capability string

const (
	CapabilityDelivery   Capability = "delivery"
	CapabilityCharging   Capability = "charging"
	CapabilityHeavyLift  Capability = "heavy_lift"
	CapabilityNavigation Capability = "navigation"
	CapabilityRescue     Capability = "rescue"
)

// Agent is an autonomous delivery drone participating in the fleet.
type Agent struct {
	ID             string       `json:"id"`
	Region         string       `json:"region,omitempty"`
	Available      bool         `json:"available"`
	BatteryPct     float64      `json:"battery_pct"`      // remaining charge 0-100
	BatteryWh      float64      `json:"battery_wh"`       // nominal pack capacity
	CruiseSpeedKmh float64      `json:"cruise_speed_kmh"` // nominal airspeed
	MaxPayloadKg   float64      `json:"max_payload_kg"`
	Capabilities   []Capability `json:"capabilities,omitempty"`
	Position       Coordinates  `json:"position"`
}

// Validate checks the static agent description.
func (a Agent) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return Validationf("agent id is required")
	}
	if a.BatteryPct < 0 || a.BatteryPct > 100 {
		return Validationf("agent %s: battery %.1f%% out of range", a.ID, a.BatteryPct)
	}
	return nil
}

// Has reports whether the agent advertises the capability.
func (a Agent) Has(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// UsableEnergyWh returns the energy left in the pack.
func (a Agent) UsableEnergyWh() float64 {
	return a.BatteryWh * a.BatteryPct / 100
}

// EntityID implements ledger.Entity.
func (a Agent) EntityID() string { return a.ID }

// EntityKind implements ledger.Entity.
func (Agent) EntityKind() string { return "agent" }

func (a Agent) String() string {
	return fmt.Sprintf("%s(%.0f%%)", a.ID, a.BatteryPct)
}
