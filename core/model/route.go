package model

import "time"

// WeatherCondition orders conditions from benign to severe.
type WeatherCondition int

const (
	WeatherClear WeatherCondition = iota
	WeatherCloudy
	WeatherFog
	WeatherRain
	WeatherSnow
	WeatherStorm
)

func (w WeatherCondition) String() string {
	switch w {
	case WeatherClear:
		return "clear"
	case WeatherCloudy:
		return "cloudy"
	case WeatherFog:
		return "fog"
	case WeatherRain:
		return "rain"
	case WeatherSnow:
		return "snow"
	case WeatherStorm:
		return "storm"
	default:
		return "unknown"
	}
}

// ParseWeatherCondition is the inverse of String.
func ParseWeatherCondition(s string) (WeatherCondition, error) {
	for w := WeatherClear; w <= WeatherStorm; w++ {
		if w.String() == s {
			return w, nil
		}
	}
	return WeatherClear, Validationf("unknown weather condition %q", s)
}

// Weather is a point-in-time weather snapshot.
type Weather struct {
	Condition    WeatherCondition `json:"condition"`
	WindSpeedKmh float64          `json:"wind_speed_kmh"`
	WindFromDeg  float64          `json:"wind_from_deg"`
	VisibilityKm float64          `json:"visibility_km"`
	TemperatureC float64          `json:"temperature_c"`
	ObservedAt   time.Time        `json:"observed_at"`
}

// RouteStatus tracks the lifecycle of a planned route.
type RouteStatus int

const (
	RoutePlanned RouteStatus = iota
	RouteActive
	RouteCompleted
	RouteAborted
)

func (s RouteStatus) String() string {
	switch s {
	case RoutePlanned:
		return "planned"
	case RouteActive:
		return "active"
	case RouteCompleted:
		return "completed"
	case RouteAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// WaypointAction is what the agent does on reaching a waypoint.
type WaypointAction int

const (
	ActionTransit WaypointAction = iota
	ActionPickup
	ActionDropoff
	ActionCharge
	ActionAvoid
)

func (a WaypointAction) String() string {
	switch a {
	case ActionTransit:
		return "transit"
	case ActionPickup:
		return "pickup"
	case ActionDropoff:
		return "dropoff"
	case ActionCharge:
		return "charge"
	case ActionAvoid:
		return "avoid"
	default:
		return "unknown"
	}
}

// Waypoint is one point of a planned route.
type Waypoint struct {
	Position      Coordinates    `json:"position"`
	AltitudeM     float64        `json:"altitude_m"`
	SpeedKmh      float64        `json:"speed_kmh"`
	Action        WaypointAction `json:"action"`
	ETA           time.Time      `json:"eta"`
	SafetyRadiusM float64        `json:"safety_radius_m"`
}

// Route is a candidate or active flight path for one agent.
type Route struct {
	ID                string        `json:"id"`
	AgentID           string        `json:"agent_id"`
	Origin            Coordinates   `json:"origin"`
	Destination       Coordinates   `json:"destination"`
	Waypoints         []Waypoint    `json:"waypoints"`
	DistanceKm        float64       `json:"distance_km"`
	EstimatedTime     time.Duration `json:"estimated_time"`
	EnergyWh          float64       `json:"energy_wh"`
	WeatherImpact     float64       `json:"weather_impact"`
	TrafficImpact     float64       `json:"traffic_impact"`
	OptimizationScore float64       `json:"optimization_score"`
	Status            RouteStatus   `json:"status"`
	CurrentWaypoint   int           `json:"current_waypoint"`
	CreatedAt         time.Time     `json:"created_at"`
}

// EntityID implements ledger.Entity.
func (r Route) EntityID() string { return r.ID }

// EntityKind implements ledger.Entity.
func (Route) EntityKind() string { return "route" }

// Target returns the waypoint the agent is currently flying to.
func (r Route) Target() (Waypoint, bool) {
	if r.CurrentWaypoint < 0 || r.CurrentWaypoint >= len(r.Waypoints) {
		return Waypoint{}, false
	}
	return r.Waypoints[r.CurrentWaypoint], true
}

// Track returns the waypoint positions in flight order.
func (r Route) Track() []Coordinates {
	pts := make([]Coordinates, len(r.Waypoints))
	for i, w := range r.Waypoints {
		pts[i] = w.Position
	}
	return pts
}
