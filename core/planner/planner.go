// Package planner computes candidate routes for fleet agents.
package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/skyswarm/core/logger"
	"github.com/kilianp07/skyswarm/core/model"
)

// Config holds planner settings loaded from configuration.
type Config struct {
	MinBatteryPct   float64 `json:"min_battery_pct"`
	CostModel       string  `json:"cost_model"`
	DefaultAltitude float64 `json:"default_altitude_m"`
	SafetyRadiusM   float64 `json:"safety_radius_m"`
	// MaxFlightMinutes is the flight time that scores zero on the time axis.
	MaxFlightMinutes float64 `json:"max_flight_minutes"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MinBatteryPct <= 0 {
		c.MinBatteryPct = 30
	}
	if c.CostModel == "" {
		c.CostModel = "great_circle"
	}
	if c.DefaultAltitude <= 0 {
		c.DefaultAltitude = 90
	}
	if c.SafetyRadiusM <= 0 {
		c.SafetyRadiusM = 15
	}
	if c.MaxFlightMinutes <= 0 {
		c.MaxFlightMinutes = 60
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.CostModel {
	case "great_circle", "placeholder":
	default:
		return fmt.Errorf("unknown cost model %s", c.CostModel)
	}
	if c.MinBatteryPct > 100 {
		return fmt.Errorf("min_battery_pct must be <= 100")
	}
	return nil
}

// Planner is the flight planner. It is stateless and safe for concurrent use.
type Planner struct {
	cfg  Config
	cost CostModel
	log  logger.Logger
	now  func() time.Time
}

// New returns a planner using the cost model named in cfg.
func New(cfg Config, log logger.Logger) *Planner {
	cfg.SetDefaults()
	var cm CostModel = NewGreatCircleCostModel()
	if cfg.CostModel == "placeholder" {
		cm = PlaceholderCostModel{}
	}
	return &Planner{cfg: cfg, cost: cm, log: log, now: time.Now}
}

// WithCostModel replaces the cost model.
func (p *Planner) WithCostModel(cm CostModel) *Planner {
	p.cost = cm
	return p
}

// Plan computes a route between origin and destination for the agent.
func (p *Planner) Plan(agent model.Agent, origin, destination model.Coordinates, params Params, weather model.Weather) (model.Route, error) {
	if err := origin.Validate(); err != nil {
		return model.Route{}, fmt.Errorf("planner: origin: %w", err)
	}
	if err := destination.Validate(); err != nil {
		return model.Route{}, fmt.Errorf("planner: destination: %w", err)
	}
	if err := params.validate(); err != nil {
		return model.Route{}, err
	}
	if err := p.checkAgent(agent, params); err != nil {
		return model.Route{}, err
	}

	if params.Departure.IsZero() {
		params.Departure = p.now()
	}
	alt := params.CruiseAltitude
	if alt <= 0 {
		alt = p.cfg.DefaultAltitude
	}
	radius := params.SafetyRadiusM
	if radius <= 0 {
		radius = p.cfg.SafetyRadiusM
	}

	stops := []stop{{pos: origin, action: model.ActionTransit}}
	if params.Pickup != nil {
		stops = append(stops, stop{pos: *params.Pickup, action: model.ActionPickup})
	}
	stops = append(stops, stop{pos: destination, action: model.ActionDropoff})

	route := p.build(agent, stops, alt, radius, params, weather)
	if route.EnergyWh > agent.UsableEnergyWh() && agent.BatteryWh > 0 {
		return model.Route{}, model.Unavailablef("planner: agent %s needs %.0f Wh, has %.0f Wh", agent.ID, route.EnergyWh, agent.UsableEnergyWh())
	}
	p.log.Debugf("planned route %s for %s: %.2f km, %s, score %.1f", route.ID, agent.ID, route.DistanceKm, route.EstimatedTime, route.OptimizationScore)
	return route, nil
}

// Alternate builds a detour of route that passes offsetKm to the side of the
// direct track midpoint. The detour keeps the original stops and gets a new
// route identifier.
func (p *Planner) Alternate(agent model.Agent, route model.Route, offsetKm float64, weather model.Weather) (model.Route, error) {
	if len(route.Waypoints) < 2 {
		return model.Route{}, model.Validationf("planner: route %s has no track", route.ID)
	}
	if offsetKm == 0 {
		offsetKm = 1
	}
	track := model.BearingDeg(route.Origin, route.Destination)
	mid := model.Offset(route.Origin, track, model.DistanceKm(route.Origin, route.Destination)/2)
	detour := model.Offset(mid, math.Mod(track+90, 360), offsetKm)

	first := route.Waypoints[0]
	stops := []stop{{pos: route.Origin, action: model.ActionTransit}}
	for _, w := range route.Waypoints[1 : len(route.Waypoints)-1] {
		if w.Action != model.ActionAvoid {
			stops = append(stops, stop{pos: w.Position, action: w.Action})
		}
	}
	stops = append(stops, stop{pos: detour, action: model.ActionAvoid})
	stops = append(stops, stop{pos: route.Destination, action: model.ActionDropoff})

	params := Params{Departure: first.ETA, TrafficImpact: route.TrafficImpact}
	alt := first.AltitudeM
	if alt <= 0 {
		alt = p.cfg.DefaultAltitude
	}
	radius := first.SafetyRadiusM
	if radius <= 0 {
		radius = p.cfg.SafetyRadiusM
	}
	detoured := p.build(agent, stops, alt, radius, params, weather)
	detoured.AgentID = route.AgentID
	return detoured, nil
}

func (p *Planner) checkAgent(agent model.Agent, params Params) error {
	if agent.ID == "" {
		return model.Validationf("planner: agent id is required")
	}
	if !agent.Available {
		return model.Unavailablef("planner: agent %s is not available", agent.ID)
	}
	if agent.BatteryPct < p.cfg.MinBatteryPct {
		return model.Unavailablef("planner: agent %s battery %.0f%% below %.0f%%", agent.ID, agent.BatteryPct, p.cfg.MinBatteryPct)
	}
	if agent.MaxPayloadKg > 0 && params.PayloadKg > agent.MaxPayloadKg {
		return model.Unavailablef("planner: payload %.1f kg exceeds agent %s capacity %.1f kg", params.PayloadKg, agent.ID, agent.MaxPayloadKg)
	}
	return nil
}

type stop struct {
	pos    model.Coordinates
	action model.WaypointAction
}

func (p *Planner) build(agent model.Agent, stops []stop, alt, radius float64, params Params, weather model.Weather) model.Route {
	speed := agent.CruiseSpeedKmh
	if params.CruiseSpeedKmh > 0 {
		speed = params.CruiseSpeedKmh
	}
	route := model.Route{
		ID:            uuid.NewString(),
		AgentID:       agent.ID,
		Origin:        stops[0].pos,
		Destination:   stops[len(stops)-1].pos,
		WeatherImpact: WeatherImpact(weather.Condition),
		TrafficImpact: params.TrafficImpact,
		Status:        model.RoutePlanned,
		CreatedAt:     p.now(),
	}
	eta := params.Departure
	route.Waypoints = append(route.Waypoints, model.Waypoint{
		Position: stops[0].pos, AltitudeM: alt, SpeedKmh: speed,
		Action: stops[0].action, ETA: eta, SafetyRadiusM: radius,
	})
	for i := 1; i < len(stops); i++ {
		est := p.cost.Estimate(agent, stops[i-1].pos, stops[i].pos, params, weather)
		route.DistanceKm += est.DistanceKm
		route.EstimatedTime += est.Duration
		route.EnergyWh += est.EnergyWh
		eta = eta.Add(est.Duration)
		route.Waypoints = append(route.Waypoints, model.Waypoint{
			Position: stops[i].pos, AltitudeM: alt, SpeedKmh: speed,
			Action: stops[i].action, ETA: eta, SafetyRadiusM: radius,
		})
	}
	route.OptimizationScore = p.score(agent, route, params.Weights)
	return route
}

// score blends the time, energy and weather scores, each on a 0-100 scale.
func (p *Planner) score(agent model.Agent, r model.Route, w Weights) float64 {
	w = w.normalized()
	timeScore := 100 * clamp01(1-r.EstimatedTime.Minutes()/p.cfg.MaxFlightMinutes)
	energyScore := 100.0
	if agent.BatteryWh > 0 {
		energyScore = 100 * clamp01(1-r.EnergyWh/agent.BatteryWh)
	}
	weatherScore := 100 - r.WeatherImpact
	return timeScore*w.Time + energyScore*w.Energy + weatherScore*w.Weather
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
