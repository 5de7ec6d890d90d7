package planner

import (
	"math"
	"time"

	"github.com/kilianp07/skyswarm/core/model"
)

// Estimate is the output of a cost model for one leg.
type Estimate struct {
	DistanceKm float64
	Duration   time.Duration
	EnergyWh   float64
}

// CostModel estimates distance, time and energy between two points.
type CostModel interface {
	Estimate(agent model.Agent, from, to model.Coordinates, params Params, weather model.Weather) Estimate
}

// PlaceholderCostModel returns fixed figures independent of the coordinates.
// It reproduces the prototype planner and is only meant for tests and dry
// runs; production deployments use GreatCircleCostModel.
type PlaceholderCostModel struct{}

const (
	placeholderDistanceKm = 10
	placeholderDuration   = 30 * time.Minute
	placeholderEnergyWh   = 500
)

// Estimate implements CostModel.
func (PlaceholderCostModel) Estimate(model.Agent, model.Coordinates, model.Coordinates, Params, model.Weather) Estimate {
	return Estimate{DistanceKm: placeholderDistanceKm, Duration: placeholderDuration, EnergyWh: placeholderEnergyWh}
}

// GreatCircleCostModel uses the haversine distance, the agent cruise speed
// corrected by the head wind component, and an energy profile that grows with
// payload and weather severity.
type GreatCircleCostModel struct {
	// WhPerKm is the baseline consumption of an unloaded agent in still air.
	WhPerKm float64
	// PayloadFactor is the extra consumption per kg of payload, as a fraction
	// of the baseline.
	PayloadFactor float64
	// DefaultSpeedKmh is used when the agent does not advertise a cruise speed.
	DefaultSpeedKmh float64
}

// NewGreatCircleCostModel returns a cost model calibrated for small
// multirotor delivery drones.
func NewGreatCircleCostModel() GreatCircleCostModel {
	return GreatCircleCostModel{WhPerKm: 15, PayloadFactor: 0.08, DefaultSpeedKmh: 50}
}

// Estimate implements CostModel.
func (m GreatCircleCostModel) Estimate(agent model.Agent, from, to model.Coordinates, params Params, weather model.Weather) Estimate {
	dist := model.DistanceKm(from, to)
	speed := agent.CruiseSpeedKmh
	if speed <= 0 {
		speed = m.DefaultSpeedKmh
	}
	if params.CruiseSpeedKmh > 0 && params.CruiseSpeedKmh < speed {
		speed = params.CruiseSpeedKmh
	}
	ground := speed - headWind(from, to, weather)
	if ground < speed*0.25 {
		ground = speed * 0.25
	}
	hours := dist / ground
	energy := dist * m.WhPerKm * (1 + params.PayloadKg*m.PayloadFactor)
	energy *= 1 + WeatherImpact(weather.Condition)/200
	return Estimate{
		DistanceKm: dist,
		Duration:   time.Duration(hours * float64(time.Hour)),
		EnergyWh:   energy,
	}
}

// headWind returns the wind component opposing the track, in km/h.
func headWind(from, to model.Coordinates, w model.Weather) float64 {
	if w.WindSpeedKmh <= 0 {
		return 0
	}
	track := model.BearingDeg(from, to)
	rel := (w.WindFromDeg - track) * math.Pi / 180
	return w.WindSpeedKmh * math.Cos(rel)
}

// WeatherImpact maps a condition to its 0-100 impact score.
func WeatherImpact(c model.WeatherCondition) float64 {
	switch c {
	case model.WeatherClear:
		return 10
	case model.WeatherCloudy:
		return 20
	case model.WeatherFog:
		return 35
	case model.WeatherRain:
		return 40
	case model.WeatherSnow:
		return 60
	case model.WeatherStorm:
		return 80
	default:
		return 80
	}
}
