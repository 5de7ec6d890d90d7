package planner

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/infra/logger"
)

var (
	depot    = model.Coordinates{Lat: 48.8566, Lon: 2.3522}
	customer = model.Coordinates{Lat: 48.8738, Lon: 2.2950}
)

func testAgent() model.Agent {
	return model.Agent{ID: "d1", Available: true, BatteryPct: 90, BatteryWh: 600, CruiseSpeedKmh: 54, MaxPayloadKg: 3}
}

func TestPlanTwoWaypoints(t *testing.T) {
	p := New(Config{}, logger.NopLogger{})
	dep := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	r, err := p.Plan(testAgent(), depot, customer, Params{Departure: dep}, model.Weather{Condition: model.WeatherClear})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(r.Waypoints) != 2 {
		t.Fatalf("expected 2 waypoints got %d", len(r.Waypoints))
	}
	if r.Waypoints[0].Action != model.ActionTransit || r.Waypoints[1].Action != model.ActionDropoff {
		t.Fatalf("unexpected actions %v %v", r.Waypoints[0].Action, r.Waypoints[1].Action)
	}
	want := model.DistanceKm(depot, customer)
	if math.Abs(r.DistanceKm-want) > 1e-9 {
		t.Fatalf("distance %.3f want %.3f", r.DistanceKm, want)
	}
	if !r.Waypoints[1].ETA.Equal(dep.Add(r.EstimatedTime)) {
		t.Fatalf("eta mismatch")
	}
	if r.WeatherImpact != 10 || r.Status != model.RoutePlanned {
		t.Fatalf("unexpected route %+v", r)
	}
	if r.OptimizationScore <= 0 || r.OptimizationScore > 100 {
		t.Fatalf("score out of range %.2f", r.OptimizationScore)
	}
}

func TestPlanWithPickup(t *testing.T) {
	p := New(Config{}, logger.NopLogger{})
	pickup := model.Coordinates{Lat: 48.86, Lon: 2.33}
	r, err := p.Plan(testAgent(), depot, customer, Params{Pickup: &pickup}, model.Weather{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(r.Waypoints) != 3 || r.Waypoints[1].Action != model.ActionPickup {
		t.Fatalf("pickup waypoint missing: %+v", r.Waypoints)
	}
}

func TestPlanPreconditions(t *testing.T) {
	p := New(Config{}, logger.NopLogger{})
	low := testAgent()
	low.BatteryPct = 29
	busy := testAgent()
	busy.Available = false
	cases := []struct {
		name   string
		agent  model.Agent
		origin model.Coordinates
		params Params
		want   error
	}{
		{"empty origin", testAgent(), model.Coordinates{}, Params{}, model.ErrValidation},
		{"low battery", low, depot, Params{}, model.ErrResourceUnavailable},
		{"unavailable", busy, depot, Params{}, model.ErrResourceUnavailable},
		{"payload", testAgent(), depot, Params{PayloadKg: 5}, model.ErrResourceUnavailable},
		{"negative weight", testAgent(), depot, Params{Weights: Weights{Time: -1}}, model.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Plan(tc.agent, tc.origin, customer, tc.params, model.Weather{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestPlanInsufficientEnergy(t *testing.T) {
	p := New(Config{}, logger.NopLogger{})
	a := testAgent()
	a.BatteryWh = 50
	a.BatteryPct = 40
	far := model.Coordinates{Lat: 45.764, Lon: 4.8357}
	if _, err := p.Plan(a, depot, far, Params{}, model.Weather{}); !errors.Is(err, model.ErrResourceUnavailable) {
		t.Fatalf("expected resource unavailable, got %v", err)
	}
}

func TestPlaceholderCostModelIsFixed(t *testing.T) {
	p := New(Config{CostModel: "placeholder"}, logger.NopLogger{})
	r1, err := p.Plan(testAgent(), depot, customer, Params{}, model.Weather{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	far := model.Coordinates{Lat: 48.95, Lon: 2.5}
	r2, err := p.Plan(testAgent(), depot, far, Params{}, model.Weather{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if r1.DistanceKm != placeholderDistanceKm || r2.DistanceKm != placeholderDistanceKm {
		t.Fatalf("placeholder distances %.1f %.1f", r1.DistanceKm, r2.DistanceKm)
	}
}

func TestWeatherImpactTable(t *testing.T) {
	if WeatherImpact(model.WeatherClear) != 10 || WeatherImpact(model.WeatherStorm) != 80 {
		t.Fatalf("table endpoints changed")
	}
	prev := -1.0
	for c := model.WeatherClear; c <= model.WeatherStorm; c++ {
		if WeatherImpact(c) <= prev {
			t.Fatalf("impact must grow with severity at %s", c)
		}
		prev = WeatherImpact(c)
	}
}

func TestScoreWeights(t *testing.T) {
	p := New(Config{}, logger.NopLogger{})
	clear, err := p.Plan(testAgent(), depot, customer, Params{Weights: Weights{Weather: 1}}, model.Weather{Condition: model.WeatherClear})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if math.Abs(clear.OptimizationScore-90) > 1e-9 {
		t.Fatalf("weather-only score should be 90, got %.3f", clear.OptimizationScore)
	}
	storm, err := p.Plan(testAgent(), depot, customer, Params{Weights: Weights{Weather: 1}}, model.Weather{Condition: model.WeatherStorm})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if storm.OptimizationScore >= clear.OptimizationScore {
		t.Fatalf("storm should score lower")
	}
}

func TestHeadWindSlowsFlight(t *testing.T) {
	m := NewGreatCircleCostModel()
	east := model.Coordinates{Lat: 48.8566, Lon: 2.45}
	calm := m.Estimate(testAgent(), depot, east, Params{}, model.Weather{})
	// Wind blowing from the east opposes an eastbound track.
	windy := m.Estimate(testAgent(), depot, east, Params{}, model.Weather{WindSpeedKmh: 20, WindFromDeg: 90})
	if windy.Duration <= calm.Duration {
		t.Fatalf("head wind should lengthen the flight: %s vs %s", windy.Duration, calm.Duration)
	}
}

func TestAlternateAddsDetour(t *testing.T) {
	p := New(Config{}, logger.NopLogger{})
	r, err := p.Plan(testAgent(), depot, customer, Params{}, model.Weather{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	alt, err := p.Alternate(testAgent(), r, 0.5, model.Weather{})
	if err != nil {
		t.Fatalf("alternate: %v", err)
	}
	if alt.ID == r.ID {
		t.Fatalf("alternate must get a new id")
	}
	if len(alt.Waypoints) != 3 || alt.Waypoints[1].Action != model.ActionAvoid {
		t.Fatalf("detour waypoint missing: %+v", alt.Waypoints)
	}
	if alt.DistanceKm <= r.DistanceKm {
		t.Fatalf("detour should be longer")
	}
}

func TestDecodeParams(t *testing.T) {
	data := "cruise_altitude_m: 80\npayload_kg: 1.5\nweights:\n  time: 2\n  energy: 1\n  weather: 1\n"
	p, err := DecodeParams(bytes.NewBufferString(data), "yaml")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.CruiseAltitude != 80 || p.PayloadKg != 1.5 || p.Weights.Time != 2 {
		t.Fatalf("unexpected params %+v", p)
	}
	if _, err := DecodeParams(bytes.NewBufferString("{}"), "toml"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
