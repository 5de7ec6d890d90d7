package planner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/skyswarm/core/model"
)

// Weights blends the time, energy and weather scores into the optimization
// score. Zero weights fall back to an equal-weighted average.
type Weights struct {
	Time    float64 `json:"time" yaml:"time"`
	Energy  float64 `json:"energy" yaml:"energy"`
	Weather float64 `json:"weather" yaml:"weather"`
}

// Params are per-request planning inputs.
type Params struct {
	Departure      time.Time          `json:"departure" yaml:"departure"`
	CruiseAltitude float64            `json:"cruise_altitude_m" yaml:"cruise_altitude_m"`
	CruiseSpeedKmh float64            `json:"cruise_speed_kmh" yaml:"cruise_speed_kmh"`
	PayloadKg      float64            `json:"payload_kg" yaml:"payload_kg"`
	Pickup         *model.Coordinates `json:"pickup,omitempty" yaml:"pickup,omitempty"`
	SafetyRadiusM  float64            `json:"safety_radius_m" yaml:"safety_radius_m"`
	TrafficImpact  float64            `json:"traffic_impact" yaml:"traffic_impact"`
	Weights        Weights            `json:"weights" yaml:"weights"`
}

func (p Params) validate() error {
	w := p.Weights
	if w.Time < 0 || w.Energy < 0 || w.Weather < 0 {
		return model.Validationf("planner: negative score weight")
	}
	if p.PayloadKg < 0 {
		return model.Validationf("planner: negative payload")
	}
	if p.Pickup != nil {
		if err := p.Pickup.Validate(); err != nil {
			return fmt.Errorf("planner: pickup: %w", err)
		}
	}
	return nil
}

func (w Weights) normalized() Weights {
	sum := w.Time + w.Energy + w.Weather
	if sum <= 0 {
		return Weights{Time: 1.0 / 3, Energy: 1.0 / 3, Weather: 1.0 / 3}
	}
	return Weights{Time: w.Time / sum, Energy: w.Energy / sum, Weather: w.Weather / sum}
}

// LoadParams loads default planning parameters from a JSON or YAML file.
func LoadParams(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return Params{}, err
	}
	defer func() { _ = f.Close() }()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return DecodeParams(f, ext)
}

// DecodeParams reads Params from r in the given format.
func DecodeParams(r io.Reader, format string) (Params, error) {
	var p Params
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.NewDecoder(r).Decode(&p); err != nil {
			return p, err
		}
	case "json":
		if err := json.NewDecoder(r).Decode(&p); err != nil {
			return p, err
		}
	default:
		return p, fmt.Errorf("unsupported format: %s", format)
	}
	return p, nil
}
