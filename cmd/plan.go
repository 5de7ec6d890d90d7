package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/core/planner"
	"github.com/kilianp07/skyswarm/infra/logger"
)

type planOptions struct {
	from, to, pickup string
	paramsFile       string
	costModel        string
	weather          string
	windKmh, windDeg float64
	speedKmh         float64
	batteryPct       float64
	batteryWh        float64
	asJSON           bool
}

var planOpts planOptions

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute a route between two points without a running coordinator",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPlan(cmd, planOpts)
	},
}

func init() {
	f := planCmd.Flags()
	f.StringVar(&planOpts.from, "from", "", "origin as lat,lon")
	f.StringVar(&planOpts.to, "to", "", "destination as lat,lon")
	f.StringVar(&planOpts.pickup, "pickup", "", "optional pickup as lat,lon")
	f.StringVar(&planOpts.paramsFile, "params", "", "planning parameters file (yaml or json)")
	f.StringVar(&planOpts.costModel, "cost-model", "great_circle", "great_circle or placeholder")
	f.StringVar(&planOpts.weather, "weather", "clear", "weather condition")
	f.Float64Var(&planOpts.windKmh, "wind", 0, "wind speed in km/h")
	f.Float64Var(&planOpts.windDeg, "wind-from", 0, "wind direction in degrees")
	f.Float64Var(&planOpts.speedKmh, "speed", 50, "agent cruise speed in km/h")
	f.Float64Var(&planOpts.batteryPct, "battery", 100, "agent battery in percent")
	f.Float64Var(&planOpts.batteryWh, "battery-wh", 0, "agent pack capacity in Wh, 0 skips the energy check")
	f.BoolVar(&planOpts.asJSON, "json", false, "print the route as JSON")
	_ = planCmd.MarkFlagRequired("from")
	_ = planCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, o planOptions) error {
	origin, err := model.ParseCoordinates(o.from)
	if err != nil {
		return err
	}
	dest, err := model.ParseCoordinates(o.to)
	if err != nil {
		return err
	}
	var params planner.Params
	if o.paramsFile != "" {
		if params, err = planner.LoadParams(o.paramsFile); err != nil {
			return fmt.Errorf("load params: %w", err)
		}
	}
	if o.pickup != "" {
		p, err := model.ParseCoordinates(o.pickup)
		if err != nil {
			return err
		}
		params.Pickup = &p
	}
	cond, err := model.ParseWeatherCondition(o.weather)
	if err != nil {
		return err
	}
	cfg := planner.Config{CostModel: o.costModel}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	agent := model.Agent{ID: "cli", Available: true, BatteryPct: o.batteryPct, BatteryWh: o.batteryWh, CruiseSpeedKmh: o.speedKmh}
	route, err := planner.New(cfg, logger.New("planner")).Plan(agent, origin, dest, params,
		model.Weather{Condition: cond, WindSpeedKmh: o.windKmh, WindFromDeg: o.windDeg})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(route)
	}
	heading(out, "route %s", route.ID)
	info(out, "  distance  %.2f km", route.DistanceKm)
	info(out, "  duration  %s", route.EstimatedTime.Round(time.Second))
	info(out, "  energy    %.0f Wh", route.EnergyWh)
	info(out, "  weather   %.0f impact", route.WeatherImpact)
	for i, w := range route.Waypoints {
		info(out, "  %d. %-8s %.5f,%.5f  %.0f m  eta %s", i, w.Action, w.Position.Lat, w.Position.Lon, w.AltitudeM, w.ETA.Format("15:04:05"))
	}
	switch {
	case route.OptimizationScore >= 70:
		success(out, "score %.1f", route.OptimizationScore)
	case route.OptimizationScore >= 40:
		warning(out, "score %.1f", route.OptimizationScore)
	default:
		failure(out, "score %.1f", route.OptimizationScore)
	}
	return nil
}
