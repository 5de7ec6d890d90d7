package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/skyswarm/core/airspace"
	"github.com/kilianp07/skyswarm/core/model"
	"github.com/kilianp07/skyswarm/infra/logger"
)

// scenario is a list of reservations replayed against an empty airspace.
type scenario struct {
	Mode         string         `yaml:"mode"`
	TimeBuffer   time.Duration  `yaml:"time_buffer"`
	MaxAltitudeM float64        `yaml:"max_altitude_m"`
	Reservations []scenarioSlot `yaml:"reservations"`
	// Resolve is the strategy applied to conflicts left open in manual mode.
	Resolve string `yaml:"resolve"`
}

type scenarioSlot struct {
	Agent    string    `yaml:"agent"`
	Route    string    `yaml:"route"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	MinM     float64   `yaml:"min_m"`
	MaxM     float64   `yaml:"max_m"`
	Priority string    `yaml:"priority"`
	Track    []string  `yaml:"track"`
}

var airspaceCmd = &cobra.Command{
	Use:   "airspace",
	Short: "Airspace tooling",
}

var airspaceCheckCmd = &cobra.Command{
	Use:   "check <scenario.yaml>",
	Short: "Replay reservations and report the conflicts they raise",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		sc, err := loadScenario(f)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", args[0], err)
		}
		return checkScenario(cmd.OutOrStdout(), sc)
	},
}

func init() {
	airspaceCmd.AddCommand(airspaceCheckCmd)
	rootCmd.AddCommand(airspaceCmd)
}

func loadScenario(r io.Reader) (scenario, error) {
	var sc scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return sc, err
	}
	if len(sc.Reservations) == 0 {
		return sc, errors.New("no reservations")
	}
	return sc, nil
}

func (s scenarioSlot) request() (airspace.Request, error) {
	req := airspace.Request{
		RouteID: s.Route,
		AgentID: s.Agent,
		Window:  model.TimeWindow{Start: s.Start, End: s.End},
		Band:    model.AltitudeBand{MinM: s.MinM, MaxM: s.MaxM},
	}
	switch strings.ToLower(s.Priority) {
	case "", "normal":
	case "emergency":
		req.Priority = model.PriorityEmergency
	default:
		return req, model.Validationf("unknown priority %q", s.Priority)
	}
	if len(s.Track) > 0 {
		route := model.Route{ID: s.Route, AgentID: s.Agent}
		for _, p := range s.Track {
			c, err := model.ParseCoordinates(p)
			if err != nil {
				return req, err
			}
			route.Waypoints = append(route.Waypoints, model.Waypoint{Position: c, AltitudeM: s.MaxM})
		}
		route.Origin = route.Waypoints[0].Position
		route.Destination = route.Waypoints[len(route.Waypoints)-1].Position
		req.Route = &route
	}
	return req, nil
}

// checkScenario reserves every slot in order, applies the manual
// resolutions and prints what happened. It fails when a conflict is left
// unresolved or a reservation is rejected.
func checkScenario(out io.Writer, sc scenario) error {
	cfg := airspace.Config{Mode: sc.Mode, TimeBuffer: sc.TimeBuffer, MaxAltitudeM: sc.MaxAltitudeM}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	coord := airspace.New(cfg, logger.New("airspace"))
	names := map[string]string{}
	failed := 0
	heading(out, "replaying %d reservations in %s mode", len(sc.Reservations), cfg.Mode)
	for i, s := range sc.Reservations {
		req, err := s.request()
		if err == nil {
			var res airspace.Reservation
			res, err = coord.Reserve(req)
			if err == nil {
				names[res.Slot.ID] = fmt.Sprintf("#%d %s", i+1, s.Agent)
				success(out, "#%d %s on %s reserved %s-%s at %.0f-%.0f m", i+1, s.Agent, res.Slot.RouteID,
					res.Slot.Window.Start.Format("15:04:05"), res.Slot.Window.End.Format("15:04:05"), res.Slot.Band.MinM, res.Slot.Band.MaxM)
				for _, cf := range res.Conflicts {
					reportConflict(out, cf, names)
				}
				continue
			}
		}
		failed++
		failure(out, "#%d %s rejected: %v", i+1, s.Agent, err)
	}

	for _, cf := range coord.Conflicts() {
		if cf.Resolved() {
			continue
		}
		name := sc.Resolve
		if name == "" {
			failed++
			continue
		}
		strategy, err := model.ParseResolutionStrategy(name)
		if err == nil {
			_, err = coord.ResolveConflict(cf.ID, strategy)
		}
		if err != nil {
			failed++
			failure(out, "resolve %s with %s: %v", cf.ID, name, err)
			continue
		}
		success(out, "resolved %s between %s with %s", cf.Kind, pair(cf, names), name)
	}

	open := 0
	for _, cf := range coord.Conflicts() {
		if !cf.Resolved() {
			open++
		}
	}
	info(out, "%d slots active, %d conflicts recorded, %d open", len(coord.Active()), len(coord.Conflicts()), open)
	if failed > 0 {
		return fmt.Errorf("airspace check: %d problems", failed)
	}
	return nil
}

func reportConflict(out io.Writer, cf model.Conflict, names map[string]string) {
	if cf.Resolved() {
		info(out, "    %s %s conflict between %s, %s", cf.Severity, cf.Kind, pair(cf, names), cf.Strategy)
		return
	}
	warning(out, "    %s %s conflict between %s left open", cf.Severity, cf.Kind, pair(cf, names))
}

func pair(cf model.Conflict, names map[string]string) string {
	parts := make([]string, 0, len(cf.SlotIDs))
	for _, id := range cf.SlotIDs {
		if n, ok := names[id]; ok {
			parts = append(parts, n)
		} else {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, " / ")
}
