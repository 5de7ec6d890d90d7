package cmd

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sharedRoute = `mode: %s
resolve: %s
reservations:
  - agent: a
    route: r1
    start: 2025-03-01T10:00:00Z
    end: 2025-03-01T10:30:00Z
    min_m: 50
    max_m: 100
  - agent: b
    route: r1
    start: 2025-03-01T10:15:00Z
    end: 2025-03-01T10:45:00Z
    min_m: 50
    max_m: 100
`

func scenarioFrom(t *testing.T, mode, resolve string) scenario {
	t.Helper()
	sc, err := loadScenario(strings.NewReader(fmt.Sprintf(sharedRoute, mode, resolve)))
	require.NoError(t, err)
	return sc
}

func TestCheckScenarioAuto(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, checkScenario(&out, scenarioFrom(t, "auto", "")))
	assert.Contains(t, out.String(), "#2 b on r1 reserved 10:30:00-11:00:00")
	assert.Contains(t, out.String(), "2 slots active, 1 conflicts recorded, 0 open")
}

func TestCheckScenarioManual(t *testing.T) {
	var out bytes.Buffer
	err := checkScenario(&out, scenarioFrom(t, "manual", ""))
	require.Error(t, err)
	assert.Contains(t, out.String(), "left open")

	out.Reset()
	require.NoError(t, checkScenario(&out, scenarioFrom(t, "manual", "time_shift")))
	assert.Contains(t, out.String(), "with time_shift")
	assert.Contains(t, out.String(), "0 open")
}

func TestLoadScenarioRejects(t *testing.T) {
	if _, err := loadScenario(strings.NewReader("mode: auto\n")); err == nil {
		t.Fatalf("expected error for empty scenario")
	}
	if _, err := loadScenario(strings.NewReader("reservations: []\nunknown: 1\n")); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	sc := scenario{Reservations: []scenarioSlot{{Agent: "a", Route: "r", Priority: "vip"}}}
	var out bytes.Buffer
	if err := checkScenario(&out, sc); err == nil {
		t.Fatalf("expected rejected reservation")
	}
}

func TestPlanCommand(t *testing.T) {
	var out bytes.Buffer
	planCmd.SetOut(&out)
	err := runPlan(planCmd, planOptions{from: "48.8566,2.3522", to: "48.8738,2.2950", costModel: "great_circle", weather: "clear", speedKmh: 50, batteryPct: 90})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "dropoff")
	assert.Contains(t, out.String(), "score")

	err = runPlan(planCmd, planOptions{from: "48.8566,2.3522", to: "48.8738,2.2950", costModel: "great_circle", weather: "hail", speedKmh: 50, batteryPct: 90})
	assert.Error(t, err)
}
