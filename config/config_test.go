package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  client_id: "swarm-1"
  qos:
    event: 2
nats:
  enabled: true
  url: "nats://localhost:4222"
ledger:
  backend: redis
  redis:
    addr: "localhost:6379"
metrics:
  sinks:
    - type: "nop"
audit:
  backend: sqlite
  path: "/tmp/audit.db"
planner:
  cost_model: placeholder
airspace:
  mode: manual
  time_buffer: 30s
emergency:
  selector: first_available
  max_responders: 2
loadbalance:
  algorithm: capacity_based
swarm:
  auto_dispatch: true
tracing:
  enabled: true
  sample_ratio: 0.25
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "swarm-1"},
		{"event qos", cfg.MQTT.QoS["event"], byte(2)},
		{"telemetry qos default", cfg.MQTT.QoS["telemetry"], byte(1)},
		{"event prefix default", cfg.MQTT.EventPrefix, "swarm/events"},
		{"nats url", cfg.NATS.URL, "nats://localhost:4222"},
		{"nats subject default", cfg.NATS.SubjectPrefix, "swarm.events"},
		{"ledger", cfg.Ledger.Backend, "redis"},
		{"redis addr", cfg.Ledger.Redis.Addr, "localhost:6379"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"audit", cfg.Audit.Backend, "sqlite"},
		{"cost model", cfg.Planner.CostModel, "placeholder"},
		{"airspace mode", cfg.Airspace.Mode, "manual"},
		{"time buffer", cfg.Airspace.TimeBuffer, 30 * time.Second},
		{"selector", cfg.Emergency.Selector, "first_available"},
		{"max responders", cfg.Emergency.MaxResponders, 2},
		{"algorithm", cfg.LoadBalance.Algorithm, "capacity_based"},
		{"auto dispatch", cfg.Swarm.AutoDispatch, true},
		{"http default", cfg.HTTP.Addr, ":8080"},
		{"tracing ratio", cfg.Tracing.SampleRatio, 0.25},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
	sc := cfg.SwarmConfig()
	assert.True(t, sc.AutoDispatch)
	assert.Equal(t, "manual", sc.Airspace.Mode)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.json", `{"http":{"addr":":9000"},"audit":{"backend":"nop"}}`)
	t.Setenv("K_HTTP__ADDR", ":9100")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, "fleet-treasury", cfg.SwarmConfig().Treasury)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"format":    "",
		"redis":     "ledger:\n  backend: redis\n",
		"ledger":    "ledger:\n  backend: etcd\n",
		"audit":     "audit:\n  backend: kafka\n",
		"mqtt":      "mqtt:\n  enabled: true\n",
		"selector":  "emergency:\n  selector: lottery\n",
		"algorithm": "loadbalance:\n  algorithm: random\n",
		"tracing":   "tracing:\n  sample_ratio: 3\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			file := "config.yaml"
			if name == "format" {
				file = "config.toml"
			}
			if _, err := Load(writeConfig(t, file, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
