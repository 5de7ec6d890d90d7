// Package config loads the service configuration from a YAML or JSON file
// with K_ prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/skyswarm/core/airspace"
	"github.com/kilianp07/skyswarm/core/emergency"
	"github.com/kilianp07/skyswarm/core/loadbalance"
	"github.com/kilianp07/skyswarm/core/metrics"
	"github.com/kilianp07/skyswarm/core/navigation"
	"github.com/kilianp07/skyswarm/core/planner"
	"github.com/kilianp07/skyswarm/core/swarm"
	"github.com/kilianp07/skyswarm/infra/ledger"
	"github.com/kilianp07/skyswarm/infra/mqtt"
	"github.com/kilianp07/skyswarm/infra/nats"
	"github.com/kilianp07/skyswarm/infra/tracing"
)

type Config struct {
	MQTT        mqtt.Config        `json:"mqtt"`
	NATS        nats.Config        `json:"nats"`
	Ledger      LedgerConfig       `json:"ledger"`
	Metrics     metrics.Config     `json:"metrics"`
	Audit       AuditConfig        `json:"audit"`
	Planner     planner.Config     `json:"planner"`
	Airspace    airspace.Config    `json:"airspace"`
	Emergency   emergency.Config   `json:"emergency"`
	LoadBalance loadbalance.Config `json:"loadbalance"`
	Navigation  navigation.Config  `json:"navigation"`
	Swarm       SwarmConfig        `json:"swarm"`
	HTTP        HTTPConfig         `json:"http"`
	Tracing     tracing.Config     `json:"tracing"`
}

// LedgerConfig selects the shared ledger backend.
type LedgerConfig struct {
	// Backend is "memory" or "redis".
	Backend string        `json:"backend"`
	Redis   ledger.Config `json:"redis"`
}

// SwarmConfig holds the coordinator level switches.
type SwarmConfig struct {
	Treasury     string `json:"treasury"`
	AutoDispatch bool   `json:"auto_dispatch"`
	AutoReroute  bool   `json:"auto_reroute"`
	QueueSize    int    `json:"queue_size"`
}

// HTTPConfig configures the read-only API and /metrics listener.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.NATS.SetDefaults()
	c.Audit.SetDefaults()
	c.Tracing.SetDefaults()
	c.Planner.SetDefaults()
	c.Airspace.SetDefaults()
	c.Emergency.SetDefaults()
	c.LoadBalance.SetDefaults()
	c.Navigation.SetDefaults()
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "memory"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.NATS.Validate(); err != nil {
		return err
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}
	if err := c.Tracing.Validate(); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case "memory":
	case "redis":
		if c.Ledger.Redis.Addr == "" {
			return fmt.Errorf("ledger: redis.addr is required")
		}
	default:
		return fmt.Errorf("ledger: unknown backend %s", c.Ledger.Backend)
	}
	return c.SwarmConfig().Validate()
}

// SwarmConfig assembles the coordinator configuration.
func (c Config) SwarmConfig() swarm.Config {
	return swarm.Config{
		Planner:      c.Planner,
		Airspace:     c.Airspace,
		Emergency:    c.Emergency,
		LoadBalance:  c.LoadBalance,
		Navigation:   c.Navigation,
		Treasury:     c.Swarm.Treasury,
		AutoDispatch: c.Swarm.AutoDispatch,
		AutoReroute:  c.Swarm.AutoReroute,
		QueueSize:    c.Swarm.QueueSize,
	}
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
