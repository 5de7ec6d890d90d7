package metrics

import "github.com/kilianp07/skyswarm/core/factory"

// Config defines the metrics sinks to instantiate.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// PrometheusAddr is the listen address of the /metrics endpoint. Empty
	// disables the exporter.
	PrometheusAddr string `json:"prometheus_addr"`
}
