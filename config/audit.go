package config

import (
	"fmt"

	"github.com/kilianp07/skyswarm/core/factory"
)

// AuditConfig defines settings for audit record storage and rotation.
type AuditConfig struct {
	// Backend selects the store type: "jsonl", "sqlite" or "nop".
	Backend string `json:"backend"`
	// Path is the file location of the store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation of the JSONL file.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
	// Token protects GET /api/audit when set.
	Token string `json:"token"`
}

// SetDefaults applies sane defaults.
func (c *AuditConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" && c.Backend != "nop" {
		c.Path = "swarm-audit.log"
	}
}

// Validate checks mandatory fields.
func (c AuditConfig) Validate() error {
	switch c.Backend {
	case "jsonl", "sqlite":
		if c.Path == "" {
			return fmt.Errorf("audit: path is required")
		}
	case "nop":
	default:
		return fmt.Errorf("audit: unknown backend %s", c.Backend)
	}
	return nil
}

// Module converts the section into the store factory configuration.
func (c AuditConfig) Module() factory.ModuleConfig {
	return factory.ModuleConfig{Type: c.Backend, Conf: map[string]any{
		"path":         c.Path,
		"max_size_mb":  c.MaxSizeMB,
		"max_backups":  c.MaxBackups,
		"max_age_days": c.MaxAgeDays,
	}}
}
