package config

import (
	"path/filepath"
	"time"
)

// MemoryConfig configures the three memory tiers.
type MemoryConfig struct {
	// Dir holds the persisted tier files (default <workspace>/memory).
	Dir string `yaml:"dir"`

	InstantCapacity   int `yaml:"instant_capacity"`
	ShortTermCapacity int `yaml:"short_term_capacity"`

	// Retention drops short-term entries older than this unless they are important.
	Retention string `yaml:"retention"`

	// DecayGrace is the age after which short-term importance starts decaying.
	DecayGrace string  `yaml:"decay_grace"`
	DecayRate  float64 `yaml:"decay_rate"` // per day past the grace period

	RecallLimit      int     `yaml:"recall_limit"` // 0 = unlimited
	PromoteThreshold float64 `yaml:"promote_threshold"`
}

// MemoryDir returns the directory for tier files.
func (c *Config) MemoryDir() string {
	if c.Memory.Dir != "" {
		return c.Memory.Dir
	}
	return filepath.Join(c.Workspace, "memory")
}

// GetRetention returns the short-term retention window.
func (c *Config) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Memory.Retention)
	if err != nil {
		return 30 * 24 * time.Hour
	}
	return d
}

// GetDecayGrace returns the short-term decay grace period.
func (c *Config) GetDecayGrace() time.Duration {
	d, err := time.ParseDuration(c.Memory.DecayGrace)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}
