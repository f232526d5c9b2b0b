package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all evogate configuration.
type Config struct {
	// Workspace is the root for persisted state (memory tiers, evolution log).
	Workspace string `yaml:"workspace"`

	Validator ValidatorConfig `yaml:"validator"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Compare   CompareConfig   `yaml:"compare"`
	Memory    MemoryConfig    `yaml:"memory"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ValidatorConfig configures the static safety check.
// Empty lists fall back to the built-in denylists.
type ValidatorConfig struct {
	DeniedPackages []string `yaml:"denied_packages"`
	DeniedCalls    []string `yaml:"denied_calls"`
}

// CompareConfig configures old-vs-new measurement.
type CompareConfig struct {
	BenchmarkIterations int `yaml:"benchmark_iterations"`
	Warmup              int `yaml:"warmup"`
	Workers             int `yaml:"workers"` // parallel independent evaluations
}

// LedgerConfig configures the evolution log.
type LedgerConfig struct {
	Dir          string `yaml:"dir"`           // default <workspace>/evolution
	Database     string `yaml:"database"`      // default <dir>/ledger.db
	DisableIndex bool   `yaml:"disable_index"` // JSONL only
}

// WatchConfig configures the module change watcher.
type WatchConfig struct {
	Debounce   string   `yaml:"debounce"`
	Extensions []string `yaml:"extensions"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".evogate",

		Sandbox: SandboxConfig{
			Isolation:      IsolationProcess,
			Timeout:        "5s",
			EntryPoint:     "main",
			MaxOutputBytes: 1 << 20,
			MemoryLimitMB:  256,
		},

		Compare: CompareConfig{
			BenchmarkIterations: 50,
			Warmup:              10,
			Workers:             4,
		},

		Memory: MemoryConfig{
			InstantCapacity:   50,
			ShortTermCapacity: 500,
			Retention:         "720h",
			DecayGrace:        "168h",
			DecayRate:         0.02,
			RecallLimit:       10,
			PromoteThreshold:  0.85,
		},

		Watch: WatchConfig{
			Debounce:   "500ms",
			Extensions: []string{".go"},
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("EVOGATE_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if lvl := os.Getenv("EVOGATE_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if iso := os.Getenv("EVOGATE_ISOLATION"); iso != "" {
		c.Sandbox.Isolation = iso
	}
	if db := os.Getenv("EVOGATE_LEDGER_DB"); db != "" {
		c.Ledger.Database = db
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace not configured (set workspace or EVOGATE_WORKSPACE)")
	}

	switch c.Sandbox.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		return fmt.Errorf("invalid sandbox isolation: %s (valid: %s, %s)", c.Sandbox.Isolation, IsolationProcess, IsolationInProcess)
	}

	if c.Compare.BenchmarkIterations < 0 || c.Compare.Warmup < 0 {
		return fmt.Errorf("benchmark iterations and warmup must be non-negative")
	}

	if t := c.Memory.PromoteThreshold; t < 0 || t > 1 {
		return fmt.Errorf("memory promote_threshold must be within [0,1], got %v", t)
	}

	return nil
}

// LedgerDir returns the evolution log directory.
func (c *Config) LedgerDir() string {
	if c.Ledger.Dir != "" {
		return c.Ledger.Dir
	}
	return filepath.Join(c.Workspace, "evolution")
}

// LedgerDatabase returns the SQLite index path, or "" when the index is disabled.
func (c *Config) LedgerDatabase() string {
	if c.Ledger.DisableIndex {
		return ""
	}
	if c.Ledger.Database != "" {
		return c.Ledger.Database
	}
	return filepath.Join(c.LedgerDir(), "ledger.db")
}

// GetWatchDebounce returns the watcher debounce interval as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// WorkerCount returns the number of parallel evaluations, at least one.
func (c *Config) WorkerCount() int {
	if c.Compare.Workers < 1 {
		return 1
	}
	return c.Compare.Workers
}
