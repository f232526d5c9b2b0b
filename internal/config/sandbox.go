package config

import "time"

// Sandbox isolation modes.
const (
	IsolationProcess   = "process"   // worker child process, hard kill on timeout
	IsolationInProcess = "inprocess" // goroutine, cooperative timeout only
)

// SandboxConfig configures candidate execution.
type SandboxConfig struct {
	Isolation  string `yaml:"isolation"`
	Timeout    string `yaml:"timeout"`
	EntryPoint string `yaml:"entry_point"`

	// AllowedPackages replaces the default interpreter allow-list when set.
	AllowedPackages []string `yaml:"allowed_packages"`

	MaxOutputBytes int `yaml:"max_output_bytes"`
	MemoryLimitMB  int `yaml:"memory_limit_mb"` // soft limit inside the worker
}

// GetSandboxTimeout returns the per-run timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
