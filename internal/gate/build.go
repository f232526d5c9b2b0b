package gate

import (
	"context"
	"fmt"

	"evogate/internal/compare"
	"evogate/internal/config"
	"evogate/internal/ledger"
	"evogate/internal/logging"
	"evogate/internal/memory"
	"evogate/internal/sandbox"
	"evogate/internal/validator"
)

// Build assembles a pipeline from configuration. Close the pipeline when done.
func Build(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	v, err := validator.New(validator.Options{
		DeniedPackages: cfg.Validator.DeniedPackages,
		DeniedCalls:    cfg.Validator.DeniedCalls,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile safety policy: %w", err)
	}

	x := sandbox.New(v, SandboxOptions(cfg))

	e := compare.New(x, compare.Options{
		Iterations: cfg.Compare.BenchmarkIterations,
		Warmup:     cfg.Compare.Warmup,
	})

	m := memory.NewManager(MemoryOptions(cfg))

	l, err := ledger.Open(ctx, cfg.LedgerDir(), cfg.LedgerDatabase())
	if err != nil {
		return nil, fmt.Errorf("failed to open evolution log: %w", err)
	}

	logging.Boot("gate ready: workspace=%s isolation=%s workers=%d",
		cfg.Workspace, cfg.Sandbox.Isolation, cfg.WorkerCount())
	return New(v, x, e, m, l, Options{
		Iterations: cfg.Compare.BenchmarkIterations,
		Workers:    cfg.WorkerCount(),
	}), nil
}

// SandboxOptions maps the sandbox section onto executor options.
func SandboxOptions(cfg *config.Config) sandbox.Options {
	return sandbox.Options{
		Isolation:       sandbox.Isolation(cfg.Sandbox.Isolation),
		Timeout:         cfg.GetSandboxTimeout(),
		EntryPoint:      cfg.Sandbox.EntryPoint,
		AllowedPackages: cfg.Sandbox.AllowedPackages,
		MaxOutputBytes:  cfg.Sandbox.MaxOutputBytes,
		MemoryLimitMB:   cfg.Sandbox.MemoryLimitMB,
	}
}

// MemoryOptions maps the memory section onto manager options.
func MemoryOptions(cfg *config.Config) memory.Options {
	return memory.Options{
		Dir:               cfg.MemoryDir(),
		InstantCapacity:   cfg.Memory.InstantCapacity,
		ShortTermCapacity: cfg.Memory.ShortTermCapacity,
		Retention:         cfg.GetRetention(),
		DecayGrace:        cfg.GetDecayGrace(),
		DecayRate:         cfg.Memory.DecayRate,
		RecallLimit:       cfg.Memory.RecallLimit,
		PromoteThreshold:  cfg.Memory.PromoteThreshold,
	}
}
