package sandbox

import (
	"context"
	"time"

	"evogate/internal/logging"
)

// BenchmarkOptions configures Benchmark.
type BenchmarkOptions struct {
	Iterations int
	Warmup     int
	// Inputs is the workload passed to every iteration.
	Inputs []any
	// Timeout is the budget for each iteration.
	Timeout time.Duration
}

// BenchmarkResult aggregates successful iterations only.
type BenchmarkResult struct {
	Avg       time.Duration `json:"avg"`
	Min       time.Duration `json:"min"`
	Max       time.Duration `json:"max"`
	Total     time.Duration `json:"total"`
	Succeeded int           `json:"succeeded"`
	Attempted int           `json:"attempted"`
	AllFailed bool          `json:"all_failed"`
	Error     string        `json:"error,omitempty"`
}

const errAllFailed = "all iterations failed"

// Benchmark runs code opts.Iterations times after opts.Warmup unmeasured runs.
// When no iteration succeeds the timings are zero and AllFailed is set.
func (e *Executor) Benchmark(ctx context.Context, code string, opts BenchmarkOptions) BenchmarkResult {
	req := RunRequest{Code: code, Inputs: opts.Inputs, Timeout: opts.Timeout}

	for i := 0; i < opts.Warmup && ctx.Err() == nil; i++ {
		e.Run(ctx, req)
	}

	var res BenchmarkResult
	for i := 0; i < opts.Iterations && ctx.Err() == nil; i++ {
		res.Attempted++
		run := e.Run(ctx, req)
		if !run.Success {
			continue
		}
		res.Succeeded++
		res.Total += run.Elapsed
		if res.Succeeded == 1 || run.Elapsed < res.Min {
			res.Min = run.Elapsed
		}
		if run.Elapsed > res.Max {
			res.Max = run.Elapsed
		}
	}

	if res.Succeeded == 0 {
		logging.SandboxWarn("benchmark: %d attempted, none succeeded", res.Attempted)
		return BenchmarkResult{Attempted: res.Attempted, AllFailed: true, Error: errAllFailed}
	}
	res.Avg = res.Total / time.Duration(res.Succeeded)
	logging.SandboxDebug("benchmark: %d/%d ok avg=%v min=%v max=%v",
		res.Succeeded, res.Attempted, res.Avg, res.Min, res.Max)
	return res
}
