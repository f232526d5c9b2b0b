// Package compare measures a candidate against its baseline and decides
// whether it should replace it.
package compare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"evogate/internal/logging"
	"evogate/internal/sandbox"
)

// Runner executes test cases and benchmarks. *sandbox.Executor implements it.
type Runner interface {
	TestModule(ctx context.Context, code string, cases []sandbox.TestCase) sandbox.TestReport
	Benchmark(ctx context.Context, code string, opts sandbox.BenchmarkOptions) sandbox.BenchmarkResult
}

// Options configures an Engine.
type Options struct {
	Iterations int // default benchmark iterations
	Warmup     int
	// Timeout is the per-run budget; zero uses the runner's default.
	Timeout time.Duration
	// SlowThreshold logs a warning for comparisons that take longer.
	SlowThreshold time.Duration
}

// DefaultOptions returns 50 measured iterations after 10 warmup runs.
func DefaultOptions() Options {
	return Options{Iterations: 50, Warmup: 10, SlowThreshold: time.Minute}
}

// Evaluation is the result of comparing a candidate with its baseline.
type Evaluation struct {
	ID string `json:"id"`
	// Key is the caller's identifier for the candidate, set by Pool.
	Key string `json:"key,omitempty"`

	OldScore         float64 `json:"old_score"`
	NewScore         float64 `json:"new_score"`
	ScoreImprovement float64 `json:"score_improvement"`

	OldPerf                sandbox.BenchmarkResult `json:"old_perf"`
	NewPerf                sandbox.BenchmarkResult `json:"new_perf"`
	PerformanceImprovement float64                 `json:"performance_improvement"`

	TotalImprovement float64  `json:"total_improvement"`
	Decision         Decision `json:"decision"`
	// Indeterminate is set when performance could not be compared and
	// contributed nothing to the total.
	Indeterminate bool `json:"indeterminate"`

	OldTests sandbox.TestReport `json:"old_tests"`
	NewTests sandbox.TestReport `json:"new_tests"`

	Elapsed time.Duration `json:"elapsed"`
}

// Accepted reports whether the candidate should replace the baseline.
func (ev Evaluation) Accepted() bool { return ev.Decision.Accepted() }

// Summary is a one-line description of the evaluation.
func (ev Evaluation) Summary() string {
	s := fmt.Sprintf("%s (score %+.3f, perf %+.3f, total %+.3f)",
		ev.Decision.Recommendation(), ev.ScoreImprovement, ev.PerformanceImprovement, ev.TotalImprovement)
	if ev.Indeterminate {
		s += " [performance indeterminate]"
	}
	return s
}

// Engine compares candidates. It never modifies the code it measures.
type Engine struct {
	runner Runner
	opts   Options

	mu    sync.Mutex
	stats Stats
}

// New creates an engine.
func New(r Runner, opts Options) *Engine {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultOptions().Iterations
	}
	if opts.Warmup < 0 {
		opts.Warmup = 0
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultOptions().SlowThreshold
	}
	return &Engine{runner: r, opts: opts}
}

// Compare measures oldCode then newCode with the same cases and iteration
// count. The benchmark workload is the inputs of the cases. Iterations <= 0
// uses the engine default.
func (e *Engine) Compare(ctx context.Context, oldCode, newCode string, cases []sandbox.TestCase, iterations int) Evaluation {
	timer := logging.StartTimer(logging.CategoryCompare, "Compare")
	defer timer.StopWithThreshold(e.opts.SlowThreshold)

	if iterations <= 0 {
		iterations = e.opts.Iterations
	}
	bench := sandbox.BenchmarkOptions{
		Iterations: iterations,
		Warmup:     e.opts.Warmup,
		Inputs:     workload(cases),
		Timeout:    e.opts.Timeout,
	}

	start := time.Now()
	ev := Evaluation{ID: uuid.NewString()}

	ev.OldTests = e.runner.TestModule(ctx, oldCode, cases)
	ev.NewTests = e.runner.TestModule(ctx, newCode, cases)
	ev.OldPerf = e.runner.Benchmark(ctx, oldCode, bench)
	ev.NewPerf = e.runner.Benchmark(ctx, newCode, bench)

	ev.OldScore = ev.OldTests.Score
	ev.NewScore = ev.NewTests.Score
	ev.ScoreImprovement = ev.NewScore - ev.OldScore
	ev.PerformanceImprovement, ev.Indeterminate = performanceImprovement(ev.OldPerf, ev.NewPerf)
	ev.TotalImprovement = ScoreWeight*ev.ScoreImprovement + PerformanceWeight*ev.PerformanceImprovement
	ev.Decision = Decide(ev.TotalImprovement)
	ev.Elapsed = time.Since(start)

	e.mu.Lock()
	e.stats = e.stats.Record(ev)
	e.mu.Unlock()

	decisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(ev.Decision))))
	improvementSummary.Record(ctx, ev.TotalImprovement)
	logging.Compare("evaluation %s: %s", ev.ID, ev.Summary())
	return ev
}

// performanceImprovement is (oldAvg - newAvg) / oldAvg. Without baseline
// timings, or when the candidate never completed, it is 0 and indeterminate.
func performanceImprovement(baseline, candidate sandbox.BenchmarkResult) (float64, bool) {
	if baseline.AllFailed || baseline.Avg <= 0 {
		logging.CompareDebug("baseline produced no timings, performance indeterminate")
		return 0, true
	}
	if candidate.AllFailed {
		logging.CompareDebug("candidate benchmark failed, no performance credit")
		return 0, true
	}
	return float64(baseline.Avg-candidate.Avg) / float64(baseline.Avg), false
}

func workload(cases []sandbox.TestCase) []any {
	if len(cases) == 0 {
		return nil
	}
	inputs := make([]any, len(cases))
	for i, tc := range cases {
		inputs[i] = tc.Input
	}
	return inputs
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
