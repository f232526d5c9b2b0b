// Package sandbox runs candidate Go source in a restricted yaegi interpreter.
//
// Candidates are loaded as package "candidate" and invoked through an explicit
// function contract: the entry point (default "main") is called with typed
// arguments bound from an input record, and its return value is the result.
// By default every run happens in a separate worker process that is killed
// when its time budget expires.
package sandbox

import (
	"context"
	"os"
	"sync"
	"time"

	"evogate/internal/logging"
	"evogate/internal/validator"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Isolation selects where candidate code runs.
type Isolation string

const (
	// IsolationProcess runs each candidate in a worker child process with a hard kill on timeout.
	IsolationProcess Isolation = "process"
	// IsolationInProcess runs candidates on a goroutine. A timed-out goroutine is
	// abandoned, not stopped, so this mode is only for trusted code and tests.
	IsolationInProcess Isolation = "inprocess"
)

// Fault classifies why a run did not succeed.
type Fault string

const (
	FaultNone     Fault = ""
	FaultRejected Fault = "rejected" // failed the static safety check
	FaultLoad     Fault = "load"     // compile or package initialization failure
	FaultInput    Fault = "input"    // input record does not fit the entry point
	FaultRuntime  Fault = "runtime"  // panic or returned error
	FaultTimeout  Fault = "timeout"
	FaultHarness  Fault = "harness" // the sandbox itself failed
)

// RunRequest describes one sandboxed execution.
type RunRequest struct {
	Code string
	// EntryPoint overrides the executor's entry point name.
	EntryPoint string
	// Inputs holds one input record per invocation of the entry point.
	// With no inputs a zero-argument entry point is called once; otherwise the
	// package is only loaded.
	Inputs []any
	// Timeout overrides the executor's default time budget.
	Timeout time.Duration
}

// RunResult is the outcome of a run. Partial output is discarded on timeout.
type RunResult struct {
	Success bool          `json:"success"`
	Stdout  string        `json:"stdout,omitempty"`
	Error   string        `json:"error,omitempty"`
	Fault   Fault         `json:"fault,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	// Result is the JSON-normalized return value of the last invocation.
	Result    any  `json:"result,omitempty"`
	HasResult bool `json:"has_result"`
}

func faulted(f Fault, msg string) RunResult {
	return RunResult{Fault: f, Error: msg}
}

// Options configures an Executor.
type Options struct {
	Isolation       Isolation
	Timeout         time.Duration
	EntryPoint      string
	AllowedPackages []string
	MaxOutputBytes  int
	MemoryLimitMB   int
	// WorkerPath is the binary re-executed as worker; defaults to the running executable.
	WorkerPath string
}

// DefaultOptions returns process isolation with a five second budget.
func DefaultOptions() Options {
	return Options{
		Isolation:      IsolationProcess,
		Timeout:        5 * time.Second,
		EntryPoint:     "main",
		MaxOutputBytes: 1 << 20,
		MemoryLimitMB:  256,
	}
}

// Stats counts run outcomes.
type Stats struct {
	Runs          int `json:"runs"`
	Succeeded     int `json:"succeeded"`
	Rejected      int `json:"rejected"`
	LoadFailures  int `json:"load_failures"`
	InputFaults   int `json:"input_faults"`
	RuntimeFaults int `json:"runtime_faults"`
	Timeouts      int `json:"timeouts"`
	HarnessFaults int `json:"harness_faults"`
}

// Record returns s updated with one run outcome.
func (s Stats) Record(r RunResult) Stats {
	s.Runs++
	switch r.Fault {
	case FaultNone:
		s.Succeeded++
	case FaultRejected:
		s.Rejected++
	case FaultLoad:
		s.LoadFailures++
	case FaultInput:
		s.InputFaults++
	case FaultRuntime:
		s.RuntimeFaults++
	case FaultTimeout:
		s.Timeouts++
	default:
		s.HarnessFaults++
	}
	return s
}

// Executor validates and runs candidate code.
type Executor struct {
	validator *validator.Validator
	opts      Options

	mu    sync.Mutex
	stats Stats
}

// New creates an executor. Zero-valued options fall back to DefaultOptions.
func New(v *validator.Validator, opts Options) *Executor {
	def := DefaultOptions()
	if opts.Isolation == "" {
		opts.Isolation = def.Isolation
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.EntryPoint == "" {
		opts.EntryPoint = def.EntryPoint
	}
	if len(opts.AllowedPackages) == 0 {
		opts.AllowedPackages = DefaultAllowedPackages
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = def.MaxOutputBytes
	}
	if opts.WorkerPath == "" && opts.Isolation == IsolationProcess {
		if exe, err := os.Executable(); err == nil {
			opts.WorkerPath = exe
		}
	}

	logging.Sandbox("sandbox ready: isolation=%s timeout=%v entry=%s packages=%d",
		opts.Isolation, opts.Timeout, opts.EntryPoint, len(opts.AllowedPackages))
	return &Executor{validator: v, opts: opts}
}

// Options returns the effective options.
func (e *Executor) Options() Options { return e.opts }

// Run validates req.Code and executes it within the time budget.
// Candidate failures are reported in the result, never as panics.
func (e *Executor) Run(ctx context.Context, req RunRequest) RunResult {
	res := e.run(ctx, req)

	e.mu.Lock()
	e.stats = e.stats.Record(res)
	e.mu.Unlock()

	runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("fault", faultLabel(res.Fault))))
	if res.Success {
		runDuration.Record(ctx, res.Elapsed.Seconds())
	} else {
		logging.SandboxDebug("run failed fault=%s: %s", res.Fault, res.Error)
	}
	return res
}

func (e *Executor) run(ctx context.Context, req RunRequest) RunResult {
	if safe, reason := e.validator.IsSafe(req.Code); !safe {
		return faulted(FaultRejected, reason)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}
	entry := req.EntryPoint
	if entry == "" {
		entry = e.opts.EntryPoint
	}

	j := job{
		Code:            req.Code,
		EntryPoint:      entry,
		Inputs:          req.Inputs,
		AllowedPackages: e.opts.AllowedPackages,
		MaxOutputBytes:  e.opts.MaxOutputBytes,
		MemoryLimitMB:   e.opts.MemoryLimitMB,
	}

	if e.opts.Isolation == IsolationInProcess {
		return runInProcess(ctx, j, timeout)
	}
	return e.runInWorker(ctx, j, timeout)
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func faultLabel(f Fault) string {
	if f == FaultNone {
		return "none"
	}
	return string(f)
}
