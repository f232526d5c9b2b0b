package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultAllowedPackages are the only stdlib packages a candidate can import.
// Nothing here reaches the filesystem, network, processes or raw memory.
var DefaultAllowedPackages = []string{
	"bytes",
	"container/heap",
	"container/list",
	"container/ring",
	"errors",
	"fmt",
	"maps",
	"math",
	"math/bits",
	"math/cmplx",
	"regexp",
	"slices",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
	"unicode/utf16",
	"unicode/utf8",
}

// job is a unit of work for the interpreter, also the worker wire request.
type job struct {
	Code            string   `json:"code"`
	EntryPoint      string   `json:"entry_point"`
	Inputs          []any    `json:"inputs,omitempty"`
	AllowedPackages []string `json:"allowed_packages"`
	MaxOutputBytes  int      `json:"max_output_bytes"`
	MemoryLimitMB   int      `json:"memory_limit_mb,omitempty"`
}

// allowedSymbols filters the stdlib symbol table down to the allowed packages.
// Keys have the form "import/path/name".
func allowedSymbols(allowed []string) interp.Exports {
	set := make(map[string]bool, len(allowed))
	for _, p := range allowed {
		set[p] = true
	}
	exports := make(interp.Exports)
	for key, syms := range stdlib.Symbols {
		pkgPath := key
		if i := strings.LastIndex(key, "/"); i >= 0 {
			pkgPath = key[:i]
		}
		if !set[pkgPath] {
			continue
		}
		copied := make(map[string]reflect.Value, len(syms))
		for name, v := range syms {
			copied[name] = v
		}
		exports[key] = copied
	}
	return exports
}

// runInProcess executes j on a goroutine. On timeout the goroutine is abandoned.
func runInProcess(ctx context.Context, j job, timeout time.Duration) RunResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan RunResult, 1)
	go func() { done <- execute(j) }()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return faulted(FaultTimeout, fmt.Sprintf("execution exceeded %v", timeout))
		}
		return faulted(FaultHarness, ctx.Err().Error())
	}
}

// execute loads the candidate into a fresh interpreter and invokes its entry point.
func execute(j job) (res RunResult) {
	out := &limitedBuffer{limit: j.MaxOutputBytes}
	var elapsed time.Duration

	defer func() {
		if r := recover(); r != nil {
			res = RunResult{
				Fault:   FaultRuntime,
				Error:   fmt.Sprintf("panic: %v [%T]\n%s", r, r, debug.Stack()),
				Stdout:  out.String(),
				Elapsed: elapsed,
			}
		}
	}()

	src, ep, err := prepare(j.Code, j.EntryPoint)
	if err != nil {
		return faulted(FaultLoad, err.Error())
	}
	if ep == nil && len(j.Inputs) > 0 {
		return faulted(FaultLoad, fmt.Sprintf("%v: %q", ErrEntryPointNotFound, j.EntryPoint))
	}

	i := interp.New(interp.Options{Stdout: out, Stderr: out})
	if err := i.Use(allowedSymbols(j.AllowedPackages)); err != nil {
		return faulted(FaultHarness, fmt.Sprintf("failed to load symbols: %v", err))
	}

	start := time.Now()
	if _, err := i.Eval(src); err != nil {
		return RunResult{Fault: FaultLoad, Error: err.Error(), Stdout: out.String()}
	}
	loadTime := time.Since(start)

	if ep == nil {
		return RunResult{Success: true, Stdout: out.String(), Elapsed: loadTime}
	}

	fn, err := i.Eval(candidatePackage + "." + trampoline)
	if err != nil {
		return faulted(FaultHarness, fmt.Sprintf("entry point not addressable: %v", err))
	}
	if fn.Kind() != reflect.Func {
		return faulted(FaultLoad, fmt.Sprintf("entry point %q is not a function", ep.name))
	}

	inputs := j.Inputs
	if len(inputs) == 0 {
		if fn.Type().NumIn() > 0 {
			return RunResult{Success: true, Stdout: out.String(), Elapsed: loadTime}
		}
		inputs = []any{nil}
	}

	var last invocation
	for _, input := range inputs {
		args, err := bindArgs(fn.Type(), ep.params, input)
		if err != nil {
			return RunResult{Fault: FaultInput, Error: err.Error(), Stdout: out.String()}
		}
		t0 := time.Now()
		last = invoke(fn, args)
		elapsed += time.Since(t0)
		if last.err != nil {
			return RunResult{Fault: FaultRuntime, Error: last.err.Error(), Stdout: out.String(), Elapsed: elapsed}
		}
	}

	res = RunResult{Success: true, Stdout: out.String(), Elapsed: elapsed}
	if last.has {
		v, err := normalize(last.value)
		if err != nil {
			v = fmt.Sprint(last.value)
		}
		res.Result, res.HasResult = v, true
	}
	return res
}

// limitedBuffer keeps at most limit bytes and silently drops the rest.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if b.limit > 0 && room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
