package sandbox

import (
	"context"
	"encoding/json"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evogate/internal/validator"
)

func TestMain(m *testing.M) {
	// Process isolation re-executes this test binary as the worker.
	ServeWorkerIfRequested()
	os.Exit(m.Run())
}

func newExecutor(t *testing.T, isolation Isolation) *Executor {
	t.Helper()
	v, err := validator.New(validator.Options{})
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Isolation = isolation
	opts.Timeout = 2 * time.Second
	return New(v, opts)
}

const addSource = `package candidate

func main(a, b int) int {
	return a + b
}
`

func TestRunAddByName(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)

	res := e.Run(context.Background(), RunRequest{
		Code:   addSource,
		Inputs: []any{map[string]any{"a": 2, "b": 3}},
	})

	require.True(t, res.Success, res.Error)
	require.True(t, res.HasResult)
	assert.True(t, Equal(res.Result, 5), "got %v", res.Result)
}

func TestRunBindingForms(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		input    any
		expected any
	}{
		{"positional", addSource, []any{4, 5}, 9},
		{"scalar", "func main(n int) int { return n * n }", 7, 49},
		{"whole list to slice param", `func main(xs []int) int {
	s := 0
	for _, x := range xs {
		s += x
	}
	return s
}`, []any{1, 2, 3, 4}, 10},
		{"map to single struct-like param", `func main(m map[string]int) int { return m["x"] + m["y"] }`,
			map[string]any{"x": 1, "y": 2}, 3},
		{"string result", `import "strings"

func main(s string) string { return strings.ToUpper(s) }`, "abc", "ABC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Run(ctx, RunRequest{Code: tt.code, Inputs: []any{tt.input}})
			require.True(t, res.Success, res.Error)
			assert.True(t, Equal(res.Result, tt.expected), "got %v", res.Result)
		})
	}
}

func TestRunFaults(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	tests := []struct {
		name   string
		code   string
		inputs []any
		fault  Fault
		substr string
	}{
		{"denied import", `import "os"

func main() { os.Exit(1) }`, nil, FaultRejected, "os"},
		{"compile error", "func main() int { return undefined }", nil, FaultLoad, "undefined"},
		{"panic", "func main(n int) int { panic(\"bad input\") }", []any{1}, FaultRuntime, "bad input"},
		{"returned error", `import "errors"

func main(n int) (int, error) { return 0, errors.New("boom") }`, []any{1}, FaultRuntime, "boom"},
		{"missing entry point", "func helper() {}", []any{1}, FaultLoad, "entry point not found"},
		{"input mismatch", addSource, []any{map[string]any{"a": 1, "c": 2}}, FaultInput, "do not match"},
		{"wrong arity", addSource, []any{[]any{1, 2, 3}}, FaultInput, "takes 2 arguments"},
		{"reserved name", "func EvogateEntry() {}", nil, FaultLoad, "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Run(ctx, RunRequest{Code: tt.code, Inputs: tt.inputs})
			assert.False(t, res.Success)
			assert.Equal(t, tt.fault, res.Fault)
			assert.Contains(t, res.Error, tt.substr)
			assert.False(t, res.HasResult)
		})
	}
}

func TestRunNoResultIsValid(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)

	res := e.Run(context.Background(), RunRequest{Code: `import "fmt"

func main() { fmt.Println("hello") }`})

	require.True(t, res.Success, res.Error)
	assert.False(t, res.HasResult)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRunEntryPointFallback(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)

	res := e.Run(context.Background(), RunRequest{
		Code:   "func helper(x int) int { return x }\n\nfunc Compute(x int) int { return helper(x) + 1 }",
		Inputs: []any{41},
	})

	require.True(t, res.Success, res.Error)
	assert.True(t, Equal(res.Result, 42))
}

func TestRunEntryPointWithEmptyResultList(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)

	res := e.Run(context.Background(), RunRequest{
		Code:       "import \"fmt\"\n\nfunc Run() () { fmt.Println(\"ran\") }",
		EntryPoint: "missing",
	})

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Fault)
	assert.False(t, res.HasResult)
	assert.Equal(t, "ran\n", res.Stdout)

	file, err := parser.ParseFile(token.NewFileSet(), "", "package candidate\n\nfunc Run() () {}\n", 0)
	require.NoError(t, err)
	fn := findEntryPoint(file)
	require.NotNil(t, fn)
	assert.Equal(t, "Run", fn.Name.Name)
}

func TestRunPackageClauseAdded(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)

	res := e.Run(context.Background(), RunRequest{
		Code:   "func main(x int) int {\n\treturn x + 1\n}",
		Inputs: []any{1},
	})

	require.True(t, res.Success, res.Error)
	assert.True(t, Equal(res.Result, 2))
}

func TestRunInProcessTimeout(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)

	res := e.Run(context.Background(), RunRequest{
		Code: `import (
	"fmt"
	"time"
)

func main() {
	fmt.Println("partial")
	time.Sleep(2 * time.Second)
}`,
		Timeout: 50 * time.Millisecond,
	})

	assert.False(t, res.Success)
	assert.Equal(t, FaultTimeout, res.Fault)
	assert.Empty(t, res.Stdout)
	assert.False(t, res.HasResult)
}

func TestRunProcessIsolation(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	e := newExecutor(t, IsolationProcess)
	ctx := context.Background()

	res := e.Run(ctx, RunRequest{Code: addSource, Inputs: []any{map[string]any{"a": 20, "b": 22}}})
	require.True(t, res.Success, res.Error)
	assert.True(t, Equal(res.Result, 42))

	res = e.Run(ctx, RunRequest{Code: `import "fmt"

func main() { fmt.Print("out") }`})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "out", res.Stdout)
}

func TestRunProcessTimeoutKillsWorker(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	e := newExecutor(t, IsolationProcess)

	start := time.Now()
	res := e.Run(context.Background(), RunRequest{
		Code:    "func main() {\n\tfor {\n\t}\n}",
		Timeout: 300 * time.Millisecond,
	})

	assert.Equal(t, FaultTimeout, res.Fault)
	assert.False(t, res.HasResult)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecutorStats(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	e.Run(ctx, RunRequest{Code: addSource, Inputs: []any{[]any{1, 1}}})
	e.Run(ctx, RunRequest{Code: `import "os"`})
	e.Run(ctx, RunRequest{Code: "func main() { panic(1) }"})

	s := e.Stats()
	assert.Equal(t, 3, s.Runs)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 1, s.RuntimeFaults)
}

func TestStatsRecordIsPure(t *testing.T) {
	var s Stats
	next := s.Record(RunResult{Fault: FaultTimeout})

	assert.Equal(t, 0, s.Runs)
	assert.Equal(t, 1, next.Runs)
	assert.Equal(t, 1, next.Timeouts)
	assert.Equal(t, 1, next.Record(RunResult{Fault: FaultHarness}).HarnessFaults)
}

func TestTestModule(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	cases := []TestCase{
		{Name: "small", Input: map[string]any{"a": 1, "b": 2}, Expected: 3},
		{Input: []any{10, 5}, Expected: 15},
		{Name: "wrong", Input: []any{1, 1}, Expected: 3},
	}

	report := e.TestModule(ctx, addSource, cases)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.InDelta(t, 2.0/3.0, report.Score, 1e-9)
	require.Len(t, report.Cases, 3)
	assert.Equal(t, "case_2", report.Cases[1].Name)
	assert.False(t, report.Cases[2].Passed)
	assert.Contains(t, report.Cases[2].Error, "expected 3")

	full := e.TestModule(ctx, addSource, cases[:2])
	assert.Equal(t, 1.0, full.Score)
}

func TestTestModuleEmptyAndBroken(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	empty := e.TestModule(ctx, addSource, nil)
	assert.Equal(t, 0, empty.Total)
	assert.Zero(t, empty.Score)

	broken := e.TestModule(ctx, "func main(a, b int) int { return }", []TestCase{{Input: []any{1, 2}, Expected: 3}})
	assert.Zero(t, broken.Score)
	assert.Equal(t, FaultLoad, broken.Cases[0].Fault)
}

func TestBenchmark(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	res := e.Benchmark(ctx, addSource, BenchmarkOptions{
		Iterations: 5,
		Warmup:     1,
		Inputs:     []any{[]any{1, 2}, []any{3, 4}},
	})

	assert.False(t, res.AllFailed)
	assert.Equal(t, 5, res.Attempted)
	assert.Equal(t, 5, res.Succeeded)
	assert.LessOrEqual(t, res.Min, res.Avg)
	assert.LessOrEqual(t, res.Avg, res.Max)
	assert.Equal(t, 6, e.Stats().Runs)
}

func TestBenchmarkAllFailed(t *testing.T) {
	e := newExecutor(t, IsolationInProcess)
	ctx := context.Background()

	zero := e.Benchmark(ctx, addSource, BenchmarkOptions{Iterations: 0})
	assert.True(t, zero.AllFailed)
	assert.Equal(t, "all iterations failed", zero.Error)

	failing := e.Benchmark(ctx, "func main() { panic(0) }", BenchmarkOptions{Iterations: 3})
	assert.True(t, failing.AllFailed)
	assert.Equal(t, 3, failing.Attempted)
	assert.Zero(t, failing.Avg)
	assert.Zero(t, failing.Max)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(json.Number("3"), 3))
	assert.True(t, Equal(3.0, 3))
	assert.True(t, Equal([]int{}, nil))
	assert.True(t, Equal(nil, map[string]int{}))
	assert.True(t, Equal(map[string]any{"xs": nil}, map[string]any{"xs": []string{}}))
	assert.False(t, Equal([]int{1}, nil))
	assert.False(t, Equal(0, nil))
	assert.False(t, Equal(map[string]any{"k": 1}, map[string]int{"k": 0}))
	assert.True(t, Equal([]any{1, "x"}, []any{json.Number("1"), "x"}))
	assert.False(t, Equal("3", 3))
}

func TestBindArgs(t *testing.T) {
	fnType := reflect.TypeOf(func(a int, b string) {})

	args, err := bindArgs(fnType, []string{"a", "b"}, map[string]any{"b": "x", "a": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, args[0].Interface())
	assert.Equal(t, "x", args[1].Interface())

	_, err = bindArgs(fnType, []string{"a", "b"}, 5)
	assert.ErrorContains(t, err, "single value")

	_, err = bindArgs(fnType, []string{"a", "b"}, []any{"nope", "x"})
	assert.ErrorContains(t, err, "argument a")

	args, err = bindArgs(reflect.TypeOf(func() {}), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, args)
}

func TestServeWorkerRoundTrip(t *testing.T) {
	req, err := json.Marshal(job{
		Code:            addSource,
		EntryPoint:      "main",
		Inputs:          []any{map[string]any{"a": 1, "b": 2}},
		AllowedPackages: DefaultAllowedPackages,
		MaxOutputBytes:  1024,
	})
	require.NoError(t, err)

	var out strings.Builder
	code := serveWorker(strings.NewReader(string(req)), &out)
	require.Equal(t, 0, code)

	var res RunResult
	require.NoError(t, json.Unmarshal([]byte(out.String()), &res))
	assert.True(t, res.Success)
	assert.True(t, Equal(res.Result, 3))

	code = serveWorker(strings.NewReader("{"), &out)
	assert.Equal(t, 2, code)
}

func TestLoadTestCases(t *testing.T) {
	dir := t.TempDir()

	list := filepath.Join(dir, "list.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- name: sum
  input: {a: 1, b: 2}
  expected: 3
- input: [4, 5]
  expected: 9
`), 0o644))
	cases, err := LoadTestCases(list)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "sum", cases[0].Name)
	assert.True(t, Equal(cases[1].Expected, 9))

	doc := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(doc, []byte(`{"cases": [{"input": 2, "expected": 4}]}`), 0o644))
	cases, err = LoadTestCases(doc)
	require.NoError(t, err)
	require.Len(t, cases, 1)

	_, err = LoadTestCases(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
