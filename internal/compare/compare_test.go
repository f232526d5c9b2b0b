package compare

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"evogate/internal/logging"
	"evogate/internal/sandbox"
	"evogate/internal/validator"
)

// fakeRunner returns canned measurements keyed by code.
type fakeRunner struct {
	mu      sync.Mutex
	scores  map[string]float64
	avgs    map[string]time.Duration
	calls   []string
	benches []sandbox.BenchmarkOptions
}

func (f *fakeRunner) TestModule(_ context.Context, code string, cases []sandbox.TestCase) sandbox.TestReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "test:"+code)
	return sandbox.TestReport{Total: len(cases), Score: f.scores[code]}
}

func (f *fakeRunner) Benchmark(_ context.Context, code string, opts sandbox.BenchmarkOptions) sandbox.BenchmarkResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "bench:"+code)
	f.benches = append(f.benches, opts)
	avg, ok := f.avgs[code]
	if !ok {
		return sandbox.BenchmarkResult{Attempted: opts.Iterations, AllFailed: true, Error: "all iterations failed"}
	}
	return sandbox.BenchmarkResult{Avg: avg, Min: avg, Max: avg, Succeeded: opts.Iterations, Attempted: opts.Iterations}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		total float64
		want  Decision
	}{
		{0.5, DecisionStrongAccept},
		{0.1000001, DecisionStrongAccept},
		{0.10, DecisionWeakAccept},
		{0.0001, DecisionWeakAccept},
		{0, DecisionKeepBaseline},
		{-0.0499, DecisionKeepBaseline},
		{-0.05, DecisionRegression},
		{-1, DecisionRegression},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.total), "total=%v", tt.total)
	}

	assert.True(t, DecisionWeakAccept.Accepted())
	assert.False(t, DecisionKeepBaseline.Accepted())
	assert.Contains(t, DecisionRegression.Recommendation(), "regression")
}

func TestCompareWeightsAndOrder(t *testing.T) {
	r := &fakeRunner{
		scores: map[string]float64{"old": 0.5, "new": 1.0},
		avgs:   map[string]time.Duration{"old": 100 * time.Microsecond, "new": 50 * time.Microsecond},
	}
	e := New(r, Options{Iterations: 7, Warmup: 2})
	cases := []sandbox.TestCase{{Input: 1, Expected: 1}, {Input: 2, Expected: 2}}

	ev := e.Compare(context.Background(), "old", "new", cases, 0)

	assert.NotEmpty(t, ev.ID)
	assert.InDelta(t, 0.5, ev.ScoreImprovement, 1e-9)
	assert.InDelta(t, 0.5, ev.PerformanceImprovement, 1e-9)
	assert.InDelta(t, 0.7*0.5+0.3*0.5, ev.TotalImprovement, 1e-9)
	assert.Equal(t, DecisionStrongAccept, ev.Decision)
	assert.False(t, ev.Indeterminate)

	assert.Equal(t, []string{"test:old", "test:new", "bench:old", "bench:new"}, r.calls)
	require.Len(t, r.benches, 2)
	assert.Equal(t, r.benches[0], r.benches[1])
	assert.Equal(t, 7, r.benches[0].Iterations)
	assert.Equal(t, []any{1, 2}, r.benches[0].Inputs)
}

func TestCompareWarnsWhenSlow(t *testing.T) {
	assert.Equal(t, time.Minute, New(&fakeRunner{}, Options{}).opts.SlowThreshold)

	core, logs := observer.New(zap.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })

	r := &fakeRunner{
		scores: map[string]float64{"old": 1, "new": 1},
		avgs:   map[string]time.Duration{"old": time.Millisecond, "new": time.Millisecond},
	}
	New(r, Options{Iterations: 1, SlowThreshold: time.Nanosecond}).Compare(context.Background(), "old", "new", nil, 0)

	warned := logs.FilterLevelExact(zap.WarnLevel).FilterMessageSnippet("Compare took")
	assert.Equal(t, 1, warned.Len())
}

func TestCompareIsOrderSensitive(t *testing.T) {
	r := &fakeRunner{
		scores: map[string]float64{"a": 1, "b": 1},
		avgs:   map[string]time.Duration{"a": 200 * time.Microsecond, "b": 100 * time.Microsecond},
	}
	e := New(r, DefaultOptions())
	ctx := context.Background()

	forward := e.Compare(ctx, "a", "b", nil, 3)
	backward := e.Compare(ctx, "b", "a", nil, 3)

	assert.Greater(t, forward.TotalImprovement, 0.0)
	assert.Less(t, backward.TotalImprovement, 0.0)
	assert.True(t, forward.Accepted())
	assert.Equal(t, DecisionRegression, backward.Decision)
	assert.NotEqual(t, forward.ID, backward.ID)
}

func TestCompareIndeterminatePerformance(t *testing.T) {
	ctx := context.Background()

	t.Run("baseline never completes", func(t *testing.T) {
		r := &fakeRunner{
			scores: map[string]float64{"old": 0, "new": 1},
			avgs:   map[string]time.Duration{"new": time.Millisecond},
		}
		ev := New(r, DefaultOptions()).Compare(ctx, "old", "new", nil, 2)
		assert.True(t, ev.Indeterminate)
		assert.Zero(t, ev.PerformanceImprovement)
		assert.InDelta(t, 0.7, ev.TotalImprovement, 1e-9)
	})

	t.Run("candidate never completes", func(t *testing.T) {
		r := &fakeRunner{
			scores: map[string]float64{"old": 1, "new": 1},
			avgs:   map[string]time.Duration{"old": time.Millisecond},
		}
		ev := New(r, DefaultOptions()).Compare(ctx, "old", "new", nil, 2)
		assert.True(t, ev.Indeterminate)
		assert.Zero(t, ev.PerformanceImprovement)
		assert.Equal(t, DecisionKeepBaseline, ev.Decision)
		assert.Contains(t, ev.Summary(), "indeterminate")
	})
}

func TestStatsRecord(t *testing.T) {
	var s Stats
	s = s.Record(Evaluation{Decision: DecisionStrongAccept, TotalImprovement: 0.4})
	s = s.Record(Evaluation{Decision: DecisionRegression, TotalImprovement: -0.2, Indeterminate: true})

	assert.Equal(t, 2, s.Evaluations)
	assert.Equal(t, 1, s.Accepted())
	assert.Equal(t, 1, s.Regressions)
	assert.Equal(t, 1, s.Indeterminate)
	assert.InDelta(t, 0.1, s.MeanImprovement(), 1e-9)
	assert.Zero(t, Stats{}.MeanImprovement())
}

func TestPoolKeepsOrderAndKeys(t *testing.T) {
	r := &fakeRunner{
		scores: map[string]float64{"old": 0.5, "good": 1, "bad": 0},
		avgs: map[string]time.Duration{
			"old":  time.Millisecond,
			"good": time.Millisecond,
			"bad":  time.Millisecond,
		},
	}
	e := New(r, DefaultOptions())
	p := NewPool(e, 2)

	results, err := p.Run(context.Background(), []Candidate{
		{Key: "first", OldCode: "old", NewCode: "good", Iterations: 1},
		{Key: "second", OldCode: "old", NewCode: "bad", Iterations: 1},
		{Key: "third", OldCode: "old", NewCode: "old", Iterations: 1},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "first", results[0].Key)
	assert.True(t, results[0].Accepted())
	assert.Equal(t, "second", results[1].Key)
	assert.Equal(t, DecisionRegression, results[1].Decision)
	assert.Equal(t, DecisionKeepBaseline, results[2].Decision)
	assert.Equal(t, 3, e.Stats().Evaluations)
}

func TestPoolCancelled(t *testing.T) {
	e := New(&fakeRunner{}, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPool(e, 1).Run(ctx, []Candidate{{Key: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

const loopSum = `package candidate

func main(n int) int {
	total := 0
	for i := 0; i < n; i++ {
		total += i
	}
	return total
}
`

const closedFormSum = `package candidate

func main(n int) int {
	return n * (n - 1) / 2
}
`

func TestCompareLoopVersusClosedForm(t *testing.T) {
	v, err := validator.New(validator.Options{})
	require.NoError(t, err)
	opts := sandbox.DefaultOptions()
	opts.Isolation = sandbox.IsolationInProcess
	exec := sandbox.New(v, opts)

	e := New(exec, Options{Iterations: 30, Warmup: 3})
	cases := []sandbox.TestCase{
		{Input: map[string]any{"n": 10}, Expected: 45},
		{Input: map[string]any{"n": 100}, Expected: 4950},
	}

	ev := e.Compare(context.Background(), loopSum, closedFormSum, cases, 0)

	assert.Equal(t, 1.0, ev.OldScore)
	assert.Equal(t, 1.0, ev.NewScore)
	assert.Zero(t, ev.ScoreImprovement)
	assert.False(t, ev.Indeterminate)
	assert.Greater(t, ev.PerformanceImprovement, 0.0)
	assert.Greater(t, ev.TotalImprovement, 0.0)
	assert.True(t, ev.Accepted(), ev.Summary())
}
