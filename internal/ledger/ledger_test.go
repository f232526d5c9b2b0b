package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"evogate/internal/compare"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var day = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func record(id, module, code string, decision compare.Decision, total float64, at time.Time) Record {
	ev := compare.Evaluation{ID: id, Decision: decision, TotalImprovement: total}
	return NewRecord(module, "func main() {}", code, ev, at)
}

func openBoth(t *testing.T) map[string]*Ledger {
	t.Helper()
	ctx := context.Background()

	plain, err := Open(ctx, filepath.Join(t.TempDir(), "evolution"), "")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "evolution")
	indexed, err := Open(ctx, dir, filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { indexed.Close() })

	return map[string]*Ledger{"jsonl": plain, "sqlite": indexed}
}

func TestNewRecord(t *testing.T) {
	ev := compare.Evaluation{
		ID:                     "ev-1",
		ScoreImprovement:       0.5,
		PerformanceImprovement: 0.2,
		TotalImprovement:       0.41,
		Decision:               compare.DecisionStrongAccept,
	}
	rec := NewRecord("sum", "func a() {}", "func b() {}\nfunc c() {}", ev, day.In(time.FixedZone("X", 3600)))

	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.Equal(t, "ev-1", rec.EvaluationID)
	assert.True(t, rec.Accepted)
	assert.Equal(t, "accept_strong", rec.Decision)
	assert.Equal(t, 11, rec.OldComplexity)
	assert.Equal(t, 22, rec.NewComplexity)
	assert.Len(t, rec.NewFingerprint, 64)
	assert.NotEqual(t, rec.OldFingerprint, rec.NewFingerprint)
	assert.Equal(t, Fingerprint("func a() {}"), rec.OldFingerprint)
}

func TestAppendWritesDayFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(context.Background(), dir, "")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, record("a", "m", "x", compare.DecisionWeakAccept, 0.05, day)))
	require.NoError(t, l.Append(ctx, record("b", "m", "y", compare.DecisionKeepBaseline, 0, day.Add(time.Hour))))
	require.NoError(t, l.Append(ctx, record("c", "m", "z", compare.DecisionRegression, -0.2, day.Add(24*time.Hour))))

	data, err := os.ReadFile(filepath.Join(dir, "evolution_20260504.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"evaluation_id":"a"`)
	assert.FileExists(t, filepath.Join(dir, FileName(day.Add(24*time.Hour))))

	recs, err := l.Records()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{recs[0].EvaluationID, recs[1].EvaluationID, recs[2].EvaluationID})
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(context.Background(), dir, "")
	require.NoError(t, err)
	require.NoError(t, l.Append(context.Background(), record("a", "m", "x", compare.DecisionWeakAccept, 0.05, day)))

	f, err := os.OpenFile(filepath.Join(dir, FileName(day)), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	f.Close()

	recs, err := l.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSummariesAndHistory(t *testing.T) {
	for name, l := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Append(ctx, record("1", "sum", "v1", compare.DecisionStrongAccept, 0.3, day)))
			require.NoError(t, l.Append(ctx, record("2", "sum", "v2", compare.DecisionRegression, -0.1, day.Add(time.Minute))))
			require.NoError(t, l.Append(ctx, NewRejection("3", "sum", "old", "bad", "forbidden import os", day.Add(2*time.Minute))))
			require.NoError(t, l.Append(ctx, record("4", "sort", "v1", compare.DecisionWeakAccept, 0.02, day)))

			all, err := l.Summaries(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "sort", all[0].Module)

			sum := all[1]
			assert.Equal(t, "sum", sum.Module)
			assert.Equal(t, 3, sum.Evaluations)
			assert.Equal(t, 1, sum.Accepted)
			assert.Equal(t, 1, sum.Rejected)
			assert.Equal(t, 1, sum.Unsafe)
			assert.InDelta(t, 0.3, sum.BestTotal, 1e-9)
			assert.Equal(t, DecisionRejectedUnsafe, sum.LastDecision)
			assert.True(t, sum.LastAt.Equal(day.Add(2*time.Minute)))

			one, err := l.Summaries(ctx, "sort")
			require.NoError(t, err)
			require.Len(t, one, 1)

			hist, err := l.History(ctx, "sum", 2)
			require.NoError(t, err)
			require.Len(t, hist, 2)
			assert.Equal(t, "3", hist[0].EvaluationID)
			assert.Equal(t, "forbidden import os", hist[0].Reason)
			assert.Equal(t, "2", hist[1].EvaluationID)
		})
	}
}

func TestPreviouslyRejected(t *testing.T) {
	for name, l := range openBoth(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, l.Append(ctx, record("1", "sum", "slow", compare.DecisionRegression, -0.3, day)))
			require.NoError(t, l.Append(ctx, record("2", "sum", "fast", compare.DecisionStrongAccept, 0.3, day)))

			rejected, err := l.PreviouslyRejected(ctx, "sum", "slow")
			require.NoError(t, err)
			assert.True(t, rejected)

			rejected, err = l.PreviouslyRejected(ctx, "sum", "fast")
			require.NoError(t, err)
			assert.False(t, rejected)

			rejected, err = l.PreviouslyRejected(ctx, "other", "slow")
			require.NoError(t, err)
			assert.False(t, rejected)
		})
	}
}

func TestOpenReindexesExistingJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	plain, err := Open(ctx, dir, "")
	require.NoError(t, err)
	require.NoError(t, plain.Append(ctx, record("1", "sum", "v1", compare.DecisionWeakAccept, 0.01, day)))
	require.NoError(t, plain.Append(ctx, record("2", "sum", "v2", compare.DecisionKeepBaseline, 0, day)))

	indexed, err := Open(ctx, dir, filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	defer indexed.Close()

	sums, err := indexed.Summaries(ctx, "sum")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 2, sums[0].Evaluations)

	// Reindexing again is idempotent.
	require.NoError(t, indexed.Reindex(ctx))
	sums, err = indexed.Summaries(ctx, "sum")
	require.NoError(t, err)
	assert.Equal(t, 2, sums[0].Evaluations)
}
