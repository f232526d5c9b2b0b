package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evogate/internal/memory"
	"evogate/internal/sandbox"
)

func TestMain(m *testing.M) {
	sandbox.ServeWorkerIfRequested()
	os.Exit(m.Run())
}

const addSource = `package candidate

func main(a, b int) int {
	return a + b
}
`

const slowAdd = `package candidate

func main(a, b int) int {
	total := a
	for i := 0; i < b; i++ {
		total++
	}
	return total
}
`

const addCases = `
- name: small
  input: {a: 1, b: 2}
  expected: 3
- name: larger
  input: {a: 40, b: 2}
  expected: 42
`

// resetFlags restores every flag variable; cobra keeps values between executions.
func resetFlags() {
	configPath, workspace, verbose, timeout = "", "", false, time.Minute
	runInputs, runEntryPoint, runTimeout = nil, "", ""
	casesPath, benchIterations, benchWarmup = "", 0, -1
	compareCases, compareIterations, compareModule, compareRecord = "", 0, "", false
	memImportance, memCategory, memTiers, memContext = 0.5, "", nil, ""
	historyLimit, historyJSON = 20, false
	watchFor = 0
}

type env struct {
	t   *testing.T
	dir string
}

func newEnv(t *testing.T) *env {
	t.Setenv("EVOGATE_ISOLATION", "inprocess")
	t.Setenv("EVOGATE_LOG_LEVEL", "error")
	return &env{t: t, dir: t.TempDir()}
}

func (e *env) file(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// run executes the CLI against the env's workspace.
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	base := []string{"--config", filepath.Join(e.dir, "missing.yaml"), "--workspace", filepath.Join(e.dir, "ws")}
	rootCmd.SetArgs(append(base, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestValidateCommand(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("validate", e.file("add.go", addSource))
	require.NoError(t, err)
	v := decode(t, out)
	assert.Equal(t, true, v["safe"])
	assert.NotZero(t, v["complexity"])

	out, err = e.run("validate", e.file("bad.go", "import \"os/exec\"\n\nfunc main() { exec.Command(\"ls\") }"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Equal(t, false, decode(t, out)["safe"])
}

func TestRunCommand(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("run", e.file("add.go", addSource), "--input", "{a: 2, b: 3}")
	require.NoError(t, err)
	v := decode(t, out)
	assert.Equal(t, true, v["success"])
	assert.EqualValues(t, 5, v["result"])

	out, err = e.run("run", e.file("add.go", addSource), "--input", "[1, 2, 3]")
	require.Error(t, err)
	assert.Equal(t, string(sandbox.FaultInput), decode(t, out)["fault"])

	_, err = e.run("run", e.file("add.go", addSource), "--input", "{a: [")
	assert.ErrorContains(t, err, "invalid input")
}

func TestTestAndBenchCommands(t *testing.T) {
	e := newEnv(t)
	src := e.file("add.go", addSource)
	cases := e.file("cases.yaml", addCases)

	out, err := e.run("test", src, "--cases", cases)
	require.NoError(t, err)
	v := decode(t, out)
	assert.EqualValues(t, 2, v["passed"])
	assert.EqualValues(t, 1, v["score"])

	_, err = e.run("test", e.file("wrong.go", strings.ReplaceAll(addSource, "a + b", "a - b")), "--cases", cases)
	assert.ErrorContains(t, err, "2 of 2 cases failed")

	out, err = e.run("bench", src, "--cases", cases, "-n", "3", "--warmup", "0")
	require.NoError(t, err)
	v = decode(t, out)
	assert.EqualValues(t, 3, v["succeeded"])
	assert.Equal(t, false, v["all_failed"])
}

func TestCompareRecordAndHistory(t *testing.T) {
	e := newEnv(t)
	oldPath := e.file("adder.go", slowAdd)
	newPath := e.file("adder_new.go", addSource)
	cases := e.file("cases.yaml", addCases)

	out, err := e.run("compare", oldPath, newPath, "--cases", cases, "-n", "2")
	require.NoError(t, err)
	v := decode(t, out)
	assert.NotEmpty(t, v["id"])
	assert.EqualValues(t, 1, v["new_score"])

	out, err = e.run("compare", oldPath, newPath, "--cases", cases, "-n", "2", "--record", "--module", "adder")
	require.NoError(t, err)
	v = decode(t, out)
	assert.Equal(t, "adder", v["module"])
	assert.NotEmpty(t, v["decision"])

	out, err = e.run("history")
	require.NoError(t, err)
	assert.Contains(t, out, "MODULE")
	assert.Contains(t, out, "adder")

	out, err = e.run("history", "adder", "--json")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "adder", recs[0]["module"])

	out, err = e.run("history", "nothing")
	require.NoError(t, err)
	assert.Contains(t, out, "no evaluations recorded for nothing")
}

func TestCompareRecordRejectsUnsafe(t *testing.T) {
	e := newEnv(t)
	_, err := e.run("compare", e.file("a.go", addSource), e.file("b.go", "import \"net\"\n\nfunc main() {}"), "--record")
	assert.ErrorContains(t, err, "unsafe")
}

func TestMemoryCommands(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("memory", "remember", "loops over ranges are slow", "--importance", "0.9", "--category", "optimizations")
	require.NoError(t, err)
	v := decode(t, out)
	assert.Equal(t, memory.CategoryOptimizations, v["category"])
	assert.Len(t, v["tiers"], 3)

	// Instant memory is not persisted; a fresh process sees the other tiers.
	out, err = e.run("memory", "recall", "loops", "--tier", "short_term,long_term")
	require.NoError(t, err)
	v = decode(t, out)
	assert.Len(t, v["short_term"], 1)
	assert.Len(t, v["long_term"], 1)

	_, err = e.run("memory", "recall", "loops", "--tier", "forever")
	assert.ErrorContains(t, err, "unknown memory tier")

	out, err = e.run("memory", "feedback", "prefer closed forms", "--context", "review")
	require.NoError(t, err)
	assert.Equal(t, memory.CategoryExperiences, decode(t, out)["category"])

	out, err = e.run("memory", "consolidate")
	require.NoError(t, err)
	assert.Equal(t, "promoted 0\n", out)

	out, err = e.run("memory", "decay")
	require.NoError(t, err)
	assert.Contains(t, out, "decayed")

	out, err = e.run("memory", "stats")
	require.NoError(t, err)
	v = decode(t, out)
	assert.EqualValues(t, 2, v["long_term"])
}

func TestWatchCommandStopsAfterDuration(t *testing.T) {
	e := newEnv(t)
	dir := filepath.Join(e.dir, "modules")

	out, err := e.run("watch", dir, "--for", "50ms")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.DirExists(t, dir)
}

func TestRepeatedExecutionsKeepLiveContext(t *testing.T) {
	e := newEnv(t)

	for i := 0; i < 3; i++ {
		_, err := e.run("memory", "stats")
		require.NoError(t, err, "memory stats run %d", i)
		_, err = e.run("history")
		require.NoError(t, err, "history run %d", i)
	}
	assert.NoError(t, memoryStatsCmd().Context().Err())
}

func memoryStatsCmd() *cobra.Command {
	cmd, _, _ := rootCmd.Find([]string{"memory", "stats"})
	return cmd
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "sum", moduleName("/tmp/x/sum.go"))
	assert.Equal(t, "stdin", moduleName("-"))
}

func TestParseTiers(t *testing.T) {
	tiers, err := parseTiers([]string{"instant", "short-term", "long"})
	require.NoError(t, err)
	assert.Equal(t, []memory.Tier{memory.TierInstant, memory.TierShortTerm, memory.TierLongTerm}, tiers)

	tiers, err = parseTiers(nil)
	require.NoError(t, err)
	assert.Empty(t, tiers)
}
