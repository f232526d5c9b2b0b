package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(Options{})
	require.NoError(t, err)
	return v
}

func TestNewCompilesDefaultPolicy(t *testing.T) {
	v, err := New(Options{})
	require.NoError(t, err)
	require.NotNil(t, v)

	_, err = newPolicy(DefaultDeniedPackages, DefaultDeniedCalls)
	assert.NoError(t, err)
}

func TestIsSafe(t *testing.T) {
	defer goleak.VerifyNone(t)
	v := newValidator(t)

	tests := []struct {
		name       string
		code       string
		wantSafe   bool
		wantReason string
	}{
		{
			name:     "pure arithmetic",
			code:     "package main\n\nfunc main(a, b int) int { return a + b }\n",
			wantSafe: true,
		},
		{
			name:     "allowed stdlib",
			code:     "package main\n\nimport (\n\t\"sort\"\n\t\"strings\"\n)\n\nfunc main(s []string) string { sort.Strings(s); return strings.Join(s, \",\") }\n",
			wantSafe: true,
		},
		{
			name:     "no package clause",
			code:     "func main(n int) int { return n * 2 }",
			wantSafe: true,
		},
		{
			name:       "subprocess import",
			code:       "package main\n\nimport \"os/exec\"\n\nfunc main() { exec.Command(\"ls\").Run() }\n",
			wantReason: `forbidden import "os/exec" (line 3)`,
		},
		{
			name:       "network subpackage via parent deny",
			code:       "package main\n\nimport \"net/http\"\n\nfunc main() { http.Get(\"http://x\") }\n",
			wantReason: `"net/http"`,
		},
		{
			name:       "unsafe",
			code:       "package main\n\nimport \"unsafe\"\n\nvar _ = unsafe.Sizeof(0)\n",
			wantReason: `"unsafe"`,
		},
		{
			name:       "cgo",
			code:       "package main\n\nimport \"C\"\n",
			wantReason: `"C"`,
		},
		{
			name:       "object reconstruction",
			code:       "package main\n\nimport \"encoding/gob\"\n\nvar _ = gob.NewDecoder\n",
			wantReason: `"encoding/gob"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			safe, reason := v.IsSafe(tt.code)
			assert.Equal(t, tt.wantSafe, safe, "reason: %s", reason)
			if tt.wantSafe {
				assert.Empty(t, reason)
			} else {
				assert.Contains(t, reason, tt.wantReason)
			}
		})
	}
}

func TestParseErrorRejects(t *testing.T) {
	v := newValidator(t)

	safe, reason := v.IsSafe("package main\n\nfunc main( {\n")

	assert.False(t, safe)
	assert.NotEmpty(t, reason)
	r := v.Check("package main\n\nfunc main( {\n")
	require.Len(t, r.Violations, 1)
	assert.Equal(t, KindParseError, r.Violations[0].Kind)
	assert.Contains(t, r.Violations[0].Description, CandidateFile)
}

func TestAliasedImportCallIsCanonical(t *testing.T) {
	v := newValidator(t)
	code := `package main

import sh "os/exec"

func main() {
	sh.Command("rm", "-rf", "/").Run()
}
`
	r := v.Check(code)

	require.False(t, r.Safe)
	var kinds []Kind
	for _, viol := range r.Violations {
		kinds = append(kinds, viol.Kind)
	}
	assert.Equal(t, []Kind{KindForbiddenImport, KindForbiddenCall}, kinds)
	assert.Equal(t, "os/exec.Command", r.Violations[1].Construct)
	assert.Equal(t, 6, r.Violations[1].Line)
}

func TestLocalShadowIsNotAPackageCall(t *testing.T) {
	v, err := New(Options{DeniedPackages: []string{"plugin"}, DeniedCalls: []string{"os.Remove"}})
	require.NoError(t, err)
	code := `package main

type fs struct{}

func (fs) Remove(string) {}

func main() {
	os := fs{}
	os.Remove("x")
}
`
	safe, reason := v.IsSafe(code)
	assert.True(t, safe, reason)
}

func TestCustomDenylist(t *testing.T) {
	v, err := New(Options{DeniedPackages: []string{"math/rand"}, DeniedCalls: []string{"strings.Repeat"}})
	require.NoError(t, err)

	safe, reason := v.IsSafe("package main\n\nimport \"strings\"\n\nfunc main() string { return strings.Repeat(\"a\", 3) }\n")
	assert.False(t, safe)
	assert.Equal(t, "forbidden call strings.Repeat (line 5)", reason)

	safe, _ = v.IsSafe("package main\n\nimport \"os\"\n")
	assert.True(t, safe, "custom list replaces the defaults")
}

func TestReportCounts(t *testing.T) {
	v := newValidator(t)

	r := v.Check("package main\n\nimport \"strings\"\n\nfunc main(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }\n")

	assert.True(t, r.Safe)
	assert.Equal(t, 1, r.ImportsChecked)
	assert.Equal(t, 2, r.CallsChecked)
}

func TestStats(t *testing.T) {
	v := newValidator(t)
	v.IsSafe("package main\n")
	v.IsSafe("package main\nimport \"os\"\n")
	v.IsSafe("not go at all {")

	assert.Equal(t, Stats{Checked: 3, Rejected: 2, ParseErrors: 1}, v.Stats())
}

func TestNormalizePackage(t *testing.T) {
	assert.Equal(t, "package candidate\n\nfunc f() {}", NormalizePackage("package main\n\nfunc f() {}", "candidate"))
	assert.Equal(t, "package candidate; func f() {}", NormalizePackage("func f() {}", "candidate"))
}

func TestEstimateComplexity(t *testing.T) {
	code := "package main\n\ntype point struct{ x, y int }\n\nfunc main() int {\n\tf := func() int { return 1 }\n\treturn f()\n}\n"
	lines := len(strings.Split(code, "\n"))

	assert.Equal(t, lines+10*2+20*1, EstimateComplexity(code))
	assert.Equal(t, 3, EstimateComplexity("func (\n{\n"), "unparseable code scores its line count")
}

func TestComplexityMonotonicInNoOps(t *testing.T) {
	base := "package main\n\nfunc main() int {\n\treturn 1\n}\n"
	grown := "package main\n\nfunc main() int {\n\t_ = 0\n\t_ = 0\n\treturn 1\n}\n"

	assert.Greater(t, EstimateComplexity(grown), EstimateComplexity(base))
}
