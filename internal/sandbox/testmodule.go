package sandbox

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gopkg.in/yaml.v3"

	"evogate/internal/logging"
)

// TestCase is one input record and its expected result.
type TestCase struct {
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Input    any    `yaml:"input" json:"input"`
	Expected any    `yaml:"expected" json:"expected"`
}

// CaseResult is the outcome of a single test case.
type CaseResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Actual   any    `json:"actual,omitempty"`
	Expected any    `json:"expected,omitempty"`
	Fault    Fault  `json:"fault,omitempty"`
	Error    string `json:"error,omitempty"`
}

// TestReport summarizes a test run. Score is Passed/Total, 0 when there are no cases.
type TestReport struct {
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Total  int          `json:"total"`
	Score  float64      `json:"score"`
	Cases  []CaseResult `json:"cases"`
}

// TestModule runs code once per case. A case passes when the run succeeds and
// its result equals the expected value.
func (e *Executor) TestModule(ctx context.Context, code string, cases []TestCase) TestReport {
	report := TestReport{Total: len(cases), Cases: make([]CaseResult, 0, len(cases))}

	for i, tc := range cases {
		name := tc.Name
		if name == "" {
			name = fmt.Sprintf("case_%d", i+1)
		}

		res := e.Run(ctx, RunRequest{Code: code, Inputs: []any{tc.Input}})
		cr := CaseResult{Name: name, Expected: tc.Expected, Fault: res.Fault, Error: res.Error}
		if res.Success {
			cr.Actual = res.Result
			cr.Passed = Equal(res.Result, tc.Expected)
			if !cr.Passed {
				cr.Error = fmt.Sprintf("expected %v, got %v", tc.Expected, res.Result)
			}
		}

		if cr.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Cases = append(report.Cases, cr)

		if ctx.Err() != nil {
			break
		}
	}

	if report.Total > 0 {
		report.Score = float64(report.Passed) / float64(report.Total)
	}
	logging.SandboxDebug("test run: %d/%d passed", report.Passed, report.Total)
	return report
}

// Equal reports whether two values are equal after JSON normalization.
// Numbers compare by value and empty collections equal nil.
func Equal(actual, expected any) bool {
	a, err := normalize(actual)
	if err != nil {
		return false
	}
	b, err := normalize(expected)
	if err != nil {
		return false
	}
	return cmp.Equal(a, b, cmpopts.EquateEmpty(), equateNilEmpty)
}

// equateNilEmpty treats a JSON null and an empty list or object as equal.
// cmpopts.EquateEmpty only covers two collections of the same type.
var equateNilEmpty = cmp.FilterValues(func(x, y any) bool {
	return (x == nil && isEmptyCollection(y)) || (y == nil && isEmptyCollection(x))
}, cmp.Comparer(func(_, _ any) bool { return true }))

func isEmptyCollection(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// LoadTestCases reads cases from a YAML or JSON file, either a bare list or
// a document with a top-level "cases" key.
func LoadTestCases(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases: %w", err)
	}

	var list []TestCase
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Cases []TestCase `yaml:"cases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse test cases %s: %w", path, err)
	}
	return doc.Cases, nil
}
