// Package validator statically screens candidate Go source before it is executed.
//
// The check is a denylist over imports and call targets, evaluated by a Mangle
// policy against facts extracted from the AST. It is a first pass only: the
// sandbox interpreter's allow-list is what actually withholds capabilities.
package validator

import (
	"fmt"
	"sort"
	"sync"

	"evogate/internal/logging"
)

// Kind categorizes violations.
type Kind int

const (
	KindParseError Kind = iota
	KindForbiddenImport
	KindForbiddenCall
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindParseError:
		return "parse_error"
	case KindForbiddenImport:
		return "forbidden_import"
	case KindForbiddenCall:
		return "forbidden_call"
	case KindPolicy:
		return "policy_violation"
	default:
		return "unknown"
	}
}

// Violation describes a single rejected construct.
type Violation struct {
	Kind        Kind   `json:"kind"`
	Construct   string `json:"construct"` // import path or canonical callee
	Line        int    `json:"line,omitempty"`
	Description string `json:"description"`
}

// Report contains the results of a safety check.
type Report struct {
	Safe           bool        `json:"safe"`
	Violations     []Violation `json:"violations,omitempty"`
	ImportsChecked int         `json:"imports_checked"`
	CallsChecked   int         `json:"calls_checked"`
}

// Reason returns the first violation's description, or "" when safe.
func (r *Report) Reason() string {
	if len(r.Violations) == 0 {
		return ""
	}
	return r.Violations[0].Description
}

// Options configures the denylists. Nil lists use the defaults.
type Options struct {
	DeniedPackages []string
	DeniedCalls    []string
}

// Stats counts validator outcomes.
type Stats struct {
	Checked     int `json:"checked"`
	Rejected    int `json:"rejected"`
	ParseErrors int `json:"parse_errors"`
}

func (s Stats) record(r *Report) Stats {
	s.Checked++
	if !r.Safe {
		s.Rejected++
		if len(r.Violations) > 0 && r.Violations[0].Kind == KindParseError {
			s.ParseErrors++
		}
	}
	return s
}

// Validator checks candidate source against the safety policy.
type Validator struct {
	policy *policy

	mu    sync.Mutex
	stats Stats
}

// New compiles the safety policy with the given denylists.
func New(opts Options) (*Validator, error) {
	pkgs := opts.DeniedPackages
	if len(pkgs) == 0 {
		pkgs = DefaultDeniedPackages
	}
	calls := opts.DeniedCalls
	if len(calls) == 0 {
		calls = DefaultDeniedCalls
	}
	p, err := newPolicy(pkgs, calls)
	if err != nil {
		return nil, err
	}
	return &Validator{policy: p}, nil
}

// IsSafe reports whether code passes the check, with the reason when it does not.
func (v *Validator) IsSafe(code string) (bool, string) {
	r := v.Check(code)
	return r.Safe, r.Reason()
}

// Check runs the full check and returns every violation found, ordered by line.
func (v *Validator) Check(code string) *Report {
	report := v.check(code)

	v.mu.Lock()
	v.stats = v.stats.record(report)
	v.mu.Unlock()

	if !report.Safe {
		logging.Validator("candidate rejected: %s", report.Reason())
	}
	return report
}

func (v *Validator) check(code string) *Report {
	timer := logging.StartTimer(logging.CategoryValidator, "Check")
	defer timer.Stop()

	report := &Report{Safe: true}

	fset, file, err := Parse(code)
	if err != nil {
		return fail(report, Violation{Kind: KindParseError, Description: err.Error()})
	}

	facts := extractFacts(fset, file)
	report.ImportsChecked = len(facts.imports)
	report.CallsChecked = facts.callCount()

	verdict, err := v.policy.evaluate(facts)
	if err != nil {
		return fail(report, Violation{Kind: KindPolicy, Description: err.Error()})
	}

	for _, pkg := range verdict.imports {
		for _, s := range facts.imports[pkg] {
			report.Violations = append(report.Violations, Violation{
				Kind:        KindForbiddenImport,
				Construct:   pkg,
				Line:        s.line,
				Description: fmt.Sprintf("forbidden import %q (line %d)", pkg, s.line),
			})
		}
	}
	for _, callee := range verdict.calls {
		for _, s := range facts.calls[callee] {
			report.Violations = append(report.Violations, Violation{
				Kind:        KindForbiddenCall,
				Construct:   callee,
				Line:        s.line,
				Description: fmt.Sprintf("forbidden call %s (line %d)", callee, s.line),
			})
		}
	}

	if len(report.Violations) > 0 {
		report.Safe = false
		sort.SliceStable(report.Violations, func(a, b int) bool {
			return report.Violations[a].Line < report.Violations[b].Line
		})
	}
	logging.ValidatorDebug("checked imports=%d calls=%d violations=%d", report.ImportsChecked, report.CallsChecked, len(report.Violations))
	return report
}

func fail(report *Report, violation Violation) *Report {
	report.Safe = false
	report.Violations = append(report.Violations, violation)
	return report
}

// Stats returns a snapshot of the validator's counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats
}
