package validator

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed policy.mg
var safetyPolicy string

var (
	forbiddenImportSym = ast.PredicateSym{Symbol: "forbidden_import", Arity: 1}
	forbiddenCallSym   = ast.PredicateSym{Symbol: "forbidden_call", Arity: 1}
)

// policy is the compiled safety program plus the configured denylists.
type policy struct {
	program        *analysis.ProgramInfo
	deniedPackages []string
	deniedCalls    []string
}

func newPolicy(deniedPackages, deniedCalls []string) (*policy, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(safetyPolicy)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse safety policy: %w", err)
	}
	program, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze safety policy: %w", err)
	}
	return &policy{
		program:        program,
		deniedPackages: deniedPackages,
		deniedCalls:    deniedCalls,
	}, nil
}

// verdict holds the derived forbidden imports and calls, sorted.
type verdict struct {
	imports []string
	calls   []string
}

// evaluate runs the policy over one candidate's facts in a fresh store.
func (p *policy) evaluate(fs factSet) (verdict, error) {
	store := factstore.NewSimpleInMemoryStore()

	for _, pkg := range p.deniedPackages {
		store.Add(ast.NewAtom("denied_package", ast.String(pkg)))
	}
	for _, call := range p.deniedCalls {
		store.Add(ast.NewAtom("denied_call", ast.String(call)))
	}
	for importPath := range fs.imports {
		store.Add(ast.NewAtom("ast_import", ast.String(importPath)))
		for _, prefix := range importFamily(importPath) {
			store.Add(ast.NewAtom("import_family", ast.String(importPath), ast.String(prefix)))
		}
	}
	for callee := range fs.calls {
		store.Add(ast.NewAtom("ast_call", ast.String(callee)))
	}

	if _, err := mengine.EvalProgramWithStats(p.program, store); err != nil {
		return verdict{}, fmt.Errorf("safety policy evaluation failed: %w", err)
	}

	var v verdict
	var err error
	if v.imports, err = queryStrings(store, forbiddenImportSym); err != nil {
		return verdict{}, err
	}
	if v.calls, err = queryStrings(store, forbiddenCallSym); err != nil {
		return verdict{}, err
	}
	return v, nil
}

func queryStrings(store factstore.FactStore, sym ast.PredicateSym) ([]string, error) {
	var out []string
	err := store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		if c, ok := atom.Args[0].(ast.Constant); ok && c.Type == ast.StringType {
			out = append(out, c.Symbol)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s failed: %w", sym.Symbol, err)
	}
	sort.Strings(out)
	return out, nil
}
