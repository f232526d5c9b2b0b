package sandbox

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"strings"

	"evogate/internal/logging"
	"evogate/internal/validator"
)

// ErrEntryPointNotFound is reported when inputs are given but no entry point exists.
var ErrEntryPointNotFound = errors.New("entry point not found")

const (
	candidatePackage = "candidate"
	// trampoline is the exported name the entry point is renamed to before loading.
	trampoline = "EvogateEntry"
)

type entryPoint struct {
	name   string
	params []string // declared parameter names, "" when unnamed
}

// prepare normalizes the package clause and renames the entry point to an
// exported trampoline so the interpreter can address it. ep is nil when the
// source declares no usable entry point.
func prepare(code, entryName string) (string, *entryPoint, error) {
	code = validator.NormalizePackage(code, candidatePackage)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, validator.CandidateFile, code, parser.ParseComments)
	if err != nil {
		return "", nil, err
	}
	if file.Scope.Lookup(trampoline) != nil {
		return "", nil, fmt.Errorf("identifier %s is reserved", trampoline)
	}

	fn := lookupFunc(file, entryName)
	if fn == nil {
		fn = findEntryPoint(file)
	}
	if fn == nil {
		return code, nil, nil
	}

	ep := &entryPoint{name: fn.Name.Name}
	if fn.Type.Params != nil {
		for _, field := range fn.Type.Params.List {
			if len(field.Names) == 0 {
				ep.params = append(ep.params, "")
				continue
			}
			for _, n := range field.Names {
				ep.params = append(ep.params, n.Name)
			}
		}
	}

	if obj := fn.Name.Obj; obj != nil {
		ast.Inspect(file, func(n ast.Node) bool {
			if id, ok := n.(*ast.Ident); ok && id.Obj == obj {
				id.Name = trampoline
			}
			return true
		})
	}
	fn.Name.Name = trampoline

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return "", nil, fmt.Errorf("failed to render candidate: %w", err)
	}
	return buf.String(), ep, nil
}

func lookupFunc(file *ast.File, name string) *ast.FuncDecl {
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Recv == nil && fn.Name.Name == name {
			return fn
		}
	}
	return nil
}

// findEntryPoint scores top-level functions when the configured name is absent.
// Exported functions with results and run-like names win.
func findEntryPoint(file *ast.File) *ast.FuncDecl {
	var best *ast.FuncDecl
	bestScore := 0

	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		name := fn.Name.Name
		if name == "init" || name == "_" || strings.HasPrefix(name, "Test") || strings.HasPrefix(name, "Benchmark") {
			continue
		}

		score := 0
		if fn.Name.IsExported() {
			score += 10
		}
		if fn.Type.Results != nil && len(fn.Type.Results.List) > 0 {
			score += 3
			results := fn.Type.Results.List
			if ident, ok := results[len(results)-1].Type.(*ast.Ident); ok && ident.Name == "error" {
				score += 2
			}
		}
		lower := strings.ToLower(name)
		for _, hint := range []string{"run", "main", "solve", "execute", "process", "compute"} {
			if strings.Contains(lower, hint) {
				score += 8
				break
			}
		}

		if score > bestScore {
			best, bestScore = fn, score
		}
	}

	if best != nil {
		logging.SandboxDebug("found entry point '%s' with score %d", best.Name.Name, bestScore)
	}
	return best
}
