package validator

import (
	"bytes"
	"go/ast"
	"go/printer"
	"go/token"
	"path"
	"strconv"
	"strings"
)

// site is a source location of an emitted fact.
type site struct {
	line int
}

// factSet is the structural summary of a candidate that feeds the safety policy.
type factSet struct {
	imports map[string][]site // import path -> locations
	calls   map[string][]site // canonical callee -> locations
}

// extractFacts walks parsed source and collects imports and call targets.
// Calls through an imported package are canonicalized to the full import path,
// so an aliased import still matches the denylist.
func extractFacts(fset *token.FileSet, file *ast.File) factSet {
	fs := factSet{
		imports: make(map[string][]site),
		calls:   make(map[string][]site),
	}
	e := &factEmitter{fset: fset, facts: &fs, aliases: make(map[string]string)}
	e.emitImports(file)
	ast.Walk(&factVisitor{emitter: e}, file)
	return fs
}

type factEmitter struct {
	fset    *token.FileSet
	facts   *factSet
	aliases map[string]string // local package name -> import path
}

func (e *factEmitter) line(p token.Pos) int {
	return e.fset.Position(p).Line
}

func (e *factEmitter) emitImports(file *ast.File) {
	for _, imp := range file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			importPath = strings.Trim(imp.Path.Value, "`\"")
		}
		e.facts.imports[importPath] = append(e.facts.imports[importPath], site{line: e.line(imp.Pos())})

		local := path.Base(importPath)
		if imp.Name != nil {
			local = imp.Name.Name
		}
		if local != "_" && local != "." {
			e.aliases[local] = importPath
		}
	}
}

func (e *factEmitter) emitCall(call *ast.CallExpr) {
	callee := e.canonicalCallee(call.Fun)
	e.facts.calls[callee] = append(e.facts.calls[callee], site{line: e.line(call.Pos())})
}

// canonicalCallee renders pkg.Func calls as importpath.Func and method calls
// on declared values as (name).Method.
func (e *factEmitter) canonicalCallee(fun ast.Expr) string {
	if sel, ok := fun.(*ast.SelectorExpr); ok {
		if ident, ok := sel.X.(*ast.Ident); ok {
			// Obj is nil for package identifiers; declared values resolve to their declaration.
			if ident.Obj != nil {
				return "(" + ident.Name + ")." + sel.Sel.Name
			}
			if importPath, ok := e.aliases[ident.Name]; ok {
				return importPath + "." + sel.Sel.Name
			}
		}
	}
	return e.exprToString(fun)
}

func (e *factEmitter) exprToString(expr ast.Expr) string {
	var buf bytes.Buffer
	_ = printer.Fprint(&buf, e.fset, expr)
	return buf.String()
}

type factVisitor struct {
	emitter *factEmitter
}

func (v *factVisitor) Visit(node ast.Node) ast.Visitor {
	if node == nil {
		return nil
	}
	if call, ok := node.(*ast.CallExpr); ok {
		v.emitter.emitCall(call)
	}
	return v
}

func (fs factSet) callCount() int {
	n := 0
	for _, sites := range fs.calls {
		n += len(sites)
	}
	return n
}

// importFamily returns the path and each of its parent paths.
func importFamily(p string) []string {
	family := []string{p}
	for {
		i := strings.LastIndex(p, "/")
		if i <= 0 {
			return family
		}
		p = p[:i]
		family = append(family, p)
	}
}
