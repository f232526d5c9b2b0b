package validator

import (
	"go/ast"
	"strings"
)

// EstimateComplexity scores source as lines + 10 per function + 20 per type declaration.
// Unparseable source scores its line count.
func EstimateComplexity(code string) int {
	lines := len(strings.Split(code, "\n"))

	_, file, err := Parse(code)
	if err != nil {
		return lines
	}

	funcs, types := 0, 0
	ast.Inspect(file, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
			funcs++
		case *ast.TypeSpec:
			types++
		}
		return true
	})
	return lines + 10*funcs + 20*types
}
