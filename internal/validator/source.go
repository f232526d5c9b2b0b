package validator

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
)

// CandidateFile is the file name used in parse positions.
const CandidateFile = "candidate.go"

var packageClause = regexp.MustCompile(`(?m)^package\s+(\w+)`)

// NormalizePackage ensures the source declares package name.
// A missing clause is prepended on the first line so line numbers are unchanged.
func NormalizePackage(code, name string) string {
	loc := packageClause.FindStringSubmatchIndex(code)
	if loc == nil {
		return "package " + name + "; " + code
	}
	return code[:loc[2]] + name + code[loc[3]:]
}

// Parse parses candidate source, adding a package clause when missing.
func Parse(code string) (*token.FileSet, *ast.File, error) {
	if !packageClause.MatchString(code) {
		code = NormalizePackage(code, "candidate")
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, CandidateFile, code, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	return fset, file, nil
}
