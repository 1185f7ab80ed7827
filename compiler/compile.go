package compiler

import "github.com/chazu/lilium/bytecode"

// Compile parses and compiles source into a module.
func Compile(source string) (*bytecode.Module, error) {
	exprs, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return Generate(exprs)
}

// Analysis is the result of checking a source file: whatever could be
// recovered before the first error.
type Analysis struct {
	Exprs     []Expr
	Functions *FunctionTable
	Module    *bytecode.Module
	Err       error
}

// Analyze compiles source and keeps the intermediate results, for tools that
// want symbol information even when compilation fails.
func Analyze(source string) *Analysis {
	a := &Analysis{}
	a.Exprs, a.Err = Parse(source)
	if a.Err != nil {
		return a
	}
	a.Functions, a.Err = CollectFunctions(a.Exprs)
	if a.Err != nil {
		return a
	}
	a.Module, a.Err = GenerateWith(a.Functions, a.Exprs)
	return a
}
