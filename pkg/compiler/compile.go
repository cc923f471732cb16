package compiler

import "gocc/pkg/vm"

// Compile runs the full pipeline over src and returns a loadable program.
// The first failing phase stops the pipeline; its error is returned as-is so
// callers can distinguish LexError, ParseError, SymbolError and CodegenError.
func Compile(src string) (*vm.Program, error) {
	tokens, err := Lex(src)
	if err != nil {
		return nil, err
	}
	program, syms, err := Parse(tokens, src)
	if err != nil {
		return nil, err
	}
	return Generate(program, syms)
}
