package compiler

import "fmt"

// LexError reports an unrecognized character or unterminated literal.
type LexError struct {
	Ch   rune
	Line int
	Msg  string
}

func (e *LexError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("lex error: line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("lex error: line %d: unexpected character %q", e.Line, e.Ch)
}

// ParseError reports a grammar violation: a token of the wrong type where a
// specific token or token class was required.
type ParseError struct {
	Expected string
	Found    Token
	Snippet  string // trimmed source line, for context
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse error: line %d: expected %s, got %s (%q)",
		e.Found.Line, e.Expected, e.Found.Type, e.Found.Lexeme)
	if e.Snippet != "" {
		msg += "\n  |> " + e.Snippet
	}
	return msg
}

// SymbolError reports an undeclared or duplicate identifier.
type SymbolError struct {
	Name string
	Line int
	Msg  string // "undeclared" or "already declared in this scope"
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("symbol error: line %d: %q %s", e.Line, e.Name, e.Msg)
}

// CodegenError reports a construct the code generator cannot translate,
// such as an assignment to a non-lvalue or a call to an undefined function.
type CodegenError struct {
	Msg string
}

func (e *CodegenError) Error() string {
	return "codegen error: " + e.Msg
}
