package compiler

import (
	"strconv"
	"strings"
)

// Parser consumes the flat token slice produced by the Lexer and builds an
// AST, resolving names against its symbol table as it goes.
//
// Grammar:
//
//	program        = declaration* EOF
//	declaration    = type declarator
//	declarator     = IDENTIFIER ( "(" params ")" block        ; function
//	               |              ("=" expression)? ";" )     ; variable
//	type           = ("int" | "char") "*"*
//	statement      = varDecl | block | if | while | returnStmt | exprStmt
//	block          = "{" statement* "}"
//	if             = "if" "(" expression ")" statement ("else" statement)?
//	while          = "while" "(" expression ")" statement
//	returnStmt     = "return" expression? ";"
//	exprStmt       = expression ";"
//	expression     = assignment
//	assignment     = logical_or ("=" assignment)?
//	logical_or     = logical_and ("||" logical_and)*
//	logical_and    = equality ("&&" equality)*
//	equality       = relational (("==" | "!=") relational)*
//	relational     = additive (("<" | ">" | "<=" | ">=") additive)*
//	additive       = multiplicative (("+" | "-") multiplicative)*
//	multiplicative = unary (("*" | "/" | "%") unary)*
//	unary          = ("!" | "-" | "&" | "*") unary | postfix
//	postfix        = primary ("(" args ")" | "[" expression "]")*
//	primary        = INTEGER | STRING | IDENTIFIER | "(" expression ")"
type Parser struct {
	tokens      []Token
	pos         int
	syms        *SymbolTable
	sourceLines []string
}

func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{
		tokens:      tokens,
		syms:        NewSymbolTable(),
		sourceLines: strings.Split(rawSource, "\n"),
	}
}

// Parse builds the program AST. The returned symbol table is fully populated
// with globals and functions; local scopes have all been popped.
func Parse(tokens []Token, rawSource string) ([]Stmt, *SymbolTable, error) {
	p := NewParser(tokens, rawSource)
	var program []Stmt
	for p.peek().Type != EOF {
		decl, err := p.parseDeclaration()
		if err != nil {
			return nil, nil, err
		}
		program = append(program, decl)
	}
	return program, p.syms, nil
}

// errorAt builds a ParseError with the trimmed source line attached.
func (p *Parser) errorAt(tok Token, expected string) error {
	snippet := ""
	if idx := tok.Line - 1; idx >= 0 && idx < len(p.sourceLines) {
		snippet = strings.TrimSpace(p.sourceLines[idx])
	}
	return &ParseError{Expected: expected, Found: tok, Snippet: snippet}
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

// expect consumes the current token if it matches tt, otherwise errors.
func (p *Parser) expect(tt TokenType) (Token, error) {
	tok := p.advance()
	if tok.Type != tt {
		return tok, p.errorAt(tok, tt.String())
	}
	return tok, nil
}

// parseType consumes "int" or "char" followed by any number of "*".
func (p *Parser) parseType() (Type, error) {
	var typ Type
	switch tok := p.advance(); tok.Type {
	case INT:
		typ.Base = BaseInt
	case CHAR:
		typ.Base = BaseChar
	default:
		return typ, p.errorAt(tok, "type keyword")
	}
	for p.peek().Type == STAR {
		p.advance()
		typ.Pointer++
	}
	return typ, nil
}

// parseDeclaration handles one top-level function or global variable.
func (p *Parser) parseDeclaration() (Stmt, error) {
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	if p.peek().Type == LPAREN {
		return p.parseFunction(typ, name)
	}
	return p.parseGlobalVar(typ, name)
}

func (p *Parser) parseGlobalVar(typ Type, name Token) (Stmt, error) {
	sym, err := p.syms.DeclareGlobal(name.Lexeme, typ, name.Line)
	if err != nil {
		return nil, err
	}
	var init Expr
	if p.peek().Type == ASSIGN {
		p.advance()
		init, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &VarDecl{Sym: sym, Init: init}, nil
}

// parseFunction handles params and body. The function symbol is declared
// before the body is parsed so that recursive calls resolve immediately.
func (p *Parser) parseFunction(ret Type, name Token) (Stmt, error) {
	p.advance() // consume (

	type param struct {
		typ  Type
		name Token
	}
	var params []param
	for p.peek().Type != RPAREN {
		if len(params) > 0 {
			if _, err := p.expect(COMMA); err != nil {
				return nil, err
			}
		}
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		pname, err := p.expect(IDENTIFIER)
		if err != nil {
			return nil, err
		}
		params = append(params, param{typ, pname})
	}
	p.advance() // consume )

	sym, err := p.syms.DeclareFunc(name.Lexeme, ret, len(params), name.Line)
	if err != nil {
		return nil, err
	}

	p.syms.EnterFunction()
	paramSyms := make([]*Symbol, len(params))
	for i, prm := range params {
		psym, err := p.syms.DeclareParam(prm.name.Lexeme, prm.typ, i, len(params), prm.name.Line)
		if err != nil {
			return nil, err
		}
		paramSyms[i] = psym
	}

	// The body's statements share the parameter scope, so a local cannot
	// redeclare a parameter name without an inner block.
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.errorAt(p.peek(), "}")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	p.advance() // consume }

	frameSize := p.syms.ExitFunction()
	return &FuncDecl{
		Sym:       sym,
		Params:    paramSyms,
		Body:      &BlockStmt{Stmts: stmts},
		FrameSize: frameSize,
	}, nil
}

func (p *Parser) parseStatement() (Stmt, error) {
	switch p.peek().Type {
	case INT, CHAR:
		return p.parseLocalVar()
	case LBRACE:
		return p.parseBlock()
	case IF:
		return p.parseIf()
	case WHILE:
		return p.parseWhile()
	case RETURN:
		return p.parseReturn()
	default:
		return p.parseExprStmt()
	}
}

func (p *Parser) parseLocalVar() (Stmt, error) {
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	name, err := p.expect(IDENTIFIER)
	if err != nil {
		return nil, err
	}
	sym, err := p.syms.DeclareLocal(name.Lexeme, typ, name.Line)
	if err != nil {
		return nil, err
	}
	var init Expr
	if p.peek().Type == ASSIGN {
		p.advance()
		init, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &VarDecl{Sym: sym, Init: init}, nil
}

// parseBlock opens a fresh scope for the statements it contains.
func (p *Parser) parseBlock() (Stmt, error) {
	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}
	p.syms.EnterScope()
	defer p.syms.ExitScope()

	var stmts []Stmt
	for p.peek().Type != RBRACE {
		if p.peek().Type == EOF {
			return nil, p.errorAt(p.peek(), "}")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	p.advance() // consume }
	return &BlockStmt{Stmts: stmts}, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	p.advance() // consume "if"
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	var elseBody Stmt
	if p.peek().Type == ELSE {
		p.advance()
		elseBody, err = p.parseStatement()
		if err != nil {
			return nil, err
		}
	}
	return &IfStmt{Condition: cond, Body: body, ElseBody: elseBody}, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	p.advance() // consume "while"
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	body, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	return &WhileStmt{Condition: cond, Body: body}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	p.advance() // consume "return"
	var expr Expr
	if p.peek().Type != SEMICOLON {
		var err error
		expr, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &ReturnStmt{Expr: expr}, nil
}

func (p *Parser) parseExprStmt() (Stmt, error) {
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(SEMICOLON); err != nil {
		return nil, err
	}
	return &ExprStmt{Expr: expr}, nil
}

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() (Expr, error) {
	return p.parseAssignment()
}

// parseAssignment handles =, which has the lowest precedence and is
// right-associative. Whether the target is actually assignable is checked by
// the code generator.
func (p *Parser) parseAssignment() (Expr, error) {
	expr, err := p.parseLogicalOr()
	if err != nil {
		return nil, err
	}
	if p.peek().Type == ASSIGN {
		p.advance()
		value, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		return &AssignExpr{Target: expr, Value: value}, nil
	}
	return expr, nil
}

// parseLogicalOr handles ||
func (p *Parser) parseLogicalOr() (Expr, error) {
	expr, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == OR_LOGICAL {
		op := p.advance().Type
		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		expr = &LogicalExpr{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

// parseLogicalAnd handles &&
func (p *Parser) parseLogicalAnd() (Expr, error) {
	expr, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == AND_LOGICAL {
		op := p.advance().Type
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		expr = &LogicalExpr{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

// parseEquality handles == and !=
func (p *Parser) parseEquality() (Expr, error) {
	expr, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == EQUALS || p.peek().Type == NOT_EQ {
		op := p.advance().Type
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

// parseRelational handles < > <= >=
func (p *Parser) parseRelational() (Expr, error) {
	expr, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		tt := p.peek().Type
		if tt != LESS && tt != GREATER && tt != LESS_EQ && tt != GREATER_EQ {
			return expr, nil
		}
		op := p.advance().Type
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Op: op, Left: expr, Right: right}
	}
}

// parseAdditive handles + and -
func (p *Parser) parseAdditive() (Expr, error) {
	expr, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == PLUS || p.peek().Type == MINUS {
		op := p.advance().Type
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

// parseMultiplicative handles * / %
func (p *Parser) parseMultiplicative() (Expr, error) {
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == STAR || p.peek().Type == SLASH || p.peek().Type == PERCENT {
		op := p.advance().Type
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr = &BinaryExpr{Op: op, Left: expr, Right: right}
	}
	return expr, nil
}

// parseUnary handles prefix ! - & *
func (p *Parser) parseUnary() (Expr, error) {
	tt := p.peek().Type
	if tt == NOT || tt == MINUS || tt == AND || tt == STAR {
		op := p.advance().Type
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: op, Right: right}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles calls and indexing.
func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case LPAREN:
			ref, ok := expr.(*VarRef)
			if !ok {
				return nil, p.errorAt(p.peek(), "operator (called value is not a function name)")
			}
			expr, err = p.parseCall(ref)
			if err != nil {
				return nil, err
			}
		case LBRACKET:
			p.advance() // consume [
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			expr = &IndexExpr{Left: expr, Index: index}
		default:
			return expr, nil
		}
	}
}

// parseCall turns an identifier reference into a call. ref.Sym may be nil for
// a forward reference; codegen patches those once the target is defined.
func (p *Parser) parseCall(ref *VarRef) (Expr, error) {
	lparen := p.advance() // consume (
	var args []Expr
	for p.peek().Type != RPAREN {
		if len(args) > 0 {
			if _, err := p.expect(COMMA); err != nil {
				return nil, err
			}
		}
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	p.advance() // consume )
	if ref.Sym != nil && ref.Sym.Class != ClassFunc {
		return nil, &SymbolError{Name: ref.Name, Line: lparen.Line, Msg: "is not a function"}
	}
	return &CallExpr{Name: ref.Name, Sym: ref.Sym, Args: args, Line: lparen.Line}, nil
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case INTEGER:
		p.advance()
		val, err := strconv.Atoi(tok.Lexeme)
		if err != nil {
			return nil, p.errorAt(tok, "integer literal in range")
		}
		return &Literal{Value: val}, nil
	case STRING:
		p.advance()
		return &StringLit{Value: tok.Lexeme}, nil
	case IDENTIFIER:
		p.advance()
		sym, ok := p.syms.Lookup(tok.Lexeme)
		if ok {
			return &VarRef{Name: tok.Lexeme, Sym: sym}, nil
		}
		// An undeclared name immediately followed by "(" is a forward
		// call (or a builtin like printf); anything else is an error.
		if p.peek().Type == LPAREN {
			return &VarRef{Name: tok.Lexeme}, nil
		}
		return nil, &SymbolError{Name: tok.Lexeme, Line: tok.Line, Msg: "undeclared"}
	case LPAREN:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return expr, nil
	default:
		return nil, p.errorAt(tok, "expression")
	}
}
