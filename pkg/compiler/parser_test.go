package compiler

import (
	"errors"
	"strings"
	"testing"
)

func parseSource(t *testing.T, src string) ([]Stmt, *SymbolTable) {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	program, syms, err := Parse(tokens, src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return program, syms
}

func TestParseFunction(t *testing.T) {
	program, _ := parseSource(t, `
	int add(int a, int b) {
		int sum = a + b;
		return sum;
	}
	`)
	if len(program) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(program))
	}
	fn, ok := program[0].(*FuncDecl)
	if !ok {
		t.Fatalf("expected *FuncDecl, got %T", program[0])
	}
	if fn.Sym.Name != "add" || fn.Sym.NumParams != 2 {
		t.Errorf("expected add/2, got %s/%d", fn.Sym.Name, fn.Sym.NumParams)
	}
	if fn.FrameSize != 1 {
		t.Errorf("expected frame size 1, got %d", fn.FrameSize)
	}
	// Two parameters: the first sits deeper in the frame.
	if fn.Params[0].Addr != 3 || fn.Params[1].Addr != 2 {
		t.Errorf("expected param offsets 3,2, got %d,%d", fn.Params[0].Addr, fn.Params[1].Addr)
	}
	if len(fn.Body.Stmts) != 2 {
		t.Fatalf("expected 2 body statements, got %d", len(fn.Body.Stmts))
	}
	decl, ok := fn.Body.Stmts[0].(*VarDecl)
	if !ok {
		t.Fatalf("expected *VarDecl, got %T", fn.Body.Stmts[0])
	}
	if decl.Sym.Addr != -1 || decl.Sym.Class != ClassLocal {
		t.Errorf("expected local at offset -1, got %s at %d", decl.Sym.Class, decl.Sym.Addr)
	}
}

func TestParsePrecedence(t *testing.T) {
	program, _ := parseSource(t, `
	int main() {
		return 1 + 2 * 3;
	}
	`)
	fn := program[0].(*FuncDecl)
	ret := fn.Body.Stmts[0].(*ReturnStmt)
	add, ok := ret.Expr.(*BinaryExpr)
	if !ok || add.Op != PLUS {
		t.Fatalf("expected + at the root, got %s", ret.Expr)
	}
	mul, ok := add.Right.(*BinaryExpr)
	if !ok || mul.Op != STAR {
		t.Fatalf("expected * on the right of +, got %s", add.Right)
	}
}

func TestParseAssignmentRightAssociative(t *testing.T) {
	program, _ := parseSource(t, `
	int main() {
		int a;
		int b;
		a = b = 1;
		return a;
	}
	`)
	fn := program[0].(*FuncDecl)
	stmt := fn.Body.Stmts[2].(*ExprStmt)
	outer, ok := stmt.Expr.(*AssignExpr)
	if !ok {
		t.Fatalf("expected assignment, got %s", stmt.Expr)
	}
	if _, ok := outer.Value.(*AssignExpr); !ok {
		t.Fatalf("expected nested assignment on the right, got %s", outer.Value)
	}
}

func TestParsePointerTypes(t *testing.T) {
	program, _ := parseSource(t, `
	char **argv;
	int main() {
		int *p;
		return 0;
	}
	`)
	global := program[0].(*VarDecl)
	if got := global.Sym.Type.String(); got != "char**" {
		t.Errorf("expected char**, got %s", got)
	}
	fn := program[1].(*FuncDecl)
	local := fn.Body.Stmts[0].(*VarDecl)
	if got := local.Sym.Type.String(); got != "int*" {
		t.Errorf("expected int*, got %s", got)
	}
}

func TestParseUndeclaredVariable(t *testing.T) {
	tokens, _ := Lex(`int main() { return x; }`)
	_, _, err := Parse(tokens, "")
	var symErr *SymbolError
	if !errors.As(err, &symErr) {
		t.Fatalf("expected SymbolError, got %v", err)
	}
	if symErr.Name != "x" {
		t.Errorf("expected error about x, got %q", symErr.Name)
	}
}

func TestParseDuplicateDeclaration(t *testing.T) {
	cases := []string{
		`int x; int x;`,
		`int main() { int a; int a; return 0; }`,
		`int f(int a) { int a; return a; }`,
	}
	for _, src := range cases {
		tokens, _ := Lex(src)
		_, _, err := Parse(tokens, src)
		var symErr *SymbolError
		if !errors.As(err, &symErr) {
			t.Errorf("%q: expected SymbolError, got %v", src, err)
		}
	}
}

func TestParseShadowing(t *testing.T) {
	program, _ := parseSource(t, `
	int x;
	int main() {
		int x = 1;
		{
			int x = 2;
			x = 3;
		}
		return x;
	}
	`)
	fn := program[1].(*FuncDecl)
	outer := fn.Body.Stmts[0].(*VarDecl)
	block := fn.Body.Stmts[1].(*BlockStmt)
	inner := block.Stmts[0].(*VarDecl)
	assign := block.Stmts[1].(*ExprStmt).Expr.(*AssignExpr)
	ret := fn.Body.Stmts[2].(*ReturnStmt)

	if assign.Target.(*VarRef).Sym != inner.Sym {
		t.Error("assignment in inner block should resolve to the inner x")
	}
	if ret.Expr.(*VarRef).Sym != outer.Sym {
		t.Error("return should resolve to the outer local x")
	}
	if inner.Sym.Addr == outer.Sym.Addr {
		t.Error("shadowing locals should occupy distinct slots")
	}
}

func TestParseForwardCall(t *testing.T) {
	program, _ := parseSource(t, `
	int main() {
		return helper(1);
	}
	int helper(int n) {
		return n;
	}
	`)
	fn := program[0].(*FuncDecl)
	call := fn.Body.Stmts[0].(*ReturnStmt).Expr.(*CallExpr)
	if call.Sym != nil {
		t.Error("forward call should leave Sym nil for codegen to patch")
	}
	if call.Name != "helper" || len(call.Args) != 1 {
		t.Errorf("expected helper(1), got %s", call)
	}
}

func TestParseErrorsCarrySnippet(t *testing.T) {
	src := "int main() {\n\treturn 1\n}"
	tokens, _ := Lex(src)
	_, _, err := Parse(tokens, src)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Expected != SEMICOLON.String() {
		t.Errorf("expected missing semicolon, got %q", parseErr.Expected)
	}
	if !strings.Contains(err.Error(), "|>") {
		t.Errorf("expected a source snippet in the message: %v", err)
	}
}

func TestParseStatementForms(t *testing.T) {
	program, _ := parseSource(t, `
	int main() {
		int i = 0;
		while (i < 10) {
			i = i + 1;
		}
		if (i == 10) {
			return 1;
		} else {
			return 0;
		}
	}
	`)
	fn := program[0].(*FuncDecl)
	if _, ok := fn.Body.Stmts[1].(*WhileStmt); !ok {
		t.Errorf("expected WhileStmt, got %T", fn.Body.Stmts[1])
	}
	ifStmt, ok := fn.Body.Stmts[2].(*IfStmt)
	if !ok {
		t.Fatalf("expected IfStmt, got %T", fn.Body.Stmts[2])
	}
	if ifStmt.ElseBody == nil {
		t.Error("expected an else branch")
	}
}

func TestParseCallOnNonFunction(t *testing.T) {
	src := `int x; int main() { return x(); }`
	tokens, _ := Lex(src)
	_, _, err := Parse(tokens, src)
	var symErr *SymbolError
	if !errors.As(err, &symErr) {
		t.Fatalf("expected SymbolError, got %v", err)
	}
}
