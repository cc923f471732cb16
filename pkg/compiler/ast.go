package compiler

import (
	"fmt"
	"strings"
)

//  Expression nodes

// Expr is implemented by every node that produces a value.
// genExpr always leaves the result in ax.
type Expr interface {
	exprNode()
	String() string
}

// Literal is a compile-time integer constant. Character literals arrive here
// too, already folded to their numeric value by the lexer.
type Literal struct {
	Value int
}

func (*Literal) exprNode()        {}
func (l *Literal) String() string { return fmt.Sprintf("%d", l.Value) }

// StringLit is a string constant "...". Its data-segment address is assigned
// by the code generator (identical literals share one address).
type StringLit struct {
	Value string
}

func (*StringLit) exprNode()        {}
func (s *StringLit) String() string { return fmt.Sprintf("%q", s.Value) }

// VarRef is a read of a named variable, resolved to its symbol at parse time.
type VarRef struct {
	Name string
	Sym  *Symbol
}

func (*VarRef) exprNode()        {}
func (v *VarRef) String() string { return v.Name }

// BinaryExpr represents an arithmetic or comparison operation: Left Op Right.
type BinaryExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}

// LogicalExpr represents Left && Right or Left || Right. It is separate from
// BinaryExpr because code generation short-circuits the right operand.
type LogicalExpr struct {
	Op    TokenType
	Left  Expr
	Right Expr
}

func (*LogicalExpr) exprNode() {}
func (l *LogicalExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", l.Left, l.Op, l.Right)
}

// UnaryExpr represents Op Right (!x, -x, &x, *p).
type UnaryExpr struct {
	Op    TokenType
	Right Expr
}

func (*UnaryExpr) exprNode()        {}
func (u *UnaryExpr) String() string { return fmt.Sprintf("(%s %s)", u.Op, u.Right) }

// AssignExpr represents Target = Value. Assignment is an expression with the
// lowest precedence; its value is the stored value.
type AssignExpr struct {
	Target Expr
	Value  Expr
}

func (*AssignExpr) exprNode() {}
func (a *AssignExpr) String() string {
	return fmt.Sprintf("(%s = %s)", a.Target, a.Value)
}

// CallExpr represents name(args). Sym is nil for a forward reference to a
// function defined later; the code generator resolves it through its patch
// list.
type CallExpr struct {
	Name string
	Sym  *Symbol
	Args []Expr
	Line int
}

func (*CallExpr) exprNode() {}
func (c *CallExpr) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}

// IndexExpr represents Left[Index] on a pointer.
type IndexExpr struct {
	Left  Expr
	Index Expr
}

func (*IndexExpr) exprNode()        {}
func (e *IndexExpr) String() string { return fmt.Sprintf("%s[%s]", e.Left, e.Index) }

//  Statement nodes

// Stmt is implemented by every node that does not produce a value.
type Stmt interface {
	stmtNode()
	String() string
}

// VarDecl represents  int name = expr;  for a global or local variable.
// The symbol (with its storage class and address) is assigned at parse time.
type VarDecl struct {
	Sym  *Symbol
	Init Expr // may be nil
}

func (*VarDecl) stmtNode() {}
func (d *VarDecl) String() string {
	if d.Init != nil {
		return fmt.Sprintf("VarDecl(%s %s = %s)", d.Sym.Type, d.Sym.Name, d.Init)
	}
	return fmt.Sprintf("VarDecl(%s %s)", d.Sym.Type, d.Sym.Name)
}

// FuncDecl represents  int name(params) { body }.
// FrameSize is the number of local cells the function's ENT must reserve.
type FuncDecl struct {
	Sym       *Symbol
	Params    []*Symbol
	Body      *BlockStmt
	FrameSize int
}

func (*FuncDecl) stmtNode() {}
func (f *FuncDecl) String() string {
	parts := make([]string, len(f.Params))
	for i, p := range f.Params {
		parts[i] = fmt.Sprintf("%s %s", p.Type, p.Name)
	}
	return fmt.Sprintf("FuncDecl(%s %s(%s), frame=%d)",
		f.Sym.Type, f.Sym.Name, strings.Join(parts, ", "), f.FrameSize)
}

// BlockStmt represents { statement; ... }
type BlockStmt struct {
	Stmts []Stmt
}

func (*BlockStmt) stmtNode() {}
func (b *BlockStmt) String() string {
	return fmt.Sprintf("BlockStmt(len=%d)", len(b.Stmts))
}

// IfStmt represents if (cond) body [else elseBody]
type IfStmt struct {
	Condition Expr
	Body      Stmt
	ElseBody  Stmt // may be nil
}

func (*IfStmt) stmtNode() {}
func (i *IfStmt) String() string {
	if i.ElseBody != nil {
		return fmt.Sprintf("IfStmt(if %s then %s else %s)", i.Condition, i.Body, i.ElseBody)
	}
	return fmt.Sprintf("IfStmt(if %s then %s)", i.Condition, i.Body)
}

// WhileStmt represents while (cond) body
type WhileStmt struct {
	Condition Expr
	Body      Stmt
}

func (*WhileStmt) stmtNode() {}
func (w *WhileStmt) String() string {
	return fmt.Sprintf("WhileStmt(while %s do %s)", w.Condition, w.Body)
}

// ReturnStmt represents  return expr;
type ReturnStmt struct {
	Expr Expr // may be nil
}

func (*ReturnStmt) stmtNode() {}
func (r *ReturnStmt) String() string {
	if r.Expr == nil {
		return "ReturnStmt()"
	}
	return fmt.Sprintf("ReturnStmt(%s)", r.Expr)
}

// ExprStmt represents an expression evaluated for its side effects.
type ExprStmt struct {
	Expr Expr
}

func (*ExprStmt) stmtNode() {}
func (e *ExprStmt) String() string {
	return fmt.Sprintf("ExprStmt(%s)", e.Expr)
}

// DumpAST renders one entry per node, indented by depth, for the -ast dump.
func DumpAST(stmts []Stmt) string {
	var sb strings.Builder
	for _, s := range stmts {
		dumpStmt(&sb, s, 0)
	}
	return sb.String()
}

func indent(sb *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		sb.WriteString("  ")
	}
}

func dumpStmt(sb *strings.Builder, s Stmt, depth int) {
	indent(sb, depth)
	sb.WriteString(s.String())
	sb.WriteByte('\n')
	switch n := s.(type) {
	case *FuncDecl:
		dumpStmt(sb, n.Body, depth+1)
	case *BlockStmt:
		for _, inner := range n.Stmts {
			dumpStmt(sb, inner, depth+1)
		}
	case *IfStmt:
		dumpStmt(sb, n.Body, depth+1)
		if n.ElseBody != nil {
			dumpStmt(sb, n.ElseBody, depth+1)
		}
	case *WhileStmt:
		dumpStmt(sb, n.Body, depth+1)
	}
}
