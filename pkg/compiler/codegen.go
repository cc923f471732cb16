package compiler

import (
	"fmt"
	"sort"

	"gocc/pkg/vm"
)

// builtins maps the library names the runtime understands to their syscall
// opcodes. A call to one of these compiles to the opcode with the argument
// count as operand, followed by ADJ. exit is handled separately because it
// consumes ax directly.
var builtins = map[string]vm.Opcode{
	"printf": vm.OpPRTF,
	"open":   vm.OpOPEN,
	"read":   vm.OpREAD,
	"close":  vm.OpCLOS,
	"malloc": vm.OpMALC,
	"memset": vm.OpMSET,
	"memcmp": vm.OpMCMP,
}

// binaryOps maps binary operator tokens to their opcodes.
var binaryOps = map[TokenType]vm.Opcode{
	PLUS:       vm.OpADD,
	MINUS:      vm.OpSUB,
	STAR:       vm.OpMUL,
	SLASH:      vm.OpDIV,
	PERCENT:    vm.OpMOD,
	EQUALS:     vm.OpEQ,
	NOT_EQ:     vm.OpNE,
	LESS:       vm.OpLT,
	GREATER:    vm.OpGT,
	LESS_EQ:    vm.OpLE,
	GREATER_EQ: vm.OpGE,
}

type pendingCall struct {
	index int // text index of the CALL to patch
	argc  int
	line  int
}

// CodeGen walks the AST in a single post-order pass and appends to the text
// segment. Every expression leaves its value in ax; binary operations push
// the left operand and combine it with ax. Forward branches are emitted with
// a -1 operand and patched in place once the destination is known.
type CodeGen struct {
	syms *SymbolTable
	text []vm.Instruction
	data []int

	strings      map[string]int // literal value -> interned data address
	pendingCalls map[string][]pendingCall
}

func newCodeGen(syms *SymbolTable) *CodeGen {
	return &CodeGen{
		syms:         syms,
		data:         make([]int, syms.DataSize()),
		strings:      make(map[string]int),
		pendingCalls: make(map[string][]pendingCall),
	}
}

// Generate translates a parsed program into a loadable Program. The text
// segment starts with a two-instruction prologue, CALL main then EXIT, so
// that main's return value becomes the exit code.
func Generate(program []Stmt, syms *SymbolTable) (*vm.Program, error) {
	cg := newCodeGen(syms)

	// Prologue. The CALL target is patched once main has been emitted.
	cg.emitArg(vm.OpCALL, -1)
	cg.emit(vm.OpEXIT)

	for _, stmt := range program {
		switch n := stmt.(type) {
		case *VarDecl:
			if err := cg.genGlobalInit(n); err != nil {
				return nil, err
			}
		case *FuncDecl:
			if err := cg.genFunction(n); err != nil {
				return nil, err
			}
		default:
			return nil, &CodegenError{Msg: fmt.Sprintf("unexpected top-level statement %s", stmt)}
		}
	}

	if err := cg.checkUnresolved(); err != nil {
		return nil, err
	}

	mainSym, ok := syms.Lookup("main")
	if !ok || mainSym.Class != ClassFunc || !mainSym.Defined {
		return nil, &CodegenError{Msg: "main is not defined"}
	}
	cg.text[0].Arg = mainSym.Addr

	if err := cg.checkTargets(); err != nil {
		return nil, err
	}
	return &vm.Program{Text: cg.text, Data: cg.data}, nil
}

// emit appends an operand-less instruction.
func (cg *CodeGen) emit(op vm.Opcode) int {
	cg.text = append(cg.text, vm.Instruction{Op: op})
	return len(cg.text) - 1
}

// emitArg appends an instruction with an operand and returns its index so
// forward branches can be patched.
func (cg *CodeGen) emitArg(op vm.Opcode, arg int) int {
	cg.text = append(cg.text, vm.Instruction{Op: op, Arg: arg})
	return len(cg.text) - 1
}

// patch rewrites the operand of a previously emitted branch.
func (cg *CodeGen) patch(index, target int) {
	cg.text[index].Arg = target
}

// here is the address the next emitted instruction will get.
func (cg *CodeGen) here() int { return len(cg.text) }

// internString places a string literal in the data segment, one char per
// cell, NUL terminated. Identical literals share one address.
func (cg *CodeGen) internString(s string) int {
	if addr, ok := cg.strings[s]; ok {
		return addr
	}
	addr := len(cg.data)
	for _, r := range s {
		cg.data = append(cg.data, int(r))
	}
	cg.data = append(cg.data, 0)
	cg.strings[s] = addr
	return addr
}

// genGlobalInit writes a global's constant initializer into the data image.
// Globals have fixed addresses, so no code is emitted for them.
func (cg *CodeGen) genGlobalInit(decl *VarDecl) error {
	if decl.Init == nil {
		return nil
	}
	val, err := cg.constValue(decl.Init)
	if err != nil {
		return &CodegenError{Msg: fmt.Sprintf(
			"global %q: initializer must be a constant expression", decl.Sym.Name)}
	}
	cg.data[decl.Sym.Addr] = val
	return nil
}

// constValue folds the initializer forms allowed for globals: integer
// literals, negated literals, and string literals (interned, address value).
func (cg *CodeGen) constValue(e Expr) (int, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil
	case *StringLit:
		return cg.internString(n.Value), nil
	case *UnaryExpr:
		if n.Op == MINUS {
			val, err := cg.constValue(n.Right)
			if err != nil {
				return 0, err
			}
			return -val, nil
		}
	}
	return 0, fmt.Errorf("not constant")
}

func (cg *CodeGen) genFunction(fn *FuncDecl) error {
	fn.Sym.Addr = cg.here()
	fn.Sym.Defined = true
	if err := cg.resolveCalls(fn.Sym); err != nil {
		return err
	}

	cg.emitArg(vm.OpENT, fn.FrameSize)
	for _, stmt := range fn.Body.Stmts {
		if err := cg.genStmt(stmt); err != nil {
			return err
		}
	}
	// The epilogue is emitted unconditionally: a branch out of the last
	// statement may have been patched to this address, so it must stay
	// inside the function even when the body already ends in LEV.
	cg.emit(vm.OpLEV)
	return nil
}

// resolveCalls patches every forward reference to a newly defined function.
func (cg *CodeGen) resolveCalls(sym *Symbol) error {
	for _, call := range cg.pendingCalls[sym.Name] {
		if call.argc != sym.NumParams {
			return &CodegenError{Msg: fmt.Sprintf(
				"line %d: call to %q with %d arguments, want %d",
				call.line, sym.Name, call.argc, sym.NumParams)}
		}
		cg.patch(call.index, sym.Addr)
	}
	delete(cg.pendingCalls, sym.Name)
	return nil
}

// checkUnresolved reports calls whose target was never defined, in a
// deterministic order.
func (cg *CodeGen) checkUnresolved() error {
	if len(cg.pendingCalls) == 0 {
		return nil
	}
	names := make([]string, 0, len(cg.pendingCalls))
	for name := range cg.pendingCalls {
		names = append(names, name)
	}
	sort.Strings(names)
	first := cg.pendingCalls[names[0]][0]
	return &CodegenError{Msg: fmt.Sprintf(
		"line %d: call to undefined function %q", first.line, names[0])}
}

// checkTargets verifies that no branch operand is left unresolved or points
// outside the text segment.
func (cg *CodeGen) checkTargets() error {
	for i, in := range cg.text {
		switch in.Op {
		case vm.OpJMP, vm.OpBZ, vm.OpBNZ, vm.OpCALL:
			if in.Arg < 0 || in.Arg >= len(cg.text) {
				return &CodegenError{Msg: fmt.Sprintf(
					"instruction %d: %s target %d out of range", i, in.Op, in.Arg)}
			}
		}
	}
	return nil
}

func (cg *CodeGen) genStmt(stmt Stmt) error {
	switch n := stmt.(type) {
	case *VarDecl:
		return cg.genLocalDecl(n)
	case *BlockStmt:
		for _, inner := range n.Stmts {
			if err := cg.genStmt(inner); err != nil {
				return err
			}
		}
		return nil
	case *IfStmt:
		return cg.genIf(n)
	case *WhileStmt:
		return cg.genWhile(n)
	case *ReturnStmt:
		if n.Expr != nil {
			if err := cg.genExpr(n.Expr); err != nil {
				return err
			}
		}
		cg.emit(vm.OpLEV)
		return nil
	case *ExprStmt:
		return cg.genExpr(n.Expr)
	default:
		return &CodegenError{Msg: fmt.Sprintf("unexpected statement %s", stmt)}
	}
}

// genLocalDecl emits the initializing store; the slot itself was reserved by
// the function's ENT.
func (cg *CodeGen) genLocalDecl(decl *VarDecl) error {
	if decl.Init == nil {
		return nil
	}
	cg.emitArg(vm.OpLEA, decl.Sym.Addr)
	cg.emit(vm.OpPSH)
	if err := cg.genExpr(decl.Init); err != nil {
		return err
	}
	cg.emitStore(decl.Sym.Type)
	return nil
}

func (cg *CodeGen) genIf(n *IfStmt) error {
	if err := cg.genExpr(n.Condition); err != nil {
		return err
	}
	toElse := cg.emitArg(vm.OpBZ, -1)
	if err := cg.genStmt(n.Body); err != nil {
		return err
	}
	if n.ElseBody == nil {
		cg.patch(toElse, cg.here())
		return nil
	}
	toEnd := cg.emitArg(vm.OpJMP, -1)
	cg.patch(toElse, cg.here())
	if err := cg.genStmt(n.ElseBody); err != nil {
		return err
	}
	cg.patch(toEnd, cg.here())
	return nil
}

func (cg *CodeGen) genWhile(n *WhileStmt) error {
	start := cg.here()
	if err := cg.genExpr(n.Condition); err != nil {
		return err
	}
	toEnd := cg.emitArg(vm.OpBZ, -1)
	if err := cg.genStmt(n.Body); err != nil {
		return err
	}
	cg.emitArg(vm.OpJMP, start)
	cg.patch(toEnd, cg.here())
	return nil
}

// genExpr emits code leaving the expression's value in ax.
func (cg *CodeGen) genExpr(e Expr) error {
	switch n := e.(type) {
	case *Literal:
		cg.emitArg(vm.OpIMM, n.Value)
		return nil

	case *StringLit:
		cg.emitArg(vm.OpIMM, cg.internString(n.Value))
		return nil

	case *VarRef:
		if n.Sym == nil || n.Sym.Class == ClassFunc {
			return &CodegenError{Msg: fmt.Sprintf("function %q used as a value", n.Name)}
		}
		if err := cg.genAddr(n); err != nil {
			return err
		}
		cg.emitLoad(n.Sym.Type)
		return nil

	case *UnaryExpr:
		return cg.genUnary(n)

	case *BinaryExpr:
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		cg.emit(vm.OpPSH)
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.emit(binaryOps[n.Op])
		return nil

	case *LogicalExpr:
		// Short circuit: the right operand only runs when the left one
		// did not already decide the result.
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		br := vm.OpBZ
		if n.Op == OR_LOGICAL {
			br = vm.OpBNZ
		}
		skip := cg.emitArg(br, -1)
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.patch(skip, cg.here())
		return nil

	case *AssignExpr:
		if err := cg.genAddr(n.Target); err != nil {
			return err
		}
		cg.emit(vm.OpPSH)
		if err := cg.genExpr(n.Value); err != nil {
			return err
		}
		cg.emitStore(cg.exprType(n.Target))
		return nil

	case *IndexExpr:
		if err := cg.genAddr(n); err != nil {
			return err
		}
		cg.emitLoad(cg.exprType(n))
		return nil

	case *CallExpr:
		return cg.genCall(n)

	default:
		return &CodegenError{Msg: fmt.Sprintf("unexpected expression %s", e)}
	}
}

func (cg *CodeGen) genUnary(n *UnaryExpr) error {
	switch n.Op {
	case NOT:
		// !x is x == 0.
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.emit(vm.OpPSH)
		cg.emitArg(vm.OpIMM, 0)
		cg.emit(vm.OpEQ)
		return nil
	case MINUS:
		// -x is 0 - x.
		cg.emitArg(vm.OpIMM, 0)
		cg.emit(vm.OpPSH)
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.emit(vm.OpSUB)
		return nil
	case AND:
		return cg.genAddr(n.Right)
	case STAR:
		if err := cg.genExpr(n.Right); err != nil {
			return err
		}
		cg.emitLoad(cg.exprType(n.Right).Deref())
		return nil
	default:
		return &CodegenError{Msg: fmt.Sprintf("unexpected unary operator %s", n.Op)}
	}
}

func (cg *CodeGen) genCall(n *CallExpr) error {
	for _, arg := range n.Args {
		if err := cg.genExpr(arg); err != nil {
			return err
		}
		cg.emit(vm.OpPSH)
	}

	if n.Sym == nil {
		if n.Name == "exit" {
			return cg.genExit(n)
		}
		if op, ok := builtins[n.Name]; ok {
			cg.emitArg(op, len(n.Args))
			if len(n.Args) > 0 {
				cg.emitArg(vm.OpADJ, len(n.Args))
			}
			return nil
		}
		// A forward reference: emit with a placeholder target and patch
		// when (if) the function is defined.
		idx := cg.emitArg(vm.OpCALL, -1)
		cg.pendingCalls[n.Name] = append(cg.pendingCalls[n.Name],
			pendingCall{index: idx, argc: len(n.Args), line: n.Line})
	} else {
		if n.Sym.NumParams != len(n.Args) {
			return &CodegenError{Msg: fmt.Sprintf(
				"line %d: call to %q with %d arguments, want %d",
				n.Line, n.Name, len(n.Args), n.Sym.NumParams)}
		}
		if n.Sym.Defined {
			cg.emitArg(vm.OpCALL, n.Sym.Addr)
		} else {
			idx := cg.emitArg(vm.OpCALL, -1)
			cg.pendingCalls[n.Name] = append(cg.pendingCalls[n.Name],
				pendingCall{index: idx, argc: len(n.Args), line: n.Line})
		}
	}

	if len(n.Args) > 0 {
		cg.emitArg(vm.OpADJ, len(n.Args))
	}
	return nil
}

// genExit compiles exit(code). The arguments were already pushed; the value
// EXIT reports comes from ax, so reload the pushed argument first.
func (cg *CodeGen) genExit(n *CallExpr) error {
	switch len(n.Args) {
	case 0:
		cg.emitArg(vm.OpIMM, 0)
	case 1:
		// The single argument is on top of the stack and still in ax.
		cg.emitArg(vm.OpADJ, 1)
	default:
		return &CodegenError{Msg: fmt.Sprintf(
			"line %d: exit takes at most one argument, got %d", n.Line, len(n.Args))}
	}
	cg.emit(vm.OpEXIT)
	return nil
}

// genAddr emits code leaving the lvalue's address in ax.
func (cg *CodeGen) genAddr(e Expr) error {
	switch n := e.(type) {
	case *VarRef:
		if n.Sym == nil || n.Sym.Class == ClassFunc {
			return &CodegenError{Msg: fmt.Sprintf("not an lvalue: %s", e)}
		}
		if n.Sym.Class == ClassGlobal {
			cg.emitArg(vm.OpIMM, n.Sym.Addr)
		} else {
			cg.emitArg(vm.OpLEA, n.Sym.Addr)
		}
		return nil

	case *IndexExpr:
		// Addresses name whole cells, so no element scaling is needed.
		if err := cg.genExpr(n.Left); err != nil {
			return err
		}
		cg.emit(vm.OpPSH)
		if err := cg.genExpr(n.Index); err != nil {
			return err
		}
		cg.emit(vm.OpADD)
		return nil

	case *UnaryExpr:
		if n.Op == STAR {
			return cg.genExpr(n.Right)
		}
	}
	return &CodegenError{Msg: fmt.Sprintf("not an lvalue: %s", e)}
}

// emitLoad emits LI or LC depending on whether the loaded value is a plain
// char (LC masks to a byte; everything else is a full cell).
func (cg *CodeGen) emitLoad(typ Type) {
	if typ.IsChar() {
		cg.emit(vm.OpLC)
	} else {
		cg.emit(vm.OpLI)
	}
}

func (cg *CodeGen) emitStore(typ Type) {
	if typ.IsChar() {
		cg.emit(vm.OpSC)
	} else {
		cg.emit(vm.OpSI)
	}
}

// exprType computes the static type of an expression for load/store width
// selection. Anything without a clear declared type is an int.
func (cg *CodeGen) exprType(e Expr) Type {
	switch n := e.(type) {
	case *StringLit:
		return Type{Base: BaseChar, Pointer: 1}
	case *VarRef:
		if n.Sym != nil {
			return n.Sym.Type
		}
	case *UnaryExpr:
		switch n.Op {
		case STAR:
			return cg.exprType(n.Right).Deref()
		case AND:
			t := cg.exprType(n.Right)
			t.Pointer++
			return t
		}
	case *IndexExpr:
		return cg.exprType(n.Left).Deref()
	case *AssignExpr:
		return cg.exprType(n.Target)
	case *BinaryExpr:
		// Pointer arithmetic keeps the pointer operand's type.
		if lt := cg.exprType(n.Left); lt.IsPointer() {
			return lt
		}
		if rt := cg.exprType(n.Right); rt.IsPointer() {
			return rt
		}
	case *CallExpr:
		if n.Sym != nil {
			return n.Sym.Type
		}
	}
	return Type{Base: BaseInt}
}
