package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// BaseType is the scalar base of a declared type.
type BaseType int

const (
	BaseInt BaseType = iota
	BaseChar
)

// Type is a char/int base plus a pointer level (0 for scalars, 1 for *, ...).
type Type struct {
	Base    BaseType
	Pointer int
}

func (t Type) String() string {
	s := "int"
	if t.Base == BaseChar {
		s = "char"
	}
	return s + strings.Repeat("*", t.Pointer)
}

// IsChar reports whether values of t occupy a single byte (plain char).
// Pointers are always word-sized regardless of base.
func (t Type) IsChar() bool { return t.Base == BaseChar && t.Pointer == 0 }

// IsPointer reports whether t can be dereferenced or indexed.
func (t Type) IsPointer() bool { return t.Pointer > 0 }

// Deref returns the pointee type.
func (t Type) Deref() Type {
	if t.Pointer > 0 {
		return Type{Base: t.Base, Pointer: t.Pointer - 1}
	}
	return t
}

// SymbolClass is the storage class of a symbol.
type SymbolClass int

const (
	ClassGlobal SymbolClass = iota
	ClassLocal
	ClassParam
	ClassFunc
)

var classNames = [...]string{
	ClassGlobal: "global",
	ClassLocal:  "local",
	ClassParam:  "param",
	ClassFunc:   "func",
}

func (c SymbolClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("SymbolClass(%d)", int(c))
}

// Symbol is one named entity. Addr is a data-segment cell for globals, a
// signed bp-relative offset for locals and parameters, and a text-segment
// address for functions (assigned by the code generator when the body is
// emitted). Once assigned, an address never changes.
type Symbol struct {
	Name      string
	Class     SymbolClass
	Type      Type
	Addr      int
	NumParams int  // functions only
	Defined   bool // functions only: body emitted, Addr valid
}

// SymbolTable is one global scope plus a stack of local scopes for the
// function currently being parsed. Lookup walks innermost-first, so a local
// shadows a global purely by lookup order.
type SymbolTable struct {
	globals map[string]*Symbol

	// Stack of local scopes, each mapping name -> *Symbol.
	locals []map[string]*Symbol

	nextData  int // next free data-segment cell for globals
	numLocals int // locals declared so far in the current function
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{globals: make(map[string]*Symbol)}
}

// EnterFunction pushes the function-body scope. Parameters and locals are
// declared into it until the matching ExitFunction.
func (s *SymbolTable) EnterFunction() {
	s.locals = []map[string]*Symbol{make(map[string]*Symbol)}
	s.numLocals = 0
}

// ExitFunction pops every local scope and returns the frame size (the number
// of local cells the function's ENT must reserve).
func (s *SymbolTable) ExitFunction() int {
	s.locals = nil
	return s.numLocals
}

func (s *SymbolTable) EnterScope() {
	if len(s.locals) == 0 {
		panic("EnterScope called outside function")
	}
	s.locals = append(s.locals, make(map[string]*Symbol))
}

func (s *SymbolTable) ExitScope() {
	if len(s.locals) > 0 {
		s.locals = s.locals[:len(s.locals)-1]
	}
}

// InFunction reports whether a function body is currently open.
func (s *SymbolTable) InFunction() bool { return len(s.locals) > 0 }

// DeclareGlobal enters a global variable and assigns it the next data cell.
func (s *SymbolTable) DeclareGlobal(name string, typ Type, line int) (*Symbol, error) {
	if _, ok := s.globals[name]; ok {
		return nil, &SymbolError{Name: name, Line: line, Msg: "already declared in this scope"}
	}
	sym := &Symbol{Name: name, Class: ClassGlobal, Type: typ, Addr: s.nextData}
	s.nextData++
	s.globals[name] = sym
	return sym, nil
}

// DeclareFunc enters a function symbol in the global scope. Its text address
// stays unassigned until the code generator emits the body.
func (s *SymbolTable) DeclareFunc(name string, ret Type, numParams int, line int) (*Symbol, error) {
	if _, ok := s.globals[name]; ok {
		return nil, &SymbolError{Name: name, Line: line, Msg: "already declared in this scope"}
	}
	sym := &Symbol{Name: name, Class: ClassFunc, Type: ret, NumParams: numParams}
	s.globals[name] = sym
	return sym, nil
}

// DeclareParam enters the i-th (left to right, 0-based) of n parameters into
// the function-body scope. Arguments are pushed left to right before CALL, so
// after ENT the i-th lives at bp + 2 + (n-1-i).
func (s *SymbolTable) DeclareParam(name string, typ Type, i, n, line int) (*Symbol, error) {
	if len(s.locals) == 0 {
		panic("DeclareParam called outside function")
	}
	scope := s.locals[0]
	if _, ok := scope[name]; ok {
		return nil, &SymbolError{Name: name, Line: line, Msg: "already declared in this scope"}
	}
	sym := &Symbol{Name: name, Class: ClassParam, Type: typ, Addr: 2 + (n - 1 - i)}
	scope[name] = sym
	return sym, nil
}

// DeclareLocal enters a local variable into the current scope and assigns it
// the next frame slot. Slots are not reused when an inner scope exits; the
// frame size is simply the total local count.
func (s *SymbolTable) DeclareLocal(name string, typ Type, line int) (*Symbol, error) {
	if len(s.locals) == 0 {
		panic("DeclareLocal called outside function")
	}
	scope := s.locals[len(s.locals)-1]
	if _, ok := scope[name]; ok {
		return nil, &SymbolError{Name: name, Line: line, Msg: "already declared in this scope"}
	}
	s.numLocals++
	sym := &Symbol{Name: name, Class: ClassLocal, Type: typ, Addr: -s.numLocals}
	scope[name] = sym
	return sym, nil
}

// Lookup resolves name innermost-scope-first, then in the global scope.
func (s *SymbolTable) Lookup(name string) (*Symbol, bool) {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if sym, ok := s.locals[i][name]; ok {
			return sym, true
		}
	}
	sym, ok := s.globals[name]
	return sym, ok
}

// DataSize is the number of data-segment cells occupied by globals. String
// literals are interned after them by the code generator.
func (s *SymbolTable) DataSize() int { return s.nextData }

// Globals returns the global symbols in a deterministic order.
func (s *SymbolTable) Globals() []*Symbol {
	names := make([]string, 0, len(s.globals))
	for name := range s.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	syms := make([]*Symbol, len(names))
	for i, name := range names {
		syms[i] = s.globals[name]
	}
	return syms
}

// String returns a deterministically ordered dump of the table.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	sb.WriteString("Symbols:\n")
	for _, sym := range s.Globals() {
		if sym.Class == ClassFunc {
			fmt.Fprintf(&sb, "  %-16s %-6s %s/%d addr=%d\n",
				sym.Name, sym.Class, sym.Type, sym.NumParams, sym.Addr)
			continue
		}
		fmt.Fprintf(&sb, "  %-16s %-6s %s addr=%d\n", sym.Name, sym.Class, sym.Type, sym.Addr)
	}
	if len(s.locals) > 0 {
		sb.WriteString("Locals (active stack):\n")
		for i, scope := range s.locals {
			names := make([]string, 0, len(scope))
			for name := range scope {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintf(&sb, "  scope %d:\n", i)
			for _, name := range names {
				sym := scope[name]
				fmt.Fprintf(&sb, "    %-14s %-6s %s offset=%d\n", name, sym.Class, sym.Type, sym.Addr)
			}
		}
	}
	return sb.String()
}
