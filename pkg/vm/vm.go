package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrRunLimit is returned by Run when RunLimit instructions have executed
// without reaching EXIT.
var ErrRunLimit = errors.New("vm: run limit exceeded")

const (
	// StackBase is the first address of the stack segment. Data-segment
	// addresses live below it, so a data image may grow to 64K cells.
	StackBase = 1 << 16

	// DefaultStackSize is the stack capacity in cells.
	DefaultStackSize = 4096
)

// FaultKind classifies the ways execution can halt abnormally.
type FaultKind int

const (
	FaultStackOverflow FaultKind = iota
	FaultStackUnderflow
	FaultInvalidOpcode
	FaultOutOfBounds
	FaultDivideByZero
	FaultBadSyscall
)

var faultNames = [...]string{
	FaultStackOverflow:  "stack overflow",
	FaultStackUnderflow: "stack underflow",
	FaultInvalidOpcode:  "invalid opcode",
	FaultOutOfBounds:    "out-of-bounds access",
	FaultDivideByZero:   "division by zero",
	FaultBadSyscall:     "unsupported syscall",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) {
		return faultNames[k]
	}
	return fmt.Sprintf("FaultKind(%d)", int(k))
}

// Fault is the error produced when the fetch-execute loop stops on anything
// other than EXIT. PC is the address of the faulting instruction.
type Fault struct {
	Kind   FaultKind
	PC     int
	SP     int
	Detail string
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("vm fault: %s at pc=%d sp=%d (%s)", f.Kind, f.PC, f.SP, f.Detail)
	}
	return fmt.Sprintf("vm fault: %s at pc=%d sp=%d", f.Kind, f.PC, f.SP)
}

// TraceRecord is the snapshot handed to the trace hook immediately before an
// instruction executes.
type TraceRecord struct {
	PC       int
	Op       Opcode
	Arg      int
	StackTop int
	AX       int
}

func (r TraceRecord) String() string {
	in := Instruction{Op: r.Op, Arg: r.Arg}
	return fmt.Sprintf("%4d  %-9s top=%-6d ax=%d", r.PC, in, r.StackTop, r.AX)
}

// VM executes a Program against a register/stack/segment model. Each VM owns
// its state exclusively; nothing is shared between independent runs.
type VM struct {
	PC int // address of the next instruction
	SP int // stack pointer; grows toward lower addresses
	BP int // base of the current frame
	AX int // last expression / syscall result

	Text  []Instruction
	Data  []int
	Stack []int

	// Output receives the bytes written by PRTF. If nil, os.Stdout is used.
	Output io.Writer

	// Trace, if non-nil, is invoked before every instruction. It must not
	// mutate machine state.
	Trace func(TraceRecord)

	// RunLimit bounds the number of executed instructions; zero means no
	// bound.
	RunLimit int

	Halted   bool
	ExitCode int

	syscalls [opCount]SyscallFunc
}

// NewVM loads prog into a fresh machine. The data image is copied so the
// program may be executed any number of times on independent machines.
func NewVM(prog *Program) *VM {
	m := &VM{
		Text:  prog.Text,
		Data:  append([]int(nil), prog.Data...),
		Stack: make([]int, DefaultStackSize),
	}
	m.SP = StackBase + len(m.Stack)
	m.BP = m.SP
	bindDefaultSyscalls(m)
	return m
}

func (m *VM) outputSink() io.Writer {
	if m.Output != nil {
		return m.Output
	}
	return os.Stdout
}

func (m *VM) stackTop() int {
	return StackBase + len(m.Stack)
}

func (m *VM) fault(pc int, kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, PC: pc, SP: m.SP, Detail: fmt.Sprintf(format, args...)}
}

// load reads the cell at addr from the data or stack segment.
func (m *VM) load(pc, addr int) (int, error) {
	if addr >= 0 && addr < len(m.Data) {
		return m.Data[addr], nil
	}
	if addr >= StackBase && addr < m.stackTop() {
		return m.Stack[addr-StackBase], nil
	}
	return 0, m.fault(pc, FaultOutOfBounds, "load from %d", addr)
}

func (m *VM) store(pc, addr, val int) error {
	if addr >= 0 && addr < len(m.Data) {
		m.Data[addr] = val
		return nil
	}
	if addr >= StackBase && addr < m.stackTop() {
		m.Stack[addr-StackBase] = val
		return nil
	}
	return m.fault(pc, FaultOutOfBounds, "store to %d", addr)
}

func (m *VM) push(pc, val int) error {
	if m.SP <= StackBase {
		return m.fault(pc, FaultStackOverflow, "push with sp=%d", m.SP)
	}
	m.SP--
	m.Stack[m.SP-StackBase] = val
	return nil
}

func (m *VM) pop(pc int) (int, error) {
	if m.SP >= m.stackTop() {
		return 0, m.fault(pc, FaultStackUnderflow, "pop with sp=%d", m.SP)
	}
	v := m.Stack[m.SP-StackBase]
	m.SP++
	return v, nil
}

// Step fetches and executes one instruction. It returns true once the machine
// has halted via EXIT.
func (m *VM) Step() (bool, error) {
	if m.Halted {
		return true, nil
	}

	pc := m.PC
	if pc < 0 || pc >= len(m.Text) {
		return false, m.fault(pc, FaultOutOfBounds, "fetch from %d", pc)
	}
	in := m.Text[pc]
	m.PC++

	if m.Trace != nil {
		top := 0
		if m.SP < m.stackTop() {
			top = m.Stack[m.SP-StackBase]
		}
		m.Trace(TraceRecord{PC: pc, Op: in.Op, Arg: in.Arg, StackTop: top, AX: m.AX})
	}

	switch in.Op {
	case OpLEA:
		m.AX = m.BP + in.Arg

	case OpIMM:
		m.AX = in.Arg

	case OpJMP:
		m.PC = in.Arg

	case OpCALL:
		if err := m.push(pc, m.PC); err != nil {
			return false, err
		}
		m.PC = in.Arg

	case OpBZ:
		if m.AX == 0 {
			m.PC = in.Arg
		}

	case OpBNZ:
		if m.AX != 0 {
			m.PC = in.Arg
		}

	case OpENT:
		if err := m.push(pc, m.BP); err != nil {
			return false, err
		}
		m.BP = m.SP
		if m.SP-in.Arg < StackBase {
			return false, m.fault(pc, FaultStackOverflow, "ENT %d with sp=%d", in.Arg, m.SP)
		}
		m.SP -= in.Arg

	case OpADJ:
		if m.SP+in.Arg > m.stackTop() {
			return false, m.fault(pc, FaultStackUnderflow, "ADJ %d with sp=%d", in.Arg, m.SP)
		}
		m.SP += in.Arg

	case OpLEV:
		m.SP = m.BP
		bp, err := m.pop(pc)
		if err != nil {
			return false, err
		}
		ret, err := m.pop(pc)
		if err != nil {
			return false, err
		}
		m.BP = bp
		m.PC = ret

	case OpLI:
		v, err := m.load(pc, m.AX)
		if err != nil {
			return false, err
		}
		m.AX = v

	case OpLC:
		v, err := m.load(pc, m.AX)
		if err != nil {
			return false, err
		}
		m.AX = v & 0xFF

	case OpSI:
		addr, err := m.pop(pc)
		if err != nil {
			return false, err
		}
		if err := m.store(pc, addr, m.AX); err != nil {
			return false, err
		}

	case OpSC:
		addr, err := m.pop(pc)
		if err != nil {
			return false, err
		}
		m.AX &= 0xFF
		if err := m.store(pc, addr, m.AX); err != nil {
			return false, err
		}

	case OpPSH:
		if err := m.push(pc, m.AX); err != nil {
			return false, err
		}

	case OpOR, OpXOR, OpAND, OpEQ, OpNE, OpLT, OpGT, OpLE, OpGE,
		OpSHL, OpSHR, OpADD, OpSUB, OpMUL, OpDIV, OpMOD:
		left, err := m.pop(pc)
		if err != nil {
			return false, err
		}
		if in.Op == OpDIV || in.Op == OpMOD {
			if m.AX == 0 {
				return false, m.fault(pc, FaultDivideByZero, "%s with ax=0", in.Op)
			}
			// MinInt / -1 has no representable quotient and would
			// panic the host otherwise.
			if left == math.MinInt && m.AX == -1 {
				return false, m.fault(pc, FaultDivideByZero, "%s overflow", in.Op)
			}
		}
		m.AX = binaryOp(in.Op, left, m.AX)

	case OpEXIT:
		m.Halted = true
		m.ExitCode = m.AX
		return true, nil

	case OpOPEN, OpREAD, OpCLOS, OpPRTF, OpMALC, OpMSET, OpMCMP:
		fn := m.syscalls[in.Op]
		if fn == nil {
			return false, m.fault(pc, FaultBadSyscall, "%s", in.Op)
		}
		if err := fn(m, in.Arg); err != nil {
			if f, ok := err.(*Fault); ok {
				return false, f
			}
			return false, m.fault(pc, FaultBadSyscall, "%s: %v", in.Op, err)
		}

	default:
		return false, m.fault(pc, FaultInvalidOpcode, "opcode %d", int(in.Op))
	}

	return false, nil
}

func binaryOp(op Opcode, left, right int) int {
	switch op {
	case OpOR:
		return left | right
	case OpXOR:
		return left ^ right
	case OpAND:
		return left & right
	case OpEQ:
		return b2i(left == right)
	case OpNE:
		return b2i(left != right)
	case OpLT:
		return b2i(left < right)
	case OpGT:
		return b2i(left > right)
	case OpLE:
		return b2i(left <= right)
	case OpGE:
		return b2i(left >= right)
	case OpSHL:
		return left << uint(right)
	case OpSHR:
		return left >> uint(right)
	case OpADD:
		return left + right
	case OpSUB:
		return left - right
	case OpMUL:
		return left * right
	case OpDIV:
		return left / right
	default: // OpMOD
		return left % right
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Run executes instructions until EXIT or a fault. It returns the program's
// exit code; on a fault the returned error is a *Fault.
func (m *VM) Run() (int, error) {
	steps := 0
	for {
		done, err := m.Step()
		if err != nil {
			return 0, err
		}
		if done {
			return m.ExitCode, nil
		}
		steps++
		if m.RunLimit > 0 && steps >= m.RunLimit {
			return 0, ErrRunLimit
		}
	}
}
