package vm

import "fmt"

// Opcode identifies one VM instruction. The set and ordering follow the
// classic c4 machine: control/memory ops first, then the binary operator
// block, then the syscall block.
type Opcode uint8

const (
	OpLEA  Opcode = iota // ax = bp + arg (address of a local/param)
	OpIMM                // ax = arg
	OpJMP                // pc = arg
	OpCALL               // push pc; pc = arg
	OpBZ                 // if ax == 0 { pc = arg }
	OpBNZ                // if ax != 0 { pc = arg }
	OpENT                // push bp; bp = sp; sp -= arg
	OpADJ                // sp += arg (discard call arguments)
	OpLEV                // sp = bp; bp = pop; pc = pop
	OpLI                 // ax = mem[ax]
	OpLC                 // ax = mem[ax] & 0xFF
	OpSI                 // mem[pop] = ax
	OpSC                 // mem[pop] = ax & 0xFF
	OpPSH                // push ax

	// Binary operators: ax = pop OP ax.
	OpOR
	OpXOR
	OpAND
	OpEQ
	OpNE
	OpLT
	OpGT
	OpLE
	OpGE
	OpSHL
	OpSHR
	OpADD
	OpSUB
	OpMUL
	OpDIV
	OpMOD

	// Syscalls. All are deterministic stubs dispatched through the
	// machine's syscall table; none touches the operating system.
	OpOPEN
	OpREAD
	OpCLOS
	OpPRTF
	OpMALC
	OpMSET
	OpMCMP
	OpEXIT

	opCount // sentinel; not a real opcode
)

var opcodeNames = [...]string{
	OpLEA:  "LEA",
	OpIMM:  "IMM",
	OpJMP:  "JMP",
	OpCALL: "CALL",
	OpBZ:   "BZ",
	OpBNZ:  "BNZ",
	OpENT:  "ENT",
	OpADJ:  "ADJ",
	OpLEV:  "LEV",
	OpLI:   "LI",
	OpLC:   "LC",
	OpSI:   "SI",
	OpSC:   "SC",
	OpPSH:  "PSH",
	OpOR:   "OR",
	OpXOR:  "XOR",
	OpAND:  "AND",
	OpEQ:   "EQ",
	OpNE:   "NE",
	OpLT:   "LT",
	OpGT:   "GT",
	OpLE:   "LE",
	OpGE:   "GE",
	OpSHL:  "SHL",
	OpSHR:  "SHR",
	OpADD:  "ADD",
	OpSUB:  "SUB",
	OpMUL:  "MUL",
	OpDIV:  "DIV",
	OpMOD:  "MOD",
	OpOPEN: "OPEN",
	OpREAD: "READ",
	OpCLOS: "CLOS",
	OpPRTF: "PRTF",
	OpMALC: "MALC",
	OpMSET: "MSET",
	OpMCMP: "MCMP",
	OpEXIT: "EXIT",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// HasOperand reports whether op carries an operand in Instruction.Arg.
// Syscall opcodes carry their argument count.
func (op Opcode) HasOperand() bool {
	switch op {
	case OpLEA, OpIMM, OpJMP, OpCALL, OpBZ, OpBNZ, OpENT, OpADJ,
		OpOPEN, OpREAD, OpCLOS, OpPRTF, OpMALC, OpMSET, OpMCMP:
		return true
	}
	return false
}

// Instruction is one element of the text segment: an opcode plus an optional
// operand (immediate value, cell address, or instruction address). Operands
// are fully resolved by the code generator; the stream is read-only at run time.
type Instruction struct {
	Op  Opcode
	Arg int
}

func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%-4s %d", in.Op, in.Arg)
	}
	return in.Op.String()
}

// Program is the loadable unit produced by the code generator: the text
// segment and the initial data image (global cells followed by interned
// string literals, one char per cell, NUL terminated).
type Program struct {
	Text []Instruction
	Data []int
}
