package vm

import (
	"errors"
	"math"
	"testing"
)

// prog builds a Program from an opcode/arg pair list with no data segment.
func prog(text ...Instruction) *Program {
	return &Program{Text: text}
}

func i(op Opcode, arg int) Instruction { return Instruction{Op: op, Arg: arg} }
func o(op Opcode) Instruction          { return Instruction{Op: op} }

// run executes the program and fails the test on any fault.
func run(t *testing.T, p *Program) (*VM, int) {
	t.Helper()
	m := NewVM(p)
	m.RunLimit = 10000
	code, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return m, code
}

func TestALU(t *testing.T) {
	cases := []struct {
		op          Opcode
		left, right int
		want        int
	}{
		{OpADD, 10, 20, 30},
		{OpSUB, 10, 4, 6},
		{OpMUL, 6, 7, 42},
		{OpDIV, 42, 5, 8},
		{OpMOD, 42, 5, 2},
		{OpOR, 0x00F0, 0x000F, 0x00FF},
		{OpXOR, 0x00FF, 0x0F0F, 0x0FF0},
		{OpAND, 0x00FF, 0x0F0F, 0x000F},
		{OpSHL, 1, 4, 16},
		{OpSHR, 16, 4, 1},
		{OpEQ, 3, 3, 1},
		{OpEQ, 3, 4, 0},
		{OpNE, 3, 4, 1},
		{OpLT, 3, 4, 1},
		{OpLT, 4, 3, 0},
		{OpGT, 4, 3, 1},
		{OpLE, 3, 3, 1},
		{OpGE, 2, 3, 0},
	}
	for _, tc := range cases {
		_, code := run(t, prog(
			i(OpIMM, tc.left),
			o(OpPSH),
			i(OpIMM, tc.right),
			o(tc.op),
			o(OpEXIT),
		))
		if code != tc.want {
			t.Errorf("%s %d %d: expected %d, got %d", tc.op, tc.left, tc.right, tc.want, code)
		}
	}
}

func TestDivideByZeroFault(t *testing.T) {
	for _, op := range []Opcode{OpDIV, OpMOD} {
		m := NewVM(prog(
			i(OpIMM, 1),
			o(OpPSH),
			i(OpIMM, 0),
			o(op),
			o(OpEXIT),
		))
		_, err := m.Run()
		var f *Fault
		if !errors.As(err, &f) {
			t.Fatalf("%s: expected a fault, got %v", op, err)
		}
		if f.Kind != FaultDivideByZero {
			t.Errorf("%s: expected %s, got %s", op, FaultDivideByZero, f.Kind)
		}
		if f.PC != 3 {
			t.Errorf("%s: expected fault pc=3, got %d", op, f.PC)
		}
	}
}

func TestDivisionOverflowFault(t *testing.T) {
	// MinInt / -1 (and the matching remainder) cannot be represented and
	// must fault instead of panicking the host runtime.
	for _, op := range []Opcode{OpDIV, OpMOD} {
		f := expectFault(t, prog(
			i(OpIMM, math.MinInt),
			o(OpPSH),
			i(OpIMM, -1),
			o(op),
			o(OpEXIT),
		), FaultDivideByZero)
		if f.PC != 3 {
			t.Errorf("%s: expected fault pc=3, got %d", op, f.PC)
		}
	}
}

func TestDataLoadStore(t *testing.T) {
	p := &Program{
		Text: []Instruction{
			i(OpIMM, 1), // address of cell 1
			o(OpPSH),
			i(OpIMM, 99),
			o(OpSI),     // data[1] = 99
			i(OpIMM, 0),
			o(OpLI),     // ax = data[0]
			o(OpPSH),
			i(OpIMM, 1),
			o(OpLI),     // ax = data[1]
			o(OpADD),
			o(OpEXIT),
		},
		Data: []int{7, 0},
	}
	m, code := run(t, p)
	if code != 106 {
		t.Errorf("expected exit code 106, got %d", code)
	}
	if m.Data[1] != 99 {
		t.Errorf("expected data[1]=99, got %d", m.Data[1])
	}
}

func TestCharLoadStoreMasks(t *testing.T) {
	p := &Program{
		Text: []Instruction{
			i(OpIMM, 0),
			o(OpPSH),
			i(OpIMM, 0x1FF),
			o(OpSC),     // stores 0xFF
			i(OpIMM, 0),
			o(OpLC),
			o(OpEXIT),
		},
		Data: []int{0},
	}
	_, code := run(t, p)
	if code != 0xFF {
		t.Errorf("expected 0xFF, got %d", code)
	}
}

func TestCallAndReturn(t *testing.T) {
	m, code := run(t, prog(
		i(OpCALL, 2),
		o(OpEXIT),
		i(OpENT, 1), // one local, never used
		i(OpIMM, 42),
		o(OpLEV),
	))
	if code != 42 {
		t.Errorf("expected exit code 42, got %d", code)
	}
	if m.SP != StackBase+len(m.Stack) {
		t.Errorf("sp not restored: expected %d, got %d", StackBase+len(m.Stack), m.SP)
	}
	if m.BP != StackBase+len(m.Stack) {
		t.Errorf("bp not restored: expected %d, got %d", StackBase+len(m.Stack), m.BP)
	}
}

func TestArgumentAddressing(t *testing.T) {
	// sub(10, 4): arguments pushed left to right, so with two arguments the
	// first lives at bp+3 and the second at bp+2.
	_, code := run(t, prog(
		i(OpIMM, 10),
		o(OpPSH),
		i(OpIMM, 4),
		o(OpPSH),
		i(OpCALL, 7),
		i(OpADJ, 2),
		o(OpEXIT),
		i(OpENT, 0),
		i(OpLEA, 3),
		o(OpLI),
		o(OpPSH),
		i(OpLEA, 2),
		o(OpLI),
		o(OpSUB),
		o(OpLEV),
	))
	if code != 6 {
		t.Errorf("expected exit code 6, got %d", code)
	}
}

func TestLocalAddressing(t *testing.T) {
	// ENT 2 reserves two locals at bp-1 and bp-2.
	_, code := run(t, prog(
		i(OpCALL, 2),
		o(OpEXIT),
		i(OpENT, 2),
		i(OpLEA, -1),
		o(OpPSH),
		i(OpIMM, 30),
		o(OpSI),
		i(OpLEA, -2),
		o(OpPSH),
		i(OpIMM, 12),
		o(OpSI),
		i(OpLEA, -1),
		o(OpLI),
		o(OpPSH),
		i(OpLEA, -2),
		o(OpLI),
		o(OpADD),
		o(OpLEV),
	))
	if code != 42 {
		t.Errorf("expected exit code 42, got %d", code)
	}
}

func TestBranches(t *testing.T) {
	// BZ and BNZ test ax without popping anything.
	_, code := run(t, prog(
		i(OpIMM, 0),
		i(OpBZ, 3),   // taken
		o(OpEXIT),    // skipped
		i(OpIMM, 5),
		i(OpBNZ, 6),  // taken
		o(OpEXIT),    // skipped
		i(OpIMM, 1),
		i(OpBZ, 9),   // not taken
		i(OpIMM, 77),
		o(OpEXIT),
	))
	if code != 77 {
		t.Errorf("expected exit code 77, got %d", code)
	}
}

func TestJump(t *testing.T) {
	_, code := run(t, prog(
		i(OpJMP, 2),
		o(OpEXIT),   // skipped
		i(OpIMM, 9),
		o(OpEXIT),
	))
	if code != 9 {
		t.Errorf("expected exit code 9, got %d", code)
	}
}

func expectFault(t *testing.T, p *Program, kind FaultKind) *Fault {
	t.Helper()
	m := NewVM(p)
	m.RunLimit = 100000
	_, err := m.Run()
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected a fault, got %v", err)
	}
	if f.Kind != kind {
		t.Fatalf("expected fault %q, got %q (%v)", kind, f.Kind, f)
	}
	return f
}

func TestStackOverflowFault(t *testing.T) {
	expectFault(t, prog(
		i(OpENT, DefaultStackSize+1),
		o(OpEXIT),
	), FaultStackOverflow)

	// An unbounded push loop overflows too.
	expectFault(t, prog(
		o(OpPSH),
		i(OpJMP, 0),
	), FaultStackOverflow)
}

func TestStackUnderflowFault(t *testing.T) {
	expectFault(t, prog(
		i(OpADJ, 1),
		o(OpEXIT),
	), FaultStackUnderflow)

	expectFault(t, prog(
		o(OpSI),
		o(OpEXIT),
	), FaultStackUnderflow)
}

func TestOutOfBoundsFault(t *testing.T) {
	// Load from an address in neither segment.
	f := expectFault(t, prog(
		i(OpIMM, -5),
		o(OpLI),
		o(OpEXIT),
	), FaultOutOfBounds)
	if f.PC != 1 {
		t.Errorf("expected fault pc=1, got %d", f.PC)
	}

	// Jump past the end of the text segment.
	expectFault(t, prog(
		i(OpJMP, 100),
	), FaultOutOfBounds)
}

func TestInvalidOpcodeFault(t *testing.T) {
	expectFault(t, prog(
		Instruction{Op: Opcode(200)},
	), FaultInvalidOpcode)
}

func TestRunLimit(t *testing.T) {
	m := NewVM(prog(
		i(OpJMP, 0),
	))
	m.RunLimit = 100
	_, err := m.Run()
	if !errors.Is(err, ErrRunLimit) {
		t.Fatalf("expected ErrRunLimit, got %v", err)
	}
}

func TestTraceHook(t *testing.T) {
	var records []TraceRecord
	m := NewVM(prog(
		i(OpIMM, 5),
		o(OpPSH),
		i(OpIMM, 2),
		o(OpADD),
		o(OpEXIT),
	))
	m.Trace = func(r TraceRecord) { records = append(records, r) }
	code, err := m.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("expected exit code 7, got %d", code)
	}
	if len(records) != 5 {
		t.Fatalf("expected 5 trace records, got %d", len(records))
	}
	wantOps := []Opcode{OpIMM, OpPSH, OpIMM, OpADD, OpEXIT}
	for idx, r := range records {
		if r.PC != idx {
			t.Errorf("record %d: expected pc=%d, got %d", idx, idx, r.PC)
		}
		if r.Op != wantOps[idx] {
			t.Errorf("record %d: expected %s, got %s", idx, wantOps[idx], r.Op)
		}
	}
	// The ADD record sees the pushed 5 on top and 2 in ax.
	if records[3].StackTop != 5 || records[3].AX != 2 {
		t.Errorf("ADD record: expected top=5 ax=2, got top=%d ax=%d",
			records[3].StackTop, records[3].AX)
	}
}

func TestStepAfterHalt(t *testing.T) {
	m := NewVM(prog(o(OpEXIT)))
	if _, err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	done, err := m.Step()
	if err != nil || !done {
		t.Errorf("Step after halt: expected (true, nil), got (%v, %v)", done, err)
	}
}

func TestIndependentRuns(t *testing.T) {
	// Each VM copies the data image, so a mutating program leaves the
	// Program itself untouched.
	p := &Program{
		Text: []Instruction{
			i(OpIMM, 0),
			o(OpPSH),
			i(OpIMM, 1),
			o(OpSI),
			i(OpIMM, 0),
			o(OpLI),
			o(OpEXIT),
		},
		Data: []int{0},
	}
	for n := 0; n < 2; n++ {
		_, code := run(t, p)
		if code != 1 {
			t.Errorf("run %d: expected exit code 1, got %d", n, code)
		}
	}
	if p.Data[0] != 0 {
		t.Errorf("program data mutated: got %d", p.Data[0])
	}
}
