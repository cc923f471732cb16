package vm

import (
	"fmt"
	"strings"
)

// SyscallFunc handles one syscall opcode. argc is the number of argument
// cells the caller pushed; the matching ADJ is emitted by the code generator,
// so handlers read arguments in place and leave the result in AX.
type SyscallFunc func(m *VM, argc int) error

// BindSyscall installs fn as the handler for op. Tests use this to supply
// fake filesystem or memory behavior; binding nil makes op fault as an
// unsupported syscall.
func (m *VM) BindSyscall(op Opcode, fn SyscallFunc) {
	if int(op) < len(m.syscalls) {
		m.syscalls[op] = fn
	}
}

// CallArg returns the i-th (left to right, 0-based) of argc pushed call
// arguments without popping them.
func (m *VM) CallArg(argc, i int) (int, error) {
	return m.load(m.PC-1, m.SP+(argc-1-i))
}

// ReadString collects the NUL-terminated cell string starting at addr.
func (m *VM) ReadString(addr int) (string, error) {
	var sb strings.Builder
	for {
		v, err := m.load(m.PC-1, addr)
		if err != nil {
			return "", err
		}
		if v&0xFF == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(byte(v))
		addr++
	}
}

func bindDefaultSyscalls(m *VM) {
	// Deterministic stubs: fixed failure/zero results, no OS interaction.
	fail := func(m *VM, argc int) error { m.AX = -1; return nil }
	zero := func(m *VM, argc int) error { m.AX = 0; return nil }

	m.BindSyscall(OpOPEN, fail)
	m.BindSyscall(OpREAD, fail)
	m.BindSyscall(OpCLOS, fail)
	m.BindSyscall(OpMALC, zero)
	m.BindSyscall(OpMSET, zero)
	m.BindSyscall(OpMCMP, zero)
	m.BindSyscall(OpPRTF, sysPrintf)
}

// sysPrintf is the stubbed printf. It supports %d, %c, %s, %x and %%,
// writes the formatted bytes to the machine's output sink, and leaves the
// byte count in AX.
func sysPrintf(m *VM, argc int) error {
	if argc < 1 {
		return fmt.Errorf("printf needs a format string")
	}
	fmtAddr, err := m.CallArg(argc, 0)
	if err != nil {
		return err
	}
	format, err := m.ReadString(fmtAddr)
	if err != nil {
		return err
	}

	var sb strings.Builder
	next := 1
	arg := func() (int, error) {
		if next >= argc {
			return 0, fmt.Errorf("printf: missing argument for verb")
		}
		v, err := m.CallArg(argc, next)
		next++
		return v, err
	}

	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i+1 >= len(format) {
			sb.WriteByte(ch)
			continue
		}
		i++
		switch format[i] {
		case 'd':
			v, err := arg()
			if err != nil {
				return err
			}
			fmt.Fprintf(&sb, "%d", v)
		case 'x':
			v, err := arg()
			if err != nil {
				return err
			}
			fmt.Fprintf(&sb, "%x", v)
		case 'c':
			v, err := arg()
			if err != nil {
				return err
			}
			sb.WriteByte(byte(v))
		case 's':
			v, err := arg()
			if err != nil {
				return err
			}
			s, err := m.ReadString(v)
			if err != nil {
				return err
			}
			sb.WriteString(s)
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}

	n, err := m.outputSink().Write([]byte(sb.String()))
	if err != nil {
		return err
	}
	m.AX = n
	return nil
}
