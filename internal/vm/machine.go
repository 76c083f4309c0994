// Package vm implements the Architecture: the 15-bit register/stack
// machine the Synacor challenge binary runs on.
package vm

import (
	"fmt"
)

const (
	// MemSize is the number of 16-bit cells in memory.
	MemSize = 32768
	// NumRegisters is the number of register cells.
	NumRegisters = 8
	// mask15 truncates a value to 15 bits.
	mask15 = 0x7FFF
	// registerBase is the first invalid-as-literal operand value; operands
	// registerBase..registerBase+7 name registers.
	registerBase = 32768
)

// Machine is one Architecture instance: ip, registers, stack, memory,
// pending input, and the halted flag. Memory, stack, and registers are
// owned exclusively by the Machine; nothing aliases them.
type Machine struct {
	IP      uint16
	Reg     [NumRegisters]uint16
	Stack   []uint16
	Mem     [MemSize]uint16
	Input   []byte
	Halted  bool
}

// New returns a Machine with all cells zeroed.
func New() *Machine {
	return &Machine{}
}

// Load copies program into memory starting at cell 0. Trailing cells stay
// zero. program must contain at most MemSize words.
func (m *Machine) Load(program []uint16) error {
	if len(program) > MemSize {
		return fmt.Errorf("program too large: %d words exceeds %d cell memory", len(program), MemSize)
	}
	copy(m.Mem[:], program)
	return nil
}

// Reset clears all state back to a fresh Machine, keeping the loaded
// program image in place (callers that want a true restart should reload
// the binary).
func (m *Machine) Reset() {
	m.IP = 0
	m.Reg = [NumRegisters]uint16{}
	m.Stack = nil
	m.Input = nil
	m.Halted = false
}

// Feed appends bytes (already including any trailing newline the caller
// wants consumed) to the pending input FIFO.
func (m *Machine) Feed(s string) {
	m.Input = append(m.Input, []byte(s)...)
}

// PeekInput reports the next pending input byte without consuming it, and
// whether one is available. Used by the execution tracer so that tracing
// never changes observable behaviour.
func (m *Machine) PeekInput() (byte, bool) {
	if len(m.Input) == 0 {
		return 0, false
	}
	return m.Input[0], true
}

// NextOpcode returns the opcode at ip without side effects, for breakpoint
// and tracer lookahead. It does not validate the opcode.
func (m *Machine) NextOpcode() Opcode {
	return Opcode(m.Mem[m.IP])
}

// fetchValue resolves a value operand: literals (<=32767) return
// themselves, register names (32768..32775) return the register's content,
// anything else is a DecodeError.
func (m *Machine) fetchValue(addr uint16, operandIndex int, raw uint16) (uint16, error) {
	if raw <= 32767 {
		return raw, nil
	}
	if raw <= 32775 {
		return m.Reg[raw-registerBase], nil
	}
	return 0, &DecodeError{Addr: addr, Operand: operandIndex, Detail: fmt.Sprintf("operand %d is not a literal or register", raw)}
}

// fetchStoreTarget resolves a store operand: it must name a register.
func (m *Machine) fetchStoreTarget(addr uint16, operandIndex int, raw uint16) (int, error) {
	if raw < registerBase || raw > 32775 {
		return 0, &DecodeError{Addr: addr, Operand: operandIndex, Detail: fmt.Sprintf("store target %d is not a register", raw)}
	}
	return int(raw - registerBase), nil
}

// operand reads the raw word at ip+1+k, the k-th operand of the
// instruction at ip.
func (m *Machine) operand(k int) uint16 {
	return m.Mem[m.IP+1+uint16(k)]
}

// OperandValue resolves the k-th operand of the instruction at ip to its
// value (dereferencing registers), for tracers that need to know what an
// instruction is about to act on without re-implementing fetch.
func (m *Machine) OperandValue(k int) (uint16, error) {
	return m.fetchValue(m.IP, k, m.operand(k))
}

// StackTop returns the value on top of the stack without popping it, and
// whether the stack is non-empty.
func (m *Machine) StackTop() (uint16, bool) {
	if len(m.Stack) == 0 {
		return 0, false
	}
	return m.Stack[len(m.Stack)-1], true
}

// Step decodes and executes a single instruction at IP. It returns the
// emitted output byte (if the instruction was `out`) and whether one was
// emitted. A halted Machine is a no-op. ip advances by the instruction's
// length except for jumps, calls, ret, and halt, which are handled by
// their own cases.
func (m *Machine) Step() (out byte, hasOut bool, err error) {
	if m.Halted {
		return 0, false, nil
	}

	addr := m.IP
	op := Opcode(m.Mem[addr])
	if !op.Valid() {
		return 0, false, &DecodeError{Addr: addr, Operand: -1, Detail: fmt.Sprintf("unknown opcode %d", m.Mem[addr])}
	}

	switch op {
	case OpHalt:
		m.Halted = true

	case OpSet:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = b
		m.IP += 3

	case OpPush:
		b, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		m.Stack = append(m.Stack, b)
		m.IP += 2

	case OpPop:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		if len(m.Stack) == 0 {
			return 0, false, &StackUnderflow{Addr: addr}
		}
		top := len(m.Stack) - 1
		m.Reg[reg] = m.Stack[top]
		m.Stack = m.Stack[:top]
		m.IP += 2

	case OpEq:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		if b == c {
			m.Reg[reg] = 1
		} else {
			m.Reg[reg] = 0
		}
		m.IP += 4

	case OpGt:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		if b > c {
			m.Reg[reg] = 1
		} else {
			m.Reg[reg] = 0
		}
		m.IP += 4

	case OpJmp:
		b, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		m.IP = b

	case OpJt:
		b, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		if b != 0 {
			m.IP = c
		} else {
			m.IP += 3
		}

	case OpJf:
		b, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		if b == 0 {
			m.IP = c
		} else {
			m.IP += 3
		}

	case OpAdd:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = (b + c) % 32768
		m.IP += 4

	case OpMult:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = uint16((uint32(b) * uint32(c)) % 32768)
		m.IP += 4

	case OpMod:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		if c == 0 {
			return 0, false, &DecodeError{Addr: addr, Operand: 2, Detail: "mod by zero"}
		}
		m.Reg[reg] = b % c
		m.IP += 4

	case OpAnd:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = b & c
		m.IP += 4

	case OpOr:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		c, err := m.fetchValue(addr, 2, m.operand(2))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = b | c
		m.IP += 4

	case OpNot:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = ^b & mask15
		m.IP += 3

	case OpRmem:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		m.Reg[reg] = m.Mem[b]
		m.IP += 3

	case OpWmem:
		a, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		b, err := m.fetchValue(addr, 1, m.operand(1))
		if err != nil {
			return 0, false, err
		}
		m.Mem[a] = b
		m.IP += 3

	case OpCall:
		b, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		m.Stack = append(m.Stack, addr+2)
		m.IP = b

	case OpRet:
		if len(m.Stack) == 0 {
			m.Halted = true
			return 0, false, nil
		}
		top := len(m.Stack) - 1
		m.IP = m.Stack[top]
		m.Stack = m.Stack[:top]

	case OpOut:
		b, err := m.fetchValue(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		m.IP += 2
		return byte(b & 0xFF), true, nil

	case OpIn:
		reg, err := m.fetchStoreTarget(addr, 0, m.operand(0))
		if err != nil {
			return 0, false, err
		}
		if len(m.Input) == 0 {
			// Caller is expected to have checked this via RunUntilInput
			// before calling Step; stepping directly on empty input is a
			// no-op so single-stepping from the debugger doesn't panic.
			return 0, false, nil
		}
		m.Reg[reg] = uint16(m.Input[0])
		m.Input = m.Input[1:]
		m.IP += 2

	case OpNoop:
		m.IP++
	}

	return 0, false, nil
}

// StepHook is invoked before each instruction RunUntilInput is about to
// execute. Returning stop=true pauses the run before that instruction
// executes (the breakpoint cancellation surface).
type StepHook func(ip uint16, op Opcode) (stop bool)

// RunUntilInput repeatedly steps while not halted, flushing emitted output
// bytes into the returned slice. It pauses at the single suspension point:
// an `in` about to execute against an empty input buffer. If hook is
// non-nil and returns true before some instruction, the run pauses there
// too (without executing that instruction), the debugger's cancellation
// surface for long runs.
func (m *Machine) RunUntilInput(hook StepHook) ([]byte, error) {
	var output []byte
	for !m.Halted {
		op := m.NextOpcode()
		if op == OpIn {
			if _, ok := m.PeekInput(); !ok {
				return output, nil
			}
		}
		if hook != nil && hook(m.IP, op) {
			return output, nil
		}
		out, hasOut, err := m.Step()
		if err != nil {
			return output, err
		}
		if hasOut {
			output = append(output, out)
		}
	}
	return output, nil
}
