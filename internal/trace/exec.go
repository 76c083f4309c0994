// Package trace implements the execution tracer and the stack tracer.
package trace

import (
	"fmt"
	"strings"

	"github.com/jyggen/synacor-challenge/internal/disasm"
	"github.com/jyggen/synacor-challenge/internal/vm"
)

// ExecTracer records one formatted line per step: the disassembly at ip
// padded to a fixed column, followed by an interpretation of what the
// instruction actually did.
type ExecTracer struct {
	Enabled bool
	lines   []string
}

const disasmColumn = 35

// Before captures anything the tracer needs to see prior to Step running
// (register/memory contents that Step is about to overwrite).
type Before struct {
	Addr uint16
	Op   vm.Opcode
	R0   uint16
	R1   uint16
	Old  uint16 // destination register's prior value, when applicable
	Mem2 uint16 // not filled by Capture
	In    byte  // next pending input byte, peeked for `in`
	HasIn bool  // whether In holds a pending byte
}

// Capture snapshots whatever the interpretation line for addr will need,
// before Step executes that instruction. m.PeekInput is used (not
// consumed) for `in`, so tracing never changes execution behaviour.
func Capture(m *vm.Machine) Before {
	addr := m.IP
	op := vm.Opcode(m.Mem[addr])
	b := Before{Addr: addr, Op: op}
	if !op.Valid() {
		return b
	}
	arity := op.Arity()
	get := func(k int) uint16 {
		raw := m.Mem[addr+1+uint16(k)]
		if raw >= 32768 && raw <= 32775 {
			return m.Reg[raw-32768]
		}
		return raw
	}
	// R0/R1 are the first two value operands, after the store operand if any.
	first := 0
	if op.IsStore() {
		first = 1
	}
	if arity > first {
		b.R0 = get(first)
	}
	if arity > first+1 {
		b.R1 = get(first + 1)
	}
	if op.IsStore() && arity > 0 {
		raw := m.Mem[addr+1]
		if raw >= 32768 && raw <= 32775 {
			b.Old = m.Reg[raw-32768]
		}
	}
	if op == vm.OpIn {
		b.In, b.HasIn = m.PeekInput()
	}
	return b
}

// Line renders the interpretation for the instruction captured as before,
// given the machine state *after* Step executed it.
func Line(mem *[vm.MemSize]uint16, m *vm.Machine, before Before) string {
	disText := disasm.RenderOne(mem, before.Addr).Text
	padded := disText
	if len(padded) < disasmColumn {
		padded += strings.Repeat(" ", disasmColumn-len(padded))
	} else {
		padded += " "
	}

	interp := interpret(m, before)
	return padded + interp
}

func interpret(m *vm.Machine, b Before) string {
	addr := b.Addr
	destReg := func() int {
		raw := m.Mem[addr+1]
		return int(raw - 32768)
	}

	switch b.Op {
	case vm.OpSet:
		return fmt.Sprintf("r%d = %d replacing %d", destReg(), b.R0, b.Old)
	case vm.OpAdd:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = %d + %d replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpMult:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = %d * %d replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpMod:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = %d mod %d replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpAnd:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = %d & %d replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpOr:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = %d | %d replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpNot:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = ~%d replacing %d with %d", destReg(), b.R0, b.Old, new)
	case vm.OpEq:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = (%d == %d) replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpGt:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = (%d > %d) replacing %d with %d", destReg(), b.R0, b.R1, b.Old, new)
	case vm.OpJt:
		taken := b.R0 != 0
		return fmt.Sprintf("condition %d, jump %s", b.R0, takenWord(taken))
	case vm.OpJf:
		taken := b.R0 == 0
		return fmt.Sprintf("condition %d, jump %s", b.R0, takenWord(taken))
	case vm.OpOut:
		return fmt.Sprintf("out %d %q", b.R0, string(rune(b.R0)))
	case vm.OpIn:
		if !b.HasIn {
			return "in blocked, no input pending"
		}
		return fmt.Sprintf("in %d -> r%d (peeked, not consumed by trace)", b.In, destReg())
	case vm.OpPush:
		return fmt.Sprintf("push %d", b.R0)
	case vm.OpPop:
		return fmt.Sprintf("pop -> r%d", destReg())
	case vm.OpCall:
		return fmt.Sprintf("call %d", b.R0)
	case vm.OpRet:
		return "ret"
	case vm.OpRmem:
		new := m.Reg[destReg()]
		return fmt.Sprintf("r%d = mem[%d] replacing %d with %d", destReg(), b.R0, b.Old, new)
	case vm.OpWmem:
		return fmt.Sprintf("mem[%d] = %d", b.R0, b.R1)
	case vm.OpHalt:
		return "halt"
	case vm.OpNoop:
		return ""
	default:
		return "invalid opcode"
	}
}

func takenWord(taken bool) string {
	if taken {
		return "taken"
	}
	return "not taken"
}

// Step appends the rendered line for one step if the tracer is enabled.
// Callers capture Before ahead of calling vm.Machine.Step, then call Step
// with the resulting machine state.
func (t *ExecTracer) Step(mem *[vm.MemSize]uint16, m *vm.Machine, before Before) {
	if !t.Enabled {
		return
	}
	t.lines = append(t.lines, Line(mem, m, before))
}

// Lines returns the accumulated trace buffer.
func (t *ExecTracer) Lines() []string {
	return t.lines
}

// Clear empties the trace buffer.
func (t *ExecTracer) Clear() {
	t.lines = nil
}
