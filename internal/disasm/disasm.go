// Package disasm renders Architecture memory as text, either a single
// address or a reachable region followed outward from an entry point.
package disasm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jyggen/synacor-challenge/internal/vm"
)

// Line is one rendered instruction plus the address it started at and the
// address execution falls through to next (0 with HasNext=false if there is no
// sequential successor).
type Line struct {
	Addr     uint16
	Text     string
	Next     uint16
	HasNext  bool
	Branch   uint16
	HasBranch bool
}

// operandText renders a single operand: register operands as rN,
// literals as their decimal value.
func operandText(raw uint16) string {
	if raw >= 32768 && raw <= 32775 {
		return fmt.Sprintf("r%d", raw-32768)
	}
	return fmt.Sprintf("%d", raw)
}

// RenderOne renders the instruction at addr as "NNNN: mnemonic arg1, arg2,
// arg3". If the opcode is invalid, it renders as a raw data word.
func RenderOne(mem *[vm.MemSize]uint16, addr uint16) Line {
	op := vm.Opcode(mem[addr])
	if !op.Valid() {
		return Line{
			Addr:    addr,
			Text:    fmt.Sprintf("%d: <data> %d", addr, mem[addr]),
			Next:    addr + 1,
			HasNext: true,
		}
	}

	arity := op.Arity()
	args := make([]string, arity)
	for i := 0; i < arity; i++ {
		args[i] = operandText(mem[addr+1+uint16(i)])
	}

	text := fmt.Sprintf("%d: %s", addr, op.Name())
	if len(args) > 0 {
		text += " " + strings.Join(args, ", ")
	}

	line := Line{Addr: addr, Text: text}
	length := uint16(1 + arity)

	switch op {
	case vm.OpJmp:
		line.Branch, line.HasBranch = literalBranch(mem[addr+1])
	case vm.OpJt, vm.OpJf:
		line.Next, line.HasNext = addr+length, true
		line.Branch, line.HasBranch = literalBranch(mem[addr+2])
	case vm.OpCall:
		line.Next, line.HasNext = addr+length, true
		line.Branch, line.HasBranch = literalBranch(mem[addr+1])
	case vm.OpRet, vm.OpHalt:
		// no successor at all
	default:
		line.Next, line.HasNext = addr+length, true
	}

	return line
}

// literalBranch reports the branch target for a jmp/jt/jf/call operand if
// it's an immediate literal; register-valued targets aren't followed
// because the destination is only known at run time.
func literalBranch(raw uint16) (uint16, bool) {
	if raw <= 32767 {
		return raw, true
	}
	return 0, false
}

// Walk performs the reachability walk from start: it renders every address
// reachable by following control-flow successors (sequential and literal
// branch targets) and returns the completed lines sorted by address, with
// a "..." sentinel inserted wherever the successor relation isn't
// contiguous between two adjacent rendered lines. The walk is idempotent:
// running it twice from the same start produces identical output.
func Walk(mem *[vm.MemSize]uint16, start uint16) []string {
	completed := make(map[uint16]Line)
	pending := []uint16{start}
	seen := map[uint16]bool{start: true}

	for len(pending) > 0 {
		addr := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		if _, ok := completed[addr]; ok {
			continue
		}
		line := RenderOne(mem, addr)
		completed[addr] = line

		if line.HasNext && !seen[line.Next] && line.Next < vm.MemSize {
			seen[line.Next] = true
			pending = append(pending, line.Next)
		}
		if line.HasBranch && !seen[line.Branch] && line.Branch < vm.MemSize {
			seen[line.Branch] = true
			pending = append(pending, line.Branch)
		}
	}

	addrs := make([]uint16, 0, len(completed))
	for a := range completed {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	out := make([]string, 0, len(addrs)+1)
	for i, a := range addrs {
		if i > 0 {
			prev := completed[addrs[i-1]]
			contiguous := prev.HasNext && prev.Next == a
			if !contiguous {
				out = append(out, "...")
			}
		}
		out = append(out, completed[a].Text)
	}
	return out
}
