package trace

import "github.com/jyggen/synacor-challenge/internal/vm"

// Row is one entry in the stack trace: triggered only by push, pop, call,
// and ret. Pushed/Popped are mutually exclusive with each other and
// Cross, once set, names the 1-relative row index of the matching
// pop/ret (for a push/call row) or push/call (for a pop/ret row).
type Row struct {
	IP     uint16
	Op     string
	R0     uint16
	R1     uint16
	Pushed *uint16
	Popped *uint16
	Cross  int // 1-relative; 0 means unset
}

// StackTracer maintains the stack-trace buffer plus the auxiliary stack of
// pending push/call row indices used to cross-link them to their
// consuming pop/ret row.
type StackTracer struct {
	Enabled bool
	Limit   int // 0 means unbounded
	Full    bool

	rows    []Row
	pending []int // 1-relative row indices awaiting a pop/ret
}

// NewStackTracer returns a tracer with the given buffer limit (0 = no
// limit).
func NewStackTracer(limit int) *StackTracer {
	return &StackTracer{Limit: limit}
}

// Rows returns the accumulated stack-trace rows.
func (s *StackTracer) Rows() []Row {
	return s.rows
}

// Clear empties the buffer and the pending cross-link stack.
func (s *StackTracer) Clear() {
	s.rows = nil
	s.pending = nil
	s.Full = false
}

// OnPush records a push row and marks it pending a future pop.
func (s *StackTracer) OnPush(ip uint16, r0, r1 uint16, value uint16) {
	s.record(Row{IP: ip, Op: "push", R0: r0, R1: r1, Pushed: &value})
	s.markPending()
}

// OnCall records a call row (Pushed is the return address ip+2) and marks
// it pending a future ret.
func (s *StackTracer) OnCall(ip uint16, r0, r1 uint16) {
	ret := ip + 2
	s.record(Row{IP: ip, Op: "call", R0: r0, R1: r1, Pushed: &ret})
	s.markPending()
}

// OnPop records a pop row and, if there is a pending push/call, links the
// two rows together bidirectionally.
func (s *StackTracer) OnPop(ip uint16, r0, r1 uint16, value uint16) {
	s.record(Row{IP: ip, Op: "pop", R0: r0, R1: r1, Popped: &value})
	s.linkPending()
}

// OnRet records a ret row (Popped is the address about to become ip) and
// links it to its pending call/push, if any.
func (s *StackTracer) OnRet(ip uint16, r0, r1 uint16, target uint16) {
	s.record(Row{IP: ip, Op: "ret", R0: r0, R1: r1, Popped: &target})
	s.linkPending()
}

func (s *StackTracer) record(r Row) {
	if !s.Enabled || s.Full {
		return
	}
	s.rows = append(s.rows, r)
	if s.Limit > 0 && len(s.rows) >= s.Limit {
		s.Full = true
	}
}

func (s *StackTracer) markPending() {
	if !s.Enabled || s.Full {
		return
	}
	s.pending = append(s.pending, len(s.rows)) // 1-relative index of the row just appended
}

func (s *StackTracer) linkPending() {
	if !s.Enabled {
		return
	}
	if len(s.pending) == 0 {
		return
	}
	top := len(s.pending) - 1
	pushRow := s.pending[top]
	s.pending = s.pending[:top]

	popRow := len(s.rows)
	if pushRow < 1 || pushRow > len(s.rows) || popRow < 1 {
		return
	}
	s.rows[pushRow-1].Cross = popRow
	s.rows[popRow-1].Cross = pushRow
}

// TriggeringOpcodes names the opcodes that drive the stack tracer:
// push, pop, call, ret.
func TriggeringOpcodes() map[vm.Opcode]bool {
	return map[vm.Opcode]bool{
		vm.OpPush: true,
		vm.OpPop:  true,
		vm.OpCall: true,
		vm.OpRet:  true,
	}
}
