package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newLoaded(t *testing.T, program []uint16) *Machine {
	t.Helper()
	m := New()
	require.NoError(t, m.Load(program))
	return m
}

func stepN(t *testing.T, m *Machine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, _, err := m.Step()
		require.NoError(t, err)
	}
}

func TestHalt(t *testing.T) {
	m := newLoaded(t, []uint16{0})
	_, _, err := m.Step()
	require.NoError(t, err)
	require.True(t, m.Halted)

	// halted machine: Step is a no-op
	_, hasOut, err := m.Step()
	require.NoError(t, err)
	require.False(t, hasOut)
}

func TestSet(t *testing.T) {
	m := newLoaded(t, []uint16{1, 32768, 42})
	stepN(t, m, 1)
	require.Equal(t, uint16(42), m.Reg[0])
	require.Equal(t, uint16(3), m.IP)
}

func TestPushPop(t *testing.T) {
	m := newLoaded(t, []uint16{2, 7, 3, 32768})
	stepN(t, m, 2)
	require.Equal(t, uint16(7), m.Reg[0])
	require.Empty(t, m.Stack)
}

func TestPopEmptyIsError(t *testing.T) {
	m := newLoaded(t, []uint16{3, 32768})
	_, _, err := m.Step()
	require.Error(t, err)
	var underflow *StackUnderflow
	require.ErrorAs(t, err, &underflow)
}

func TestEq(t *testing.T) {
	m := newLoaded(t, []uint16{4, 32768, 5, 5})
	stepN(t, m, 1)
	require.Equal(t, uint16(1), m.Reg[0])
}

func TestGt(t *testing.T) {
	m := newLoaded(t, []uint16{5, 32768, 9, 5})
	stepN(t, m, 1)
	require.Equal(t, uint16(1), m.Reg[0])
}

func TestJmp(t *testing.T) {
	m := newLoaded(t, []uint16{6, 5, 0, 0, 0, 21})
	stepN(t, m, 1)
	require.Equal(t, uint16(5), m.IP)
}

func TestJtTaken(t *testing.T) {
	m := newLoaded(t, []uint16{7, 1, 9})
	stepN(t, m, 1)
	require.Equal(t, uint16(9), m.IP)
}

func TestJtNotTaken(t *testing.T) {
	m := newLoaded(t, []uint16{7, 0, 9})
	stepN(t, m, 1)
	require.Equal(t, uint16(3), m.IP)
}

func TestJfTaken(t *testing.T) {
	m := newLoaded(t, []uint16{8, 0, 9})
	stepN(t, m, 1)
	require.Equal(t, uint16(9), m.IP)
}

func TestAddWraps(t *testing.T) {
	m := newLoaded(t, []uint16{9, 32768, 32767, 2})
	stepN(t, m, 1)
	require.Equal(t, uint16(1), m.Reg[0])
}

func TestMultWraps(t *testing.T) {
	m := newLoaded(t, []uint16{10, 32768, 20000, 20000})
	stepN(t, m, 1)
	require.Equal(t, uint16((20000*20000)%32768), m.Reg[0])
}

func TestMod(t *testing.T) {
	m := newLoaded(t, []uint16{11, 32768, 17, 5})
	stepN(t, m, 1)
	require.Equal(t, uint16(2), m.Reg[0])
}

func TestAnd(t *testing.T) {
	m := newLoaded(t, []uint16{12, 32768, 0b1100, 0b1010})
	stepN(t, m, 1)
	require.Equal(t, uint16(0b1000), m.Reg[0])
}

func TestOr(t *testing.T) {
	m := newLoaded(t, []uint16{13, 32768, 0b1100, 0b1010})
	stepN(t, m, 1)
	require.Equal(t, uint16(0b1110), m.Reg[0])
}

func TestNot(t *testing.T) {
	m := newLoaded(t, []uint16{14, 32768, 0})
	stepN(t, m, 1)
	require.Equal(t, uint16(0x7FFF), m.Reg[0])
}

func TestRmemWmem(t *testing.T) {
	m := newLoaded(t, []uint16{16, 10, 99, 15, 32768, 10})
	stepN(t, m, 2)
	require.Equal(t, uint16(99), m.Reg[0])
	require.Equal(t, uint16(99), m.Mem[10])
}

func TestCallRet(t *testing.T) {
	// call 4 (addr0-1); padding (addr2-3); ret (addr4)
	m := newLoaded(t, []uint16{17, 4, 0, 0, 18})
	stepN(t, m, 1) // call
	require.Equal(t, uint16(4), m.IP)
	require.Equal(t, []uint16{2}, m.Stack)
	stepN(t, m, 1) // ret
	require.Equal(t, uint16(2), m.IP)
	require.Empty(t, m.Stack)
}

func TestRetOnEmptyStackHalts(t *testing.T) {
	m := newLoaded(t, []uint16{18})
	_, _, err := m.Step()
	require.NoError(t, err)
	require.True(t, m.Halted)
}

func TestOut(t *testing.T) {
	m := newLoaded(t, []uint16{19, 65})
	out, hasOut, err := m.Step()
	require.NoError(t, err)
	require.True(t, hasOut)
	require.Equal(t, byte('A'), out)
}

func TestInSuspendsOnEmptyInput(t *testing.T) {
	m := newLoaded(t, []uint16{20, 32768, 0})
	output, err := m.RunUntilInput(nil)
	require.NoError(t, err)
	require.Empty(t, output)
	require.False(t, m.Halted)
	require.Equal(t, uint16(0), m.IP) // paused before executing `in`
}

func TestInConsumesFedByte(t *testing.T) {
	m := newLoaded(t, []uint16{20, 32768, 19, 32768, 0})
	m.Feed("Z")
	_, err := m.RunUntilInput(nil)
	require.NoError(t, err)
	require.Equal(t, uint16('Z'), m.Reg[0])
}

func TestNoop(t *testing.T) {
	m := newLoaded(t, []uint16{21, 0})
	stepN(t, m, 1)
	require.Equal(t, uint16(1), m.IP)
}

func TestInvalidOpcodeIsDecodeError(t *testing.T) {
	m := newLoaded(t, []uint16{9999})
	_, _, err := m.Step()
	require.Error(t, err)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestInvalidOperandIsDecodeError(t *testing.T) {
	m := newLoaded(t, []uint16{1, 40000, 1}) // store target isn't a register
	_, _, err := m.Step()
	require.Error(t, err)
}

// add followed by output: r0 = r1 + r2 masked to 15 bits, printed as
// ASCII.
func TestEndToEndScenario1(t *testing.T) {
	m := newLoaded(t, []uint16{9, 32768, 32769, 32770, 19, 32768, 0})
	m.Reg[1] = 7
	m.Reg[2] = 5
	output, err := m.RunUntilInput(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{12}, output)
	require.True(t, m.Halted)
}

// set-then-call-over-dead-code-then-output: confirms call 6 transfers
// control to its target, skipping the ret at 5 rather than falling through
// into it.
func TestEndToEndScenario2(t *testing.T) {
	m := newLoaded(t, []uint16{1, 32768, 100, 17, 6, 18, 19, 32768, 0})
	output, err := m.RunUntilInput(nil)
	require.NoError(t, err)
	require.Equal(t, []byte{100}, output)
	require.True(t, m.Halted)
}

func TestRegistersStayInRange(t *testing.T) {
	m := newLoaded(t, []uint16{9, 32768, 32767, 32767})
	stepN(t, m, 1)
	for _, r := range m.Reg {
		require.LessOrEqual(t, r, uint16(32767))
	}
}

func TestRunUntilInputHookStopsAtBreakpoint(t *testing.T) {
	m := newLoaded(t, []uint16{21, 21, 21, 0})
	output, err := m.RunUntilInput(func(ip uint16, op Opcode) bool {
		return ip == 2
	})
	require.NoError(t, err)
	require.Empty(t, output)
	require.Equal(t, uint16(2), m.IP)
	require.False(t, m.Halted)
}
