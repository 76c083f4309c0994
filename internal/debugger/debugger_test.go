package debugger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jyggen/synacor-challenge/internal/vm"
)

func TestBreakpointSetClear(t *testing.T) {
	var out bytes.Buffer
	d := New(strings.NewReader(""), &out)

	require.NoError(t, d.dispatch(nil, "b 10"))
	require.True(t, d.HasBreakpoint(10))

	require.NoError(t, d.dispatch(nil, "B 10"))
	require.False(t, d.HasBreakpoint(10))
}

func TestInspectAndMutateRegisterAndMemory(t *testing.T) {
	var out bytes.Buffer
	d := New(strings.NewReader(""), &out)
	m := vm.New()

	require.NoError(t, d.dispatch(m, "r0 123"))
	require.Equal(t, uint16(123), m.Reg[0])

	require.NoError(t, d.dispatch(m, "100 77"))
	require.Equal(t, uint16(77), m.Mem[100])

	require.NoError(t, d.dispatch(m, "ip 5"))
	require.Equal(t, uint16(5), m.IP)
}

func TestEnterLoopRunsUntilGo(t *testing.T) {
	in := strings.NewReader("b 4\nregs\ngo\n")
	var out bytes.Buffer
	d := New(in, &out)
	m := vm.New()

	require.NoError(t, d.Enter(m))
	require.True(t, d.HasBreakpoint(4))
}

func TestUnknownCommandIsReportedNotFatal(t *testing.T) {
	in := strings.NewReader("bogus\ngo\n")
	var out bytes.Buffer
	d := New(in, &out)
	require.NoError(t, d.Enter(vm.New()))
	require.Contains(t, out.String(), "error:")
}

func TestDisassembleWritesFile(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	d := New(strings.NewReader(""), &out)
	m := vm.New()
	require.NoError(t, m.Load([]uint16{21, 0}))

	require.NoError(t, d.dispatch(m, "disassemble 0 "+dir+"/prog"))
	require.FileExists(t, dir+"/prog.asm")
}
