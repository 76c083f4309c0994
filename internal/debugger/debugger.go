// Package debugger implements the interactive debug mode: breakpoints,
// register/memory/ip inspection and mutation, tracer toggles, and
// disassembly/trace dumps to files.
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/olekukonko/tablewriter"

	"github.com/jyggen/synacor-challenge/internal/disasm"
	"github.com/jyggen/synacor-challenge/internal/trace"
	"github.com/jyggen/synacor-challenge/internal/vm"
)

// Debugger holds the breakpoint set and the tracers it toggles, and
// drives the interactive debug command loop.
type Debugger struct {
	Breakpoints map[uint16]struct{}
	Exec        *trace.ExecTracer
	Stack       *trace.StackTracer

	out io.Writer
	in  *bufio.Scanner
}

// New returns a Debugger reading commands from in and writing to out.
func New(in io.Reader, out io.Writer) *Debugger {
	return &Debugger{
		Breakpoints: make(map[uint16]struct{}),
		Exec:        &trace.ExecTracer{},
		Stack:       trace.NewStackTracer(0),
		out:         out,
		in:          bufio.NewScanner(in),
	}
}

// HasBreakpoint reports whether addr is a breakpoint, in constant time.
func (d *Debugger) HasBreakpoint(addr uint16) bool {
	_, ok := d.Breakpoints[addr]
	return ok
}

// Hook adapts the debugger's breakpoint set to vm.StepHook: Run stops at
// breakpoints by checking them before every instruction executes.
func (d *Debugger) Hook(ip uint16, op vm.Opcode) bool {
	return d.HasBreakpoint(ip)
}

// Enter runs the command loop until `go` is entered. It returns an error
// only on unrecoverable I/O; malformed commands are reported to out and
// the prompt redisplayed rather than aborting the session.
func (d *Debugger) Enter(m *vm.Machine) error {
	fmt.Fprintln(d.out, "-- debug mode (type 'go' to resume) --")
	for {
		fmt.Fprint(d.out, "(debug) ")
		if !d.in.Scan() {
			return d.in.Err()
		}
		line := strings.TrimSpace(d.in.Text())
		if line == "" {
			continue
		}
		if line == "go" {
			return nil
		}
		if err := d.dispatch(m, line); err != nil {
			fmt.Fprintf(d.out, "error: %v\n", err)
		}
	}
}

func (d *Debugger) dispatch(m *vm.Machine, line string) error {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch {
	case cmd == "b":
		return d.cmdBreak(args)
	case cmd == "B":
		return d.cmdClearBreak(args)
	case cmd == "ip":
		return d.cmdIP(m, args)
	case cmd == "regs":
		return d.cmdRegs(m)
	case cmd == "bps":
		return d.cmdListBreak()
	case len(cmd) == 2 && cmd[0] == 'r' && cmd[1] >= '0' && cmd[1] <= '7':
		return d.cmdReg(m, int(cmd[1]-'0'), args)
	case cmd == "trace":
		return d.cmdTrace(args)
	case cmd == "stack":
		return d.cmdStack(args)
	case cmd == "disassemble":
		return d.cmdDisassemble(m, args)
	case cmd == "dump":
		return d.cmdDump(m, args)
	case isNumber(cmd):
		return d.cmdMem(m, cmd, args)
	default:
		return fmt.Errorf("unrecognised command %q", cmd)
	}
}

func isNumber(s string) bool {
	_, err := strconv.ParseUint(s, 10, 32)
	return err == nil
}

func (d *Debugger) cmdBreak(args []string) error {
	if len(args) == 0 {
		return d.cmdListBreak()
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	d.Breakpoints[addr] = struct{}{}
	fmt.Fprintf(d.out, "breakpoint set at %d\n", addr)
	return nil
}

func (d *Debugger) cmdClearBreak(args []string) error {
	if len(args) == 0 {
		return d.cmdListBreak()
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	delete(d.Breakpoints, addr)
	fmt.Fprintf(d.out, "breakpoint cleared at %d\n", addr)
	return nil
}

func (d *Debugger) cmdListBreak() error {
	table := tablewriter.NewWriter(d.out)
	table.SetHeader([]string{"address"})
	for addr := range d.Breakpoints {
		table.Append([]string{fmt.Sprintf("%d", addr)})
	}
	table.Render()
	return nil
}

func (d *Debugger) cmdIP(m *vm.Machine, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(d.out, "ip = %d\n", m.IP)
		return nil
	}
	v, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	m.IP = v
	return nil
}

func (d *Debugger) cmdReg(m *vm.Machine, n int, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(d.out, "r%d = %d\n", n, m.Reg[n])
		return nil
	}
	v, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	m.Reg[n] = v & 0x7FFF
	return nil
}

func (d *Debugger) cmdRegs(m *vm.Machine) error {
	table := tablewriter.NewWriter(d.out)
	table.SetHeader([]string{"reg", "value"})
	for i, v := range m.Reg {
		table.Append([]string{fmt.Sprintf("r%d", i), fmt.Sprintf("%d", v)})
	}
	table.Render()
	return nil
}

func (d *Debugger) cmdMem(m *vm.Machine, addrStr string, args []string) error {
	addr, err := parseAddr(addrStr)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		fmt.Fprintf(d.out, "%d = %d\n", addr, m.Mem[addr])
		return nil
	}
	v, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	m.Mem[addr] = v
	return nil
}

func (d *Debugger) cmdDump(m *vm.Machine, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: dump <addr> [count]")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	count := uint16(16)
	if len(args) > 1 {
		c, err := parseAddr(args[1])
		if err != nil {
			return err
		}
		count = c
	}
	end := int(addr) + int(count)
	if end > vm.MemSize {
		end = vm.MemSize
	}
	spew.Fdump(d.out, m.Mem[addr:end])
	return nil
}

func (d *Debugger) cmdTrace(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(d.out, "trace is %s\n", onOff(d.Exec.Enabled))
		return nil
	}
	switch args[0] {
	case "on":
		d.Exec.Enabled = true
	case "off":
		d.Exec.Enabled = false
	case "clear":
		d.Exec.Clear()
	default:
		return writeLines(args[0]+".trace", d.Exec.Lines())
	}
	return nil
}

func (d *Debugger) cmdStack(args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(d.out, "stack trace is %s\n", onOff(d.Stack.Enabled))
		return nil
	}
	switch args[0] {
	case "on":
		d.Stack.Enabled = true
		if len(args) > 1 {
			limit, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			d.Stack.Limit = limit
		}
	case "off":
		d.Stack.Enabled = false
	case "clear":
		d.Stack.Clear()
	default:
		return writeStackCSV(args[0]+".csv", d.Stack.Rows())
	}
	return nil
}

func (d *Debugger) cmdDisassemble(m *vm.Machine, args []string) error {
	addr := uint16(0)
	name := "challenge"
	if len(args) > 0 {
		a, err := parseAddr(args[0])
		if err != nil {
			return err
		}
		addr = a
	}
	if len(args) > 1 {
		name = args[1]
	}
	lines := disasm.Walk(&m.Mem, addr)
	return writeLines(name+".asm", lines)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address/value %q: %w", s, err)
	}
	if v > 0xFFFF {
		return 0, fmt.Errorf("value %d out of range", v)
	}
	return uint16(v), nil
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return w.Flush()
}

func writeStackCSV(path string, rows []trace.Row) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "ip,op,r0,r1,pushed,popped,cross")
	for _, r := range rows {
		pushed, popped := "", ""
		if r.Pushed != nil {
			pushed = fmt.Sprintf("%d", *r.Pushed)
		}
		if r.Popped != nil {
			popped = fmt.Sprintf("%d", *r.Popped)
		}
		cross := ""
		if r.Cross != 0 {
			cross = fmt.Sprintf("%d", r.Cross)
		}
		fmt.Fprintf(w, "%d,%s,%d,%d,%s,%s,%s\n", r.IP, r.Op, r.R0, r.R1, pushed, popped, cross)
	}
	return w.Flush()
}
