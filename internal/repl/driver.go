// Package repl implements the Driver: it pumps the Machine, routes user
// lines to meta-commands or VM input, and prints output verbatim.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/jyggen/synacor-challenge/internal/debugger"
	"github.com/jyggen/synacor-challenge/internal/snapshot"
	"github.com/jyggen/synacor-challenge/internal/solve/teleporter"
	"github.com/jyggen/synacor-challenge/internal/solve/vault"
	"github.com/jyggen/synacor-challenge/internal/trace"
	"github.com/jyggen/synacor-challenge/internal/vm"
)

// Driver owns the Machine, the original program image (for restart), and
// the Debugger it hands control to on breakpoints or the `debug`
// meta-command.
type Driver struct {
	Machine *vm.Machine
	Program []uint16
	Debug   *debugger.Debugger

	out      io.Writer
	lastSnap string
	line     *liner.State
	useLiner bool
	scanner  *bufio.Scanner

	stackPendingValue uint16
	stackPendingOK    bool
}

// New constructs a Driver around an already-loaded Machine. in/out back
// both the forwarded VM input and the meta-command prompt; if in is a real
// tty, line editing via liner is used, otherwise a plain scanner (so a
// script of commands piped into stdin still works, e.g. for scripted
// solves).
func New(m *vm.Machine, program []uint16, in *os.File, out io.Writer) *Driver {
	out = wrapColorable(out)
	d := &Driver{
		Machine: m,
		Program: program,
		Debug:   debugger.New(in, out),
		out:     out,
	}
	if isatty.IsTerminal(in.Fd()) {
		d.line = liner.NewLiner()
		d.useLiner = true
	} else {
		d.scanner = bufio.NewScanner(in)
	}
	return d
}

// wrapColorable routes out through go-colorable when it's an *os.File on a
// real terminal, so fatih/color's ANSI escapes render on Windows consoles
// that don't natively understand them. Non-file writers (tests, pipes) pass
// through untouched.
func wrapColorable(out io.Writer) io.Writer {
	f, ok := out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return out
	}
	return colorable.NewColorable(f)
}

// Close releases the liner terminal state, if one was opened.
func (d *Driver) Close() {
	if d.useLiner {
		d.line.Close()
	}
}

func (d *Driver) readLine() (string, error) {
	if d.useLiner {
		return d.line.Prompt("")
	}
	if d.scanner.Scan() {
		return d.scanner.Text(), nil
	}
	if err := d.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Run pumps the VM to completion: it alternates between letting the
// Machine run until it blocks on input or halts, and reading a user line
// to dispatch as a meta-command or forward as VM input.
func (d *Driver) Run() error {
	for {
		out, err := d.pump()
		if len(out) > 0 {
			d.writeOutput(out)
		}
		if err != nil {
			fmt.Fprintf(d.out, "execution error: %v\n", err)
		}
		if d.Machine.Halted {
			return nil
		}

		line, err := d.readLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if d.useLiner {
			d.line.AppendHistory(line)
		}

		if handled, err := d.dispatchMeta(line); handled {
			if err != nil {
				fmt.Fprintf(d.out, "error: %v\n", err)
			}
			if errDie == err {
				return nil
			}
			continue
		}
		d.Machine.Feed(line + "\n")
	}
}

var errDie = fmt.Errorf("die")

// pump steps the Machine until it blocks on input or halts, honouring
// breakpoints and feeding both tracers along the way.
func (d *Driver) pump() ([]byte, error) {
	var output []byte
	resumeAt := -1 // address just resumed from the debugger; its breakpoint is not re-checked
	for !d.Machine.Halted {
		op := d.Machine.NextOpcode()
		if op == vm.OpIn {
			if _, ok := d.Machine.PeekInput(); !ok {
				return output, nil
			}
		}
		if int(d.Machine.IP) != resumeAt && d.Debug.Hook(d.Machine.IP, op) {
			fmt.Fprintf(d.out, "breakpoint hit at %d\n", d.Machine.IP)
			if err := d.Debug.Enter(d.Machine); err != nil {
				return output, err
			}
			resumeAt = int(d.Machine.IP)
			continue
		}
		resumeAt = -1

		addr := d.Machine.IP
		before := trace.Capture(d.Machine)
		d.captureStackBefore(op)

		out, hasOut, err := d.Machine.Step()
		if err != nil {
			return output, err
		}
		if hasOut {
			output = append(output, out)
		}

		d.Debug.Exec.Step(&d.Machine.Mem, d.Machine, before)
		d.captureStackAfter(addr, op)
	}
	return output, nil
}

// captureStackBefore records what the stack tracer needs to see before
// Step mutates state, because push/call values and pop/ret targets
// disappear once Step has run.
func (d *Driver) captureStackBefore(op vm.Opcode) {
	if !d.Debug.Stack.Enabled {
		return
	}
	switch op {
	case vm.OpPush:
		v, err := d.Machine.OperandValue(0)
		d.stackPendingValue, d.stackPendingOK = v, err == nil
	case vm.OpPop, vm.OpRet:
		v, ok := d.Machine.StackTop()
		d.stackPendingValue, d.stackPendingOK = v, ok
	}
}

func (d *Driver) captureStackAfter(ip uint16, op vm.Opcode) {
	if !d.Debug.Stack.Enabled {
		return
	}
	r0, r1 := d.Machine.Reg[0], d.Machine.Reg[1]
	switch op {
	case vm.OpPush:
		if d.stackPendingOK {
			d.Debug.Stack.OnPush(ip, r0, r1, d.stackPendingValue)
		}
	case vm.OpCall:
		d.Debug.Stack.OnCall(ip, r0, r1)
	case vm.OpPop:
		if d.stackPendingOK {
			d.Debug.Stack.OnPop(ip, r0, r1, d.stackPendingValue)
		}
	case vm.OpRet:
		if d.stackPendingOK {
			d.Debug.Stack.OnRet(ip, r0, r1, d.stackPendingValue)
		}
	}
	if d.Debug.Stack.Full {
		d.Debug.Stack.Enabled = false
		fmt.Fprintln(d.out, "stack trace buffer full, entering debug mode")
		_ = d.Debug.Enter(d.Machine)
	}
}

func (d *Driver) writeOutput(b []byte) {
	for _, c := range b {
		if c == '\n' || c == '\t' || (c >= 0x20 && c < 0x7F) {
			fmt.Fprintf(d.out, "%c", c)
		} else {
			fmt.Fprint(d.out, "�")
		}
	}
}

// dispatchMeta recognises the Driver's meta-commands. handled is false if
// line isn't one, in which case the caller forwards it as VM input.
func (d *Driver) dispatchMeta(line string) (handled bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "help":
		d.cmdHelp(fields[1:])
		return true, nil
	case "save":
		return true, d.cmdSave(fields[1:])
	case "restore":
		return true, d.cmdRestore(fields[1:])
	case "restart":
		return true, d.cmdRestart()
	case "debug":
		return true, d.Debug.Enter(d.Machine)
	case "solve":
		return true, d.cmdSolve(fields[1:])
	case "die":
		d.Machine.Halted = true
		return true, errDie
	default:
		return false, nil
	}
}

func (d *Driver) cmdHelp(args []string) {
	topics := map[string]string{
		"help":    "help [topic] - list meta-commands or describe one",
		"save":    "save [name] - snapshot the VM to <name>.snap (default: last saved/restored name, else a random name)",
		"restore": "restore [name] - restore the VM from <name>.snap",
		"restart": "restart - reload the original binary into a fresh VM",
		"debug":   "debug - enter the debugger",
		"solve":   "solve teleporter|vault - run a puzzle solver",
		"die":     "die - halt the VM and exit",
	}
	if len(args) == 0 {
		for _, k := range []string{"help", "save", "restore", "restart", "debug", "solve", "die"} {
			fmt.Fprintln(d.out, topics[k])
		}
		return
	}
	if t, ok := topics[args[0]]; ok {
		fmt.Fprintln(d.out, t)
		return
	}
	fmt.Fprintf(d.out, "no such topic %q\n", args[0])
}

func (d *Driver) cmdSave(args []string) error {
	name := d.lastSnap
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		name = snapshot.NewName()
	}
	if err := snapshot.Save(d.Machine, name); err != nil {
		return err
	}
	d.lastSnap = name
	fmt.Fprintf(d.out, "saved to %s.snap\n", name)
	return nil
}

func (d *Driver) cmdRestore(args []string) error {
	name := d.lastSnap
	if len(args) > 0 {
		name = args[0]
	}
	if name == "" {
		return fmt.Errorf("no snapshot to restore; pass a name")
	}
	if err := snapshot.Load(d.Machine, name); err != nil {
		return err
	}
	d.lastSnap = name
	fmt.Fprintf(d.out, "restored from %s.snap\n", name)
	return nil
}

func (d *Driver) cmdRestart() error {
	d.Machine.Reset()
	d.Machine.Mem = [vm.MemSize]uint16{}
	return d.Machine.Load(d.Program)
}

func (d *Driver) cmdSolve(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: solve teleporter|vault")
	}
	switch args[0] {
	case "teleporter":
		k, err := teleporter.Solve(d.Machine)
		if err != nil {
			return err
		}
		fmt.Fprintf(d.out, "teleporter solved: r7 = %d\n", k)
		return nil
	case "vault":
		path, err := vault.FindPath(vault.PublishedGrid)
		if err != nil {
			return err
		}
		dirs := make([]string, len(path))
		for i, dir := range path {
			dirs[i] = dir.String()
		}
		fmt.Fprintf(d.out, "vault path: %s\n", strings.Join(dirs, ", "))
		return nil
	default:
		return fmt.Errorf("unknown solver %q", args[0])
	}
}
