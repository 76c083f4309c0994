// Package snapshot serialises and restores complete Machine state.
// Round-trip fidelity is the only contract; the on-disk format is opaque
// to callers.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/jyggen/synacor-challenge/internal/vm"
)

// State captures the full machine image: ip, registers, stack, memory,
// the pending input buffer, and the halted flag. Deep-copied on both
// capture and restore so no snapshot aliases the live Machine.
type State struct {
	IP     uint16
	Reg    [vm.NumRegisters]uint16
	Stack  []uint16
	Mem    [vm.MemSize]uint16
	Input  []byte
	Halted bool
}

// Capture deep-copies m's entire observable state.
func Capture(m *vm.Machine) State {
	s := State{
		IP:     m.IP,
		Reg:    m.Reg,
		Mem:    m.Mem,
		Halted: m.Halted,
	}
	s.Stack = append([]uint16(nil), m.Stack...)
	s.Input = append([]byte(nil), m.Input...)
	return s
}

// Restore overwrites m's entire state with s, deep-copying so the
// snapshot itself stays untouched by subsequent execution.
func Restore(m *vm.Machine, s State) {
	m.IP = s.IP
	m.Reg = s.Reg
	m.Mem = s.Mem
	m.Halted = s.Halted
	m.Stack = append([]uint16(nil), s.Stack...)
	m.Input = append([]byte(nil), s.Input...)
}

// NewName mints a random snapshot stem ("snapshot-" plus 8 hex characters),
// used when the user runs `save` without a name and the session has no
// earlier snapshot name to reuse.
func NewName() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "snapshot"
	}
	return "snapshot-" + id.String()[:8]
}

// Encode writes s to w as a gob stream compressed with snappy.
func Encode(w io.Writer, s State) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	return sw.Close()
}

// Decode reads a snapshot previously written by Encode.
func Decode(r io.Reader) (State, error) {
	var s State
	sr := snappy.NewReader(r)
	if err := gob.NewDecoder(sr).Decode(&s); err != nil {
		return State{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return s, nil
}

// Save writes m's state to <name>.snap, atomically: the file is written
// to a temp path in the same directory and renamed into place.
func Save(m *vm.Machine, name string) error {
	path := name + ".snap"
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	if err := Encode(f, Capture(m)); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalising snapshot file: %w", err)
	}
	return nil
}

// Load restores m's state from <name>.snap. m is left intact on error.
func Load(m *vm.Machine, name string) error {
	path := name + ".snap"
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot file: %w", err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return err
	}
	Restore(m, s)
	return nil
}
