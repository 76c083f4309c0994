package vm

import (
	"encoding/binary"
	"fmt"
	"io"
)

// LoadBinary reads a stream of little-endian 16-bit words (the challenge
// binary format) and returns them as a program image suitable for Load.
func LoadBinary(r io.Reader) ([]uint16, error) {
	var program []uint16
	for {
		var word uint16
		err := binary.Read(r, binary.LittleEndian, &word)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading binary: %w", err)
		}
		program = append(program, word)
	}
	if len(program) > MemSize {
		return nil, fmt.Errorf("binary has %d words, exceeds %d cell memory", len(program), MemSize)
	}
	return program, nil
}
