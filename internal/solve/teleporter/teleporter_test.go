package teleporter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jyggen/synacor-challenge/internal/vm"
)

func TestBaseCaseIsSuccessor(t *testing.T) {
	for n := uint16(0); n < 10; n++ {
		for k := uint16(0); k < 5; k++ {
			require.Equal(t, (n+1)&0x7FFF, Evaluate(0, n, k))
		}
	}
}

func TestKnownValue(t *testing.T) {
	// With k=1: A(3,n) = 2^(n+3)-3 and A(4,0) = A(3,1) = 13, so
	// A(4,1) = A(3,13) = 2^16-3, which masks to 32765.
	require.Equal(t, uint16(32765), Evaluate(4, 1, 1))
}

func TestParityMatchesK(t *testing.T) {
	for k := uint16(1); k < 8; k++ {
		v := Evaluate(1, 3, k)
		require.Equal(t, k%2, v%2)
	}
}

func TestSearchFindsShippedSolution(t *testing.T) {
	var mem [vm.MemSize]uint16
	mem[5485] = 4
	mem[5488] = 1
	mem[5494] = 6 // target read from 5494

	k, err := Search(&mem)
	require.NoError(t, err)
	require.Equal(t, uint16(25734), k)
}

func TestSearchNotFound(t *testing.T) {
	var mem [vm.MemSize]uint16
	// With m=0, A(0,0;k)=1 for every k, so searching for target=2 never matches.
	mem[5485] = 0
	mem[5488] = 0
	mem[5494] = 2

	_, err := Search(&mem)
	require.Error(t, err)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestPatchWritesExpectedCells(t *testing.T) {
	m := vm.New()
	m.Mem[5494] = 6 // target
	Patch(m, 25734)

	require.Equal(t, uint16(25734), m.Reg[7])
	require.Equal(t, uint16(vm.OpNoop), m.Mem[5489])
	require.Equal(t, uint16(vm.OpNoop), m.Mem[5490])
	require.Equal(t, uint16(6), m.Mem[5493]) // forced-equality write
}
