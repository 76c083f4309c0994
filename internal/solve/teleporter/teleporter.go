// Package teleporter solves the Teleporter puzzle: find the register value
// k that makes the binary's twisted-Ackermann confirmation routine yield
// the target value, then patch the running Machine to pass the check.
package teleporter

import (
	"fmt"

	"github.com/jyggen/synacor-challenge/internal/vm"
)

// Memory addresses the shipped binary encodes its confirmation parameters
// and the patch sites at.
const (
	AddrM      = 5485
	AddrN      = 5488
	AddrPatch1 = 5489
	AddrPatch2 = 5490
	AddrResult = 5493
	AddrTarget = 5494

	maxM = 4 // binary never calls with m > 4
)

// NotFoundError reports that the search exhausted its k range without a
// match. This should never occur against the shipped binary and is
// treated as a programmer error.
type NotFoundError struct {
	Target uint16
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("teleporter: no k in range produced target %d", e.Target)
}

// phase names the continuation state of one frame of the explicit-stack
// evaluator. The iterative Ackermann twist is mandatory here because the
// recursive form blows the native stack even under 15-bit masking.
type phase int

const (
	phaseEntry      phase = iota // about to compute A(m, n; k)
	phaseAfterInner              // inner A(m, n-1; k) just computed; use it as n for A(m-1, ·; k)
	phaseStore                   // memoise the just-computed value for (m, n)
)

type frame struct {
	phase phase
	m, n  uint16
	value uint16 // unused: evaluate passes values between frames in its result variable
}

// memo is keyed by (m, n); m is bounded by maxM so a small array suffices.
type memo [maxM + 1][vm.MemSize]uint16
type memoSet [maxM + 1][vm.MemSize]bool

// evaluate computes the twisted Ackermann A(m, n; k) under 15-bit masking
// using an explicit state stack instead of native recursion.
func evaluate(m, n, k uint16) uint16 {
	var seen memoSet
	var values memo

	stack := []frame{{phase: phaseEntry, m: m, n: n}}
	var result uint16
	haveResult := false

	for len(stack) > 0 {
		top := len(stack) - 1
		f := &stack[top]

		switch f.phase {
		case phaseEntry:
			if seen[f.m][f.n] {
				result, haveResult = values[f.m][f.n], true
				stack = stack[:top]
				continue
			}
			if f.m == 0 {
				result, haveResult = (f.n+1)&0x7FFF, true
				values[f.m][f.n] = result
				seen[f.m][f.n] = true
				stack = stack[:top]
				continue
			}
			if f.n == 0 {
				// A(m, 0; k) = A(m-1, k; k)
				stack[top] = frame{phase: phaseStore, m: f.m, n: f.n}
				stack = append(stack, frame{phase: phaseEntry, m: f.m - 1, n: k})
				continue
			}
			// A(m, n; k) = A(m-1, A(m, n-1; k); k)
			stack[top] = frame{phase: phaseAfterInner, m: f.m, n: f.n}
			stack = append(stack, frame{phase: phaseEntry, m: f.m, n: f.n - 1})

		case phaseAfterInner:
			if !haveResult {
				panic("teleporter: missing inner result")
			}
			inner := result
			haveResult = false
			stack[top] = frame{phase: phaseStore, m: f.m, n: f.n}
			stack = append(stack, frame{phase: phaseEntry, m: f.m - 1, n: inner})

		case phaseStore:
			if !haveResult {
				panic("teleporter: missing value to store")
			}
			values[f.m][f.n] = result
			seen[f.m][f.n] = true
			stack = stack[:top]
		}
	}

	if !haveResult {
		panic("teleporter: evaluator terminated without a result")
	}
	return result
}

// Evaluate exposes the iterative evaluator for testing and for the
// search below.
func Evaluate(m, n, k uint16) uint16 {
	return evaluate(m, n, k)
}

// Search reads m, n, and the target from mem and returns the k in
// {2,4,...,32766} (target even) or {1,3,...,32767} (target odd)
// for which A(m,n;k) == target. The result's parity always matches k's
// parity for m>=1, which is why only half the k range is ever tried.
func Search(mem *[vm.MemSize]uint16) (uint16, error) {
	m := mem[AddrM]
	n := mem[AddrN]
	target := mem[AddrTarget]

	start := 1
	if target%2 == 0 {
		start = 2
	}

	for k := start; k <= 32767; k += 2 {
		if evaluate(m, n, uint16(k)) == target {
			return uint16(k), nil
		}
	}
	return 0, &NotFoundError{Target: target}
}

// Patch writes k into r7, neutralises the binary's confirmation call by
// overwriting the two patch-site cells with noop, and forces the
// subsequent equality check by writing target into AddrResult.
func Patch(m *vm.Machine, k uint16) {
	m.Reg[7] = k
	m.Mem[AddrPatch1] = uint16(vm.OpNoop)
	m.Mem[AddrPatch2] = uint16(vm.OpNoop)
	m.Mem[AddrResult] = m.Mem[AddrTarget]
}

// Solve runs Search then Patch against m's live memory and registers.
func Solve(m *vm.Machine) (uint16, error) {
	k, err := Search(&m.Mem)
	if err != nil {
		return 0, err
	}
	Patch(m, k)
	return k, nil
}
