package vault

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// simulate replays a direction sequence against grid starting from the
// published initial state and returns the final weight, failing the test
// if the path steps out of bounds, re-enters the start cell, or lets the
// weight drop to zero or below before reaching the target.
func simulate(t *testing.T, grid Grid, path []Direction) int {
	t.Helper()
	x, y, weight := startX, startY, initialWeight
	var prevOp byte

	for i, d := range path {
		dx, dy := delta[d][0], delta[d][1]
		x, y = x+dx, y+dy
		require.GreaterOrEqual(t, x, 0)
		require.LessOrEqual(t, x, 3)
		require.GreaterOrEqual(t, y, 0)
		require.LessOrEqual(t, y, 3)
		require.False(t, x == startX && y == startY, "path re-entered the start cell at step %d", i)

		cell := grid[y][x]
		if cell.Kind == Op {
			prevOp = cell.Sym
			continue
		}
		require.NotZero(t, prevOp, "entered a value cell with no preceding operator at step %d", i)
		weight = apply(prevOp)(weight, cell.Num)
		if x != targetX || y != targetY {
			require.Greater(t, weight, 0, "orb shattered at step %d", i)
		}
		prevOp = 0
	}
	return weight
}

func TestFindPathReachesTargetWeight(t *testing.T) {
	path, err := FindPath(PublishedGrid)
	require.NoError(t, err)
	require.LessOrEqual(t, len(path), 12)

	finalWeight := simulate(t, PublishedGrid, path)
	require.Equal(t, targetWeight, finalWeight)
}

func TestFindPathNeverRevisitsStart(t *testing.T) {
	path, err := FindPath(PublishedGrid)
	require.NoError(t, err)

	x, y := startX, startY
	for _, d := range path {
		dx, dy := delta[d][0], delta[d][1]
		x, y = x+dx, y+dy
		require.False(t, x == startX && y == startY)
	}
}

func TestNoPathReturnsError(t *testing.T) {
	// A grid with no operator path to the target at all (every non-start
	// cell is a dead-end value cell, unreachable without crossing an op).
	blocked := Grid{
		{V(22), V(9), V(9), V(9)},
		{V(9), V(9), V(9), V(9)},
		{V(9), V(9), V(9), V(9)},
		{V(9), V(9), V(9), V(1)},
	}
	_, err := FindPath(blocked)
	require.Error(t, err)
}
