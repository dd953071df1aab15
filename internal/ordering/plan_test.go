package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func abc() (Container, []Item) {
	return Container{ID: "c1", MaxPosition: 49152}, []Item{
		{ID: "A", ContainerID: "c1", Position: 16384},
		{ID: "B", ContainerID: "c1", Position: 32768},
		{ID: "C", ContainerID: "c1", Position: 49152},
	}
}

func TestPlanMoveBetweenNeighbors(t *testing.T) {
	target, all := abc()
	moved := all[2]

	out, err := Plan(DefaultPolicy(), target, Without(all, "C"), 49152, moved, MoveRequest{AboveID: "A", BelowID: "B"})
	require.NoError(t, err)

	assert.Equal(t, StrategyBetween, out.Strategy)
	assert.Equal(t, Item{ID: "C", ContainerID: "c1", Position: 24576}, out.Moved)
	assert.Empty(t, out.Affected)
	assert.Equal(t, 49152.0, out.MaxPosition)
}

func TestPlanMoveToEnd(t *testing.T) {
	target, all := abc()

	out, err := Plan(DefaultPolicy(), target, Without(all, "A"), 49152, all[0], MoveRequest{AboveID: "C"})
	require.NoError(t, err)
	assert.Equal(t, StrategyEnd, out.Strategy)
	assert.Equal(t, 65536.0, out.Moved.Position)
	assert.Equal(t, 65536.0, out.MaxPosition)

	_, err = Plan(DefaultPolicy(), target, Without(all, "A"), 49152, all[0], MoveRequest{AboveID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlanMoveToStart(t *testing.T) {
	target, all := abc()

	out, err := Plan(DefaultPolicy(), target, Without(all, "C"), 49152, all[2], MoveRequest{BelowID: "A"})
	require.NoError(t, err)
	assert.Equal(t, StrategyStart, out.Strategy)
	assert.Equal(t, 8192.0, out.Moved.Position)
	assert.Empty(t, out.Affected)

	_, err = Plan(DefaultPolicy(), target, Without(all, "C"), 49152, all[2], MoveRequest{BelowID: "B"})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestPlanTopCollisionRenumbersEverything(t *testing.T) {
	target := Container{ID: "c1", MaxPosition: 3}
	all := []Item{
		{ID: "x", ContainerID: "c1", Position: 1},
		{ID: "y", ContainerID: "c1", Position: 2},
		{ID: "z", ContainerID: "c1", Position: 3},
	}

	out, err := Plan(DefaultPolicy(), target, Without(all, "z"), 3, all[2], MoveRequest{BelowID: "x"})
	require.NoError(t, err)

	assert.Equal(t, StrategyRenumberAll, out.Strategy)
	assert.Equal(t, float64(DefaultGap), out.Moved.Position)
	assert.Equal(t, []Item{
		{ID: "x", ContainerID: "c1", Position: 32768},
		{ID: "y", ContainerID: "c1", Position: 49152},
	}, out.Affected)
	assert.Equal(t, 49152.0, out.MaxPosition)
}

func TestPlanBetweenCollisionRenumbersLocally(t *testing.T) {
	target := Container{ID: "c1", MaxPosition: 300}
	all := []Item{
		{ID: "before", ContainerID: "c1", Position: 50},
		{ID: "above", ContainerID: "c1", Position: 100},
		{ID: "below", ContainerID: "c1", Position: 100.5},
		{ID: "after", ContainerID: "c1", Position: 200},
		{ID: "moved", ContainerID: "c1", Position: 300},
	}

	out, err := Plan(DefaultPolicy(), target, Without(all, "moved"), 300, all[4], MoveRequest{AboveID: "above", BelowID: "below"})
	require.NoError(t, err)

	assert.Equal(t, StrategyRenumberAfter, out.Strategy)
	assert.Greater(t, out.Moved.Position, 100.5+DefaultGap)
	require.Len(t, out.Affected, 2)
	assert.Equal(t, "below", out.Affected[0].ID)
	assert.Equal(t, out.Moved.Position+2*DefaultGap, out.Affected[0].Position)
	assert.Equal(t, "after", out.Affected[1].ID)
	assert.Greater(t, out.Affected[1].Position, out.Affected[0].Position)
	assert.Equal(t, out.Affected[1].Position, out.MaxPosition)
	for _, item := range out.Affected {
		assert.NotEqual(t, "before", item.ID)
		assert.NotEqual(t, "above", item.ID)
	}
}

func TestPlanCrossContainer(t *testing.T) {
	moved := Item{ID: "t1", ContainerID: "c1", Position: 16384}

	empty := Container{ID: "c2"}
	out, err := Plan(DefaultPolicy(), empty, nil, 0, moved, MoveRequest{TargetContainerID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", out.Moved.ContainerID)
	assert.Equal(t, 16384.0, out.Moved.Position)
	assert.Equal(t, StrategyEnd, out.Strategy)

	target := Container{ID: "c2", MaxPosition: 32768}
	siblings := []Item{
		{ID: "u1", ContainerID: "c2", Position: 16384},
		{ID: "u2", ContainerID: "c2", Position: 32768},
	}
	out, err = Plan(DefaultPolicy(), target, siblings, 32768, moved, MoveRequest{TargetContainerID: "c2", AboveID: "u1", BelowID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", out.Moved.ContainerID)
	assert.Equal(t, 24576.0, out.Moved.Position)

	_, err = Plan(DefaultPolicy(), target, siblings, 32768, moved, MoveRequest{TargetContainerID: "c2"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPlanRejectsBadRequests(t *testing.T) {
	target, all := abc()
	siblings := Without(all, "C")
	moved := all[2]

	tests := []struct {
		name string
		req  MoveRequest
		want error
	}{
		{name: "no neighbors", req: MoveRequest{}, want: ErrInvalidRequest},
		{name: "self as neighbor", req: MoveRequest{AboveID: "C", BelowID: "A"}, want: ErrInvalidRequest},
		{name: "unknown above", req: MoveRequest{AboveID: "Z", BelowID: "B"}, want: ErrNotFound},
		{name: "unknown below", req: MoveRequest{AboveID: "A", BelowID: "Z"}, want: ErrNotFound},
		{name: "neighbors out of order", req: MoveRequest{AboveID: "B", BelowID: "A"}, want: ErrInvariantViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(DefaultPolicy(), target, siblings, 49152, moved, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPlanRejectsNeighborsWithSamePosition(t *testing.T) {
	target := Container{ID: "c1", MaxPosition: 16384}
	siblings := []Item{
		{ID: "a", ContainerID: "c1", Position: 500},
		{ID: "b", ContainerID: "c1", Position: 500},
	}
	moved := Item{ID: "m", ContainerID: "c1", Position: 16384}

	_, err := Plan(DefaultPolicy(), target, siblings, 16384, moved, MoveRequest{AboveID: "a", BelowID: "b"})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestPlanBisectionEventuallyRenumbers(t *testing.T) {
	p := DefaultPolicy()
	target := Container{ID: "c1", MaxPosition: 32768}
	above := Item{ID: "a", ContainerID: "c1", Position: 16384}
	below := Item{ID: "b", ContainerID: "c1", Position: 32768}

	// Each new item lands right above b, halving the gap until a collision fires.
	for i := 0; i < 64; i++ {
		moved := Item{ID: "n" + string(rune('A'+i)), ContainerID: "c1", Position: target.MaxPosition + p.Gap}
		siblings := []Item{above, below}
		out, err := Plan(p, target, siblings, target.MaxPosition, moved, MoveRequest{AboveID: above.ID, BelowID: below.ID})
		require.NoError(t, err)
		if out.Strategy == StrategyRenumberAfter {
			assert.Greater(t, i, 10)
			return
		}
		assert.Greater(t, out.Moved.Position, above.Position)
		assert.Less(t, out.Moved.Position, below.Position)
		above = out.Moved
	}
	t.Fatal("collision never detected")
}

func TestSortItemsBreaksTiesByID(t *testing.T) {
	got := []Item{{ID: "b", Position: 2}, {ID: "c", Position: 1}, {ID: "a", Position: 2}}
	SortItems(got)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}
