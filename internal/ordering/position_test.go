package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	p := Policy{BetweenThreshold: 0.5}.Normalize()
	assert.Equal(t, float64(DefaultGap), p.Gap)
	assert.Equal(t, 1.0, p.TopThreshold)
	assert.Equal(t, 0.5, p.BetweenThreshold)
}

func TestAppendToEndIsMonotonic(t *testing.T) {
	p := DefaultPolicy()
	c := Container{ID: "prj_1"}

	prev := c.MaxPosition
	for i := 0; i < 10; i++ {
		pos := p.AppendToEnd(&c, prev)
		assert.Equal(t, prev+DefaultGap, pos)
		assert.Equal(t, pos, c.MaxPosition)
		prev = pos
	}
}

func TestAppendToEndHealsStaleHint(t *testing.T) {
	p := DefaultPolicy()

	behind := Container{ID: "prj_1", MaxPosition: 16384}
	assert.Equal(t, 65536.0, p.AppendToEnd(&behind, 49152))

	ahead := Container{ID: "prj_2", MaxPosition: 98304}
	assert.Equal(t, 114688.0, p.AppendToEnd(&ahead, 16384))
}

func TestMoveToStartHalvesFirst(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 8192.0, p.MoveToStart(Item{ID: "a", Position: 16384}))
}

func TestMoveBetween(t *testing.T) {
	p := DefaultPolicy()

	pos, err := p.MoveBetween(Item{ID: "a", Position: 16384}, Item{ID: "b", Position: 32768})
	require.NoError(t, err)
	assert.Equal(t, 24576.0, pos)

	_, err = p.MoveBetween(Item{ID: "a", Position: 500}, Item{ID: "b", Position: 500})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestShrinkMax(t *testing.T) {
	p := DefaultPolicy()
	c := Container{ID: "prj_1", MaxPosition: 49152}

	tests := []struct {
		name      string
		removed   float64
		remaining float64
		want      float64
	}{
		{name: "not the last item", removed: 16384, remaining: 49152, want: 49152},
		{name: "last item", removed: 49152, remaining: 32768, want: 32768},
		{name: "remaining item sits higher than max minus gap", removed: 49152, remaining: 40000, want: 40000},
		{name: "container emptied", removed: 16384, remaining: 0, want: 49152},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.ShrinkMax(c, tt.removed, tt.remaining))
		})
	}

	single := Container{ID: "prj_2", MaxPosition: 8192}
	assert.Equal(t, 0.0, p.ShrinkMax(single, 8192, 0))
}
