package sequence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorTrace(t *testing.T) {
	t.Parallel()

	table := NewTable(1, Accumulator(), MapPosition)
	slot := table.Slot(0)

	inputs := []Op{
		{"+", 3}, {"-", 2}, {"+", 9}, {"+", -5},
		{"+", 0}, {"-", 21}, {"+", 7}, {"+", 3},
	}
	want := []int64{3, 1, 10, 5, 5, -16, -9, -6}
	for i, op := range inputs {
		got, err := slot.Apply(op, i == 0, true)
		require.NoError(t, err)
		assert.Equal(t, want[i], got, "chunk %d", i)
	}
}

func TestAccumulateUnknownOperator(t *testing.T) {
	t.Parallel()

	table := NewTable(1, Accumulator(), MapPosition)
	slot := table.Slot(0)
	_, err := slot.Apply(Op{"+", 4}, true, true)
	require.NoError(t, err)

	_, err = slot.Apply(Op{"*", 2}, false, true)
	require.ErrorIs(t, err, ErrUnknownOperator)
	assert.Contains(t, err.Error(), `"*"`)
	assert.Equal(t, int64(4), slot.State(), "failed chunk must not change state")

	_, err = slot.Apply(Op{"/", 2}, true, true)
	require.ErrorIs(t, err, ErrUnknownOperator)
	assert.Equal(t, int64(0), slot.State(), "failed start chunk still resets")
}

func TestAccumulateNotReady(t *testing.T) {
	t.Parallel()

	for _, sum := range []int64{0, 17, -3} {
		next, out, err := Accumulate(sum, Op{"?", 99}, false)
		require.NoError(t, err)
		assert.Equal(t, sum, next)
		assert.Equal(t, sum, out)
	}

	table := NewTable(1, Accumulator(), MapPosition)
	out, err := table.Slot(0).Apply(Op{"+", 5}, true, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out, "reset then not-ready yields identity")
}

func TestAccumulateOverflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sum  int64
		op   Op
	}{
		{"add past max", math.MaxInt64, Op{"+", 1}},
		{"add past min", math.MinInt64, Op{"+", -1}},
		{"subtract past min", math.MinInt64 + 1, Op{"-", 2}},
		{"negate min", 0, Op{"-", math.MinInt64}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, out, err := Accumulate(tt.sum, tt.op, true)
			require.ErrorIs(t, err, ErrOverflow)
			assert.Equal(t, tt.sum, next)
			assert.Equal(t, tt.sum, out)
		})
	}

	next, _, err := Accumulate(math.MaxInt64, Op{"-", 1}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), next)
}

func TestAccumulateOverflowKeepsState(t *testing.T) {
	t.Parallel()

	table := NewTable(1, Accumulator(), MapPosition)
	slot := table.Slot(0)
	got, err := slot.Apply(Op{"+", math.MaxInt64}, true, true)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	_, err = slot.Apply(Op{"+", 1}, false, true)
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, int64(math.MaxInt64), slot.State())

	got, err = slot.Apply(Op{"-", 7}, false, true)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-7), got)
}
