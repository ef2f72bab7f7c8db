package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(capacity int32) *Ring {
	return New(&Desc{Capacity: capacity}, make([]Cell, capacity))
}

func Test_RingPushPopFIFO(t *testing.T) {
	r := newTestRing(4)

	for i := int64(0); i < 4; i++ {
		require.NoError(t, r.Push(Cell{SlotIndex: i, SourceIndex: i * 10}))
	}
	assert.Equal(t, 4, r.Len())

	for i := int64(0); i < 4; i++ {
		c, err := r.Pop()
		require.NoError(t, err)
		assert.Equal(t, i, c.SlotIndex)
		assert.Equal(t, i*10, c.SourceIndex)
	}
	assert.Equal(t, 0, r.Len())
}

func Test_RingFull(t *testing.T) {
	r := newTestRing(2)

	require.NoError(t, r.Push(Cell{SlotIndex: 0}))
	require.NoError(t, r.Push(Cell{SlotIndex: 1}))
	assert.ErrorIs(t, r.Push(Cell{SlotIndex: 2}), ErrFull)
}

func Test_RingEmpty(t *testing.T) {
	r := newTestRing(2)

	_, err := r.Pop()
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = r.PopMinSource()
	assert.ErrorIs(t, err, ErrEmpty)
}

func Test_RingWrapAround(t *testing.T) {
	r := newTestRing(3)

	// Drive head and tail around the array boundary a few times.
	next := int64(0)
	for round := 0; round < 5; round++ {
		require.NoError(t, r.Push(Cell{SlotIndex: next}))
		require.NoError(t, r.Push(Cell{SlotIndex: next + 1}))
		c, err := r.Pop()
		require.NoError(t, err)
		assert.Equal(t, next, c.SlotIndex)
		c, err = r.Pop()
		require.NoError(t, err)
		assert.Equal(t, next+1, c.SlotIndex)
		next += 2
	}
	assert.Equal(t, 0, r.Len())
}

func Test_RingPopMinSource(t *testing.T) {
	r := newTestRing(5)

	// Emitter-scheduling order, not source order.
	for _, src := range []int64{7, 3, 9, 1, 5} {
		require.NoError(t, r.Push(Cell{SlotIndex: src * 100, SourceIndex: src}))
	}

	for _, want := range []int64{1, 3, 5, 7, 9} {
		c, err := r.PopMinSource()
		require.NoError(t, err)
		assert.Equal(t, want, c.SourceIndex)
		assert.Equal(t, want*100, c.SlotIndex)
	}
	assert.Equal(t, 0, r.Len())
}

func Test_RingPopMinSourcePreservesOthers(t *testing.T) {
	r := newTestRing(4)

	for _, src := range []int64{4, 2, 8, 6} {
		require.NoError(t, r.Push(Cell{SourceIndex: src}))
	}

	c, err := r.PopMinSource()
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.SourceIndex)

	// The remaining cells keep their cyclic order: 8, 6, then the
	// rotated 4.
	got := make([]int64, 0, 3)
	for _, cell := range r.Snapshot() {
		got = append(got, cell.SourceIndex)
	}
	assert.Equal(t, []int64{8, 6, 4}, got)
}

func Test_RingCapacityOne(t *testing.T) {
	r := newTestRing(1)

	require.NoError(t, r.Push(Cell{SlotIndex: 0, SourceIndex: 42}))
	assert.ErrorIs(t, r.Push(Cell{SlotIndex: 1}), ErrFull)

	c, err := r.PopMinSource()
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.SourceIndex)
	assert.Equal(t, 0, r.Len())
}

func Test_RingConservation(t *testing.T) {
	free := newTestRing(8)
	ready := newTestRing(8)
	for i := int64(0); i < 8; i++ {
		require.NoError(t, free.Push(Cell{SlotIndex: i, SourceIndex: FreeSource}))
	}

	// Shuttle slots between the two rings; the union must stay the full
	// slot set with no duplicates.
	for step := int64(0); step < 20; step++ {
		c, err := free.Pop()
		require.NoError(t, err)
		require.NoError(t, ready.Push(Cell{SlotIndex: c.SlotIndex, SourceIndex: step}))

		if step%3 == 0 {
			c, err = ready.PopMinSource()
			require.NoError(t, err)
			require.NoError(t, free.Push(Cell{SlotIndex: c.SlotIndex, SourceIndex: FreeSource}))
		}

		assert.Equal(t, 8, free.Len()+ready.Len())
		seen := map[int64]bool{}
		for _, cell := range append(free.Snapshot(), ready.Snapshot()...) {
			assert.False(t, seen[cell.SlotIndex], "slot %d appears twice", cell.SlotIndex)
			seen[cell.SlotIndex] = true
		}

		if free.Len() == 0 {
			c, err = ready.PopMinSource()
			require.NoError(t, err)
			require.NoError(t, free.Push(Cell{SlotIndex: c.SlotIndex, SourceIndex: FreeSource}))
		}
	}
}
