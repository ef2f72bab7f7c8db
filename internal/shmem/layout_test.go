package shmem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/cipherline/cipherline/internal/ring"
)

func Test_ComputeLayoutRegionsDoNotOverlap(t *testing.T) {
	l := ComputeLayout(16, 1000)

	slotSize := int64(unsafe.Sizeof(Slot{}))
	cellSize := int64(unsafe.Sizeof(ring.Cell{}))

	assert.GreaterOrEqual(t, l.SlotRegionOffset, int64(unsafe.Sizeof(Header{})))
	assert.GreaterOrEqual(t, l.InputOffset, l.SlotRegionOffset+16*slotSize)
	assert.GreaterOrEqual(t, l.FreeArrayOffset, l.InputOffset+1000)
	assert.Equal(t, l.ReadyArrayOffset, l.FreeArrayOffset+16*cellSize)
	assert.GreaterOrEqual(t, l.Total, l.ReadyArrayOffset+16*cellSize)
}

func Test_ComputeLayoutAlignment(t *testing.T) {
	for _, fileSize := range []int64{1, 2, 1023, 4096, 1<<20 + 1} {
		l := ComputeLayout(7, fileSize)
		assert.Zero(t, l.FreeArrayOffset%8, "free array misaligned for file size %d", fileSize)
		assert.Zero(t, l.ReadyArrayOffset%8, "ready array misaligned for file size %d", fileSize)
		assert.Zero(t, l.Total%pageSize, "total not page aligned for file size %d", fileSize)
	}
}

func Test_HeaderInputFileName(t *testing.T) {
	var h Header

	h.SetInputFileName("data.bin")
	assert.Equal(t, "data.bin", h.InputFileName())

	h.SetInputFileName("other")
	assert.Equal(t, "other", h.InputFileName())

	long := make([]byte, 2*MaxInputName)
	for i := range long {
		long[i] = 'a'
	}
	h.SetInputFileName(string(long))
	assert.Len(t, h.InputFileName(), MaxInputName-1)
}

func Test_HeaderShutdownFlag(t *testing.T) {
	var h Header

	assert.False(t, h.ShutdownRequested())
	h.RequestShutdown()
	assert.True(t, h.ShutdownRequested())
}
