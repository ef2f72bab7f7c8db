// Package shmem owns the shared segment: its layout, its System V
// lifecycle, and the typed views the other packages use to reach into it.
//
// The segment is mapped at a different address in every process, so nothing
// inside it may hold a pointer. All cross-region references are byte offsets
// from the segment base, dereferenced as base+offset on use.
package shmem

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/cipherline/cipherline/internal/ring"
)

const (
	// SegmentKey is the fixed System V key of the single pipeline segment.
	SegmentKey = 0x1234

	// MaxPeers bounds the registration and stats tables for each role.
	MaxPeers = 100

	// MaxInputName bounds the stored input file name.
	MaxInputName = 256

	headerMagic = 0x43504c31 // "CPL1"

	pageSize = 4096
)

// Slot is one cell of the bounded buffer: one transformed byte plus the
// metadata receivers need to put it back in place.
type Slot struct {
	ByteValue byte
	_         [3]byte

	// IsValid is 0 while the slot is free, 1 while it carries a byte.
	IsValid int32

	// SourceIndex is the offset of the byte in the input file, or -1
	// while the slot is free.
	SourceIndex int64

	EmitterPID int32

	// SlotNumber is the 1-based array position, used only in logging.
	SlotNumber int32

	// Timestamp is the wall-clock time of the write, in Unix nanoseconds.
	Timestamp int64
}

// StatRow is one per-process statistics record, captured when the process
// exits.
type StatRow struct {
	PID       int32
	_         [4]byte
	Bytes     int64
	StartTime int64 // Unix nanoseconds
	EndTime   int64 // Unix nanoseconds
}

// Header is the fixed leading region of the segment.
//
// Every field is read and written under the global mutex semaphore, with two
// exceptions: ShutdownFlag is accessed atomically so loops can poll it
// outside any critical section, and the ring descriptors are protected by
// their own queue mutexes.
type Header struct {
	Magic     uint32
	SegmentID int32

	Capacity int32
	XorKey   byte
	_        [3]byte

	// NextSourceIndex is the monotone counter of the next input byte to
	// dispatch; ProcessedCount tracks it and exists for reporting.
	NextSourceIndex int64
	ProcessedCount  int64
	FileSize        int64

	ActiveEmitters  int32
	ActiveReceivers int32
	TotalEmitters   int32
	TotalReceivers  int32

	ShutdownFlag int32
	_            [4]byte

	InputName [MaxInputName]byte

	// Sparse registration tables; 0 marks an empty entry.
	EmitterPIDs  [MaxPeers]int32
	ReceiverPIDs [MaxPeers]int32

	EmitterStatCount  int32
	ReceiverStatCount int32
	EmitterStats      [MaxPeers]StatRow
	ReceiverStats     [MaxPeers]StatRow

	SlotRegionOffset  int64
	InputRegionOffset int64

	FreeRing  ring.Desc
	ReadyRing ring.Desc
}

func init() {
	// The segment is shared between four separately started binaries
	// built from this module; the layout must not drift with field
	// reordering.
	if unsafe.Sizeof(ring.Cell{}) != 16 {
		panic(fmt.Sprintf("ring.Cell size is %d, expected 16", unsafe.Sizeof(ring.Cell{})))
	}
	if unsafe.Sizeof(Slot{}) != 32 {
		panic(fmt.Sprintf("Slot size is %d, expected 32", unsafe.Sizeof(Slot{})))
	}
	if unsafe.Sizeof(StatRow{}) != 32 {
		panic(fmt.Sprintf("StatRow size is %d, expected 32", unsafe.Sizeof(StatRow{})))
	}
}

// ShutdownRequested reports whether the terminator has raised the shutdown
// flag. Safe without the global mutex.
func (h *Header) ShutdownRequested() bool {
	return atomic.LoadInt32(&h.ShutdownFlag) != 0
}

// RequestShutdown raises the shutdown flag.
func (h *Header) RequestShutdown() {
	atomic.StoreInt32(&h.ShutdownFlag, 1)
}

// InputFileName returns the stored input file name.
func (h *Header) InputFileName() string {
	n := 0
	for n < len(h.InputName) && h.InputName[n] != 0 {
		n++
	}
	return string(h.InputName[:n])
}

// SetInputFileName stores the input file name, truncating if needed.
func (h *Header) SetInputFileName(name string) {
	b := []byte(name)
	if len(b) > len(h.InputName)-1 {
		b = b[:len(h.InputName)-1]
	}
	clear(h.InputName[:])
	copy(h.InputName[:], b)
}

// Layout is the byte placement of the four sub-regions.
type Layout struct {
	HeaderSize       int64
	SlotRegionOffset int64
	InputOffset      int64
	FreeArrayOffset  int64
	ReadyArrayOffset int64
	Total            int64
}

// ComputeLayout places the sub-regions for the given geometry and
// page-aligns the total.
func ComputeLayout(capacity int32, fileSize int64) Layout {
	slotSize := int64(unsafe.Sizeof(Slot{}))
	cellSize := int64(unsafe.Sizeof(ring.Cell{}))

	var l Layout
	l.HeaderSize = align8(int64(unsafe.Sizeof(Header{})))
	l.SlotRegionOffset = l.HeaderSize
	l.InputOffset = l.SlotRegionOffset + int64(capacity)*slotSize
	l.FreeArrayOffset = align8(l.InputOffset + fileSize)
	l.ReadyArrayOffset = l.FreeArrayOffset + int64(capacity)*cellSize
	l.Total = alignPage(l.ReadyArrayOffset + int64(capacity)*cellSize)
	return l
}

func align8(v int64) int64 {
	return (v + 7) &^ 7
}

func alignPage(v int64) int64 {
	return (v + pageSize - 1) &^ (pageSize - 1)
}
