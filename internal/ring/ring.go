// Package ring implements the two fixed-capacity slot queues embedded in the
// shared segment: the free ring (slots available to emitters) and the ready
// ring (slots holding a transformed byte, waiting for a receiver).
//
// The descriptor and the cell array both live inside the shared segment; the
// descriptor references its array by a byte offset from the segment base, so
// every process sees the same queue regardless of where the segment is
// mapped. Callers must hold the queue's mutex semaphore around every
// operation; the ring itself performs no locking.
package ring

import "errors"

var (
	// ErrFull is returned by Push when size == capacity.
	ErrFull = errors.New("ring is full")
	// ErrEmpty is returned by Pop when size == 0.
	ErrEmpty = errors.New("ring is empty")
)

// FreeSource marks a cell that references a free slot, which carries no
// source byte.
const FreeSource int64 = -1

// Desc is the in-segment ring descriptor.
//
// Occupied cells are the Size cells at positions [Head, Head+Size) modulo
// Capacity; Tail == (Head + Size) % Capacity at all times.
type Desc struct {
	Head     int32
	Tail     int32
	Size     int32
	Capacity int32

	// ArrayOffset is the byte offset of the cell array from the segment
	// base.
	ArrayOffset int64
}

// Cell is one ring entry: a slot reference plus the source offset of the
// byte the slot carries (FreeSource in the free ring).
type Cell struct {
	SlotIndex   int64
	SourceIndex int64
}

// Ring is a process-local view over an in-segment descriptor and its cell
// array.
type Ring struct {
	desc  *Desc
	cells []Cell
}

// New binds a view to a descriptor and the cell array it describes. The
// array must have exactly desc.Capacity entries.
func New(desc *Desc, cells []Cell) *Ring {
	if len(cells) != int(desc.Capacity) {
		panic("ring: cell array does not match descriptor capacity")
	}
	return &Ring{desc: desc, cells: cells}
}

// Reset empties the ring.
func (r *Ring) Reset() {
	r.desc.Head = 0
	r.desc.Tail = 0
	r.desc.Size = 0
}

func (r *Ring) Len() int { return int(r.desc.Size) }

func (r *Ring) Cap() int { return int(r.desc.Capacity) }

// Push appends a cell at the tail.
func (r *Ring) Push(c Cell) error {
	d := r.desc
	if d.Size >= d.Capacity {
		return ErrFull
	}
	r.cells[d.Tail] = c
	d.Tail = (d.Tail + 1) % d.Capacity
	d.Size++
	return nil
}

// Pop removes and returns the cell at the head.
func (r *Ring) Pop() (Cell, error) {
	d := r.desc
	if d.Size == 0 {
		return Cell{}, ErrEmpty
	}
	c := r.cells[d.Head]
	d.Head = (d.Head + 1) % d.Capacity
	d.Size--
	return c, nil
}

// PopMinSource removes and returns the cell with the smallest SourceIndex.
//
// The ring is rotated until that cell reaches the head, then popped; the
// cyclic order of the remaining cells is preserved. Receivers use this to
// drain bytes in source order, which keeps observable output growing left to
// right. O(Size) per call, acceptable for the slot counts this system runs
// with.
func (r *Ring) PopMinSource() (Cell, error) {
	d := r.desc
	if d.Size == 0 {
		return Cell{}, ErrEmpty
	}

	minAt := int32(0)
	minSource := r.cells[d.Head].SourceIndex
	for i := int32(1); i < d.Size; i++ {
		pos := (d.Head + i) % d.Capacity
		if src := r.cells[pos].SourceIndex; src < minSource {
			minSource = src
			minAt = i
		}
	}

	for i := int32(0); i < minAt; i++ {
		c, err := r.Pop()
		if err != nil {
			return Cell{}, err
		}
		if err := r.Push(c); err != nil {
			return Cell{}, err
		}
	}
	return r.Pop()
}

// Snapshot copies the occupied cells in head-to-tail order. Used for the
// initializer's queue preview and for tests.
func (r *Ring) Snapshot() []Cell {
	d := r.desc
	out := make([]Cell, 0, d.Size)
	for i := int32(0); i < d.Size; i++ {
		out = append(out, r.cells[(d.Head+i)%d.Capacity])
	}
	return out
}
