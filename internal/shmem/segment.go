package shmem

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cipherline/cipherline/internal/ring"
)

var (
	// ErrNotFound is returned by Attach when no initializer has created
	// the segment.
	ErrNotFound = errors.New("shared segment does not exist")

	// ErrAlreadyExists is returned by Create when a segment with the same
	// key is already present.
	ErrAlreadyExists = errors.New("shared segment already exists")

	// ErrSegmentTooLarge is returned by Create when the aligned size
	// exceeds the host limit.
	ErrSegmentTooLarge = errors.New("shared segment exceeds host maximum size")
)

const shmmaxPath = "/proc/sys/kernel/shmmax"

// Segment is a process-local handle to the mapped shared segment.
type Segment struct {
	id  int
	mem []byte
}

// Create allocates and maps the pipeline segment under the fixed key,
// zero-filled, with every region offset populated. The caller still has to
// seed the slots, the input bytes and the rings.
func Create(capacity int32, fileSize int64) (*Segment, error) {
	return CreateKeyed(SegmentKey, capacity, fileSize)
}

// CreateKeyed is Create with an explicit key. Tests pass unix.IPC_PRIVATE to
// get a throwaway segment.
func CreateKeyed(key int, capacity int32, fileSize int64) (*Segment, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("capacity must be at least 1, got %d", capacity)
	}
	if fileSize < 1 {
		return nil, fmt.Errorf("file size must be at least 1, got %d", fileSize)
	}

	l := ComputeLayout(capacity, fileSize)
	if maxSize := hostMaxSegmentSize(); maxSize > 0 && l.Total > maxSize {
		return nil, fmt.Errorf("%w: need %d bytes, host allows %d", ErrSegmentTooLarge, l.Total, maxSize)
	}

	id, err := unix.SysvShmGet(key, int(l.Total), unix.IPC_CREAT|unix.IPC_EXCL|0o666)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, ErrAlreadyExists
		}
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.ENOSPC) {
			return nil, fmt.Errorf("%w: shmget: %v", ErrSegmentTooLarge, err)
		}
		return nil, fmt.Errorf("shmget failed: %w", err)
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, fmt.Errorf("shmat failed: %w", err)
	}

	s := &Segment{id: id, mem: mem}
	clear(mem)

	h := s.Header()
	h.Magic = headerMagic
	h.SegmentID = int32(id)
	h.Capacity = capacity
	h.FileSize = fileSize
	h.SlotRegionOffset = l.SlotRegionOffset
	h.InputRegionOffset = l.InputOffset
	h.FreeRing = ring.Desc{Capacity: capacity, ArrayOffset: l.FreeArrayOffset}
	h.ReadyRing = ring.Desc{Capacity: capacity, ArrayOffset: l.ReadyArrayOffset}
	return s, nil
}

// Attach maps the segment created by the initializer and validates it.
func Attach() (*Segment, error) {
	id, err := unix.SysvShmGet(SegmentKey, 0, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shmget failed: %w", err)
	}
	return AttachID(id)
}

// AttachID maps an existing segment by its identifier.
func AttachID(id int) (*Segment, error) {
	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat failed: %w", err)
	}

	s := &Segment{id: id, mem: mem}
	h := s.Header()
	if h.Magic != headerMagic {
		_ = s.Detach()
		return nil, fmt.Errorf("segment has unexpected magic %#x", h.Magic)
	}
	if h.Capacity <= 0 || h.FileSize <= 0 {
		_ = s.Detach()
		return nil, fmt.Errorf("segment has invalid geometry: capacity=%d file_size=%d", h.Capacity, h.FileSize)
	}
	return s, nil
}

// ID returns the System V identifier of the segment.
func (s *Segment) ID() int { return s.id }

// Size returns the mapped size in bytes.
func (s *Segment) Size() int64 { return int64(len(s.mem)) }

// Detach unmaps the segment from this process.
func (s *Segment) Detach() error {
	if s.mem == nil {
		return nil
	}
	if err := unix.SysvShmDetach(s.mem); err != nil {
		return fmt.Errorf("shmdt failed: %w", err)
	}
	s.mem = nil
	return nil
}

// Destroy marks the segment for removal. Only the terminator calls this.
func (s *Segment) Destroy() error {
	if _, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); err != nil {
		return fmt.Errorf("shmctl(IPC_RMID) failed: %w", err)
	}
	return nil
}

// Header returns the typed view of the header region.
func (s *Segment) Header() *Header {
	return (*Header)(unsafe.Pointer(&s.mem[0]))
}

// Slots returns the slot array.
func (s *Segment) Slots() []Slot {
	h := s.Header()
	return unsafe.Slice((*Slot)(unsafe.Pointer(&s.mem[h.SlotRegionOffset])), h.Capacity)
}

// Input returns the input byte region.
func (s *Segment) Input() []byte {
	h := s.Header()
	return s.mem[h.InputRegionOffset : h.InputRegionOffset+h.FileSize]
}

// FreeRing returns a view over the free ring. The caller must hold the free
// queue mutex around its operations.
func (s *Segment) FreeRing() *ring.Ring {
	h := s.Header()
	return ring.New(&h.FreeRing, s.cells(&h.FreeRing))
}

// ReadyRing returns a view over the ready ring. The caller must hold the
// ready queue mutex around its operations.
func (s *Segment) ReadyRing() *ring.Ring {
	h := s.Header()
	return ring.New(&h.ReadyRing, s.cells(&h.ReadyRing))
}

func (s *Segment) cells(d *ring.Desc) []ring.Cell {
	return unsafe.Slice((*ring.Cell)(unsafe.Pointer(&s.mem[d.ArrayOffset])), d.Capacity)
}

func hostMaxSegmentSize() int64 {
	raw, err := os.ReadFile(shmmaxPath)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || v > uint64(1)<<62 {
		return 0
	}
	return int64(v)
}
