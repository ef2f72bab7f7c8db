// Package initialize creates and seeds the pipeline: the shared segment
// with the input bytes copied in, every slot free, the free ring full, the
// ready ring empty, and the five semaphores at their initial values. The
// initializer exits once the world is set up; it takes no further part in
// the run.
package initialize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/cipherline/cipherline/internal/ring"
	"github.com/cipherline/cipherline/internal/sem"
	"github.com/cipherline/cipherline/internal/shmem"
)

// Config is what the initializer needs from the command line.
type Config struct {
	// InputPath is the file whose bytes the pipeline transports.
	InputPath string
	// Capacity is the number of slots in the ring.
	Capacity int32
	// Key is the default one-byte transform key.
	Key byte
}

// Run performs the whole initialization and detaches.
func Run(cfg Config, log *zap.SugaredLogger) error {
	data, err := os.ReadFile(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("input file %q is empty", cfg.InputPath)
	}

	seg, err := createSegment(cfg.Capacity, int64(len(data)), log)
	if err != nil {
		return err
	}
	defer seg.Detach()

	free, ready := Populate(seg, cfg.Key, filepath.Base(cfg.InputPath), data)

	names := sem.DefaultNames()
	// A previous run that died without its terminator leaves the named
	// objects behind; clear them before creating fresh ones.
	_ = sem.UnlinkAll(names)
	set, err := sem.CreateSet(names, cfg.Capacity)
	if err != nil {
		_ = seg.Destroy()
		return err
	}
	set.Close()

	logBanner(log, seg, free, ready)
	return nil
}

// createSegment makes the segment, replacing a leftover one from a dead run
// if it is removable.
func createSegment(capacity int32, fileSize int64, log *zap.SugaredLogger) (*shmem.Segment, error) {
	seg, err := shmem.Create(capacity, fileSize)
	if err == nil {
		return seg, nil
	}
	if !errors.Is(err, shmem.ErrAlreadyExists) {
		return nil, err
	}

	log.Warnf("segment already exists, removing the stale one")
	stale, aerr := shmem.Attach()
	if aerr != nil {
		return nil, fmt.Errorf("stale segment is not attachable: %w", aerr)
	}
	derr := stale.Destroy()
	_ = stale.Detach()
	if derr != nil {
		return nil, fmt.Errorf("stale segment is not removable: %w", derr)
	}

	return shmem.Create(capacity, fileSize)
}

// Populate fills a freshly created segment: header metadata, the input
// bytes, every slot free, the free ring seeded full and the ready ring
// empty. Returns the two ring views for the banner.
func Populate(seg *shmem.Segment, key byte, inputName string, data []byte) (*ring.Ring, *ring.Ring) {
	h := seg.Header()
	h.XorKey = key
	h.SetInputFileName(inputName)
	copy(seg.Input(), data)

	seedSlots(seg)
	return seedRings(seg)
}

func seedSlots(seg *shmem.Segment) {
	slots := seg.Slots()
	for i := range slots {
		slots[i] = shmem.Slot{
			SourceIndex: ring.FreeSource,
			SlotNumber:  int32(i) + 1,
		}
	}
}

func seedRings(seg *shmem.Segment) (*ring.Ring, *ring.Ring) {
	free := seg.FreeRing()
	ready := seg.ReadyRing()
	free.Reset()
	ready.Reset()

	for i := 0; i < free.Cap(); i++ {
		// Seeding a fresh full-capacity ring cannot fail.
		if err := free.Push(ring.Cell{SlotIndex: int64(i), SourceIndex: ring.FreeSource}); err != nil {
			panic(err)
		}
	}
	return free, ready
}

func logBanner(log *zap.SugaredLogger, seg *shmem.Segment, free, ready *ring.Ring) {
	h := seg.Header()

	preview := free.Snapshot()
	if len(preview) > 5 {
		preview = preview[:5]
	}
	slots := make([]int64, 0, len(preview))
	for _, c := range preview {
		slots = append(slots, c.SlotIndex)
	}

	log.Infow("pipeline initialized",
		"segment_id", seg.ID(),
		"segment_size", datasize.ByteSize(seg.Size()).HumanReadable(),
		"capacity", h.Capacity,
		"key", fmt.Sprintf("%#02x", h.XorKey),
		"input", h.InputFileName(),
		"file_size", datasize.ByteSize(h.FileSize).HumanReadable(),
	)
	log.Infow("queues seeded",
		"free_size", free.Len(),
		"ready_size", ready.Len(),
		"first_free_slots", slots,
	)
}
