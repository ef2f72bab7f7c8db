package pipeline

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cipherline/cipherline/internal/ring"
	"github.com/cipherline/cipherline/internal/sem"
	"github.com/cipherline/cipherline/internal/shmem"
	"github.com/cipherline/cipherline/internal/xcmd"
)

// Receiver drains ready slots in source order, reverses the transform and
// writes each byte at its source offset in the output file.
type Receiver struct {
	seg   *shmem.Segment
	sems  *sem.Set
	free  *ring.Ring
	ready *ring.Ring
	out   *Output

	log     *zap.SugaredLogger
	stepper Stepper
	stop    *xcmd.StopFlag
	key     byte
	pid     int32

	received int64
}

// NewReceiver builds a receiver over an attached segment, an open semaphore
// set and an opened output file.
func NewReceiver(seg *shmem.Segment, sems *sem.Set, out *Output, opts ...Option) *Receiver {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	key := seg.Header().XorKey
	if o.key != nil {
		key = *o.key
	}

	return &Receiver{
		seg:     seg,
		sems:    sems,
		free:    seg.FreeRing(),
		ready:   seg.ReadyRing(),
		out:     out,
		log:     o.log,
		stepper: o.stepper,
		stop:    o.stop,
		key:     key,
		pid:     o.pid,
	}
}

// Received returns how many bytes this receiver wrote out.
func (r *Receiver) Received() int64 { return r.received }

// Run registers the receiver, executes the drain loop and writes the stats
// row on the way out.
//
// Termination is the drained check: once every source byte has been
// dispatched, the ready ring is observed empty and every slot is back in
// the free ring, no byte can ever appear again and the receiver leaves on
// its own.
func (r *Receiver) Run() error {
	h := r.seg.Header()
	if err := Register(h, r.sems.GlobalMutex, RoleReceiver, r.pid); err != nil {
		return err
	}
	start := time.Now()
	r.log.Infow("receiver started", "pid", r.pid, "key", r.key, "output", r.out.Path())

	for {
		if r.stopRequested(h) {
			r.log.Infow("receiver leaving on shutdown request", "pid", r.pid)
			break
		}
		if r.drained(h) {
			r.log.Infow("receiver drained", "pid", r.pid)
			break
		}
		if err := r.stepper.Next(); err != nil {
			r.log.Warnf("stepping aborted: %v", err)
			break
		}

		done, err := r.step(h)
		if err != nil {
			r.log.Errorf("receive step failed: %v", err)
			break
		}
		if done {
			break
		}
	}

	Deregister(h, r.sems.GlobalMutex, RoleReceiver, r.pid, r.received, start, time.Now())
	r.log.Infow("receiver finished", "pid", r.pid, "bytes", r.received)
	return nil
}

func (r *Receiver) stopRequested(h *shmem.Header) bool {
	return r.stop.Raised() || h.ShutdownRequested()
}

// drained reports whether every source byte was dispatched, the ready ring
// is empty and every slot is back in the free ring. Each snapshot is taken
// under its own mutex. The free-ring check covers an emitter that claimed
// an index but has not published it yet: it holds a slot outside both
// rings. Once all three hold, no byte can appear again.
func (r *Receiver) drained(h *shmem.Header) bool {
	r.sems.GlobalMutex.Lock()
	done := h.ProcessedCount >= h.FileSize
	r.sems.GlobalMutex.Unlock()
	if !done {
		return false
	}

	r.sems.ReadyQueue.Lock()
	empty := r.ready.Len() == 0
	r.sems.ReadyQueue.Unlock()
	if !empty {
		return false
	}

	r.sems.FreeQueue.Lock()
	settled := r.free.Len() == r.free.Cap()
	r.sems.FreeQueue.Unlock()
	return settled
}

// step consumes one ready slot. Returns done=true when shutdown was
// observed while waiting.
func (r *Receiver) step(h *shmem.Header) (bool, error) {
	for {
		if r.stopRequested(h) {
			return true, nil
		}
		err := r.sems.ReadyItems.Wait()
		if err == nil {
			break
		}
		if errors.Is(err, sem.ErrInterrupted) {
			if r.drained(h) {
				return true, nil
			}
			continue
		}
		return true, err
	}

	r.sems.ReadyQueue.Lock()
	cell, err := r.ready.PopMinSource()
	r.sems.ReadyQueue.Unlock()
	if err != nil {
		// The terminator amplifies ready_items to flush waiters; an
		// empty pop after a granted permit is that, or a transient
		// race. Back to the loop top either way.
		return false, nil
	}

	slot := &r.seg.Slots()[cell.SlotIndex]
	if slot.IsValid == 0 {
		// Released sentinel: the slot carries nothing, return it to
		// the free pool and move on.
		r.log.Debugw("skipping invalid slot", "pid", r.pid, "slot", slot.SlotNumber)
		return false, r.releaseSlot(slot, cell.SlotIndex)
	}

	b := slot.ByteValue ^ r.key
	if err := r.out.WriteByteAt(b, cell.SourceIndex); err != nil {
		// The byte stays zero in the pre-sized file; the pipeline
		// keeps going.
		r.log.Errorf("output write failed: %v", err)
	} else {
		r.received++
		r.log.Debugw("byte restored",
			"pid", r.pid,
			"slot", slot.SlotNumber,
			"source_index", cell.SourceIndex,
			"value", b,
		)
	}

	return false, r.releaseSlot(slot, cell.SlotIndex)
}

// releaseSlot clears the slot and returns it to the free ring.
func (r *Receiver) releaseSlot(slot *shmem.Slot, slotIndex int64) error {
	slot.IsValid = 0
	slot.ByteValue = 0
	slot.SourceIndex = ring.FreeSource
	slot.Timestamp = 0

	r.sems.FreeQueue.Lock()
	err := r.free.Push(ring.Cell{SlotIndex: slotIndex, SourceIndex: ring.FreeSource})
	r.sems.FreeQueue.Unlock()
	if err != nil {
		return err
	}
	return r.sems.FreeSpaces.Post()
}
