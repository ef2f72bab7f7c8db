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

// Emitter moves bytes from the input region into free slots, applying the
// transform on the way in. Any number of emitters may run concurrently; the
// global mutex hands each source index to exactly one of them.
type Emitter struct {
	seg   *shmem.Segment
	sems  *sem.Set
	free  *ring.Ring
	ready *ring.Ring

	log     *zap.SugaredLogger
	stepper Stepper
	stop    *xcmd.StopFlag
	key     byte
	pid     int32

	sent int64
}

// NewEmitter builds an emitter over an attached segment and an open
// semaphore set. The transform key defaults to the one stored at init.
func NewEmitter(seg *shmem.Segment, sems *sem.Set, opts ...Option) *Emitter {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	key := seg.Header().XorKey
	if o.key != nil {
		key = *o.key
	}

	return &Emitter{
		seg:     seg,
		sems:    sems,
		free:    seg.FreeRing(),
		ready:   seg.ReadyRing(),
		log:     o.log,
		stepper: o.stepper,
		stop:    o.stop,
		key:     key,
		pid:     o.pid,
	}
}

// Sent returns how many bytes this emitter dispatched.
func (e *Emitter) Sent() int64 { return e.sent }

// Run registers the emitter, executes the emit loop until the source is
// exhausted or shutdown is requested, and writes the stats row on the way
// out.
func (e *Emitter) Run() error {
	h := e.seg.Header()
	if err := Register(h, e.sems.GlobalMutex, RoleEmitter, e.pid); err != nil {
		return err
	}
	start := time.Now()
	e.log.Infow("emitter started", "pid", e.pid, "key", e.key)

	for {
		if e.stopRequested(h) {
			e.log.Infow("emitter leaving on shutdown request", "pid", e.pid)
			break
		}
		if err := e.stepper.Next(); err != nil {
			e.log.Warnf("stepping aborted: %v", err)
			break
		}

		done, err := e.step(h)
		if err != nil {
			e.log.Errorf("emit step failed: %v", err)
			break
		}
		if done {
			break
		}
	}

	Deregister(h, e.sems.GlobalMutex, RoleEmitter, e.pid, e.sent, start, time.Now())
	e.log.Infow("emitter finished", "pid", e.pid, "bytes", e.sent)
	return nil
}

func (e *Emitter) stopRequested(h *shmem.Header) bool {
	return e.stop.Raised() || h.ShutdownRequested()
}

// step moves one byte. Returns done=true when the loop should end: source
// exhausted or shutdown observed while waiting.
func (e *Emitter) step(h *shmem.Header) (bool, error) {
	// Take a free-slot permit. Interrupted waits re-check the shutdown
	// flag and retry.
	for {
		if e.stopRequested(h) {
			return true, nil
		}
		err := e.sems.FreeSpaces.Wait()
		if err == nil {
			break
		}
		if errors.Is(err, sem.ErrInterrupted) {
			continue
		}
		return true, err
	}

	e.sems.FreeQueue.Lock()
	cell, err := e.free.Pop()
	e.sems.FreeQueue.Unlock()
	if err != nil {
		// The counter said a slot was there. Transient; give the
		// permit back and try again.
		if perr := e.sems.FreeSpaces.Post(); perr != nil {
			return true, perr
		}
		return false, nil
	}

	// Claim the next source index. Past the end of the file the counter
	// stays put and the slot goes back.
	e.sems.GlobalMutex.Lock()
	i := h.NextSourceIndex
	if i < h.FileSize {
		h.NextSourceIndex++
		h.ProcessedCount++
	}
	e.sems.GlobalMutex.Unlock()

	if i >= h.FileSize {
		e.sems.FreeQueue.Lock()
		err = e.free.Push(ring.Cell{SlotIndex: cell.SlotIndex, SourceIndex: ring.FreeSource})
		e.sems.FreeQueue.Unlock()
		if err != nil {
			return true, err
		}
		if err := e.sems.FreeSpaces.Post(); err != nil {
			return true, err
		}
		e.log.Debugw("source exhausted", "pid", e.pid)
		return true, nil
	}

	// The slot is exclusively ours between the free-ring pop and the
	// ready-ring push; no lock is needed to fill it.
	b := e.seg.Input()[i] ^ e.key
	slot := &e.seg.Slots()[cell.SlotIndex]
	slot.ByteValue = b
	slot.SourceIndex = i
	slot.EmitterPID = e.pid
	slot.Timestamp = time.Now().UnixNano()
	slot.IsValid = 1

	e.sems.ReadyQueue.Lock()
	err = e.ready.Push(ring.Cell{SlotIndex: cell.SlotIndex, SourceIndex: i})
	e.sems.ReadyQueue.Unlock()
	if err != nil {
		// Cannot happen while permits are conserved.
		return true, err
	}
	if err := e.sems.ReadyItems.Post(); err != nil {
		return true, err
	}

	e.sent++
	e.log.Debugw("byte published",
		"pid", e.pid,
		"slot", slot.SlotNumber,
		"source_index", i,
		"value", b,
	)
	return false, nil
}
