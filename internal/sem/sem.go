// Package sem implements the named cross-process counting semaphores the
// pipeline synchronizes on.
//
// Each semaphore is a small file under /dev/shm holding a futex word, mapped
// shared by every process that opens it. The fast path is a CAS on the
// mapped counter; contended waits sleep in FUTEX_WAIT and are woken by
// FUTEX_WAKE from Post. The file name is the semaphore name, persistence and
// unlink semantics follow the POSIX named-semaphore model: objects outlive
// their creator and are removed only by an explicit Unlink at the end of the
// run.
package sem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	// ErrInterrupted is returned by Wait when the sleep was cut short by
	// a signal or by the re-arm tick. The caller re-checks the shutdown
	// flag and either retries or leaves its loop.
	ErrInterrupted = errors.New("semaphore wait interrupted")

	// ErrNotFound is returned by Open when no creator ran.
	ErrNotFound = errors.New("semaphore does not exist")

	// ErrAlreadyExists is returned by Create when the name is taken.
	ErrAlreadyExists = errors.New("semaphore already exists")
)

// Dir is where the semaphore files live.
const Dir = "/dev/shm"

const semMagic = 0x53454d31 // "SEM1"

// waitTick bounds every futex sleep. A wake or a signal can in principle
// land on another thread of the process; the tick guarantees the waiter
// re-examines the world within a bounded time regardless.
const waitTick = 250 * time.Millisecond

// state is the mapped content of a semaphore file.
type state struct {
	magic   uint32
	value   uint32
	waiters uint32
	_       uint32
}

const stateSize = int(unsafe.Sizeof(state{}))

// Sem is a process-local handle to a named semaphore.
type Sem struct {
	name string
	mem  []byte
	st   *state
}

func path(name string) string {
	return filepath.Join(Dir, strings.TrimPrefix(name, "/"))
}

// Create makes a new named semaphore with the given initial value. Fails if
// the name is already taken.
func Create(name string, initial uint32) (*Sem, error) {
	f, err := os.OpenFile(path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("failed to create semaphore %q: %w", name, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(stateSize)); err != nil {
		_ = os.Remove(path(name))
		return nil, fmt.Errorf("failed to size semaphore %q: %w", name, err)
	}

	s, err := mapSem(name, f)
	if err != nil {
		_ = os.Remove(path(name))
		return nil, err
	}

	s.st.value = initial
	atomic.StoreUint32(&s.st.magic, semMagic)
	return s, nil
}

// Open attaches to an existing named semaphore.
func Open(name string) (*Sem, error) {
	f, err := os.OpenFile(path(name), os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to open semaphore %q: %w", name, err)
	}
	defer f.Close()

	s, err := mapSem(name, f)
	if err != nil {
		return nil, err
	}
	if atomic.LoadUint32(&s.st.magic) != semMagic {
		_ = s.Close()
		return nil, fmt.Errorf("semaphore %q is not initialized", name)
	}
	return s, nil
}

func mapSem(name string, f *os.File) (*Sem, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, stateSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map semaphore %q: %w", name, err)
	}
	return &Sem{
		name: name,
		mem:  mem,
		st:   (*state)(unsafe.Pointer(&mem[0])),
	}, nil
}

// Name returns the semaphore name.
func (s *Sem) Name() string { return s.name }

// Wait decrements the counter, sleeping while it is zero. Returns
// ErrInterrupted when the sleep was broken before a permit was taken; the
// caller decides whether to retry.
func (s *Sem) Wait() error {
	for {
		v := atomic.LoadUint32(&s.st.value)
		if v > 0 {
			if atomic.CompareAndSwapUint32(&s.st.value, v, v-1) {
				return nil
			}
			continue
		}

		atomic.AddUint32(&s.st.waiters, 1)
		err := futexWait(&s.st.value, 0, waitTick)
		atomic.AddUint32(&s.st.waiters, ^uint32(0))

		switch {
		case err == nil || errors.Is(err, unix.EAGAIN):
			// Woken, or the value moved before we slept; retry the
			// fast path.
		case errors.Is(err, unix.EINTR) || errors.Is(err, unix.ETIMEDOUT):
			return ErrInterrupted
		default:
			return fmt.Errorf("futex wait on %q failed: %w", s.name, err)
		}
	}
}

// Lock acquires a semaphore used as a mutex. Interrupted sleeps are retried:
// critical sections are short and the owner always returns the permit, so
// the wait is bounded even during shutdown.
func (s *Sem) Lock() {
	for {
		err := s.Wait()
		if err == nil {
			return
		}
		if !errors.Is(err, ErrInterrupted) {
			panic(err)
		}
	}
}

// Unlock releases a semaphore used as a mutex.
func (s *Sem) Unlock() {
	if err := s.Post(); err != nil {
		panic(err)
	}
}

// TryWait takes a permit only if one is immediately available.
func (s *Sem) TryWait() bool {
	for {
		v := atomic.LoadUint32(&s.st.value)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.st.value, v, v-1) {
			return true
		}
	}
}

// Post increments the counter and wakes one sleeping waiter.
func (s *Sem) Post() error {
	atomic.AddUint32(&s.st.value, 1)
	if atomic.LoadUint32(&s.st.waiters) > 0 {
		if err := futexWake(&s.st.value, 1); err != nil {
			return fmt.Errorf("futex wake on %q failed: %w", s.name, err)
		}
	}
	return nil
}

// Value samples the current counter. Inherently racy; used only for the
// terminator's final report.
func (s *Sem) Value() uint32 {
	return atomic.LoadUint32(&s.st.value)
}

// Close unmaps the semaphore. The named object stays until Unlink.
func (s *Sem) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	s.st = nil
	if err != nil {
		return fmt.Errorf("failed to unmap semaphore %q: %w", s.name, err)
	}
	return nil
}

// Unlink removes the named object. Existing handles keep working until
// closed, matching sem_unlink.
func Unlink(name string) error {
	if err := os.Remove(path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to unlink semaphore %q: %w", name, err)
	}
	return nil
}

func futexWait(addr *uint32, expected uint32, timeout time.Duration) error {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(expected),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func futexWake(addr *uint32, n int) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(n),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}
