package pipeline

import (
	"errors"
	"time"

	"github.com/cipherline/cipherline/internal/sem"
	"github.com/cipherline/cipherline/internal/shmem"
)

// ErrRegistryFull is returned when a hundred peers of one kind are already
// registered.
var ErrRegistryFull = errors.New("process registry is full")

// Role distinguishes the two worker kinds in the registration and stats
// tables.
type Role int

const (
	RoleEmitter Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleEmitter {
		return "emitter"
	}
	return "receiver"
}

func (r Role) pids(h *shmem.Header) *[shmem.MaxPeers]int32 {
	if r == RoleEmitter {
		return &h.EmitterPIDs
	}
	return &h.ReceiverPIDs
}

// Register records the process in its role table and bumps the counters.
func Register(h *shmem.Header, global *sem.Sem, role Role, pid int32) error {
	global.Lock()
	defer global.Unlock()

	pids := role.pids(h)
	for i := range pids {
		if pids[i] == 0 {
			pids[i] = pid
			if role == RoleEmitter {
				h.ActiveEmitters++
				h.TotalEmitters++
			} else {
				h.ActiveReceivers++
				h.TotalReceivers++
			}
			return nil
		}
	}
	return ErrRegistryFull
}

// Deregister clears the registration entry, drops the active counter and
// appends the stats row for this run of the process.
func Deregister(h *shmem.Header, global *sem.Sem, role Role, pid int32, bytes int64, start, end time.Time) {
	global.Lock()
	defer global.Unlock()

	pids := role.pids(h)
	for i := range pids {
		if pids[i] == pid {
			pids[i] = 0
			break
		}
	}

	row := shmem.StatRow{
		PID:       pid,
		Bytes:     bytes,
		StartTime: start.UnixNano(),
		EndTime:   end.UnixNano(),
	}
	if role == RoleEmitter {
		h.ActiveEmitters--
		if h.EmitterStatCount < shmem.MaxPeers {
			h.EmitterStats[h.EmitterStatCount] = row
			h.EmitterStatCount++
		}
	} else {
		h.ActiveReceivers--
		if h.ReceiverStatCount < shmem.MaxPeers {
			h.ReceiverStats[h.ReceiverStatCount] = row
			h.ReceiverStatCount++
		}
	}
}
