package sem

import (
	"errors"
	"fmt"
)

// The five pipeline semaphores. The queue names follow the transform
// direction: the "encrypt" queue feeds emitters with free slots, the
// "decrypt" queue feeds receivers with ready slots.
const (
	NameGlobalMutex = "/sem_global_mutex"
	NameFreeQueue   = "/sem_encrypt_queue"
	NameReadyQueue  = "/sem_decrypt_queue"
	NameFreeSpaces  = "/sem_encrypt_spaces"
	NameReadyItems  = "/sem_decrypt_items"
)

// Names carries the five semaphore names as one unit so tests can run whole
// pipelines against uniquely named sets.
type Names struct {
	GlobalMutex string
	FreeQueue   string
	ReadyQueue  string
	FreeSpaces  string
	ReadyItems  string
}

// DefaultNames returns the production names.
func DefaultNames() Names {
	return Names{
		GlobalMutex: NameGlobalMutex,
		FreeQueue:   NameFreeQueue,
		ReadyQueue:  NameReadyQueue,
		FreeSpaces:  NameFreeSpaces,
		ReadyItems:  NameReadyItems,
	}
}

// WithSuffix returns a copy with the suffix appended to every name.
func (n Names) WithSuffix(suffix string) Names {
	return Names{
		GlobalMutex: n.GlobalMutex + suffix,
		FreeQueue:   n.FreeQueue + suffix,
		ReadyQueue:  n.ReadyQueue + suffix,
		FreeSpaces:  n.FreeSpaces + suffix,
		ReadyItems:  n.ReadyItems + suffix,
	}
}

func (n Names) all() []string {
	return []string{n.GlobalMutex, n.FreeQueue, n.ReadyQueue, n.FreeSpaces, n.ReadyItems}
}

// Set is the open handle to all five semaphores.
type Set struct {
	// GlobalMutex guards the header: the source-index counter, the
	// registration tables, the stats tables and the active counters.
	GlobalMutex *Sem
	// FreeQueue and ReadyQueue guard the two ring structures.
	FreeQueue  *Sem
	ReadyQueue *Sem
	// FreeSpaces counts free slots; ReadyItems counts published slots.
	FreeSpaces *Sem
	ReadyItems *Sem
}

// CreateSet creates the five semaphores at their initial values: the three
// mutexes at 1, FreeSpaces at capacity, ReadyItems at 0.
func CreateSet(names Names, capacity int32) (*Set, error) {
	st := &Set{}

	var err error
	if st.GlobalMutex, err = Create(names.GlobalMutex, 1); err == nil {
		if st.FreeQueue, err = Create(names.FreeQueue, 1); err == nil {
			if st.ReadyQueue, err = Create(names.ReadyQueue, 1); err == nil {
				if st.FreeSpaces, err = Create(names.FreeSpaces, uint32(capacity)); err == nil {
					st.ReadyItems, err = Create(names.ReadyItems, 0)
				}
			}
		}
	}
	if err != nil {
		st.Close()
		_ = UnlinkAll(names)
		return nil, fmt.Errorf("failed to create semaphore set: %w", err)
	}
	return st, nil
}

// OpenSet attaches to the five existing semaphores.
func OpenSet(names Names) (*Set, error) {
	st := &Set{}

	var err error
	if st.GlobalMutex, err = Open(names.GlobalMutex); err == nil {
		if st.FreeQueue, err = Open(names.FreeQueue); err == nil {
			if st.ReadyQueue, err = Open(names.ReadyQueue); err == nil {
				if st.FreeSpaces, err = Open(names.FreeSpaces); err == nil {
					st.ReadyItems, err = Open(names.ReadyItems)
				}
			}
		}
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open semaphore set: %w", err)
	}
	return st, nil
}

// Close unmaps every open semaphore in the set.
func (st *Set) Close() {
	for _, s := range []*Sem{st.GlobalMutex, st.FreeQueue, st.ReadyQueue, st.FreeSpaces, st.ReadyItems} {
		if s != nil {
			_ = s.Close()
		}
	}
}

// UnlinkAll removes all five named objects, collecting failures other than
// absence.
func UnlinkAll(names Names) error {
	var errs []error
	for _, name := range names.all() {
		if err := Unlink(name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
