// Package terminate implements the process that ends a run: it waits for a
// quit key or a signal, flips the shutdown flag, releases every blocked
// waiter, waits for the workers to drain out, prints the run statistics and
// removes every IPC object.
package terminate

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/cipherline/cipherline/internal/sem"
	"github.com/cipherline/cipherline/internal/shmem"
	"github.com/cipherline/cipherline/internal/xcmd"
)

// errTriggered unwinds the trigger errgroup once either watcher fires.
var errTriggered = errors.New("shutdown triggered")

type options struct {
	log          *zap.SugaredLogger
	names        sem.Names
	out          io.Writer
	pollInterval time.Duration
	statsPause   time.Duration
	keyboard     bool
}

func newOptions() *options {
	return &options{
		log:          zap.NewNop().Sugar(),
		names:        sem.DefaultNames(),
		out:          os.Stdout,
		pollInterval: time.Second,
		statsPause:   3 * time.Second,
		keyboard:     true,
	}
}

// Option configures the terminator.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithNames overrides the semaphore names. Tests use suffixed sets.
func WithNames(n sem.Names) Option {
	return func(o *options) { o.names = n }
}

// WithOutput redirects the statistics report.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithPollInterval overrides the one-second drain poll.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithStatsPause overrides how long the report stays on screen before
// cleanup.
func WithStatsPause(d time.Duration) Option {
	return func(o *options) { o.statsPause = d }
}

// WithoutKeyboard disables the raw-mode stdin watcher. Tests drive shutdown
// through the context instead.
func WithoutKeyboard() Option {
	return func(o *options) { o.keyboard = false }
}

// Terminator drives the Waiting -> Draining -> Cleanup state machine.
type Terminator struct {
	log          *zap.SugaredLogger
	names        sem.Names
	out          io.Writer
	pollInterval time.Duration
	statsPause   time.Duration
	keyboard     bool
}

// New builds a terminator.
func New(opts ...Option) *Terminator {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Terminator{
		log:          o.log,
		names:        o.names,
		out:          o.out,
		pollInterval: o.pollInterval,
		statsPause:   o.statsPause,
		keyboard:     o.keyboard,
	}
}

// Run executes the whole shutdown sequence. Canceling the context acts like
// a trigger, which is how tests drive it.
func (t *Terminator) Run(ctx context.Context) error {
	seg, err := shmem.Attach()
	if err != nil {
		return err
	}
	defer seg.Detach()
	return t.RunAttached(ctx, seg)
}

// RunAttached is Run over an already attached segment. The caller keeps
// ownership of the mapping; the terminator still destroys the segment
// object itself.
func (t *Terminator) RunAttached(ctx context.Context, seg *shmem.Segment) error {
	sems, err := sem.OpenSet(t.names)
	if err != nil {
		return err
	}
	defer sems.Close()

	var kb *Keyboard
	if t.keyboard {
		if kb, err = OpenKeyboard(); err != nil {
			return err
		}
	}

	t.log.Info("waiting for shutdown trigger ('q' or SIGINT/SIGTERM)")
	reason := t.awaitTrigger(ctx, kb)
	// Back to cooked mode before anything else prints.
	kb.Restore()
	t.log.Infow("shutdown triggered", "reason", reason)

	snap := semSnapshot{
		freeSpaces: sems.FreeSpaces.Value(),
		readyItems: sems.ReadyItems.Value(),
	}

	h := seg.Header()
	t.broadcast(h, sems)

	// Statistics must come out whole even if the operator keeps hammering
	// Ctrl-C.
	signal.Ignore(syscall.SIGINT, syscall.SIGTERM)
	defer signal.Reset(syscall.SIGINT, syscall.SIGTERM)

	t.awaitDrain(h, sems)
	t.log.Info("all workers finished")

	printStats(t.out, h, snap)
	if t.statsPause > 0 {
		time.Sleep(t.statsPause)
	}

	return t.cleanup(seg)
}

// awaitTrigger blocks until a quit key, a termination signal or context
// cancellation.
func (t *Terminator) awaitTrigger(ctx context.Context, kb *Keyboard) string {
	trigger := make(chan string, 2)

	wg, wctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(wctx)
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			trigger <- "signal " + interrupted.String()
		}
		return err
	})
	wg.Go(func() error {
		if kb == nil {
			<-wctx.Done()
			return wctx.Err()
		}
		if kb.WaitQuit(wctx) {
			trigger <- "quit key"
			return errTriggered
		}
		return wctx.Err()
	})
	_ = wg.Wait()

	select {
	case reason := <-trigger:
		return reason
	default:
		return "context canceled"
	}
}

// broadcast flips the shutdown flag, hints every registered worker with
// SIGUSR1 and bulk-posts both counting semaphores so nobody stays blocked.
func (t *Terminator) broadcast(h *shmem.Header, sems *sem.Set) {
	sems.GlobalMutex.Lock()
	h.RequestShutdown()
	emitters := registeredPIDs(&h.EmitterPIDs)
	receivers := registeredPIDs(&h.ReceiverPIDs)
	sems.GlobalMutex.Unlock()

	sentEmitters := signalAll(emitters)
	sentReceivers := signalAll(receivers)
	t.log.Infow("termination hint sent",
		"emitters", sentEmitters,
		"receivers", sentReceivers,
	)

	for i := int32(0); i < h.Capacity; i++ {
		_ = sems.FreeSpaces.Post()
		_ = sems.ReadyItems.Post()
	}
	t.log.Infow("blocked waiters released", "posts_per_semaphore", h.Capacity)
}

func registeredPIDs(table *[shmem.MaxPeers]int32) []int32 {
	var pids []int32
	for _, pid := range table {
		if pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

// signalAll sends SIGUSR1 to each PID; delivery failures are non-fatal (the
// process may already be gone).
func signalAll(pids []int32) int {
	sent := 0
	for _, pid := range pids {
		if err := unix.Kill(int(pid), unix.SIGUSR1); err == nil {
			sent++
		}
	}
	return sent
}

// awaitDrain polls the active counters until both reach zero.
func (t *Terminator) awaitDrain(h *shmem.Header, sems *sem.Set) {
	for {
		sems.GlobalMutex.Lock()
		emitters := h.ActiveEmitters
		receivers := h.ActiveReceivers
		sems.GlobalMutex.Unlock()

		if emitters == 0 && receivers == 0 {
			return
		}
		t.log.Infow("waiting for workers to finish",
			"active_emitters", emitters,
			"active_receivers", receivers,
		)
		time.Sleep(t.pollInterval)
	}
}

// cleanup unlinks the five semaphores and removes the segment.
func (t *Terminator) cleanup(seg *shmem.Segment) error {
	t.log.Info("removing IPC objects")

	var errs []error
	if err := sem.UnlinkAll(t.names); err != nil {
		errs = append(errs, err)
	}
	if err := seg.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	t.log.Info("cleanup complete")
	return nil
}
