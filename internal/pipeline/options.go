package pipeline

import (
	"os"

	"go.uber.org/zap"

	"github.com/cipherline/cipherline/internal/xcmd"
)

type options struct {
	log     *zap.SugaredLogger
	stepper Stepper
	stop    *xcmd.StopFlag
	key     *byte
	pid     int32
}

func newOptions() *options {
	return &options{
		log:     zap.NewNop().Sugar(),
		stepper: NewAutoStepper(0),
		stop:    &xcmd.StopFlag{},
		pid:     int32(os.Getpid()),
	}
}

// Option configures an emitter or a receiver.
type Option func(*options)

// WithLog sets the worker logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithStepper sets the pacing between bytes.
func WithStepper(s Stepper) Option {
	return func(o *options) { o.stepper = s }
}

// WithStopFlag wires the cooperative termination flag raised by the signal
// watcher.
func WithStopFlag(f *xcmd.StopFlag) Option {
	return func(o *options) { o.stop = f }
}

// WithKey overrides the transform key stored in the segment.
func WithKey(key byte) Option {
	return func(o *options) { k := key; o.key = &k }
}

// WithPID overrides the registered PID. Tests run several workers inside
// one process and need them distinguishable in the tables.
func WithPID(pid int32) Option {
	return func(o *options) { o.pid = pid }
}
