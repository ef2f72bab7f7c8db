package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/cipherline/cipherline/internal/shmem"
)

// AttachWithRetry attaches to the shared segment, retrying with exponential
// backoff while the segment does not exist yet. Workers are routinely
// started in the same breath as the initializer; a short grace window saves
// the operator from ordering them by hand. Any error other than absence, or
// the deadline running out, is a startup failure.
func AttachWithRetry(timeout time.Duration, log *zap.SugaredLogger) (*shmem.Segment, error) {
	bo := backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         time.Second,
	}
	bo.Reset()

	deadline := time.Now().Add(timeout)
	for {
		seg, err := shmem.Attach()
		if err == nil {
			return seg, nil
		}
		if !errors.Is(err, shmem.ErrNotFound) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("segment did not appear within %v: %w", timeout, err)
		}

		next := bo.NextBackOff()
		log.Debugf("segment not found, retrying in %v", next)
		time.Sleep(next)
	}
}
