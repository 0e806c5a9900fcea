package training

import (
	"context"
	"time"

	"github.com/MimeLyc/voice-forge/pkg/log"
	"golang.org/x/sync/semaphore"
)

// GPULock serializes GPU training. Weight one means exactly one job on
// the device; everyone else waits or falls back to CPU.
type GPULock struct {
	available bool
	timeout   time.Duration
	sem       *semaphore.Weighted
}

func NewGPULock(available bool, timeout time.Duration) *GPULock {
	return &GPULock{
		available: available,
		timeout:   timeout,
		sem:       semaphore.NewWeighted(1),
	}
}

// Acquire tries to take the device within the configured timeout. It
// returns a release func and whether the GPU was obtained; a timeout is
// not an error, the caller trains on CPU instead. The release func is
// safe to call exactly once and must always be called.
func (l *GPULock) Acquire(ctx context.Context) (release func(), onGPU bool) {
	if !l.available {
		return func() {}, false
	}

	acquireCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.sem.Acquire(acquireCtx, 1); err != nil {
		log.Warn("GPU not acquired within %s, falling back to CPU: %v", l.timeout, err)
		return func() {}, false
	}
	return func() { l.sem.Release(1) }, true
}
