package training

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGPULock_Exclusive(t *testing.T) {
	lock := NewGPULock(true, 50*time.Millisecond)

	release1, onGPU := lock.Acquire(context.Background())
	assert.True(t, onGPU)

	// Second job cannot get the device and trains on CPU.
	release2, onGPU := lock.Acquire(context.Background())
	assert.False(t, onGPU)
	release2()

	release1()

	release3, onGPU := lock.Acquire(context.Background())
	assert.True(t, onGPU)
	release3()
}

func TestGPULock_Unavailable(t *testing.T) {
	lock := NewGPULock(false, time.Second)

	start := time.Now()
	release, onGPU := lock.Acquire(context.Background())
	release()
	assert.False(t, onGPU)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGPULock_ReleasedOnCancelledContext(t *testing.T) {
	lock := NewGPULock(true, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release, onGPU := lock.Acquire(ctx)
	release()
	assert.False(t, onGPU)

	// The device is still free for the next caller.
	release, onGPU = lock.Acquire(context.Background())
	assert.True(t, onGPU)
	release()
}
