package soft

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
)

// fence implements driver.Fence. Its state is guarded by the mutex of the GPU
// which created it.
type fence struct {
	g         *GPU
	signaled  bool
	pending   int
	destroyed bool
}

// NewFence creates a fence.
func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	return &fence{g: g, signaled: signaled}, nil
}

func (f *fence) Wait(timeout time.Duration) error {
	f.g.mu.Lock()
	defer f.g.mu.Unlock()

	if f.destroyed {
		f.g.violationLocked("wait on a destroyed fence")
		return errors.New("soft: fence destroyed")
	}
	if !f.signaled && f.pending == 0 {
		// Nothing will ever signal it; a real device would hang here.
		f.g.violationLocked("wait on a fence with no pending signal")
		if timeout < 0 {
			return driver.ErrDeviceLost
		}
	}
	if !f.g.waitLocked(func() bool { return f.signaled }, timeout) {
		return driver.ErrTimeout
	}
	return nil
}

func (f *fence) Reset() error {
	f.g.mu.Lock()
	defer f.g.mu.Unlock()

	if f.pending > 0 {
		f.g.violationLocked("reset of a fence with a pending signal")
		return errors.New("soft: fence is in use")
	}
	f.signaled = false
	return nil
}

func (f *fence) Signaled() (bool, error) {
	f.g.mu.Lock()
	defer f.g.mu.Unlock()
	return f.signaled, nil
}

func (f *fence) Destroy() {
	f.g.mu.Lock()
	defer f.g.mu.Unlock()

	if f.pending > 0 {
		f.g.violationLocked("destroy of a fence with a pending signal")
	}
	f.destroyed = true
}

// semaphore implements driver.Semaphore. value counts signal operations queued
// (or done) which no wait has consumed yet; a binary semaphore keeps it at 0
// or 1.
type semaphore struct {
	g         *GPU
	value     int
	destroyed bool
}

// NewSemaphore creates a semaphore.
func (g *GPU) NewSemaphore() (driver.Semaphore, error) {
	return &semaphore{g: g}, nil
}

func (s *semaphore) Destroy() {
	s.g.mu.Lock()
	s.destroyed = true
	s.g.mu.Unlock()
}

func (g *GPU) waitSemaphoreLocked(ds driver.Semaphore) {
	s := ds.(*semaphore)
	if s.destroyed {
		g.violationLocked("wait on a destroyed semaphore")
	}
	if s.value == 0 {
		g.violationLocked("wait on a semaphore with no signal operation")
		return
	}
	s.value--
}

func (g *GPU) signalSemaphoreLocked(ds driver.Semaphore) {
	s := ds.(*semaphore)
	if s.destroyed {
		g.violationLocked("signal of a destroyed semaphore")
	}
	if s.value > 0 {
		g.violationLocked("signal of a semaphore which is already signaled")
		return
	}
	s.value++
}
