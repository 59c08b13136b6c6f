package gpu

import (
	"sync/atomic"
	"time"

	"github.com/ironsmile/vkframe/driver"
)

// FenceStatus is the host visible state of a fence.
type FenceStatus int

// Fence states.
const (
	FenceUnsignaled FenceStatus = iota
	FenceSignaled
)

func (s FenceStatus) String() string {
	if s == FenceSignaled {
		return "signaled"
	}
	return "unsignaled"
}

// Fence lets the host wait for submitted work.
type Fence struct {
	dev *Device
	f   driver.Fence

	// inFlight is set while a submission which signals the fence may still
	// be executing.
	inFlight  bool
	released  bool
	destroyed atomic.Bool
}

// NewFence creates a fence in the signaled state when signaled is true.
func (d *Device) NewFence(signaled bool) (*Fence, error) {
	f, err := d.gpu.NewFence(signaled)
	if err != nil {
		return nil, classify(err, "creating fence")
	}
	fence := &Fence{dev: d, f: f}
	d.fences[fence] = struct{}{}
	return fence, nil
}

// Wait blocks until the fence is signaled or the timeout expires. Use Forever
// to wait without a bound. Expiry is reported as ErrSynchronizationTimeout.
func (f *Fence) Wait(timeout time.Duration) error {
	if f.released {
		return f.dev.misuse("wait on a destroyed fence")
	}
	if err := f.f.Wait(timeout); err != nil {
		return classify(err, "waiting for fence")
	}
	f.inFlight = false
	return nil
}

// Reset moves the fence to the unsignaled state. Resetting a fence which
// submitted work will still signal is a misuse error and leaves the fence
// untouched.
func (f *Fence) Reset() error {
	if f.released {
		return f.dev.misuse("reset of a destroyed fence")
	}
	if f.busy() {
		return f.dev.misuse("reset of a fence with pending GPU work")
	}
	return classify(f.f.Reset(), "resetting fence")
}

// Status returns the state of the fence without blocking.
func (f *Fence) Status() (FenceStatus, error) {
	if f.released {
		return FenceUnsignaled, f.dev.misuse("status of a destroyed fence")
	}
	ok, err := f.f.Signaled()
	if err != nil {
		return FenceUnsignaled, classify(err, "querying fence")
	}
	if ok {
		f.inFlight = false
		return FenceSignaled, nil
	}
	return FenceUnsignaled, nil
}

// busy reports whether work submitted with the fence has not completed yet.
// A fence whose state cannot be queried is not considered busy, so a lost
// device does not keep releases queued forever.
func (f *Fence) busy() bool {
	if !f.inFlight || f.released {
		return false
	}
	ok, err := f.f.Signaled()
	if err != nil || ok {
		f.inFlight = false
		return false
	}
	return true
}

// Destroy schedules the release of the fence. Tracking entries which refer to
// it, including the per-image fences of swapchains, are dropped before the
// driver fence is destroyed.
func (f *Fence) Destroy() {
	if f.destroyed.Swap(true) {
		return
	}
	f.dev.deferWhile(f.busy, f.release)
}

func (f *Fence) release() {
	if f.released {
		return
	}
	f.dev.forgetFence(f)
	delete(f.dev.lastUse, f)
	delete(f.dev.fences, f)
	f.f.Destroy()
	f.released = true
}

// Semaphore orders work on the GPU queue. It has no host visible state.
type Semaphore struct {
	dev       *Device
	s         driver.Semaphore
	released  bool
	destroyed atomic.Bool
}

// NewSemaphore creates a semaphore.
func (d *Device) NewSemaphore() (*Semaphore, error) {
	s, err := d.gpu.NewSemaphore()
	if err != nil {
		return nil, classify(err, "creating semaphore")
	}
	sem := &Semaphore{dev: d, s: s}
	d.semaphores[sem] = struct{}{}
	return sem, nil
}

// DriverSemaphore returns the driver object behind s.
func (s *Semaphore) DriverSemaphore() driver.Semaphore { return s.s }

// Destroy schedules the release of the semaphore once the work which waits on
// or signals it has completed.
func (s *Semaphore) Destroy() {
	if s.destroyed.Swap(true) {
		return
	}
	s.dev.retire(s)
}

func (s *Semaphore) release() {
	if s.released {
		return
	}
	delete(s.dev.semaphores, s)
	s.s.Destroy()
	s.released = true
}
