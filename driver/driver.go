// Package driver defines the capability set a GPU backend must provide to the
// gpu package: memory allocations, images, host and queue synchronization,
// command submission and presentation.
//
// Backends live in sub-packages (driver/vulkan, driver/soft) and are made
// available to applications through a Registry.
package driver

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotInstalled means that a platform-specific library required by the
// driver is not present in the system.
var ErrNotInstalled = errors.New("driver: missing required library")

// ErrNoDevice means that no suitable device could be found.
var ErrNoDevice = errors.New("driver: no suitable device found")

// ErrNoHostMemory means that host memory could not be allocated.
var ErrNoHostMemory = errors.New("driver: out of host memory")

// ErrNoDeviceMemory means that device memory could not be allocated.
var ErrNoDeviceMemory = errors.New("driver: out of device memory")

// ErrDeviceLost means that the device is in an unrecoverable state. Everything
// created from the GPU must be destroyed and the driver opened again.
var ErrDeviceLost = errors.New("driver: device lost")

// ErrTimeout means that a bounded wait expired before the awaited condition
// was met.
var ErrTimeout = errors.New("driver: wait timed out")

// ErrNotMappable means that a memory range cannot be accessed by the host.
var ErrNotMappable = errors.New("driver: memory is not host visible")

// Destroyer is the interface that wraps the Destroy method.
type Destroyer interface {
	Destroy()
}

// Driver is the interface that provides methods for enumerating adapters and
// opening a GPU with one of them.
type Driver interface {
	// Name returns the name of the driver. It must not cause the driver to
	// load any library.
	Name() string

	// Adapters enumerates the physical devices this driver can open.
	Adapters() ([]AdapterInfo, error)

	// Open initializes a logical device on the adapter selected by cfg.
	// Callers should assume that Open is not safe for parallel execution.
	Open(cfg Config) (GPU, error)
}

// AdapterType classifies physical devices.
type AdapterType int

// Adapter types, in order of preference.
const (
	AdapterOther AdapterType = iota
	AdapterCPU
	AdapterVirtual
	AdapterIntegrated
	AdapterDiscrete
)

func (t AdapterType) String() string {
	switch t {
	case AdapterCPU:
		return "cpu"
	case AdapterVirtual:
		return "virtual"
	case AdapterIntegrated:
		return "integrated"
	case AdapterDiscrete:
		return "discrete"
	}
	return "other"
}

// AdapterInfo describes a physical device.
type AdapterInfo struct {
	Driver     string
	Index      int
	Name       string
	Type       AdapterType
	APIVersion string
}

// Window is the part of a platform window the drivers need. Window creation and
// event polling are the application's business; *glfw.Window satisfies it.
type Window interface {
	// GetFramebufferSize returns the size of the drawable area in pixels.
	GetFramebufferSize() (width, height int)
}

// Config selects and configures the device opened by Driver.Open.
type Config struct {
	// AppName is reported to the underlying API where it has a use for it.
	AppName string

	// Adapter is the index of the adapter to open, as returned by Adapters.
	// A negative value selects the most suitable one.
	Adapter int

	// Validation enables API validation layers when the driver has any.
	Validation bool

	// Window is the surface presentation targets. It is nil for headless
	// devices, which do not implement Presenter.
	Window Window
}

// Limits are the device limits the gpu package depends on.
type Limits struct {
	MinUniformBufferOffsetAlignment int64
	MinStorageBufferOffsetAlignment int64

	// NonCoherentAtomSize is the granularity of flush and invalidate ranges on
	// memory which is not host coherent.
	NonCoherentAtomSize int64

	MaxImageDimension1D int
	MaxImageDimension2D int
	MaxImageDimension3D int
}

// GPU is the interface of an opened logical device with a single submission
// queue.
type GPU interface {
	Destroyer

	// Driver returns the Driver that opened the GPU.
	Driver() Driver

	// Adapter describes the physical device behind the GPU.
	Adapter() AdapterInfo

	// Limits returns the device limits.
	Limits() Limits

	// NewBuffer allocates memory for a buffer. It fails with ErrNoDeviceMemory
	// or ErrNoHostMemory when the allocation cannot be satisfied.
	NewBuffer(desc BufferDesc) (Buffer, error)

	// NewImage creates an image with memory bound to it.
	NewImage(desc ImageDesc) (Image, error)

	// NewFence creates a fence, optionally in the signaled state.
	NewFence(signaled bool) (Fence, error)

	// NewSemaphore creates a binary semaphore.
	NewSemaphore() (Semaphore, error)

	// Submit queues command buffers for execution. Execution waits on every
	// semaphore in sub.Wait, and on completion every semaphore in sub.Signal
	// and sub.Fence (if not nil) are signaled. Submissions complete in the
	// order they were made.
	Submit(sub Submission) error

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error
}

// CmdBuffer is a recorded command buffer. Its concrete type is defined by each
// backend; recording is done outside of this package.
type CmdBuffer interface{}

// Submission describes one batch of work for GPU.Submit.
type Submission struct {
	Wait   []Semaphore
	Cmds   []CmdBuffer
	Signal []Semaphore
	Fence  Fence
}

// Fence is a host-waitable synchronization primitive with a binary state.
type Fence interface {
	Destroyer

	// Wait blocks until the fence is signaled. A negative timeout waits
	// forever. It returns ErrTimeout if the timeout expires first.
	Wait(timeout time.Duration) error

	// Reset puts the fence in the unsignaled state. It must not be called
	// while a submission which will signal the fence is pending.
	Reset() error

	// Signaled reports the state of the fence without blocking.
	Signaled() (bool, error)
}

// Semaphore orders work between queue operations. It has no host-visible
// state.
type Semaphore interface {
	Destroyer
}
