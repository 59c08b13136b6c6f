package driver

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrCannotPresent means that the driver and/or device do not support
// presentation.
var ErrCannotPresent = errors.New("driver: presentation not supported")

// ErrOutOfDate means that the surface changed in a way that makes the
// swapchain unusable. The swapchain must be recreated.
var ErrOutOfDate = errors.New("driver: swapchain out of date")

// ErrSuboptimal means that the swapchain still works but no longer matches the
// surface exactly. Acquire returns it together with a valid image index.
var ErrSuboptimal = errors.New("driver: swapchain suboptimal")

// ErrSurfaceLost means that the presentation surface is gone.
var ErrSurfaceLost = errors.New("driver: surface lost")

// PresentMode controls how presented images are queued for display.
type PresentMode int

// Presentation modes. PresentFIFO is always supported.
const (
	PresentFIFO PresentMode = iota
	PresentFIFORelaxed
	PresentMailbox
	PresentImmediate
)

var presentModeNames = [...]string{
	PresentFIFO:        "fifo",
	PresentFIFORelaxed: "fifo_relaxed",
	PresentMailbox:     "mailbox",
	PresentImmediate:   "immediate",
}

func (m PresentMode) String() string {
	if m < 0 || int(m) >= len(presentModeNames) {
		return "invalid"
	}
	return presentModeNames[m]
}

// ParsePresentMode returns the mode named s, as printed by String.
func ParsePresentMode(s string) (PresentMode, error) {
	for m, name := range presentModeNames {
		if strings.EqualFold(s, name) {
			return PresentMode(m), nil
		}
	}
	return PresentFIFO, errors.Newf("driver: unknown present mode %q", s)
}

// Presenter is the interface that a GPU may implement to enable presentation
// on the window it was opened with.
type Presenter interface {
	// PresentModes returns the presentation modes the surface supports.
	PresentModes() ([]PresentMode, error)

	// NewSwapchain creates a swapchain for the surface. Only one swapchain
	// may exist for the surface at a time; desc.Old, when set, is retired by
	// the call but must still be destroyed by the caller.
	NewSwapchain(desc SwapchainDesc) (Swapchain, error)
}

// SwapchainDesc describes a swapchain.
type SwapchainDesc struct {
	Width       int
	Height      int
	PresentMode PresentMode

	// ImageCount is the minimum number of presentable images. Zero lets the
	// driver decide.
	ImageCount int

	Old Swapchain
}

// Swapchain is a set of presentable images.
type Swapchain interface {
	Destroyer

	// Images returns the presentable images. Destroying them is a no-op,
	// they belong to the swapchain.
	Images() []Image

	// Format returns the pixel format of the images.
	Format() Format

	// Extent returns the size of the images.
	Extent() (width, height int)

	// PresentMode returns the mode the swapchain was created with.
	PresentMode() PresentMode

	// Acquire returns the index of the next writable image and arranges for
	// signal to be signaled once the image can be written to. It returns
	// ErrOutOfDate when the swapchain must be recreated, and ErrSuboptimal
	// together with a usable index when it should be. A negative timeout
	// waits forever.
	Acquire(signal Semaphore, timeout time.Duration) (int, error)

	// Present queues the image at index for presentation once every
	// semaphore in wait is signaled. It may return ErrOutOfDate or
	// ErrSuboptimal; in both cases the image was consumed.
	Present(index int, wait []Semaphore) error
}
