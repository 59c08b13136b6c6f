package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
)

// ErrAllocationFailure means host or device memory is exhausted. The caller may
// free resources and retry.
var ErrAllocationFailure = errors.New("gpu: allocation failure")

// ErrInvalidMapRange means a map, flush or invalidate range lies outside of the
// buffer, or the buffer memory cannot be mapped at all.
var ErrInvalidMapRange = errors.New("gpu: invalid map range")

// ErrRecoverablePresentation means the presentation surface is out of date or
// suboptimal. It is resolved by recreating the swapchain.
var ErrRecoverablePresentation = errors.New("gpu: swapchain must be recreated")

// ErrFatalDevice means the device was lost. Every object created from it must
// be destroyed and the subsystem initialized again.
var ErrFatalDevice = errors.New("gpu: device lost")

// ErrSynchronizationTimeout means a bounded wait expired. The caller decides
// whether to retry.
var ErrSynchronizationTimeout = errors.New("gpu: synchronization timeout")

// IsMisuse reports whether err is a contract violation by the caller, such as
// resetting a fence that GPU work will still signal.
func IsMisuse(err error) bool {
	return errors.IsAssertionFailure(err)
}

// classify marks a driver error with the matching sentinel of this package and
// wraps it with op.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	wrapped := errors.Wrap(err, op)
	switch {
	case errors.Is(err, driver.ErrNoDeviceMemory), errors.Is(err, driver.ErrNoHostMemory):
		return errors.Mark(wrapped, ErrAllocationFailure)
	case errors.Is(err, driver.ErrDeviceLost):
		return errors.Mark(wrapped, ErrFatalDevice)
	case errors.Is(err, driver.ErrTimeout):
		return errors.Mark(wrapped, ErrSynchronizationTimeout)
	case errors.Is(err, driver.ErrNotMappable):
		return errors.Mark(wrapped, ErrInvalidMapRange)
	case isPresentationFailure(err):
		return errors.Mark(wrapped, ErrRecoverablePresentation)
	}
	return wrapped
}

func isPresentationFailure(err error) bool {
	return errors.Is(err, driver.ErrOutOfDate) ||
		errors.Is(err, driver.ErrSuboptimal) ||
		errors.Is(err, driver.ErrSurfaceLost)
}
