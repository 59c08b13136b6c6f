package soft

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	xsemaphore "golang.org/x/sync/semaphore"
)

// Window is an in-memory window. Resizing it makes swapchains created for the
// old size report driver.ErrOutOfDate, the way a compositor would.
type Window struct {
	mu            sync.Mutex
	width, height int
}

// NewWindow returns a window with a framebuffer of the given size.
func NewWindow(width, height int) *Window {
	return &Window{width: width, height: height}
}

// GetFramebufferSize implements driver.Window.
func (w *Window) GetFramebufferSize() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

// Resize changes the framebuffer size.
func (w *Window) Resize(width, height int) {
	w.mu.Lock()
	w.width, w.height = width, height
	w.mu.Unlock()
}

// PresentGPU is a simulated device opened with a window.
type PresentGPU struct {
	*GPU
	win driver.Window
}

// PresentModes returns the modes from Options.PresentModes plus PresentFIFO.
func (p *PresentGPU) PresentModes() ([]driver.PresentMode, error) {
	modes := []driver.PresentMode{driver.PresentFIFO}
	for _, m := range p.drv.opts.PresentModes {
		if m != driver.PresentFIFO {
			modes = append(modes, m)
		}
	}
	return modes, nil
}

// NewSwapchain creates a swapchain of desc.ImageCount images (three when zero).
func (p *PresentGPU) NewSwapchain(desc driver.SwapchainDesc) (driver.Swapchain, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, errors.Newf("soft: invalid swapchain extent %dx%d", desc.Width, desc.Height)
	}
	modes, _ := p.PresentModes()
	supported := false
	for _, m := range modes {
		supported = supported || m == desc.PresentMode
	}
	if !supported {
		return nil, errors.Newf("soft: present mode %s not supported", desc.PresentMode)
	}

	count := desc.ImageCount
	if count <= 0 {
		count = 3
	}

	sc := &swapchain{
		g:         p.GPU,
		win:       p.win,
		width:     desc.Width,
		height:    desc.Height,
		mode:      desc.PresentMode,
		available: xsemaphore.NewWeighted(int64(count)),
	}
	for i := 0; i < count; i++ {
		sc.images = append(sc.images, &image{
			g: p.GPU,
			desc: driver.ImageDesc{
				Type:    driver.Image2D,
				Format:  driver.FormatBGRA8SRGB,
				Width:   desc.Width,
				Height:  desc.Height,
				Depth:   1,
				Layers:  1,
				Levels:  1,
				Samples: 1,
				Usage:   driver.ImageColorTarget | driver.ImageTransferDst,
				Aspect:  driver.AspectColor,
			},
		})
		sc.free = append(sc.free, i)
	}

	if old, ok := desc.Old.(*swapchain); ok && old != nil {
		p.mu.Lock()
		old.retired = true
		p.mu.Unlock()
	}
	return sc, nil
}

// swapchain implements driver.Swapchain. The free list and flags are guarded
// by the GPU mutex; available counts the entries of free.
type swapchain struct {
	g      *GPU
	win    driver.Window
	images []*image
	width  int
	height int
	mode   driver.PresentMode

	available *xsemaphore.Weighted
	free      []int
	acquired  map[int]bool
	retired   bool
	destroyed bool
}

func (s *swapchain) Images() []driver.Image {
	out := make([]driver.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *swapchain) Format() driver.Format           { return driver.FormatBGRA8SRGB }
func (s *swapchain) Extent() (int, int)              { return s.width, s.height }
func (s *swapchain) PresentMode() driver.PresentMode { return s.mode }

func (s *swapchain) outOfDateLocked() bool {
	if s.retired || s.destroyed {
		return true
	}
	w, h := s.win.GetFramebufferSize()
	return w != s.width || h != s.height
}

func (s *swapchain) Acquire(signal driver.Semaphore, timeout time.Duration) (int, error) {
	s.g.mu.Lock()
	stale := s.outOfDateLocked()
	s.g.mu.Unlock()
	if stale {
		return -1, driver.ErrOutOfDate
	}

	ctx := context.Background()
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.available.Acquire(ctx, 1); err != nil {
		return -1, driver.ErrTimeout
	}

	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	idx := s.free[0]
	s.free = s.free[1:]
	if s.acquired == nil {
		s.acquired = make(map[int]bool)
	}
	s.acquired[idx] = true
	if signal != nil {
		s.g.signalSemaphoreLocked(signal)
	}
	return idx, nil
}

func (s *swapchain) Present(index int, wait []driver.Semaphore) error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	if !s.acquired[index] {
		s.g.violationLocked("present of image %d which was not acquired", index)
		return errors.Newf("soft: image %d not acquired", index)
	}
	delete(s.acquired, index)
	for _, sem := range wait {
		s.g.waitSemaphoreLocked(sem)
	}

	s.g.queue = append(s.g.queue, &op{kind: opPresent, sc: s, image: index})
	s.g.cond.Broadcast()

	if s.outOfDateLocked() {
		return driver.ErrOutOfDate
	}
	return nil
}

// releaseLocked returns an image to the free list once its presentation
// executed.
func (s *swapchain) releaseLocked(index int) {
	s.free = append(s.free, index)
	s.available.Release(1)
}

// Destroy retires the swapchain. Images acquired but never presented go with
// it, as they do with a Vulkan swapchain.
func (s *swapchain) Destroy() {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()

	s.acquired = nil
	s.destroyed = true
}
