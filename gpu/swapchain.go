package gpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
)

// FrameState is the stage a frame slot is in.
type FrameState int

// Frame slot states. A slot goes Idle, Acquiring, Rendering, Presenting and
// stays Presenting until it is acquired again.
const (
	FrameIdle FrameState = iota
	FrameAcquiring
	FrameRendering
	FramePresenting
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameAcquiring:
		return "acquiring"
	case FrameRendering:
		return "rendering"
	case FramePresenting:
		return "presenting"
	}
	return "invalid"
}

// SwapChainDesc describes a swapchain.
type SwapChainDesc struct {
	Width  int
	Height int

	// PresentMode is used when the surface supports it. Otherwise the
	// swapchain falls back to driver.PresentFIFO.
	PresentMode driver.PresentMode

	// ImageCount is the minimum number of presentable images. Zero lets the
	// driver decide.
	ImageCount int

	// AcquireTimeout bounds the wait for a presentable image. Zero waits
	// forever.
	AcquireTimeout time.Duration
}

type frameSlot struct {
	inFlight       *Fence
	imageAcquired  *Semaphore
	renderFinished *Semaphore
	state          FrameState
}

// SwapChain presents images to the window the device was opened with and
// paces frames so that at most MaxFramesInFlight are queued on the GPU.
//
// A frame is AcquireNextImage, recording commands for CurrentImage, and
// SubmitCommandBuffers. Either call returning false means the swapchain no
// longer matches the surface and Recreate must be called before the next
// frame.
type SwapChain struct {
	dev       *Device
	presenter driver.Presenter
	sc        driver.Swapchain
	desc      SwapChainDesc

	images []*Image

	// imagesInFlight holds, per presentable image, the fence of the frame
	// slot which last rendered to it.
	imagesInFlight []*Fence

	slots         [MaxFramesInFlight]frameSlot
	current       int
	imageIndex    int
	suboptimal    bool
	needsRecreate bool
	destroyed     bool
}

// NewSwapChain creates a swapchain for the device's window. It fails with
// driver.ErrCannotPresent when the device was opened without one.
func (d *Device) NewSwapChain(desc SwapChainDesc) (*SwapChain, error) {
	presenter, ok := d.gpu.(driver.Presenter)
	if !ok {
		return nil, errors.Wrap(driver.ErrCannotPresent, "createSwapChain")
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, d.misuse("swapchain extent %dx%d", desc.Width, desc.Height)
	}
	if desc.AcquireTimeout == 0 {
		desc.AcquireTimeout = Forever
	}

	sc := &SwapChain{
		dev:        d,
		presenter:  presenter,
		desc:       desc,
		imageIndex: -1,
	}
	if err := sc.createSyncObjects(); err != nil {
		sc.destroySyncObjects()
		return nil, err
	}
	if err := sc.create(nil); err != nil {
		sc.destroySyncObjects()
		return nil, err
	}
	d.swapchains[sc] = struct{}{}
	return sc, nil
}

func (sc *SwapChain) createSyncObjects() error {
	for i := range sc.slots {
		slot := &sc.slots[i]

		var err error
		if slot.inFlight, err = sc.dev.NewFence(true); err != nil {
			return errors.Wrap(err, "createSyncObjects")
		}
		if slot.imageAcquired, err = sc.dev.NewSemaphore(); err != nil {
			return errors.Wrap(err, "createSyncObjects")
		}
		if slot.renderFinished, err = sc.dev.NewSemaphore(); err != nil {
			return errors.Wrap(err, "createSyncObjects")
		}
	}
	return nil
}

func (sc *SwapChain) destroySyncObjects() {
	for i := range sc.slots {
		slot := &sc.slots[i]
		if slot.inFlight != nil {
			slot.inFlight.Destroy()
		}
		if slot.imageAcquired != nil {
			slot.imageAcquired.Destroy()
		}
		if slot.renderFinished != nil {
			slot.renderFinished.Destroy()
		}
	}
}

// create builds the driver swapchain from sc.desc, retiring old.
func (sc *SwapChain) create(old driver.Swapchain) error {
	modes, err := sc.presenter.PresentModes()
	if err != nil {
		return classify(err, "querying present modes")
	}
	mode := ChoosePresentMode(modes, sc.desc.PresentMode)
	if mode != sc.desc.PresentMode {
		sc.dev.log.Warnf("present mode %s is not supported, using %s", sc.desc.PresentMode, mode)
	}

	s, err := sc.presenter.NewSwapchain(driver.SwapchainDesc{
		Width:       sc.desc.Width,
		Height:      sc.desc.Height,
		PresentMode: mode,
		ImageCount:  sc.desc.ImageCount,
		Old:         old,
	})
	if err != nil {
		return classify(err, "createSwapChain")
	}

	sc.sc = s
	w, h := s.Extent()
	sc.images = sc.images[:0]
	for _, img := range s.Images() {
		sc.images = append(sc.images, sc.dev.wrapImage(img, ImageDesc{
			Type:    driver.Image2D,
			Format:  s.Format(),
			Width:   w,
			Height:  h,
			Samples: 1,
			Usage:   driver.ImageColorTarget,
		}))
	}
	sc.imagesInFlight = make([]*Fence, len(sc.images))

	sc.dev.log.Infof("swapchain created: %dx%d %s, %d images, %s",
		w, h, s.Format(), len(sc.images), s.PresentMode())
	return nil
}

// ChoosePresentMode returns requested if it is in available and
// driver.PresentFIFO otherwise.
func ChoosePresentMode(available []driver.PresentMode, requested driver.PresentMode) driver.PresentMode {
	for _, m := range available {
		if m == requested {
			return m
		}
	}
	return driver.PresentFIFO
}

// AcquireNextImage starts the next frame. It blocks until the frame slot
// being reused has retired, then acquires a presentable image and waits for
// any other slot still rendering to that image.
//
// It returns false without an error when the swapchain is out of date. The
// frame must then be skipped and Recreate called.
func (sc *SwapChain) AcquireNextImage() (bool, error) {
	if sc.destroyed {
		return false, sc.dev.misuse("acquire on a destroyed swapchain")
	}
	slot := &sc.slots[sc.current]
	if slot.state == FrameRendering {
		return false, sc.dev.misuse("acquire while frame slot %d is still being recorded", sc.current)
	}

	slot.state = FrameAcquiring
	if err := slot.inFlight.Wait(Forever); err != nil {
		slot.state = FrameIdle
		return false, errors.Wrapf(err, "waiting for frame slot %d", sc.current)
	}
	sc.dev.beginFrame(sc.current)

	idx, err := sc.sc.Acquire(slot.imageAcquired.s, sc.desc.AcquireTimeout)
	switch {
	case err == nil:
	case errors.Is(err, driver.ErrSuboptimal):
		sc.suboptimal = true
	case isPresentationFailure(err):
		slot.state = FrameIdle
		sc.needsRecreate = true
		sc.dev.log.Debugf("acquire: %s", err)
		return false, nil
	default:
		slot.state = FrameIdle
		return false, classify(err, "acquiring swapchain image")
	}

	if prev := sc.imagesInFlight[idx]; prev != nil {
		if err := prev.Wait(Forever); err != nil {
			slot.state = FrameIdle
			return false, errors.Wrapf(err, "waiting for image %d", idx)
		}
	}
	sc.imagesInFlight[idx] = slot.inFlight

	sc.imageIndex = idx
	slot.state = FrameRendering
	return true, nil
}

// SubmitCommandBuffers submits the commands of the current frame and presents
// its image. Resources recorded with Device.Use are kept alive until the
// commands complete.
//
// It returns false without an error when the presentation reported that the
// swapchain is out of date or suboptimal; the frame was still submitted.
func (sc *SwapChain) SubmitCommandBuffers(cmds []driver.CmdBuffer) (bool, error) {
	slot := &sc.slots[sc.current]
	if sc.destroyed || slot.state != FrameRendering {
		return false, sc.dev.misuse("submit without an acquired image")
	}

	if err := slot.inFlight.Reset(); err != nil {
		return false, err
	}
	err := sc.dev.submit(Submission{
		Wait:   []*Semaphore{slot.imageAcquired},
		Cmds:   cmds,
		Signal: []*Semaphore{slot.renderFinished},
		Fence:  slot.inFlight,
		Uses:   sc.dev.takeFrameUses(),
	})
	if err != nil {
		sc.abandonFrame(slot)
		return false, err
	}

	slot.state = FramePresenting
	idx := sc.imageIndex
	sc.imageIndex = -1
	sc.dev.endFrame()
	sc.current = (sc.current + 1) % MaxFramesInFlight

	err = sc.sc.Present(idx, []driver.Semaphore{slot.renderFinished.s})
	switch {
	case err == nil:
	case isPresentationFailure(err):
		sc.needsRecreate = true
		sc.dev.log.Debugf("present: %s", err)
		return false, nil
	default:
		return false, classify(err, "presenting image")
	}

	if sc.suboptimal {
		sc.needsRecreate = true
		return false, nil
	}
	return true, nil
}

// abandonFrame returns the current slot to Idle after its commands were
// rejected. The slot's fence was already reset, so an empty batch waits on the
// acquire semaphore and signals the fence again. The acquired image is never
// presented and the swapchain has to be recreated.
func (sc *SwapChain) abandonFrame(slot *frameSlot) {
	if idx := sc.imageIndex; idx >= 0 && sc.imagesInFlight[idx] == slot.inFlight {
		sc.imagesInFlight[idx] = nil
	}
	sc.imageIndex = -1
	slot.state = FrameIdle
	sc.needsRecreate = true

	err := sc.dev.submit(Submission{
		Wait:  []*Semaphore{slot.imageAcquired},
		Fence: slot.inFlight,
	})
	if err == nil {
		return
	}

	// The queue refuses even an empty batch. Start the slot over with a
	// signaled fence and a semaphore nothing waits for.
	sc.dev.log.Warnf("replacing synchronization objects of frame slot %d: %s", sc.current, err)
	fence, err := sc.dev.NewFence(true)
	if err != nil {
		sc.dev.log.Errorf("frame slot %d: %s", sc.current, err)
		return
	}
	sem, err := sc.dev.NewSemaphore()
	if err != nil {
		fence.Destroy()
		sc.dev.log.Errorf("frame slot %d: %s", sc.current, err)
		return
	}
	slot.inFlight.Destroy()
	slot.imageAcquired.Destroy()
	slot.inFlight = fence
	slot.imageAcquired = sem
}

// Recreate waits for every frame in flight and rebuilds the swapchain with
// the given extent and present mode. The images returned by Images before the
// call must not be used afterwards.
func (sc *SwapChain) Recreate(width, height int, mode driver.PresentMode) error {
	if sc.destroyed {
		return sc.dev.misuse("recreate of a destroyed swapchain")
	}
	if width <= 0 || height <= 0 {
		return sc.dev.misuse("swapchain extent %dx%d", width, height)
	}
	if slot := sc.slots[sc.current]; slot.state == FrameRendering {
		return sc.dev.misuse("recreate while frame slot %d is being recorded", sc.current)
	}

	if err := sc.waitSlots(); err != nil {
		return errors.Wrap(err, "recreateSwapChain")
	}
	for i := range sc.imagesInFlight {
		sc.imagesInFlight[i] = nil
	}

	old := sc.sc
	sc.desc.Width, sc.desc.Height, sc.desc.PresentMode = width, height, mode
	if err := sc.create(old); err != nil {
		return errors.Wrap(err, "recreateSwapChain")
	}
	old.Destroy()

	sc.suboptimal = false
	sc.needsRecreate = false
	return nil
}

// waitSlots waits for the fences of all frame slots.
func (sc *SwapChain) waitSlots() error {
	for i := range sc.slots {
		f := sc.slots[i].inFlight
		if !f.inFlight {
			continue
		}
		if err := f.Wait(Forever); err != nil {
			return err
		}
	}
	return nil
}

// WaitIdle blocks until the work of every frame submitted through the
// swapchain, including presentation, has completed.
func (sc *SwapChain) WaitIdle() error {
	if err := sc.dev.WaitIdle(); err != nil {
		return err
	}
	return sc.waitSlots()
}

// Destroy waits for the swapchain to go idle and releases it.
func (sc *SwapChain) Destroy() {
	if sc.destroyed {
		return
	}
	if err := sc.WaitIdle(); err != nil {
		sc.dev.log.Errorf("destroying swapchain: %s", err)
	}

	delete(sc.dev.swapchains, sc)
	sc.destroySyncObjects()
	sc.sc.Destroy()
	sc.images = nil
	sc.imagesInFlight = nil
	sc.destroyed = true
}

// forgetFence clears the per-image entries which refer to f.
func (sc *SwapChain) forgetFence(f *Fence) {
	for i, prev := range sc.imagesInFlight {
		if prev == f {
			sc.imagesInFlight[i] = nil
		}
	}
}

// NeedsRecreate reports whether the last acquire or present asked for the
// swapchain to be recreated.
func (sc *SwapChain) NeedsRecreate() bool { return sc.needsRecreate }

// Extent returns the size of the presentable images.
func (sc *SwapChain) Extent() (width, height int) { return sc.sc.Extent() }

// AspectRatio returns width / height of the extent.
func (sc *SwapChain) AspectRatio() float32 {
	w, h := sc.Extent()
	return float32(w) / float32(h)
}

// Format returns the pixel format of the presentable images.
func (sc *SwapChain) Format() driver.Format { return sc.sc.Format() }

// CompareFormats reports whether other presents images of the same format,
// in which case render targets made for one can be used with the other.
func (sc *SwapChain) CompareFormats(other *SwapChain) bool {
	return other != nil && sc.Format() == other.Format()
}

// PresentMode returns the present mode in use, which may differ from the
// requested one.
func (sc *SwapChain) PresentMode() driver.PresentMode { return sc.sc.PresentMode() }

// ImageCount returns the number of presentable images.
func (sc *SwapChain) ImageCount() int { return len(sc.images) }

// Images returns the presentable images. They belong to the swapchain.
func (sc *SwapChain) Images() []*Image { return sc.images }

// CurrentImage returns the index of the image acquired for the frame being
// recorded, or -1.
func (sc *SwapChain) CurrentImage() int { return sc.imageIndex }

// CurrentFrame returns the frame slot the next or current frame uses.
func (sc *SwapChain) CurrentFrame() int { return sc.current }

// SlotState returns the state of frame slot k.
func (sc *SwapChain) SlotState(k int) FrameState { return sc.slots[k].state }

// SlotFence returns the fence which signals when the last frame submitted
// from slot k completes.
func (sc *SwapChain) SlotFence(k int) *Fence { return sc.slots[k].inFlight }

// ImageFence returns the fence of the frame slot which last rendered to image
// i, or nil.
func (sc *SwapChain) ImageFence(i int) *Fence { return sc.imagesInFlight[i] }
