package vulkan

import (
	"cmp"
	"math"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	vk "github.com/vulkan-go/vulkan"
)

// Surface is a window Vulkan can present to. *glfw.Window implements it.
type Surface interface {
	driver.Window

	// GetRequiredInstanceExtensions returns the instance extensions needed
	// to create surfaces for the window.
	GetRequiredInstanceExtensions() []string

	// CreateWindowSurface creates a VkSurfaceKHR for the window and
	// returns it as a pointer.
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
}

// PresentGPU is a GPU opened with a window.
type PresentGPU struct {
	*GPU
	win Surface
}

// swapChainSupportDetails describes a present surface.
type swapChainSupportDetails struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySwapChainSupport(device vk.PhysicalDevice, surface vk.Surface) (swapChainSupportDetails, error) {
	details := swapChainSupportDetails{}

	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &capabilities)
	if err := check(res, "vulkan: failed to query device surface capabilities"); err != nil {
		return details, err
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()
	details.capabilities = capabilities

	var formatCount uint32
	res = vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil)
	if err := check(res, "vulkan: failed to query device surface formats"); err != nil {
		return details, err
	}
	if formatCount != 0 {
		formats := make([]vk.SurfaceFormat, formatCount)
		vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, formats)
		for _, format := range formats {
			format.Deref()
			details.formats = append(details.formats, format)
		}
	}

	var presentModeCount uint32
	res = vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &presentModeCount, nil)
	if err := check(res, "vulkan: failed to query device surface present modes"); err != nil {
		return details, err
	}
	if presentModeCount != 0 {
		presentModes := make([]vk.PresentMode, presentModeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &presentModeCount, presentModes)
		details.presentModes = presentModes
	}

	return details, nil
}

// PresentModes implements driver.Presenter. Modes without a driver equivalent
// are left out.
func (p *PresentGPU) PresentModes() ([]driver.PresentMode, error) {
	support, err := querySwapChainSupport(p.physicalDevice, p.surface)
	if err != nil {
		return nil, err
	}

	var modes []driver.PresentMode
	for _, m := range support.presentModes {
		if dm, ok := driverPresentMode(m); ok {
			modes = append(modes, dm)
		}
	}
	return modes, nil
}

// NewSwapchain implements driver.Presenter.
func (p *PresentGPU) NewSwapchain(desc driver.SwapchainDesc) (driver.Swapchain, error) {
	support, err := querySwapChainSupport(p.physicalDevice, p.surface)
	if err != nil {
		return nil, err
	}
	if len(support.formats) == 0 {
		return nil, errors.Wrap(driver.ErrCannotPresent, "vulkan: surface reports no formats")
	}

	presentMode, ok := vkPresentModes[desc.PresentMode]
	if !ok || !containsMode(support.presentModes, presentMode) {
		return nil, errors.Newf("vulkan: present mode %s not supported", desc.PresentMode)
	}

	surfaceFormat := chooseSwapSurfaceFormat(support.formats)
	width, height := desc.Width, desc.Height
	if width <= 0 || height <= 0 {
		width, height = p.win.GetFramebufferSize()
	}
	extent := chooseSwapExtent(support.capabilities, width, height)
	imageCount := chooseImageCount(support.capabilities, desc.ImageCount)

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          p.surface,
		MinImageCount:    imageCount,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageFormat:      surfaceFormat.Format,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) |
			vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		PreTransform:   support.capabilities.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    presentMode,
		Clipped:        vk.True,
		OldSwapchain:   vk.NullSwapchain,
	}

	if old, ok := desc.Old.(*swapchain); ok && old != nil {
		createInfo.OldSwapchain = old.swapChain
	}

	if p.families.Shared() {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			p.families.Graphics.Get(),
			p.families.Present.Get(),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapChain vk.Swapchain
	res := vk.CreateSwapchain(p.device, &createInfo, nil, &swapChain)
	if err := check(res, "vulkan: failed to create swap chain"); err != nil {
		return nil, err
	}

	sc := &swapchain{
		g:         p.GPU,
		swapChain: swapChain,
		format:    driverFormat(surfaceFormat.Format),
		width:     int(extent.Width),
		height:    int(extent.Height),
		mode:      desc.PresentMode,
	}
	if err := sc.createImages(surfaceFormat.Format); err != nil {
		sc.Destroy()
		return nil, err
	}
	return sc, nil
}

type swapchain struct {
	g         *GPU
	swapChain vk.Swapchain
	images    []*image
	format    driver.Format
	width     int
	height    int
	mode      driver.PresentMode
}

func (s *swapchain) createImages(format vk.Format) error {
	var imagesCount uint32
	vk.GetSwapchainImages(s.g.device, s.swapChain, &imagesCount, nil)

	images := make([]vk.Image, imagesCount)
	vk.GetSwapchainImages(s.g.device, s.swapChain, &imagesCount, images)

	for _, img := range images {
		desc := driver.ImageDesc{
			Type:    driver.Image2D,
			Format:  s.format,
			Width:   s.width,
			Height:  s.height,
			Depth:   1,
			Layers:  1,
			Levels:  1,
			Samples: 1,
			Usage:   driver.ImageColorTarget | driver.ImageTransferDst,
			Aspect:  driver.AspectColor,
		}
		view, err := s.g.createImageView(img, format, desc)
		if err != nil {
			return err
		}
		s.images = append(s.images, &image{g: s.g, img: img, view: view, desc: desc})
	}
	return nil
}

func (s *swapchain) Images() []driver.Image {
	out := make([]driver.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

func (s *swapchain) Format() driver.Format           { return s.format }
func (s *swapchain) Extent() (int, int)              { return s.width, s.height }
func (s *swapchain) PresentMode() driver.PresentMode { return s.mode }

func (s *swapchain) Acquire(signal driver.Semaphore, timeout time.Duration) (int, error) {
	sem, ok := signal.(*semaphore)
	if !ok {
		return -1, errors.AssertionFailedf("vulkan: semaphore of type %T", signal)
	}

	var imageIndex uint32
	res := vk.AcquireNextImage(
		s.g.device,
		s.swapChain,
		timeoutNanos(timeout),
		sem.sem,
		vk.Fence(vk.NullHandle),
		&imageIndex,
	)
	switch res {
	case vk.Success:
		return int(imageIndex), nil
	case vk.Suboptimal:
		return int(imageIndex), driver.ErrSuboptimal
	}
	return -1, check(res, "vulkan: failed to acquire swap chain image")
}

func (s *swapchain) Present(index int, wait []driver.Semaphore) error {
	waits := semaphoreHandles(wait)
	swapChains := []vk.Swapchain{s.swapChain}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     uint32(len(swapChains)),
		PSwapchains:        swapChains,
		PImageIndices:      []uint32{uint32(index)},
	}

	switch res := vk.QueuePresent(s.g.presentQueue, &presentInfo); res {
	case vk.Success:
		return nil
	case vk.Suboptimal:
		return driver.ErrSuboptimal
	default:
		return check(res, "vulkan: failed to present swap chain image")
	}
}

func (s *swapchain) Destroy() {
	for _, img := range s.images {
		vk.DestroyImageView(s.g.device, img.view, nil)
	}
	s.images = nil

	if s.swapChain != vk.NullSwapchain {
		vk.DestroySwapchain(s.g.device, s.swapChain, nil)
		s.swapChain = vk.NullSwapchain
	}
}

func containsMode(modes []vk.PresentMode, m vk.PresentMode) bool {
	for _, mode := range modes {
		if mode == m {
			return true
		}
	}
	return false
}

func chooseSwapSurfaceFormat(availableFormats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == vk.FormatB8g8r8a8Srgb &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// chooseSwapExtent uses the current extent of the surface when it reports one
// and the requested size clamped to the surface limits otherwise.
func chooseSwapExtent(capabilities vk.SurfaceCapabilities, width, height int) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}

	return vk.Extent2D{
		Width: clamp(
			uint32(width),
			capabilities.MinImageExtent.Width,
			capabilities.MaxImageExtent.Width,
		),
		Height: clamp(
			uint32(height),
			capabilities.MinImageExtent.Height,
			capabilities.MaxImageExtent.Height,
		),
	}
}

// chooseImageCount returns requested within the surface limits. Zero asks for
// one image more than the minimum.
func chooseImageCount(capabilities vk.SurfaceCapabilities, requested int) uint32 {
	imageCount := capabilities.MinImageCount + 1
	if requested > 0 {
		imageCount = uint32(requested)
	}
	if imageCount < capabilities.MinImageCount {
		imageCount = capabilities.MinImageCount
	}
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

func clamp[T cmp.Ordered](val, min, max T) T {
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}
