package vulkan

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/queues"
	"github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

var deviceExtensions = []string{
	vk.KhrSwapchainExtensionName + "\x00",
}

// CommandBuffer is the command buffer type of this driver. Command buffers are
// allocated with GPU.AllocateCommandBuffers and recorded by the caller.
type CommandBuffer = vk.CommandBuffer

// GPU is an opened Vulkan logical device with one graphics queue.
type GPU struct {
	drv      *Driver
	log      logrus.FieldLogger
	instance vk.Instance
	surface  vk.Surface

	physicalDevice vk.PhysicalDevice
	adapter        driver.AdapterInfo
	limits         driver.Limits
	memProperties  vk.PhysicalDeviceMemoryProperties
	families       queues.FamilyIndices

	device        vk.Device
	graphicsQueue vk.Queue
	presentQueue  vk.Queue
	commandPool   vk.CommandPool
}

func (d *Driver) openGPU(instance vk.Instance, cfg driver.Config, win Surface) (*GPU, error) {
	g := &GPU{
		drv:      d,
		log:      d.log,
		instance: instance,
		surface:  vk.NullSurface,
	}

	if win != nil {
		surfacePtr, err := win.CreateWindowSurface(instance, nil)
		if err != nil {
			return nil, errors.Wrap(err, "vulkan: cannot create surface within window")
		}
		g.surface = vk.SurfaceFromPointer(surfacePtr)
	}

	if err := g.pickPhysicalDevice(cfg.Adapter); err != nil {
		g.destroySurface()
		return nil, err
	}
	if err := g.createLogicalDevice(cfg.Validation); err != nil {
		g.destroySurface()
		return nil, err
	}
	if err := g.createCommandPool(); err != nil {
		vk.DestroyDevice(g.device, nil)
		g.destroySurface()
		return nil, err
	}

	g.log.Infof("opened adapter %d: %s (%s, Vulkan %s)",
		g.adapter.Index, g.adapter.Name, g.adapter.Type, g.adapter.APIVersion)
	return g, nil
}

func (g *GPU) presenting() bool {
	return g.surface != vk.NullSurface
}

func (g *GPU) pickPhysicalDevice(index int) error {
	devices, err := physicalDevices(g.instance)
	if err != nil {
		return err
	}

	var (
		selected = -1
		score    uint32
	)
	for i, dev := range devices {
		deviceScore := g.getDeviceScore(i, dev)
		if index >= 0 {
			if i == index && deviceScore > 0 {
				selected = i
			}
			continue
		}
		if deviceScore > score {
			selected = i
			score = deviceScore
		}
	}

	if selected < 0 {
		if index >= 0 {
			return errors.Wrapf(driver.ErrNoDevice, "vulkan: adapter %d is missing or unsuitable", index)
		}
		return errors.Wrap(driver.ErrNoDevice, "vulkan: failed to find suitable physical devices")
	}

	g.physicalDevice = devices[selected]
	g.adapter = adapterInfo(selected, g.physicalDevice)
	g.families = g.findQueueFamilies(g.physicalDevice)

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(g.physicalDevice, &properties)
	properties.Deref()
	properties.Limits.Deref()
	g.limits = driver.Limits{
		MinUniformBufferOffsetAlignment: int64(properties.Limits.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: int64(properties.Limits.MinStorageBufferOffsetAlignment),
		NonCoherentAtomSize:             int64(properties.Limits.NonCoherentAtomSize),
		MaxImageDimension1D:             int(properties.Limits.MaxImageDimension1D),
		MaxImageDimension2D:             int(properties.Limits.MaxImageDimension2D),
		MaxImageDimension3D:             int(properties.Limits.MaxImageDimension3D),
	}

	vk.GetPhysicalDeviceMemoryProperties(g.physicalDevice, &g.memProperties)
	g.memProperties.Deref()
	return nil
}

// getDeviceScore returns how suitable is this device for the GPU. Bigger
// score means better. Zero means the device cannot be used.
func (g *GPU) getDeviceScore(index int, device vk.PhysicalDevice) uint32 {
	var (
		deviceScore uint32
		properties  vk.PhysicalDeviceProperties
	)

	vk.GetPhysicalDeviceProperties(device, &properties)
	properties.Deref()

	if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
		deviceScore += 1000
	} else {
		deviceScore++
	}

	if !g.isDeviceSuitable(device) {
		deviceScore = 0
	}

	g.log.Debugf("available device %d: %s (score: %d)",
		index, vk.ToString(properties.DeviceName[:]), deviceScore)
	return deviceScore
}

func (g *GPU) isDeviceSuitable(device vk.PhysicalDevice) bool {
	indices := g.findQueueFamilies(device)
	if !indices.IsComplete(g.presenting()) {
		return false
	}
	if !g.presenting() {
		return true
	}
	if !checkDeviceExtensionSupport(device) {
		return false
	}

	support, err := querySwapChainSupport(device, g.surface)
	if err != nil {
		g.log.Warnf("querying swapchain support: %s", err)
		return false
	}
	return len(support.formats) > 0 && len(support.presentModes) > 0
}

// findQueueFamilies returns the queue families the GPU needs on device. The
// present family is only looked up when the GPU has a surface.
func (g *GPU) findQueueFamilies(device vk.PhysicalDevice) queues.FamilyIndices {
	indices := queues.FamilyIndices{}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)

	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	for i, family := range queueFamilies {
		family.Deref()

		if family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && !indices.Graphics.HasValue() {
			indices.Graphics.Set(uint32(i))
		}

		if g.presenting() && !indices.Present.HasValue() {
			var hasPresent vk.Bool32
			err := check(
				vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), g.surface, &hasPresent),
				"vulkan: querying surface support",
			)
			if err != nil {
				g.log.Warnf("queue family %d: %s", i, err)
			} else if hasPresent.B() {
				indices.Present.Set(uint32(i))
			}
		}

		if indices.IsComplete(g.presenting()) {
			break
		}
	}

	return indices
}

func checkDeviceExtensionSupport(device vk.PhysicalDevice) bool {
	var extensionsCount uint32
	res := vk.EnumerateDeviceExtensionProperties(device, "", &extensionsCount, nil)
	if res != vk.Success {
		return false
	}

	availableExtensions := make([]vk.ExtensionProperties, extensionsCount)
	res = vk.EnumerateDeviceExtensionProperties(device, "", &extensionsCount, availableExtensions)
	if res != vk.Success {
		return false
	}

	requiredExtensions := make(map[string]struct{})
	for _, extensionName := range deviceExtensions {
		requiredExtensions[extensionName] = struct{}{}
	}

	for _, extension := range availableExtensions {
		extension.Deref()
		delete(requiredExtensions, cstr(vk.ToString(extension.ExtensionName[:])))
	}

	return len(requiredExtensions) == 0
}

func (g *GPU) createLogicalDevice(validation bool) error {
	queueCreateInfos := []vk.DeviceQueueCreateInfo{}
	for _, familyIndex := range g.families.Unique() {
		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: familyIndex,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{{}},
		PQueueCreateInfos:    queueCreateInfos,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
	}
	if g.presenting() {
		createInfo.EnabledExtensionCount = uint32(len(deviceExtensions))
		createInfo.PpEnabledExtensionNames = deviceExtensions
	}
	if validation {
		createInfo.EnabledLayerCount = 1
		createInfo.PpEnabledLayerNames = []string{validationLayer}
	}

	var device vk.Device
	err := check(vk.CreateDevice(g.physicalDevice, &createInfo, nil, &device),
		"vulkan: failed to create logical device")
	if err != nil {
		return err
	}
	g.device = device

	var graphicsQueue vk.Queue
	vk.GetDeviceQueue(g.device, g.families.Graphics.Get(), 0, &graphicsQueue)
	g.graphicsQueue = graphicsQueue

	g.presentQueue = graphicsQueue
	if g.families.Shared() {
		var presentQueue vk.Queue
		vk.GetDeviceQueue(g.device, g.families.Present.Get(), 0, &presentQueue)
		g.presentQueue = presentQueue
	}
	return nil
}

func (g *GPU) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType: vk.StructureTypeCommandPoolCreateInfo,
		Flags: vk.CommandPoolCreateFlags(
			vk.CommandPoolCreateResetCommandBufferBit,
		),
		QueueFamilyIndex: g.families.Graphics.Get(),
	}

	var commandPool vk.CommandPool
	err := check(vk.CreateCommandPool(g.device, &poolInfo, nil, &commandPool),
		"vulkan: failed to create command pool")
	if err != nil {
		return err
	}
	g.commandPool = commandPool
	return nil
}

// AllocateCommandBuffers allocates n primary command buffers from the
// GPU's resettable pool. They are freed with FreeCommandBuffers or when the
// GPU is destroyed.
func (g *GPU) AllocateCommandBuffers(n int) ([]CommandBuffer, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        g.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(n),
	}

	commandBuffers := make([]vk.CommandBuffer, n)
	err := check(vk.AllocateCommandBuffers(g.device, &allocInfo, commandBuffers),
		"vulkan: failed to allocate command buffers")
	if err != nil {
		return nil, err
	}
	return commandBuffers, nil
}

// FreeCommandBuffers returns command buffers to the pool. None of them may be
// pending execution.
func (g *GPU) FreeCommandBuffers(cmds []CommandBuffer) {
	if len(cmds) == 0 {
		return
	}
	vk.FreeCommandBuffers(g.device, g.commandPool, uint32(len(cmds)), cmds)
}

// Device returns the logical device handle, for recording commands.
func (g *GPU) Device() vk.Device { return g.device }

// Driver implements driver.GPU.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Adapter implements driver.GPU.
func (g *GPU) Adapter() driver.AdapterInfo { return g.adapter }

// Limits implements driver.GPU.
func (g *GPU) Limits() driver.Limits { return g.limits }

// Submit implements driver.GPU. Command buffers must be of type
// CommandBuffer. Every wait happens at the color attachment output stage.
func (g *GPU) Submit(sub driver.Submission) error {
	cmds := make([]vk.CommandBuffer, 0, len(sub.Cmds))
	for _, c := range sub.Cmds {
		cb, ok := c.(vk.CommandBuffer)
		if !ok {
			return errors.AssertionFailedf("vulkan: command buffer of type %T", c)
		}
		cmds = append(cmds, cb)
	}

	waits := semaphoreHandles(sub.Wait)
	stages := make([]vk.PipelineStageFlags, len(waits))
	for i := range stages {
		stages[i] = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	signals := semaphoreHandles(sub.Signal)

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}

	handle := vk.Fence(vk.NullHandle)
	if sub.Fence != nil {
		f, ok := sub.Fence.(*fence)
		if !ok {
			return errors.AssertionFailedf("vulkan: fence of type %T", sub.Fence)
		}
		handle = f.fence
	}

	return check(
		vk.QueueSubmit(g.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, handle),
		"vulkan: queue submit",
	)
}

// WaitIdle implements driver.GPU.
func (g *GPU) WaitIdle() error {
	return check(vk.DeviceWaitIdle(g.device), "vulkan: waiting for device idle")
}

// Destroy implements driver.GPU. Every object created from the GPU must have
// been destroyed already.
func (g *GPU) Destroy() {
	if g.device == vk.Device(vk.NullHandle) {
		return
	}
	vk.DeviceWaitIdle(g.device)
	vk.DestroyCommandPool(g.device, g.commandPool, nil)
	vk.DestroyDevice(g.device, nil)
	g.device = vk.Device(vk.NullHandle)
	g.destroySurface()
	vk.DestroyInstance(g.instance, nil)
	g.log.Debugf("closed adapter %d", g.adapter.Index)
}

func (g *GPU) destroySurface() {
	if g.surface != vk.NullSurface {
		vk.DestroySurface(g.instance, g.surface, nil)
		g.surface = vk.NullSurface
	}
}

// timeoutNanos converts a driver timeout into the nanoseconds Vulkan expects.
// A negative timeout waits forever.
func timeoutNanos(timeout time.Duration) uint64 {
	if timeout < 0 {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}
