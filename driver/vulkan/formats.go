package vulkan

import (
	"github.com/ironsmile/vkframe/driver"
	vk "github.com/vulkan-go/vulkan"
)

var vkFormats = map[driver.Format]vk.Format{
	driver.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	driver.FormatRGBA8SRGB:      vk.FormatR8g8b8a8Srgb,
	driver.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	driver.FormatBGRA8SRGB:      vk.FormatB8g8r8a8Srgb,
	driver.FormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	driver.FormatR32Float:       vk.FormatR32Sfloat,
	driver.FormatD16Unorm:       vk.FormatD16Unorm,
	driver.FormatD32Float:       vk.FormatD32Sfloat,
	driver.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	driver.FormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
}

// driverFormat is the inverse of vkFormats. Formats without an equivalent map
// to driver.FormatUndefined.
func driverFormat(f vk.Format) driver.Format {
	for df, vf := range vkFormats {
		if vf == f {
			return df
		}
	}
	return driver.FormatUndefined
}

var vkPresentModes = map[driver.PresentMode]vk.PresentMode{
	driver.PresentFIFO:        vk.PresentModeFifo,
	driver.PresentFIFORelaxed: vk.PresentModeFifoRelaxed,
	driver.PresentMailbox:     vk.PresentModeMailbox,
	driver.PresentImmediate:   vk.PresentModeImmediate,
}

func driverPresentMode(m vk.PresentMode) (driver.PresentMode, bool) {
	for dm, vm := range vkPresentModes {
		if vm == m {
			return dm, true
		}
	}
	return driver.PresentFIFO, false
}

func bufferUsageFlags(u driver.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	for bit, vkBit := range map[driver.BufferUsage]vk.BufferUsageFlagBits{
		driver.UsageVertex:      vk.BufferUsageVertexBufferBit,
		driver.UsageIndex:       vk.BufferUsageIndexBufferBit,
		driver.UsageUniform:     vk.BufferUsageUniformBufferBit,
		driver.UsageStorage:     vk.BufferUsageStorageBufferBit,
		driver.UsageIndirect:    vk.BufferUsageIndirectBufferBit,
		driver.UsageTransferSrc: vk.BufferUsageTransferSrcBit,
		driver.UsageTransferDst: vk.BufferUsageTransferDstBit,
	} {
		if u&bit != 0 {
			flags |= vkBit
		}
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsageFlags(u driver.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	for bit, vkBit := range map[driver.ImageUsage]vk.ImageUsageFlagBits{
		driver.ImageSampled:     vk.ImageUsageSampledBit,
		driver.ImageStorage:     vk.ImageUsageStorageBit,
		driver.ImageColorTarget: vk.ImageUsageColorAttachmentBit,
		driver.ImageDepthTarget: vk.ImageUsageDepthStencilAttachmentBit,
		driver.ImageTransferSrc: vk.ImageUsageTransferSrcBit,
		driver.ImageTransferDst: vk.ImageUsageTransferDstBit,
	} {
		if u&bit != 0 {
			flags |= vkBit
		}
	}
	return vk.ImageUsageFlags(flags)
}

func memoryPropertyFlags(p driver.MemoryProperty) vk.MemoryPropertyFlags {
	var flags vk.MemoryPropertyFlagBits
	if p&driver.MemoryDeviceLocal != 0 {
		flags |= vk.MemoryPropertyDeviceLocalBit
	}
	if p&driver.MemoryHostVisible != 0 {
		flags |= vk.MemoryPropertyHostVisibleBit
	}
	if p&driver.MemoryHostCoherent != 0 {
		flags |= vk.MemoryPropertyHostCoherentBit
	}
	if p&driver.MemoryHostCached != 0 {
		flags |= vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyFlags(flags)
}

func memoryProperty(flags vk.MemoryPropertyFlags) driver.MemoryProperty {
	var p driver.MemoryProperty
	if flags&vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit) != 0 {
		p |= driver.MemoryDeviceLocal
	}
	if flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0 {
		p |= driver.MemoryHostVisible
	}
	if flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0 {
		p |= driver.MemoryHostCoherent
	}
	if flags&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit) != 0 {
		p |= driver.MemoryHostCached
	}
	return p
}

func aspectFlags(a driver.Aspect) vk.ImageAspectFlags {
	var flags vk.ImageAspectFlagBits
	if a&driver.AspectColor != 0 {
		flags |= vk.ImageAspectColorBit
	}
	if a&driver.AspectDepth != 0 {
		flags |= vk.ImageAspectDepthBit
	}
	if a&driver.AspectStencil != 0 {
		flags |= vk.ImageAspectStencilBit
	}
	return vk.ImageAspectFlags(flags)
}

func imageType(t driver.ImageType) vk.ImageType {
	switch t {
	case driver.Image1D:
		return vk.ImageType1d
	case driver.Image3D:
		return vk.ImageType3d
	}
	return vk.ImageType2d
}

func imageViewType(t driver.ImageType, layers int) vk.ImageViewType {
	switch t {
	case driver.Image1D:
		if layers > 1 {
			return vk.ImageViewType1dArray
		}
		return vk.ImageViewType1d
	case driver.Image3D:
		return vk.ImageViewType3d
	}
	if layers > 1 {
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}
