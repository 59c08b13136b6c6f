package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	vk "github.com/vulkan-go/vulkan"
)

type buffer struct {
	g         *GPU
	buf       vk.Buffer
	mem       vk.DeviceMemory
	size      int64
	allocSize int64
	props     driver.MemoryProperty

	// mapped is the start of the allocation while the buffer is mapped. The
	// whole allocation is always mapped so atom-aligned flush ranges stay
	// inside the mapping.
	mapped unsafe.Pointer
}

// NewBuffer implements driver.GPU.
func (g *GPU) NewBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}

	var buf vk.Buffer
	if err := check(vk.CreateBuffer(g.device, &bufferInfo, nil, &buf), "vulkan: creating buffer"); err != nil {
		return nil, err
	}

	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(g.device, buf, &memRequirements)
	memRequirements.Deref()

	mem, props, err := g.allocate(memRequirements, desc.Memory)
	if err != nil {
		vk.DestroyBuffer(g.device, buf, nil)
		return nil, err
	}

	if err := check(vk.BindBufferMemory(g.device, buf, mem, 0), "vulkan: binding buffer memory"); err != nil {
		vk.DestroyBuffer(g.device, buf, nil)
		vk.FreeMemory(g.device, mem, nil)
		return nil, err
	}

	return &buffer{
		g:         g,
		buf:       buf,
		mem:       mem,
		size:      desc.Size,
		allocSize: int64(memRequirements.Size),
		props:     props,
	}, nil
}

func (g *GPU) allocate(req vk.MemoryRequirements, mem driver.MemoryProperty) (vk.DeviceMemory, driver.MemoryProperty, error) {
	memTypeIndex, props, err := g.findMemoryType(req.MemoryTypeBits, memoryPropertyFlags(mem))
	if err != nil {
		return nil, 0, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIndex,
	}

	var memory vk.DeviceMemory
	if err := check(vk.AllocateMemory(g.device, &allocInfo, nil, &memory), "vulkan: allocating memory"); err != nil {
		return nil, 0, err
	}
	return memory, memoryProperty(props), nil
}

func (g *GPU) findMemoryType(
	typeFilter uint32,
	properties vk.MemoryPropertyFlags,
) (uint32, vk.MemoryPropertyFlags, error) {
	for i := uint32(0); i < g.memProperties.MemoryTypeCount; i++ {
		memType := g.memProperties.MemoryTypes[i]
		memType.Deref()

		if typeFilter&(1<<i) == 0 {
			continue
		}
		if memType.PropertyFlags&properties != properties {
			continue
		}
		return i, memType.PropertyFlags, nil
	}

	return 0, 0, errors.Wrap(driver.ErrNoDeviceMemory, "vulkan: failed to find suitable memory type")
}

func (b *buffer) Size() int64                   { return b.size }
func (b *buffer) Memory() driver.MemoryProperty { return b.props }

func (b *buffer) Map(offset, size int64) ([]byte, error) {
	if !b.props.HostVisible() {
		return nil, driver.ErrNotMappable
	}
	if offset < 0 || size < 0 || offset > b.size || size > b.size-offset {
		return nil, errors.Newf("vulkan: map range [%d, %d) outside of buffer of %d bytes",
			offset, offset+size, b.size)
	}
	if b.mapped != nil {
		return nil, errors.AssertionFailedf("vulkan: buffer is already mapped")
	}

	var pData unsafe.Pointer
	res := vk.MapMemory(b.g.device, b.mem, 0, vk.DeviceSize(b.allocSize), 0, &pData)
	if err := check(res, "vulkan: mapping memory"); err != nil {
		return nil, err
	}
	b.mapped = pData
	return unsafe.Slice((*byte)(unsafe.Add(pData, offset)), size), nil
}

func (b *buffer) Unmap() {
	if b.mapped == nil {
		return
	}
	vk.UnmapMemory(b.g.device, b.mem)
	b.mapped = nil
}

func (b *buffer) mappedRange(offset, size int64) (vk.MappedMemoryRange, error) {
	if b.mapped == nil {
		return vk.MappedMemoryRange{}, errors.AssertionFailedf("vulkan: buffer is not mapped")
	}
	if offset < 0 || size < 0 || offset > b.size || size > b.size-offset {
		return vk.MappedMemoryRange{}, errors.Newf("vulkan: range [%d, +%d) outside of buffer of %d bytes",
			offset, size, b.size)
	}
	off, sz := atomRange(offset, size, b.g.limits.NonCoherentAtomSize, b.allocSize)
	return vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: b.mem,
		Offset: vk.DeviceSize(off),
		Size:   vk.DeviceSize(sz),
	}, nil
}

func (b *buffer) Flush(offset, size int64) error {
	if b.props.HostCoherent() {
		return nil
	}
	r, err := b.mappedRange(offset, size)
	if err != nil {
		return err
	}
	return check(vk.FlushMappedMemoryRanges(b.g.device, 1, []vk.MappedMemoryRange{r}),
		"vulkan: flushing mapped memory")
}

func (b *buffer) Invalidate(offset, size int64) error {
	if b.props.HostCoherent() {
		return nil
	}
	r, err := b.mappedRange(offset, size)
	if err != nil {
		return err
	}
	return check(vk.InvalidateMappedMemoryRanges(b.g.device, 1, []vk.MappedMemoryRange{r}),
		"vulkan: invalidating mapped memory")
}

func (b *buffer) Destroy() {
	b.Unmap()
	vk.DestroyBuffer(b.g.device, b.buf, nil)
	vk.FreeMemory(b.g.device, b.mem, nil)
}

// atomRange widens [offset, offset+size) to multiples of atom. The end is
// clamped to limit, the size of the allocation, which Vulkan accepts as the
// end of a range even when it is not aligned.
func atomRange(offset, size, atom, limit int64) (int64, int64) {
	if atom <= 1 {
		return offset, size
	}
	start := offset - offset%atom
	end := offset + size
	if rem := end % atom; rem != 0 {
		end += atom - rem
	}
	if end > limit {
		end = limit
	}
	return start, end - start
}

// BufferHandle returns the Vulkan buffer behind b, for recording commands.
func BufferHandle(b driver.Buffer) (vk.Buffer, bool) {
	vb, ok := b.(*buffer)
	if !ok {
		return nil, false
	}
	return vb.buf, true
}

type image struct {
	g     *GPU
	img   vk.Image
	mem   vk.DeviceMemory
	view  vk.ImageView
	desc  driver.ImageDesc
	owned bool
}

// NewImage implements driver.GPU. The image uses optimal tiling and device
// local memory, and gets a view covering all of its layers and levels.
func (g *GPU) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	format, ok := vkFormats[desc.Format]
	if !ok {
		return nil, errors.Newf("vulkan: format %s has no Vulkan equivalent", desc.Format)
	}

	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imageType(desc.Type),
		Extent: vk.Extent3D{
			Width:  uint32(desc.Width),
			Height: uint32(desc.Height),
			Depth:  uint32(desc.Depth),
		},
		MipLevels:     uint32(desc.Levels),
		ArrayLayers:   uint32(desc.Layers),
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         imageUsageFlags(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCountFlagBits(desc.Samples),
	}

	var img vk.Image
	if err := check(vk.CreateImage(g.device, &imageInfo, nil, &img), "vulkan: creating image"); err != nil {
		return nil, err
	}

	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(g.device, img, &memRequirements)
	memRequirements.Deref()

	mem, _, err := g.allocate(memRequirements, driver.MemoryDeviceLocal)
	if err != nil {
		vk.DestroyImage(g.device, img, nil)
		return nil, err
	}

	if err := check(vk.BindImageMemory(g.device, img, mem, 0), "vulkan: binding image memory"); err != nil {
		vk.DestroyImage(g.device, img, nil)
		vk.FreeMemory(g.device, mem, nil)
		return nil, err
	}

	view, err := g.createImageView(img, format, desc)
	if err != nil {
		vk.DestroyImage(g.device, img, nil)
		vk.FreeMemory(g.device, mem, nil)
		return nil, err
	}

	return &image{g: g, img: img, mem: mem, view: view, desc: desc, owned: true}, nil
}

func (g *GPU) createImageView(img vk.Image, format vk.Format, desc driver.ImageDesc) (vk.ImageView, error) {
	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: imageViewType(desc.Type, desc.Layers),
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags(desc.Aspect),
			BaseMipLevel:   0,
			LevelCount:     uint32(desc.Levels),
			BaseArrayLayer: 0,
			LayerCount:     uint32(desc.Layers),
		},
	}

	var imageView vk.ImageView
	res := vk.CreateImageView(g.device, &createInfo, nil, &imageView)
	if err := check(res, "vulkan: failed to create image view"); err != nil {
		return nil, err
	}
	return imageView, nil
}

// Destroy releases images created with NewImage. Swapchain images belong to
// their swapchain and are left alone.
func (i *image) Destroy() {
	if !i.owned {
		return
	}
	vk.DestroyImageView(i.g.device, i.view, nil)
	vk.DestroyImage(i.g.device, i.img, nil)
	vk.FreeMemory(i.g.device, i.mem, nil)
}

// ImageHandle returns the Vulkan image and view behind img, for recording
// commands.
func ImageHandle(img driver.Image) (vk.Image, vk.ImageView, bool) {
	vi, ok := img.(*image)
	if !ok {
		return nil, nil, false
	}
	return vi.img, vi.view, true
}
