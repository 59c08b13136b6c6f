package driver

// BufferUsage is a mask of the ways a buffer may be bound.
type BufferUsage int

// Buffer usages.
const (
	UsageVertex BufferUsage = 1 << iota
	UsageIndex
	UsageUniform
	UsageStorage
	UsageIndirect
	UsageTransferSrc
	UsageTransferDst
)

// MemoryProperty is a mask describing where memory lives and how the host may
// access it.
type MemoryProperty int

// Memory properties.
const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
	MemoryHostCached
)

// HostVisible reports whether the host can map the memory.
func (p MemoryProperty) HostVisible() bool { return p&MemoryHostVisible != 0 }

// HostCoherent reports whether host writes and device writes are visible to
// each other without explicit flushes and invalidations.
func (p MemoryProperty) HostCoherent() bool { return p&MemoryHostCoherent != 0 }

// BufferDesc describes a buffer allocation.
type BufferDesc struct {
	Size   int64
	Usage  BufferUsage
	Memory MemoryProperty
}

// Buffer is a linear memory allocation.
type Buffer interface {
	Destroyer

	// Size returns the size of the allocation in bytes.
	Size() int64

	// Memory returns the properties of the memory backing the buffer. It
	// may contain more properties than requested.
	Memory() MemoryProperty

	// Map returns a host view of [offset, offset+size). It fails with
	// ErrNotMappable if the memory is not host visible. A buffer has at
	// most one mapping at a time.
	Map(offset, size int64) ([]byte, error)

	// Unmap releases the mapping. Slices returned by Map must not be used
	// after this call.
	Unmap()

	// Flush makes host writes in the range visible to the device. It does
	// nothing on coherent memory.
	Flush(offset, size int64) error

	// Invalidate makes device writes in the range visible to the host. It
	// does nothing on coherent memory.
	Invalidate(offset, size int64) error
}

// ImageType is the dimensionality of an image.
type ImageType int

// Image types.
const (
	Image1D ImageType = iota
	Image2D
	Image3D
)

func (t ImageType) String() string {
	switch t {
	case Image1D:
		return "1D"
	case Image2D:
		return "2D"
	case Image3D:
		return "3D"
	}
	return "invalid"
}

// Format is a pixel format.
type Format int

// Pixel formats.
const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatRGBA8SRGB
	FormatBGRA8Unorm
	FormatBGRA8SRGB
	FormatRGBA16Float
	FormatR32Float
	FormatD16Unorm
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8Uint
)

var formatNames = [...]string{
	FormatUndefined:      "undefined",
	FormatRGBA8Unorm:     "rgba8unorm",
	FormatRGBA8SRGB:      "rgba8srgb",
	FormatBGRA8Unorm:     "bgra8unorm",
	FormatBGRA8SRGB:      "bgra8srgb",
	FormatRGBA16Float:    "rgba16float",
	FormatR32Float:       "r32float",
	FormatD16Unorm:       "d16unorm",
	FormatD32Float:       "d32float",
	FormatD24UnormS8Uint: "d24unorms8uint",
	FormatD32FloatS8Uint: "d32floats8uint",
}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return "invalid"
	}
	return formatNames[f]
}

// Aspect returns the aspects that make up the format.
func (f Format) Aspect() Aspect {
	switch f {
	case FormatD16Unorm, FormatD32Float:
		return AspectDepth
	case FormatD24UnormS8Uint, FormatD32FloatS8Uint:
		return AspectDepth | AspectStencil
	case FormatUndefined:
		return 0
	}
	return AspectColor
}

// Size returns the number of bytes of a single texel.
func (f Format) Size() int {
	switch f {
	case FormatD16Unorm:
		return 2
	case FormatRGBA16Float, FormatD32FloatS8Uint:
		return 8
	case FormatUndefined:
		return 0
	}
	return 4
}

// Aspect is a mask of image aspects.
type Aspect int

// Image aspects.
const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

// ImageUsage is a mask of the ways an image may be used.
type ImageUsage int

// Image usages.
const (
	ImageSampled ImageUsage = 1 << iota
	ImageStorage
	ImageColorTarget
	ImageDepthTarget
	ImageTransferSrc
	ImageTransferDst
)

// ImageDesc describes an image. Extents are already normalized for the image
// type when they reach a driver.
type ImageDesc struct {
	Type    ImageType
	Format  Format
	Width   int
	Height  int
	Depth   int
	Layers  int
	Levels  int
	Samples int
	Usage   ImageUsage
	Aspect  Aspect
}

// Image is an image with memory bound to it.
type Image interface {
	Destroyer
}
