package soft

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
)

// buffer implements driver.Buffer.
type buffer struct {
	g    *GPU
	size int64
	mem  driver.MemoryProperty

	mu     sync.Mutex
	device []byte
	// host is the CPU side copy of non-coherent memory. It is nil when the
	// memory is coherent or not host visible.
	host      []byte
	mapped    bool
	destroyed bool
}

// NewBuffer allocates a buffer. Memory that is not host visible is reported as
// device local.
func (g *GPU) NewBuffer(desc driver.BufferDesc) (driver.Buffer, error) {
	if desc.Size <= 0 {
		return nil, errors.Newf("soft: invalid buffer size %d", desc.Size)
	}
	if err := g.reserve(desc.Size); err != nil {
		return nil, err
	}

	mem := desc.Memory
	if !mem.HostVisible() {
		mem |= driver.MemoryDeviceLocal
		mem &^= driver.MemoryHostCoherent | driver.MemoryHostCached
	}
	b := &buffer{
		g:      g,
		size:   desc.Size,
		mem:    mem,
		device: make([]byte, desc.Size),
	}
	if mem.HostVisible() && !mem.HostCoherent() {
		b.host = make([]byte, desc.Size)
	}
	return b, nil
}

func (g *GPU) reserve(size int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if budget := g.drv.opts.MemoryBudget; budget > 0 && g.used+size > budget {
		return errors.Wrapf(driver.ErrNoDeviceMemory,
			"soft: %d bytes requested, %d of %d in use", size, g.used, budget)
	}
	g.used += size
	return nil
}

func (g *GPU) release(size int64) {
	g.mu.Lock()
	g.used -= size
	g.mu.Unlock()
}

func (b *buffer) Size() int64                   { return b.size }
func (b *buffer) Memory() driver.MemoryProperty { return b.mem }

func (b *buffer) checkRange(offset, size int64) error {
	if offset < 0 || size < 0 || offset > b.size || size > b.size-offset {
		return errors.Newf("soft: range [%d, %d) outside of buffer of %d bytes",
			offset, offset+size, b.size)
	}
	return nil
}

func (b *buffer) Map(offset, size int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.mem.HostVisible() {
		return nil, driver.ErrNotMappable
	}
	if b.mapped {
		return nil, errors.New("soft: buffer is already mapped")
	}
	if err := b.checkRange(offset, size); err != nil {
		return nil, err
	}

	b.mapped = true
	end := offset + size
	if b.host != nil {
		return b.host[offset:end:end], nil
	}
	return b.device[offset:end:end], nil
}

func (b *buffer) Unmap() {
	b.mu.Lock()
	b.mapped = false
	b.mu.Unlock()
}

// atomRange widens [offset, offset+size) to the non-coherent atom size and
// clips it to the buffer.
func (b *buffer) atomRange(offset, size int64) (int64, int64) {
	atom := b.g.limits.NonCoherentAtomSize
	start := offset / atom * atom
	end := (offset + size + atom - 1) / atom * atom
	if end > b.size {
		end = b.size
	}
	return start, end
}

func (b *buffer) Flush(offset, size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.host == nil {
		return nil
	}
	if err := b.checkRange(offset, size); err != nil {
		return err
	}
	start, end := b.atomRange(offset, size)
	copy(b.device[start:end], b.host[start:end])
	return nil
}

func (b *buffer) Invalidate(offset, size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.host == nil {
		return nil
	}
	if err := b.checkRange(offset, size); err != nil {
		return err
	}
	start, end := b.atomRange(offset, size)
	copy(b.host[start:end], b.device[start:end])
	return nil
}

func (b *buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.destroyed = true
	b.g.release(b.size)
	b.device, b.host = nil, nil
}

// DeviceBytes returns the memory of b as seen by the simulated device. Command
// functions use it to read and write buffers the way shaders would.
func DeviceBytes(b driver.Buffer) []byte {
	sb, ok := b.(*buffer)
	if !ok {
		return nil
	}
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.device
}

// image implements driver.Image.
type image struct {
	g     *GPU
	desc  driver.ImageDesc
	size  int64
	owned bool
}

// NewImage creates an image and accounts for its memory.
func (g *GPU) NewImage(desc driver.ImageDesc) (driver.Image, error) {
	maxDim := g.limits.MaxImageDimension2D
	switch desc.Type {
	case driver.Image1D:
		maxDim = g.limits.MaxImageDimension1D
	case driver.Image3D:
		maxDim = g.limits.MaxImageDimension3D
	}
	if desc.Width <= 0 || desc.Height <= 0 || desc.Depth <= 0 ||
		desc.Width > maxDim || desc.Height > maxDim || desc.Depth > maxDim {
		return nil, errors.Newf("soft: invalid %s image extent %dx%dx%d",
			desc.Type, desc.Width, desc.Height, desc.Depth)
	}

	size := int64(desc.Width) * int64(desc.Height) * int64(desc.Depth) *
		int64(max(desc.Layers, 1)) * int64(max(desc.Samples, 1)) * int64(desc.Format.Size())
	if err := g.reserve(size); err != nil {
		return nil, err
	}
	return &image{g: g, desc: desc, size: size, owned: true}, nil
}

// Desc returns the description an image was created with. It is meant for
// tests which need to inspect what reached the driver.
func Desc(img driver.Image) (driver.ImageDesc, bool) {
	si, ok := img.(*image)
	if !ok {
		return driver.ImageDesc{}, false
	}
	return si.desc, true
}

func (i *image) Destroy() {
	if !i.owned || i.g == nil {
		return
	}
	i.g.release(i.size)
	i.g = nil
}
