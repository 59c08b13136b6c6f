package gpu

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
)

// BufferDesc describes a buffer of InstanceCount elements of InstanceSize
// bytes each.
type BufferDesc struct {
	Usage  driver.BufferUsage
	Memory driver.MemoryProperty

	InstanceCount int
	InstanceSize  int64

	// Alignment is the minimum distance between the start of two
	// instances. It must be zero or a power of two. The device minimum for
	// Usage is applied on top of it.
	Alignment int64
}

// BufferInfo is the range of a buffer a descriptor binds.
type BufferInfo struct {
	Buffer driver.Buffer
	Offset int64
	Range  int64
}

// Buffer is an array of equally sized instances in GPU memory. Every instance
// starts at a multiple of Alignment, so a single instance can be bound with a
// dynamic offset.
type Buffer struct {
	dev   *Device
	usage driver.BufferUsage
	props driver.MemoryProperty

	mu        sync.Mutex
	buf       driver.Buffer
	mem       driver.MemoryProperty
	count     int
	stride    int64
	alignment int64
	size      int64
	capacity  int64

	mapped    []byte
	mapOffset int64

	released  bool
	destroyed atomic.Bool
}

// NewBuffer allocates a buffer. It fails with ErrAllocationFailure when the
// memory is exhausted.
func (d *Device) NewBuffer(desc BufferDesc) (*Buffer, error) {
	if desc.InstanceCount <= 0 || desc.InstanceSize <= 0 {
		return nil, d.misuse("buffer of %d instances of %d bytes",
			desc.InstanceCount, desc.InstanceSize)
	}
	if desc.Alignment < 0 || !isPowerOfTwo(desc.Alignment) {
		return nil, d.misuse("buffer alignment %d is not a power of two", desc.Alignment)
	}
	if desc.Memory == 0 {
		desc.Memory = driver.MemoryDeviceLocal
	}

	b := &Buffer{
		dev:       d,
		usage:     desc.Usage,
		props:     desc.Memory,
		alignment: max(desc.Alignment, d.minAlignment(desc.Usage)),
	}
	b.setExtent(desc.InstanceCount, desc.InstanceSize)
	if err := b.allocate(b.size); err != nil {
		return nil, err
	}
	d.buffers[b] = struct{}{}
	return b, nil
}

// minAlignment is the smallest offset alignment the device accepts for
// bindings with usage.
func (d *Device) minAlignment(usage driver.BufferUsage) int64 {
	limits := d.gpu.Limits()
	align := int64(1)
	if usage&driver.UsageUniform != 0 {
		align = max(align, limits.MinUniformBufferOffsetAlignment)
	}
	if usage&driver.UsageStorage != 0 {
		align = max(align, limits.MinStorageBufferOffsetAlignment)
	}
	return align
}

func isPowerOfTwo(n int64) bool {
	return n == 0 || bits.OnesCount64(uint64(n)) == 1
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

func (b *Buffer) setExtent(count int, instanceSize int64) {
	b.count = count
	b.stride = alignUp(instanceSize, b.alignment)
	b.size = int64(count) * b.stride
}

func (b *Buffer) allocate(size int64) error {
	buf, err := b.dev.gpu.NewBuffer(driver.BufferDesc{
		Size:   size,
		Usage:  b.usage,
		Memory: b.props,
	})
	if err != nil {
		return classify(err, "creating buffer")
	}
	b.buf = buf
	b.mem = buf.Memory()
	b.capacity = size
	return nil
}

// InstanceCount returns the number of instances.
func (b *Buffer) InstanceCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// InstanceSize returns the aligned size of one instance, which is also the
// distance between consecutive instances.
func (b *Buffer) InstanceSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stride
}

// Alignment returns the alignment of instances.
func (b *Buffer) Alignment() int64 { return b.alignment }

// Size returns InstanceCount() * InstanceSize().
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Memory returns the properties of the memory backing the buffer.
func (b *Buffer) Memory() driver.MemoryProperty {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem
}

// DriverBuffer returns the driver object behind the buffer. It changes when
// Resize reallocates.
func (b *Buffer) DriverBuffer() driver.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

// Mapped returns the current mapping, or nil.
func (b *Buffer) Mapped() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped
}

// rangeOf resolves WholeSize and checks that [offset, offset+size) lies in
// [0, limit).
func rangeOf(size, offset, limit int64) (int64, error) {
	if size == WholeSize {
		size = limit - offset
	}
	if offset < 0 || size < 0 || offset > limit || size > limit-offset {
		return 0, errors.Wrapf(ErrInvalidMapRange,
			"range [%d, %d) outside of %d bytes", offset, offset+size, limit)
	}
	return size, nil
}

// Map maps size bytes starting at offset and returns them. WholeSize maps the
// rest of the buffer. The slice is valid until Unmap or Resize. Mapping a
// buffer which is already mapped is a misuse error.
func (b *Buffer) Map(size, offset int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil, b.dev.misuse("map of a destroyed buffer")
	}
	if b.mapped != nil {
		return nil, b.dev.misuse("buffer is already mapped")
	}
	if !b.mem.HostVisible() {
		return nil, errors.Wrap(ErrInvalidMapRange, "buffer memory is not host visible")
	}
	size, err := rangeOf(size, offset, b.size)
	if err != nil {
		return nil, err
	}

	data, err := b.buf.Map(offset, size)
	if err != nil {
		return nil, classify(err, "mapping buffer")
	}
	if data == nil {
		data = []byte{}
	}
	b.mapped = data
	b.mapOffset = offset
	return data, nil
}

// Unmap releases the mapping. It does nothing when the buffer is not mapped.
func (b *Buffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unmapLocked()
}

func (b *Buffer) unmapLocked() {
	if b.mapped == nil {
		return
	}
	b.buf.Unmap()
	b.mapped = nil
	b.mapOffset = 0
}

// Flush makes host writes to [offset, offset+size) visible to the device. The
// range is in buffer bytes and must lie inside the mapping. It does nothing on
// coherent memory.
func (b *Buffer) Flush(size, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mem.HostCoherent() {
		return nil
	}
	size, err := b.mappedRangeLocked(size, offset)
	if err != nil {
		return err
	}
	return classify(b.buf.Flush(offset, size), "flushing buffer")
}

// Invalidate makes device writes to [offset, offset+size) visible to the
// mapping. It does nothing on coherent memory.
func (b *Buffer) Invalidate(size, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mem.HostCoherent() {
		return nil
	}
	size, err := b.mappedRangeLocked(size, offset)
	if err != nil {
		return err
	}
	return classify(b.buf.Invalidate(offset, size), "invalidating buffer")
}

// mappedRangeLocked checks that a buffer range lies inside the mapping. Size
// WholeSize extends to the end of the mapping.
func (b *Buffer) mappedRangeLocked(size, offset int64) (int64, error) {
	if b.mapped == nil {
		return 0, b.dev.misuse("flush or invalidate of a buffer which is not mapped")
	}
	end := b.mapOffset + int64(len(b.mapped))
	if size == WholeSize {
		size = end - offset
	}
	if offset < b.mapOffset || offset > end || size < 0 || size > end-offset {
		return 0, errors.Wrapf(ErrInvalidMapRange,
			"range [%d, %d) outside of mapping [%d, %d)", offset, offset+size, b.mapOffset, end)
	}
	return size, nil
}

// WriteToBuffer copies data into the mapping at offset bytes from the start
// of the buffer.
func (b *Buffer) WriteToBuffer(data []byte, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dst, err := b.mappedSliceLocked(int64(len(data)), offset)
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// ReadFromBuffer copies len(dst) bytes at offset from the mapping into dst.
func (b *Buffer) ReadFromBuffer(dst []byte, offset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, err := b.mappedSliceLocked(int64(len(dst)), offset)
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func (b *Buffer) mappedSliceLocked(size, offset int64) ([]byte, error) {
	size, err := b.mappedRangeLocked(size, offset)
	if err != nil {
		return nil, err
	}
	start := offset - b.mapOffset
	return b.mapped[start : start+size], nil
}

// IndexOffset returns the byte offset of instance i.
func (b *Buffer) IndexOffset(i int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(i) * b.stride
}

// WriteToIndex copies data into instance i of the mapping. data must not be
// larger than InstanceSize.
func (b *Buffer) WriteToIndex(data []byte, i int) error {
	offset, err := b.instance(i, int64(len(data)))
	if err != nil {
		return err
	}
	return b.WriteToBuffer(data, offset)
}

// FlushIndex flushes instance i.
func (b *Buffer) FlushIndex(i int) error {
	offset, err := b.instance(i, 0)
	if err != nil {
		return err
	}
	return b.Flush(b.InstanceSize(), offset)
}

// InvalidateIndex invalidates instance i.
func (b *Buffer) InvalidateIndex(i int) error {
	offset, err := b.instance(i, 0)
	if err != nil {
		return err
	}
	return b.Invalidate(b.InstanceSize(), offset)
}

func (b *Buffer) instance(i int, size int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i < 0 || i >= b.count {
		return 0, errors.Wrapf(ErrInvalidMapRange, "instance %d of %d", i, b.count)
	}
	if size > b.stride {
		return 0, errors.Wrapf(ErrInvalidMapRange,
			"%d bytes do not fit an instance of %d", size, b.stride)
	}
	return int64(i) * b.stride, nil
}

// Descriptor returns the binding information for [offset, offset+size).
func (b *Buffer) Descriptor(size, offset int64) (BufferInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size, err := rangeOf(size, offset, b.size)
	if err != nil {
		return BufferInfo{}, err
	}
	return BufferInfo{Buffer: b.buf, Offset: offset, Range: size}, nil
}

// DescriptorForIndex returns the binding information for instance i.
func (b *Buffer) DescriptorForIndex(i int) (BufferInfo, error) {
	offset, err := b.instance(i, 0)
	if err != nil {
		return BufferInfo{}, err
	}
	return b.Descriptor(b.InstanceSize(), offset)
}

// Resize changes the number and size of instances. The memory is reallocated
// when the new size exceeds the capacity; the old allocation is released once
// the work using it has completed and its contents are not carried over. Any
// mapping is released.
func (b *Buffer) Resize(count int, instanceSize int64) error {
	if count <= 0 || instanceSize <= 0 {
		return b.dev.misuse("resize to %d instances of %d bytes", count, instanceSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return b.dev.misuse("resize of a destroyed buffer")
	}
	b.unmapLocked()

	stride := alignUp(instanceSize, b.alignment)
	if size := int64(count) * stride; size > b.capacity {
		old := b.buf
		if err := b.allocate(size); err != nil {
			return err
		}
		b.dev.deferRelease(b, old.Destroy)
		b.dev.log.Debugf("buffer reallocated to %d bytes", size)
	}
	b.setExtent(count, instanceSize)
	return nil
}

// Destroy schedules the release of the buffer once the work using it has
// completed.
func (b *Buffer) Destroy() {
	if b.destroyed.Swap(true) {
		return
	}
	b.dev.retire(b)
}

func (b *Buffer) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return
	}
	b.unmapLocked()
	b.buf.Destroy()
	b.released = true
	delete(b.dev.buffers, b)
}
