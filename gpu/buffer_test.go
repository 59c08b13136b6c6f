package gpu

import (
	"bytes"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	. "github.com/onsi/gomega"
)

const nonCoherent = driver.MemoryHostVisible

func TestBufferSizeAndAlignment(t *testing.T) {
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	tests := []struct {
		name          string
		desc          BufferDesc
		wantAlignment int64
		wantStride    int64
	}{
		{
			name:          "vertex buffer is packed",
			desc:          BufferDesc{Usage: driver.UsageVertex, InstanceCount: 3, InstanceSize: 12},
			wantAlignment: 1,
			wantStride:    12,
		},
		{
			name:          "uniform buffer uses the device minimum",
			desc:          BufferDesc{Usage: driver.UsageUniform, InstanceCount: 3, InstanceSize: 100},
			wantAlignment: 256,
			wantStride:    256,
		},
		{
			name:          "larger requested alignment wins",
			desc:          BufferDesc{Usage: driver.UsageUniform, InstanceCount: 2, InstanceSize: 100, Alignment: 512},
			wantAlignment: 512,
			wantStride:    512,
		},
		{
			name:          "storage minimum wins over a smaller request",
			desc:          BufferDesc{Usage: driver.UsageStorage, InstanceCount: 4, InstanceSize: 100, Alignment: 16},
			wantAlignment: 64,
			wantStride:    128,
		},
		{
			name:          "requested alignment pads instances",
			desc:          BufferDesc{Usage: driver.UsageVertex, InstanceCount: 5, InstanceSize: 10, Alignment: 8},
			wantAlignment: 8,
			wantStride:    16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			b, err := dev.NewBuffer(tt.desc)
			g.Expect(err).NotTo(HaveOccurred())
			defer b.Destroy()

			g.Expect(b.Alignment()).To(Equal(tt.wantAlignment))
			g.Expect(b.InstanceSize()).To(Equal(tt.wantStride))
			g.Expect(b.InstanceCount()).To(Equal(tt.desc.InstanceCount))
			g.Expect(b.Size()).To(Equal(int64(b.InstanceCount()) * b.InstanceSize()))
			g.Expect(b.Size() % b.Alignment()).To(BeZero())
			g.Expect(b.Alignment() & (b.Alignment() - 1)).To(BeZero())
			g.Expect(b.Alignment()).To(BeNumerically(">=", tt.desc.Alignment))
			g.Expect(b.DriverBuffer().Size()).To(Equal(b.Size()))
		})
	}
}

func TestBufferRejectsBadDescriptions(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	for _, desc := range []BufferDesc{
		{InstanceCount: 0, InstanceSize: 4},
		{InstanceCount: 4, InstanceSize: 0},
		{InstanceCount: 4, InstanceSize: 4, Alignment: 3},
		{InstanceCount: 4, InstanceSize: 4, Alignment: -8},
	} {
		_, err := dev.NewBuffer(desc)
		g.Expect(IsMisuse(err)).To(BeTrue(), "%+v", desc)
	}
}

func TestBufferMapRange(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{
		Usage:         driver.UsageUniform,
		Memory:        driver.MemoryHostVisible | driver.MemoryHostCoherent,
		InstanceCount: 3,
		InstanceSize:  100,
	})
	g.Expect(err).NotTo(HaveOccurred())

	data, err := b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(data).To(HaveLen(768))
	g.Expect(b.Mapped()).To(HaveLen(768))

	_, err = b.Map(16, 0)
	g.Expect(IsMisuse(err)).To(BeTrue())

	b.Unmap()
	g.Expect(b.Mapped()).To(BeNil())

	_, err = b.Map(64, 736)
	g.Expect(errors.Is(err, ErrInvalidMapRange)).To(BeTrue())
	_, err = b.Map(8, -1)
	g.Expect(errors.Is(err, ErrInvalidMapRange)).To(BeTrue())

	data, err = b.Map(WholeSize, 256)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(data).To(HaveLen(512))

	// Coherent memory needs neither flushes nor invalidations.
	g.Expect(b.Flush(WholeSize, 0)).To(Succeed())
	g.Expect(b.Invalidate(4, 0)).To(Succeed())
	b.Unmap()

	local, err := dev.NewBuffer(BufferDesc{Usage: driver.UsageVertex, InstanceCount: 1, InstanceSize: 64})
	g.Expect(err).NotTo(HaveOccurred())
	_, err = local.Map(WholeSize, 0)
	g.Expect(errors.Is(err, ErrInvalidMapRange)).To(BeTrue())
}

func TestBufferFlushOutsideMapping(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{Memory: nonCoherent, InstanceCount: 4, InstanceSize: 64})
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(IsMisuse(b.Flush(WholeSize, 0))).To(BeTrue(), "flush of an unmapped buffer")

	_, err = b.Map(128, 64)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(errors.Is(b.Flush(64, 0), ErrInvalidMapRange)).To(BeTrue())
	g.Expect(errors.Is(b.Invalidate(128, 128), ErrInvalidMapRange)).To(BeTrue())
	g.Expect(b.Flush(WholeSize, 64)).To(Succeed())
}

func TestBufferRangeOverflow(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{Memory: nonCoherent, InstanceCount: 4, InstanceSize: 64})
	g.Expect(err).NotTo(HaveOccurred())

	_, err = b.Map(math.MaxInt64, 64)
	g.Expect(errors.Is(err, ErrInvalidMapRange)).To(BeTrue())

	_, err = b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(errors.Is(b.Flush(math.MaxInt64, 64), ErrInvalidMapRange)).To(BeTrue())
	g.Expect(errors.Is(b.Invalidate(math.MaxInt64, 64), ErrInvalidMapRange)).To(BeTrue())
	g.Expect(errors.Is(b.Flush(64, math.MaxInt64), ErrInvalidMapRange)).To(BeTrue())
}

func TestBufferNonCoherentVisibility(t *testing.T) {
	g := NewWithT(t)
	dev, sg, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{
		Usage:         driver.UsageStorage,
		Memory:        nonCoherent,
		InstanceCount: 4,
		InstanceSize:  64,
	})
	g.Expect(err).NotTo(HaveOccurred())
	device := soft.DeviceBytes(b.DriverBuffer())

	_, err = b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b.WriteToBuffer([]byte{1, 2, 3, 4}, 0)).To(Succeed())

	g.Expect(device[:4]).To(Equal([]byte{0, 0, 0, 0}), "host write is not visible before a flush")
	g.Expect(b.Flush(WholeSize, 0)).To(Succeed())
	g.Expect(device[:4]).To(Equal([]byte{1, 2, 3, 4}))

	fence, err := dev.NewFence(false)
	g.Expect(err).NotTo(HaveOccurred())
	err = dev.Submit(Submission{
		Cmds:  []driver.CmdBuffer{soft.Commands(func() { device[128] = 9 })},
		Fence: fence,
		Uses:  []Resource{b},
	})
	g.Expect(err).NotTo(HaveOccurred())
	sg.CompleteAll()
	g.Expect(fence.Wait(Forever)).To(Succeed())

	got := make([]byte, 1)
	g.Expect(b.ReadFromBuffer(got, 128)).To(Succeed())
	g.Expect(got[0]).To(BeZero(), "device write is not visible before an invalidation")

	g.Expect(b.InvalidateIndex(2)).To(Succeed())
	g.Expect(b.ReadFromBuffer(got, 128)).To(Succeed())
	g.Expect(got[0]).To(BeEquivalentTo(9))
}

func TestBufferCoherentVisibility(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{
		Memory:        driver.MemoryHostVisible | driver.MemoryHostCoherent,
		InstanceCount: 1,
		InstanceSize:  32,
	})
	g.Expect(err).NotTo(HaveOccurred())

	_, err = b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b.WriteToBuffer([]byte("coherent"), 8)).To(Succeed())
	g.Expect(soft.DeviceBytes(b.DriverBuffer())[8:16]).To(Equal([]byte("coherent")))
}

func TestBufferResizeRoundTrip(t *testing.T) {
	g := NewWithT(t)
	dev, sg, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{Memory: nonCoherent, InstanceCount: 4, InstanceSize: 16})
	g.Expect(err).NotTo(HaveOccurred())
	old := b.DriverBuffer()

	_, err = b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b.Resize(32, 16)).To(Succeed())
	g.Expect(b.Mapped()).To(BeNil(), "resize releases the mapping")
	g.Expect(b.Size()).To(BeEquivalentTo(512))
	g.Expect(b.DriverBuffer()).NotTo(BeIdenticalTo(old))

	want := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 128)
	data, err := b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	copy(data, want)
	g.Expect(b.Flush(WholeSize, 0)).To(Succeed())
	g.Expect(b.Invalidate(WholeSize, 0)).To(Succeed())
	b.Unmap()

	data, err = b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(data).To(Equal(want))
	b.Unmap()

	g.Expect(sg.MemoryInUse()).To(BeEquivalentTo(64+512), "old allocation waits for a safe point")
	dev.Collect()
	g.Expect(sg.MemoryInUse()).To(BeEquivalentTo(512))
}

func TestBufferResizeWithinCapacity(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{Memory: nonCoherent, InstanceCount: 8, InstanceSize: 16})
	g.Expect(err).NotTo(HaveOccurred())
	old := b.DriverBuffer()

	g.Expect(b.Resize(2, 16)).To(Succeed())
	g.Expect(b.Size()).To(BeEquivalentTo(32))
	g.Expect(b.DriverBuffer()).To(BeIdenticalTo(old))

	_, err = b.Map(64, 0)
	g.Expect(errors.Is(err, ErrInvalidMapRange)).To(BeTrue(), "logical size limits mapping")

	g.Expect(b.Resize(4, 32)).To(Succeed())
	g.Expect(b.DriverBuffer()).To(BeIdenticalTo(old))
	g.Expect(IsMisuse(b.Resize(0, 32))).To(BeTrue())
}

func TestBufferResizeKeepsOldAllocationForPendingWork(t *testing.T) {
	g := NewWithT(t)
	dev, sg, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{InstanceCount: 1, InstanceSize: 256})
	g.Expect(err).NotTo(HaveOccurred())
	fence, err := dev.NewFence(false)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(dev.Submit(Submission{Fence: fence, Uses: []Resource{b}})).To(Succeed())

	g.Expect(b.Resize(2, 256)).To(Succeed())
	dev.Collect()
	g.Expect(sg.MemoryInUse()).To(BeEquivalentTo(256 + 512))

	sg.CompleteAll()
	dev.Collect()
	g.Expect(sg.MemoryInUse()).To(BeEquivalentTo(512))
}

func TestBufferAllocationFailure(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true, MemoryBudget: 1024}, nil, Options{})
	defer dev.Destroy()

	_, err := dev.NewBuffer(BufferDesc{InstanceCount: 2, InstanceSize: 1024})
	g.Expect(errors.Is(err, ErrAllocationFailure)).To(BeTrue())
	g.Expect(errors.Is(err, driver.ErrNoDeviceMemory)).To(BeTrue())

	b, err := dev.NewBuffer(BufferDesc{InstanceCount: 4, InstanceSize: 128})
	g.Expect(err).NotTo(HaveOccurred())

	err = b.Resize(4, 512)
	g.Expect(errors.Is(err, ErrAllocationFailure)).To(BeTrue())
	g.Expect(b.Size()).To(BeEquivalentTo(512), "a failed resize keeps the buffer")
}

func TestBufferIndexHelpers(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	b, err := dev.NewBuffer(BufferDesc{
		Usage:         driver.UsageUniform,
		Memory:        nonCoherent,
		InstanceCount: 3,
		InstanceSize:  100,
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b.IndexOffset(2)).To(BeEquivalentTo(512))

	_, err = b.Map(WholeSize, 0)
	g.Expect(err).NotTo(HaveOccurred())

	payload := bytes.Repeat([]byte{7}, 100)
	g.Expect(b.WriteToIndex(payload, 1)).To(Succeed())
	g.Expect(b.FlushIndex(1)).To(Succeed())
	g.Expect(soft.DeviceBytes(b.DriverBuffer())[256:356]).To(Equal(payload))

	g.Expect(errors.Is(b.WriteToIndex(make([]byte, 300), 0), ErrInvalidMapRange)).To(BeTrue())
	g.Expect(errors.Is(b.WriteToIndex(payload, 3), ErrInvalidMapRange)).To(BeTrue())

	info, err := b.Descriptor(WholeSize, 256)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Offset).To(BeEquivalentTo(256))
	g.Expect(info.Range).To(BeEquivalentTo(512))

	info, err = b.DescriptorForIndex(2)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Offset).To(BeEquivalentTo(512))
	g.Expect(info.Range).To(BeEquivalentTo(256))
	g.Expect(info.Buffer).To(BeIdenticalTo(b.DriverBuffer()))
}
