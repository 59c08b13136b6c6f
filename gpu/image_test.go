package gpu

import (
	"testing"

	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	. "github.com/onsi/gomega"
)

func TestImageExtentsFollowType(t *testing.T) {
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	tests := []struct {
		name    string
		typ     driver.ImageType
		w, h, d int
		want    [3]int
	}{
		{"1D ignores height and depth", driver.Image1D, 64, 5, 7, [3]int{64, 1, 1}},
		{"2D ignores depth", driver.Image2D, 64, 32, 9, [3]int{64, 32, 1}},
		{"2D with zero depth", driver.Image2D, 16, 16, 0, [3]int{16, 16, 1}},
		{"3D keeps all extents", driver.Image3D, 8, 4, 2, [3]int{8, 4, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)

			img, err := dev.NewImage(ImageDesc{
				Type:   tt.typ,
				Format: driver.FormatRGBA8Unorm,
				Width:  tt.w,
				Height: tt.h,
				Depth:  tt.d,
			})
			g.Expect(err).NotTo(HaveOccurred())
			defer img.Destroy()

			g.Expect(img.Type()).To(Equal(tt.typ))
			g.Expect([3]int{img.Width(), img.Height(), img.Depth()}).To(Equal(tt.want))

			// The driver receives the normalized extents too.
			desc, ok := soft.Desc(img.DriverImage())
			g.Expect(ok).To(BeTrue())
			g.Expect([3]int{desc.Width, desc.Height, desc.Depth}).To(Equal(tt.want))
		})
	}
}

func TestImageDefaults(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	depth, err := dev.NewImage(ImageDesc{
		Type:   driver.Image2D,
		Format: driver.FormatD24UnormS8Uint,
		Width:  800,
		Height: 600,
		Usage:  driver.ImageDepthTarget,
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(depth.Aspect()).To(Equal(driver.AspectDepth | driver.AspectStencil))
	g.Expect(depth.Samples()).To(Equal(1))
	g.Expect(depth.Desc().Layers).To(Equal(1))
	g.Expect(depth.Desc().Levels).To(Equal(1))
	g.Expect(depth.Owned()).To(BeTrue())

	msaa, err := dev.NewImage(ImageDesc{
		Type:    driver.Image2D,
		Format:  driver.FormatBGRA8SRGB,
		Width:   800,
		Height:  600,
		Samples: 4,
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(msaa.Samples()).To(Equal(4))
	g.Expect(msaa.Aspect()).To(Equal(driver.AspectColor))
	g.Expect(msaa.Format()).To(Equal(driver.FormatBGRA8SRGB))
}

func TestImageRejectsBadDescriptions(t *testing.T) {
	g := NewWithT(t)
	dev, _, _ := openTestDevice(soft.Options{Manual: true}, nil, Options{})
	defer dev.Destroy()

	for _, desc := range []ImageDesc{
		{Type: driver.Image2D, Width: 4, Height: 4},
		{Type: driver.Image2D, Format: driver.FormatR32Float, Width: 0, Height: 4},
		{Type: driver.Image3D, Format: driver.FormatR32Float, Width: 4, Height: 4, Depth: -1},
		{Type: driver.Image2D, Format: driver.FormatR32Float, Width: 4, Height: 4, Samples: 3},
		{Type: driver.ImageType(7), Format: driver.FormatR32Float, Width: 4},
	} {
		_, err := dev.NewImage(desc)
		g.Expect(IsMisuse(err)).To(BeTrue(), "%+v", desc)
	}
}

func TestSwapChainImagesAreNotOwned(t *testing.T) {
	g := NewWithT(t)
	win := soft.NewWindow(320, 200)
	dev, sg, _ := openTestDevice(soft.Options{}, win, Options{})
	defer dev.Destroy()

	sc, err := dev.NewSwapChain(SwapChainDesc{Width: 320, Height: 200})
	g.Expect(err).NotTo(HaveOccurred())
	defer sc.Destroy()

	inUse := sg.MemoryInUse()
	for _, img := range sc.Images() {
		g.Expect(img.Owned()).To(BeFalse())
		g.Expect(img.Width()).To(Equal(320))
		g.Expect(img.Height()).To(Equal(200))
		g.Expect(img.Depth()).To(Equal(1))
		img.Destroy()
	}
	dev.Collect()
	g.Expect(dev.PendingRequests()).To(BeZero())
	g.Expect(sg.MemoryInUse()).To(Equal(inUse))
}

func TestImageBarrierCarriesStates(t *testing.T) {
	g := NewWithT(t)

	b := ImageBarrier{OldState: StateUndefined, NewState: StateColorAttachment}
	g.Expect(b.Image).To(BeNil())
	g.Expect(b.OldState.String()).To(Equal("undefined"))
	g.Expect(b.NewState.String()).To(Equal("color_attachment"))
	g.Expect(StatePresent.String()).To(Equal("present"))
	g.Expect(ImageState(42).String()).To(Equal("invalid"))
}
