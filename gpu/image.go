package gpu

import (
	"sync/atomic"

	"github.com/ironsmile/vkframe/driver"
)

// ImageDesc describes an image. Extents which do not apply to Type are
// ignored: 1D images have a height and depth of 1, 2D images a depth of 1.
// Zero Layers, Levels and Samples mean 1 and a zero Aspect is derived from
// Format.
type ImageDesc = driver.ImageDesc

// Image is a GPU image. Images which belong to a swapchain are not owned by
// the caller and destroying them does nothing.
type Image struct {
	dev  *Device
	img  driver.Image
	desc driver.ImageDesc

	owned     bool
	released  bool
	destroyed atomic.Bool
}

// NormalizeImageDesc applies the defaults of ImageDesc and clamps the extents
// to the dimensionality of the image.
func NormalizeImageDesc(desc ImageDesc) ImageDesc {
	switch desc.Type {
	case driver.Image1D:
		desc.Height, desc.Depth = 1, 1
	case driver.Image2D:
		desc.Depth = 1
	}
	if desc.Layers <= 0 {
		desc.Layers = 1
	}
	if desc.Levels <= 0 {
		desc.Levels = 1
	}
	if desc.Samples <= 0 {
		desc.Samples = 1
	}
	if desc.Aspect == 0 {
		desc.Aspect = desc.Format.Aspect()
	}
	return desc
}

// NewImage creates an image with memory bound to it.
func (d *Device) NewImage(desc ImageDesc) (*Image, error) {
	desc = NormalizeImageDesc(desc)
	switch {
	case desc.Type < driver.Image1D || desc.Type > driver.Image3D:
		return nil, d.misuse("invalid image type %d", desc.Type)
	case desc.Format == driver.FormatUndefined:
		return nil, d.misuse("image format is undefined")
	case desc.Width <= 0 || desc.Height <= 0 || desc.Depth <= 0:
		return nil, d.misuse("invalid %s image extent %dx%dx%d",
			desc.Type, desc.Width, desc.Height, desc.Depth)
	case desc.Samples&(desc.Samples-1) != 0:
		return nil, d.misuse("sample count %d is not a power of two", desc.Samples)
	}

	img, err := d.gpu.NewImage(desc)
	if err != nil {
		return nil, classify(err, "creating image")
	}
	i := &Image{dev: d, img: img, desc: desc, owned: true}
	d.images[i] = struct{}{}
	return i, nil
}

// wrapImage returns a non-owning Image for a presentable image.
func (d *Device) wrapImage(img driver.Image, desc ImageDesc) *Image {
	return &Image{dev: d, img: img, desc: NormalizeImageDesc(desc)}
}

// Type returns the dimensionality of the image.
func (i *Image) Type() driver.ImageType { return i.desc.Type }

// Width returns the width in texels.
func (i *Image) Width() int { return i.desc.Width }

// Height returns the height in texels. It is 1 for 1D images.
func (i *Image) Height() int { return i.desc.Height }

// Depth returns the depth in texels. It is 1 for 1D and 2D images.
func (i *Image) Depth() int { return i.desc.Depth }

// Format returns the pixel format.
func (i *Image) Format() driver.Format { return i.desc.Format }

// Samples returns the sample count.
func (i *Image) Samples() int { return i.desc.Samples }

// Aspect returns the aspects of the image.
func (i *Image) Aspect() driver.Aspect { return i.desc.Aspect }

// Desc returns the normalized description of the image.
func (i *Image) Desc() ImageDesc { return i.desc }

// Owned reports whether the image belongs to the caller rather than to a
// swapchain.
func (i *Image) Owned() bool { return i.owned }

// DriverImage returns the driver object behind the image.
func (i *Image) DriverImage() driver.Image { return i.img }

// Destroy schedules the release of the image once the work using it has
// completed. It does nothing for swapchain images.
func (i *Image) Destroy() {
	if !i.owned || i.destroyed.Swap(true) {
		return
	}
	i.dev.retire(i)
}

func (i *Image) release() {
	if !i.owned || i.released {
		return
	}
	i.img.Destroy()
	i.released = true
	delete(i.dev.images, i)
}

// ImageState is the use an image is prepared for.
type ImageState int

// Image states.
const (
	StateUndefined ImageState = iota
	StateColorAttachment
	StateDepthAttachment
	StateShaderRead
	StateShaderWrite
	StateTransferSrc
	StateTransferDst
	StatePresent
)

var imageStateNames = [...]string{
	StateUndefined:       "undefined",
	StateColorAttachment: "color_attachment",
	StateDepthAttachment: "depth_attachment",
	StateShaderRead:      "shader_read",
	StateShaderWrite:     "shader_write",
	StateTransferSrc:     "transfer_src",
	StateTransferDst:     "transfer_dst",
	StatePresent:         "present",
}

func (s ImageState) String() string {
	if s < 0 || int(s) >= len(imageStateNames) {
		return "invalid"
	}
	return imageStateNames[s]
}

// ImageBarrier describes a transition of Image from OldState to NewState.
// Recording the transition is up to the command buffer layer.
type ImageBarrier struct {
	Image    *Image
	OldState ImageState
	NewState ImageState
}
