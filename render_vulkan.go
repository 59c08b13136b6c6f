package main

import (
	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/vulkan"
	"github.com/ironsmile/vkframe/gpu"
	"github.com/ironsmile/vkframe/unsafer"
	vk "github.com/vulkan-go/vulkan"
)

// stateAccess describes how an image in a given state is accessed.
type stateAccess struct {
	layout vk.ImageLayout
	access vk.AccessFlagBits
	stage  vk.PipelineStageFlagBits
}

var imageStates = map[gpu.ImageState]stateAccess{
	// Leaving the undefined state chains with the acquire semaphore, which
	// is waited on at the color attachment output stage.
	gpu.StateUndefined:       {vk.ImageLayoutUndefined, 0, vk.PipelineStageColorAttachmentOutputBit},
	gpu.StateColorAttachment: {vk.ImageLayoutColorAttachmentOptimal, vk.AccessColorAttachmentWriteBit, vk.PipelineStageColorAttachmentOutputBit},
	gpu.StateDepthAttachment: {vk.ImageLayoutDepthStencilAttachmentOptimal, vk.AccessDepthStencilAttachmentWriteBit, vk.PipelineStageEarlyFragmentTestsBit},
	gpu.StateShaderRead:      {vk.ImageLayoutShaderReadOnlyOptimal, vk.AccessShaderReadBit, vk.PipelineStageFragmentShaderBit},
	gpu.StateShaderWrite:     {vk.ImageLayoutGeneral, vk.AccessShaderWriteBit, vk.PipelineStageComputeShaderBit},
	gpu.StateTransferSrc:     {vk.ImageLayoutTransferSrcOptimal, vk.AccessTransferReadBit, vk.PipelineStageTransferBit},
	gpu.StateTransferDst:     {vk.ImageLayoutTransferDstOptimal, vk.AccessTransferWriteBit, vk.PipelineStageTransferBit},
	gpu.StatePresent:         {vk.ImageLayoutPresentSrc, 0, vk.PipelineStageBottomOfPipeBit},
}

// vulkanRenderer clears the swapchain image to a color. Each frame slot has
// its own command buffer, re-recorded every time the slot comes around.
type vulkanRenderer struct {
	g     *vulkan.GPU
	cmds  []vulkan.CommandBuffer
	color vk.ClearColorValue
}

func newVulkanRenderer(g *vulkan.GPU, color [4]float32) (*vulkanRenderer, error) {
	cmds, err := g.AllocateCommandBuffers(gpu.MaxFramesInFlight)
	if err != nil {
		return nil, err
	}

	r := &vulkanRenderer{g: g, cmds: cmds}
	copy(r.color[:], unsafer.SliceToBytes(color[:]))
	return r, nil
}

func (r *vulkanRenderer) Record(slot int, img *gpu.Image) ([]driver.CmdBuffer, error) {
	handle, _, ok := vulkan.ImageHandle(img.DriverImage())
	if !ok {
		return nil, errors.AssertionFailedf("image %T does not belong to the vulkan driver", img.DriverImage())
	}

	commandBuffer := r.cmds[slot]
	vk.ResetCommandBuffer(commandBuffer, 0)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(commandBuffer, &beginInfo)); err != nil {
		return nil, errors.Wrap(err, "cannot add begin command to the buffer")
	}

	err := r.barrier(commandBuffer, handle, gpu.ImageBarrier{
		Image:    img,
		OldState: gpu.StateUndefined,
		NewState: gpu.StateTransferDst,
	})
	if err != nil {
		return nil, err
	}

	vk.CmdClearColorImage(
		commandBuffer,
		handle,
		vk.ImageLayoutTransferDstOptimal,
		&r.color,
		1,
		[]vk.ImageSubresourceRange{colorRange()},
	)

	err = r.barrier(commandBuffer, handle, gpu.ImageBarrier{
		Image:    img,
		OldState: gpu.StateTransferDst,
		NewState: gpu.StatePresent,
	})
	if err != nil {
		return nil, err
	}

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return nil, errors.Wrap(err, "recording commands to buffer failed")
	}
	return []driver.CmdBuffer{commandBuffer}, nil
}

// barrier records the layout transition described by b.
func (r *vulkanRenderer) barrier(commandBuffer vk.CommandBuffer, image vk.Image, b gpu.ImageBarrier) error {
	src, ok := imageStates[b.OldState]
	if !ok {
		return errors.Newf("unsupported image state %s", b.OldState)
	}
	dst, ok := imageStates[b.NewState]
	if !ok {
		return errors.Newf("unsupported image state %s", b.NewState)
	}

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           src.layout,
		NewLayout:           dst.layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange:    colorRange(),
		SrcAccessMask:       vk.AccessFlags(src.access),
		DstAccessMask:       vk.AccessFlags(dst.access),
	}

	vk.CmdPipelineBarrier(
		commandBuffer,
		vk.PipelineStageFlags(src.stage), vk.PipelineStageFlags(dst.stage),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier},
	)
	return nil
}

func colorRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (r *vulkanRenderer) Destroy() {
	r.g.FreeCommandBuffers(r.cmds)
	r.cmds = nil
}
