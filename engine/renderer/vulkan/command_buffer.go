package vulkan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// Workgroup size of the trace compute shader.
const traceWorkgroupSize = 8

type commandBuffer struct {
	handle  vk.CommandBuffer
	backend *Backend
}

func (cb *commandBuffer) Begin() error {
	if res := vk.ResetCommandBuffer(cb.handle, 0); res != vk.Success {
		err := fmt.Errorf("vkResetCommandBuffer failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(cb.handle, &beginInfo); res != vk.Success {
		err := fmt.Errorf("vkBeginCommandBuffer failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (cb *commandBuffer) End() error {
	if res := vk.EndCommandBuffer(cb.handle); res != vk.Success {
		err := fmt.Errorf("vkEndCommandBuffer failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (cb *commandBuffer) ResetQueryPool(pool device.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(cb.handle, pool.(vk.QueryPool), first, count)
}

func (cb *commandBuffer) WriteTimestamp(pool device.QueryPool, index uint32) {
	vk.CmdWriteTimestamp(cb.handle, vk.PipelineStageBottomOfPipeBit, pool.(vk.QueryPool), index)
}

func accessToVulkan(access device.AccessFlags) vk.AccessFlags {
	var flags vk.AccessFlags
	if access&device.AccessTransferRead != 0 {
		flags |= vk.AccessFlags(vk.AccessTransferReadBit)
	}
	if access&device.AccessTransferWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	if access&device.AccessShaderRead != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderReadBit)
	}
	if access&device.AccessShaderWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderWriteBit)
	}
	if access&device.AccessMemoryRead != 0 {
		flags |= vk.AccessFlags(vk.AccessMemoryReadBit)
	}
	return flags
}

func stageToVulkan(stage device.StageFlags) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlags
	if stage&device.StageTopOfPipe != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	if stage&device.StageTransfer != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if stage&device.StageShader != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit | vk.PipelineStageFragmentShaderBit)
	}
	if stage&device.StageBottomOfPipe != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	if flags == 0 {
		flags = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return flags
}

// Barrier records one pipeline barrier covering all requested transitions.
// Transitions sharing stage masks are batched into a single call.
func (cb *commandBuffer) Barrier(transitions ...device.ImageTransition) error {
	if len(transitions) == 0 {
		return nil
	}

	var srcStage, dstStage vk.PipelineStageFlags
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(transitions))
	for _, transition := range transitions {
		barrier, err := device.Transition(transition.From, transition.To)
		if err != nil {
			return err
		}

		srcStage |= stageToVulkan(barrier.SrcStage)
		dstStage |= stageToVulkan(barrier.DstStage)

		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       accessToVulkan(barrier.SrcAccess),
			DstAccessMask:       accessToVulkan(barrier.DstAccess),
			OldLayout:           imageLayout(barrier.From),
			NewLayout:           imageLayout(barrier.To),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               transition.Image.(*image).handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		})
	}

	vk.CmdPipelineBarrier(
		cb.handle,
		srcStage,
		dstStage,
		0,
		0, nil,
		0, nil,
		uint32(len(imageBarriers)), imageBarriers)
	return nil
}

func (cb *commandBuffer) ClearColorImage(img device.Image, state device.ImageState) {
	var color vk.ClearColorValue
	subresource := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	vk.CmdClearColorImage(
		cb.handle,
		img.(*image).handle,
		imageLayout(state),
		&color,
		1,
		[]vk.ImageSubresourceRange{subresource})
}

func (cb *commandBuffer) BindTracePipeline(pl device.Pipeline, sets ...device.DescriptorSet) {
	p := pl.(*pipeline)
	vk.CmdBindPipeline(cb.handle, p.bindPoint, p.handle)

	handles := make([]vk.DescriptorSet, len(sets))
	for i, set := range sets {
		handles[i] = set.(*descriptorSet).handle
	}
	vk.CmdBindDescriptorSets(cb.handle, p.bindPoint, p.layout, 0, uint32(len(handles)), handles, 0, nil)
}

func (cb *commandBuffer) PushConstants(pl device.Pipeline, data interface{}) {
	var packed bytes.Buffer
	if err := binary.Write(&packed, binary.LittleEndian, data); err != nil {
		core.LogError("failed to pack push constants: %s", err.Error())
		return
	}
	if packed.Len() > maxPushConstantSize {
		core.LogError("push constant block of %d bytes exceeds the %d byte limit", packed.Len(), maxPushConstantSize)
		return
	}

	p := pl.(*pipeline)
	stage := vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	if p.bindPoint == vk.PipelineBindPointGraphics {
		stage = vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit)
	}
	vk.CmdPushConstants(cb.handle, p.layout, stage, 0, uint32(packed.Len()), unsafe.Pointer(&packed.Bytes()[0]))
}

func (cb *commandBuffer) TraceRays(width, height uint32) {
	groupsX := (width + traceWorkgroupSize - 1) / traceWorkgroupSize
	groupsY := (height + traceWorkgroupSize - 1) / traceWorkgroupSize
	vk.CmdDispatch(cb.handle, groupsX, groupsY, 1)
}

func (cb *commandBuffer) BeginDisplayPass(pass device.RenderPass, framebuffer device.Framebuffer, extent device.Extent) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.(vk.RenderPass),
		Framebuffer: framebuffer.(vk.Framebuffer),
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{
				Width:  extent.Width,
				Height: extent.Height,
			},
		},
	}
	vk.CmdBeginRenderPass(cb.handle, &beginInfo, vk.SubpassContentsInline)

	viewport := vk.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Extent: vk.Extent2D{
			Width:  extent.Width,
			Height: extent.Height,
		},
	}
	vk.CmdSetViewport(cb.handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cb.handle, 0, 1, []vk.Rect2D{scissor})
}

func (cb *commandBuffer) BindDisplayPipeline(pl device.Pipeline, set device.DescriptorSet) {
	p := pl.(*pipeline)
	vk.CmdBindPipeline(cb.handle, p.bindPoint, p.handle)
	vk.CmdBindDescriptorSets(cb.handle, p.bindPoint, p.layout, 0, 1,
		[]vk.DescriptorSet{set.(*descriptorSet).handle}, 0, nil)
}

func (cb *commandBuffer) Draw(vertexCount, instanceCount uint32) {
	vk.CmdDraw(cb.handle, vertexCount, instanceCount, 0, 0)
}

func (cb *commandBuffer) EndDisplayPass() {
	vk.CmdEndRenderPass(cb.handle)
}

func (cb *commandBuffer) CopyImageToBuffer(img device.Image, state device.ImageState, buf device.Buffer, extent device.Extent) {
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
	}
	vk.CmdCopyImageToBuffer(
		cb.handle,
		img.(*image).handle,
		imageLayout(state),
		buf.(*buffer).handle,
		1,
		[]vk.BufferImageCopy{region})
}
