package vulkan

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// Push constant space guaranteed by the Vulkan spec.
const maxPushConstantSize = 128

type pipeline struct {
	handle    vk.Pipeline
	layout    vk.PipelineLayout
	bindPoint vk.PipelineBindPoint
}

func (b *Backend) loadShaderModule(name string) (vk.ShaderModule, error) {
	path := filepath.Join(b.shaderDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		core.LogError("unable to read shader module: %s", path)
		return vk.NullShaderModule, err
	}
	if len(data)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("shader module %s is not valid SPIR-V", path)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(data)),
		PCode:    sliceUint32(data),
	}

	var module vk.ShaderModule
	if res := vk.CreateShaderModule(b.logicalDevice, &createInfo, b.allocator, &module); res != vk.Success {
		err := fmt.Errorf("vkCreateShaderModule failed for %s: %s", path, VulkanResultString(res, true))
		core.LogError(err.Error())
		return vk.NullShaderModule, err
	}
	return module, nil
}

// CreateDisplayPipeline builds the graphics pipeline that samples the
// accumulation buffer and draws it as a fullscreen triangle.
func (b *Backend) CreateDisplayPipeline(pass device.RenderPass, sampler device.Sampler) (device.Pipeline, error) {
	b.displaySampler = sampler.(vk.Sampler)

	vertModule, err := b.loadShaderModule("display.vert.spv")
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(b.logicalDevice, vertModule, b.allocator)

	fragModule, err := b.loadShaderModule("display.frag.spv")
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(b.logicalDevice, fragModule, b.allocator)

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertModule,
			PName:  VulkanSafeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fragModule,
			PName:  VulkanSafeString("main"),
		},
	}

	// The triangle is generated in the vertex shader; no vertex input.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{b.displaySetLayout},
	}

	p := &pipeline{bindPoint: vk.PipelineBindPointGraphics}
	if res := vk.CreatePipelineLayout(b.logicalDevice, &layoutCreateInfo, b.allocator, &p.layout); res != vk.Success {
		err := fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              p.layout,
		RenderPass:          pass.(vk.RenderPass),
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	result := vk.CreateGraphicsPipelines(
		b.logicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
		b.allocator,
		pipelines)
	if !VulkanResultIsSuccess(result) {
		err := fmt.Errorf("vkCreateGraphicsPipelines failed with %s", VulkanResultString(result, true))
		core.LogError(err.Error())
		return nil, err
	}
	p.handle = pipelines[0]

	core.LogDebug("Display pipeline created!")
	return p, nil
}

// CreateTracePipeline builds the compute pipeline that runs the path trace
// dispatch against the scene buffers.
func (b *Backend) CreateTracePipeline(sampler device.Sampler) (device.Pipeline, error) {
	module, err := b.loadShaderModule("trace.comp.spv")
	if err != nil {
		return nil, err
	}
	defer vk.DestroyShaderModule(b.logicalDevice, module, b.allocator)

	pushConstantRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		Offset:     0,
		Size:       maxPushConstantSize,
	}

	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{b.renderSetLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushConstantRange},
	}

	p := &pipeline{bindPoint: vk.PipelineBindPointCompute}
	if res := vk.CreatePipelineLayout(b.logicalDevice, &layoutCreateInfo, b.allocator, &p.layout); res != vk.Success {
		err := fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: module,
			PName:  VulkanSafeString("main"),
		},
		Layout:             p.layout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	result := vk.CreateComputePipelines(
		b.logicalDevice,
		vk.NullPipelineCache,
		1,
		[]vk.ComputePipelineCreateInfo{pipelineCreateInfo},
		b.allocator,
		pipelines)
	if !VulkanResultIsSuccess(result) {
		err := fmt.Errorf("vkCreateComputePipelines failed with %s", VulkanResultString(result, true))
		core.LogError(err.Error())
		return nil, err
	}
	p.handle = pipelines[0]

	core.LogDebug("Trace pipeline created!")
	return p, nil
}

func (b *Backend) DestroyPipeline(pl device.Pipeline) {
	p := pl.(*pipeline)
	if p.handle != vk.NullPipeline {
		vk.DestroyPipeline(b.logicalDevice, p.handle, b.allocator)
		p.handle = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(b.logicalDevice, p.layout, b.allocator)
		p.layout = vk.NullPipelineLayout
	}
}

func sliceUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}
