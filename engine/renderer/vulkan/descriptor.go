package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// descriptorSet pairs a Vulkan set handle with the layout it was allocated
// against, so writes can resolve binding points.
type descriptorSet struct {
	handle vk.DescriptorSet
	render bool
}

func (b *Backend) createSetLayouts() error {
	displayBindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}
	displayCreateInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(displayBindings)),
		PBindings:    displayBindings,
	}
	if res := vk.CreateDescriptorSetLayout(b.logicalDevice, &displayCreateInfo, b.allocator, &b.displaySetLayout); res != vk.Success {
		err := fmt.Errorf("failed to create display set layout: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}

	renderBindings := make([]vk.DescriptorSetLayoutBinding, 0, 7)
	for binding := uint32(0); binding < 2; binding++ {
		renderBindings = append(renderBindings, vk.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		})
	}
	for binding := uint32(2); binding < 7; binding++ {
		renderBindings = append(renderBindings, vk.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		})
	}
	renderCreateInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(renderBindings)),
		PBindings:    renderBindings,
	}
	if res := vk.CreateDescriptorSetLayout(b.logicalDevice, &renderCreateInfo, b.allocator, &b.renderSetLayout); res != vk.Success {
		err := fmt.Errorf("failed to create render set layout: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}

	return nil
}

func (b *Backend) CreateDescriptorPool(capacity uint32) (device.DescriptorPool, error) {
	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: capacity},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: capacity},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: capacity},
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       capacity,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var pool vk.DescriptorPool
	if res := vk.CreateDescriptorPool(b.logicalDevice, &createInfo, b.allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create descriptor pool: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return pool, nil
}

func (b *Backend) DestroyDescriptorPool(pool device.DescriptorPool) {
	vk.DestroyDescriptorPool(b.logicalDevice, pool.(vk.DescriptorPool), b.allocator)
}

// AllocateDescriptorSets returns count pairs of sets: a display-facing set
// at even indices and a render-facing set at odd indices.
func (b *Backend) AllocateDescriptorSets(pool device.DescriptorPool, count int) ([]device.DescriptorSet, error) {
	layouts := make([]vk.DescriptorSetLayout, 0, count*2)
	for i := 0; i < count; i++ {
		layouts = append(layouts, b.displaySetLayout, b.renderSetLayout)
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.(vk.DescriptorPool),
		DescriptorSetCount: uint32(len(layouts)),
		PSetLayouts:        layouts,
	}

	handles := make([]vk.DescriptorSet, len(layouts))
	if res := vk.AllocateDescriptorSets(b.logicalDevice, &allocateInfo, &handles[0]); res != vk.Success {
		err := fmt.Errorf("failed to allocate descriptor sets: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	sets := make([]device.DescriptorSet, len(handles))
	for i, handle := range handles {
		sets[i] = &descriptorSet{handle: handle, render: i%2 == 1}
	}
	return sets, nil
}

func bindingSlot(binding device.BindingPoint) (uint32, vk.DescriptorType) {
	switch binding {
	case device.BindingDisplayBuffer:
		return 0, vk.DescriptorTypeCombinedImageSampler
	case device.BindingRenderBuffer:
		return 0, vk.DescriptorTypeStorageImage
	case device.BindingPrevRenderBuffer:
		return 1, vk.DescriptorTypeStorageImage
	case device.BindingTLAS:
		return 2, vk.DescriptorTypeStorageBuffer
	case device.BindingInstances:
		return 3, vk.DescriptorTypeStorageBuffer
	case device.BindingMaterials:
		return 4, vk.DescriptorTypeStorageBuffer
	case device.BindingEmitters:
		return 5, vk.DescriptorTypeStorageBuffer
	case device.BindingTextures:
		return 6, vk.DescriptorTypeStorageBuffer
	}
	return 0, vk.DescriptorTypeStorageBuffer
}

func (b *Backend) WriteDescriptors(writes []device.DescriptorWrite) {
	if len(writes) == 0 {
		return
	}

	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, write := range writes {
		set := write.Set.(*descriptorSet)
		slot, descriptorType := bindingSlot(write.Binding)

		vkWrite := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.handle,
			DstBinding:      slot,
			DescriptorCount: 1,
			DescriptorType:  descriptorType,
		}

		switch descriptorType {
		case vk.DescriptorTypeStorageBuffer:
			if write.Buffer == nil {
				continue
			}
			vkWrite.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: write.Buffer.(*buffer).handle,
				Offset: 0,
				Range:  vk.DeviceSize(write.Buffer.Size()),
			}}
		default:
			if write.Image == nil {
				continue
			}
			imageInfo := vk.DescriptorImageInfo{
				ImageView:   write.Image.(*image).view,
				ImageLayout: imageLayout(write.ImageState),
			}
			if descriptorType == vk.DescriptorTypeCombinedImageSampler {
				imageInfo.Sampler = b.displaySampler
			}
			vkWrite.PImageInfo = []vk.DescriptorImageInfo{imageInfo}
		}

		vkWrites = append(vkWrites, vkWrite)
	}

	if len(vkWrites) > 0 {
		vk.UpdateDescriptorSets(b.logicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
	}
}

func imageLayout(state device.ImageState) vk.ImageLayout {
	switch state {
	case device.ImageStateCopySource:
		return vk.ImageLayoutTransferSrcOptimal
	case device.ImageStateCopyDest:
		return vk.ImageLayoutTransferDstOptimal
	case device.ImageStateShaderRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case device.ImageStateShaderReadWrite:
		return vk.ImageLayoutGeneral
	case device.ImageStatePresentSource:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}
