package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

type image struct {
	handle vk.Image
	view   vk.ImageView
	memory vk.DeviceMemory
	extent device.Extent
	format device.Format
	// Swapchain images are owned by the swapchain, not by us.
	owned bool
}

func (i *image) Extent() device.Extent {
	return i.extent
}

func (i *image) Format() device.Format {
	return i.format
}

func formatToVulkan(format device.Format) vk.Format {
	switch format {
	case device.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case device.FormatRGBA8Srgb:
		return vk.FormatR8g8b8a8Srgb
	case device.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case device.FormatBGRA8Srgb:
		return vk.FormatB8g8r8a8Srgb
	case device.FormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	}
	return vk.FormatUndefined
}

func formatFromVulkan(format vk.Format) device.Format {
	switch format {
	case vk.FormatR8g8b8a8Unorm:
		return device.FormatRGBA8Unorm
	case vk.FormatR8g8b8a8Srgb:
		return device.FormatRGBA8Srgb
	case vk.FormatB8g8r8a8Unorm:
		return device.FormatBGRA8Unorm
	case vk.FormatB8g8r8a8Srgb:
		return device.FormatBGRA8Srgb
	case vk.FormatR32g32b32a32Sfloat:
		return device.FormatRGBA32Float
	}
	return device.FormatUnknown
}

func (b *Backend) CreateImage(info device.ImageInfo) (device.Image, error) {
	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	if info.Storage {
		usage |= vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    formatToVulkan(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	img := &image{
		extent: info.Extent,
		format: info.Format,
		owned:  true,
	}
	if res := vk.CreateImage(b.logicalDevice, &createInfo, b.allocator, &img.handle); res != vk.Success {
		err := fmt.Errorf("failed to create image: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(b.logicalDevice, img.handle, &requirements)
	requirements.Deref()

	memoryType, err := b.findMemoryType(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(b.logicalDevice, img.handle, b.allocator)
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}
	if res := vk.AllocateMemory(b.logicalDevice, &allocateInfo, b.allocator, &img.memory); res != vk.Success {
		vk.DestroyImage(b.logicalDevice, img.handle, b.allocator)
		err := fmt.Errorf("failed to allocate image memory: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	if res := vk.BindImageMemory(b.logicalDevice, img.handle, img.memory, 0); res != vk.Success {
		err := fmt.Errorf("failed to bind image memory: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	view, err := b.createImageView(img.handle, formatToVulkan(info.Format))
	if err != nil {
		return nil, err
	}
	img.view = view

	return img, nil
}

func (b *Backend) createImageView(handle vk.Image, format vk.Format) (vk.ImageView, error) {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var view vk.ImageView
	if res := vk.CreateImageView(b.logicalDevice, &viewCreateInfo, b.allocator, &view); res != vk.Success {
		err := fmt.Errorf("failed to create image view: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return vk.NullImageView, err
	}
	return view, nil
}

func (b *Backend) DestroyImage(img device.Image) {
	i := img.(*image)
	if i.view != vk.NullImageView {
		vk.DestroyImageView(b.logicalDevice, i.view, b.allocator)
		i.view = vk.NullImageView
	}
	if !i.owned {
		return
	}
	if i.handle != vk.NullImage {
		vk.DestroyImage(b.logicalDevice, i.handle, b.allocator)
		i.handle = vk.NullImage
	}
	if i.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.logicalDevice, i.memory, b.allocator)
		i.memory = vk.NullDeviceMemory
	}
}

type buffer struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
	mapped []byte
}

func (bf *buffer) Size() uint64 {
	return bf.size
}

func (bf *buffer) Bytes() []byte {
	return bf.mapped
}

func (bf *buffer) HostAccessible() bool {
	return bf.mapped != nil
}

func (b *Backend) CreateBuffer(info device.BufferInfo) (device.Buffer, error) {
	usage := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferDstBit)
	if info.Usage == device.BufferUsageStaging {
		usage = vk.BufferUsageFlags(vk.BufferUsageTransferDstBit | vk.BufferUsageTransferSrcBit)
	}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	bf := &buffer{size: info.Size}
	if res := vk.CreateBuffer(b.logicalDevice, &createInfo, b.allocator, &bf.handle); res != vk.Success {
		err := fmt.Errorf("failed to create buffer: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.logicalDevice, bf.handle, &requirements)
	requirements.Deref()

	// Scene buffers are written from the CPU every update; keep them host
	// visible and coherent.
	memoryType, err := b.findMemoryType(requirements.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		vk.DestroyBuffer(b.logicalDevice, bf.handle, b.allocator)
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}
	if res := vk.AllocateMemory(b.logicalDevice, &allocateInfo, b.allocator, &bf.memory); res != vk.Success {
		vk.DestroyBuffer(b.logicalDevice, bf.handle, b.allocator)
		err := fmt.Errorf("failed to allocate buffer memory: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	if res := vk.BindBufferMemory(b.logicalDevice, bf.handle, bf.memory, 0); res != vk.Success {
		err := fmt.Errorf("failed to bind buffer memory: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	var ptr unsafe.Pointer
	if res := vk.MapMemory(b.logicalDevice, bf.memory, 0, vk.DeviceSize(info.Size), 0, &ptr); res != vk.Success {
		err := fmt.Errorf("failed to map buffer memory: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	bf.mapped = unsafe.Slice((*byte)(ptr), info.Size)

	return bf, nil
}

func (b *Backend) DestroyBuffer(buf device.Buffer) {
	bf := buf.(*buffer)
	if bf.mapped != nil {
		vk.UnmapMemory(b.logicalDevice, bf.memory)
		bf.mapped = nil
	}
	if bf.handle != vk.NullBuffer {
		vk.DestroyBuffer(b.logicalDevice, bf.handle, b.allocator)
		bf.handle = vk.NullBuffer
	}
	if bf.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.logicalDevice, bf.memory, b.allocator)
		bf.memory = vk.NullDeviceMemory
	}
}

func (b *Backend) CreateSampler(filter device.Filter) (device.Sampler, error) {
	vkFilter := vk.FilterNearest
	if filter == device.FilterLinear {
		vkFilter = vk.FilterLinear
	}

	createInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vkFilter,
		MinFilter:    vkFilter,
		MipmapMode:   vk.SamplerMipmapModeNearest,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(b.logicalDevice, &createInfo, b.allocator, &sampler); res != vk.Success {
		err := fmt.Errorf("failed to create sampler: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return sampler, nil
}

func (b *Backend) DestroySampler(sampler device.Sampler) {
	vk.DestroySampler(b.logicalDevice, sampler.(vk.Sampler), b.allocator)
}
