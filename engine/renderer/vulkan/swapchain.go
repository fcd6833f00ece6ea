package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	enginemath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

type swapchain struct {
	handle vk.Swapchain
	images []*image
	extent device.Extent
	format device.Format
}

func (sc *swapchain) Extent() device.Extent {
	return sc.extent
}

func (b *Backend) selectSurfaceFormat() (vk.SurfaceFormat, error) {
	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(b.physicalDevice, b.surface, &formatCount, nil); res != vk.Success {
		err := fmt.Errorf("failed to get surface formats: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return vk.SurfaceFormat{}, err
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	if res := vk.GetPhysicalDeviceSurfaceFormats(b.physicalDevice, b.surface, &formatCount, formats); res != vk.Success {
		err := fmt.Errorf("failed to get surface formats: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return vk.SurfaceFormat{}, err
	}

	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Unorm && formats[i].ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return formats[i], nil
		}
	}
	return formats[0], nil
}

// selectPresentMode prefers mailbox when vsync is off and FIFO when it is
// on. FIFO is the only mode Vulkan guarantees.
func (b *Backend) selectPresentMode(vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}

	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(b.physicalDevice, b.surface, &presentModeCount, nil); res != vk.Success {
		return vk.PresentModeFifo
	}
	presentModes := make([]vk.PresentMode, presentModeCount)
	if res := vk.GetPhysicalDeviceSurfacePresentModes(b.physicalDevice, b.surface, &presentModeCount, presentModes); res != vk.Success {
		return vk.PresentModeFifo
	}

	for _, mode := range presentModes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	for _, mode := range presentModes {
		if mode == vk.PresentModeImmediate {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func (b *Backend) CreateSwapchain(extent device.Extent, imageCount uint32, vsync bool, old device.Swapchain) (device.Swapchain, error) {
	surfaceFormat, err := b.selectSurfaceFormat()
	if err != nil {
		return nil, err
	}
	presentMode := b.selectPresentMode(vsync)

	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(b.physicalDevice, b.surface, &capabilities); res != vk.Success {
		err := fmt.Errorf("failed to query surface capabilities: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	capabilities.Deref()

	if capabilities.MaxImageCount > 0 {
		imageCount = enginemath.Clamp(imageCount, capabilities.MinImageCount, capabilities.MaxImageCount)
	} else {
		imageCount = enginemath.Max(imageCount, capabilities.MinImageCount)
	}

	oldHandle := vk.NullSwapchain
	if old != nil {
		oldHandle = old.(*swapchain).handle
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         b.surface,
		MinImageCount:   imageCount,
		ImageFormat:     surfaceFormat.Format,
		ImageColorSpace: surfaceFormat.ColorSpace,
		ImageExtent: vk.Extent2D{
			Width:  extent.Width,
			Height: extent.Height,
		},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		PreTransform:     capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     oldHandle,
	}

	if b.graphicsQueueIndex != b.presentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{b.graphicsQueueIndex, b.presentQueueIndex}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	sc := &swapchain{
		extent: extent,
		format: formatFromVulkan(surfaceFormat.Format),
	}
	if res := vk.CreateSwapchain(b.logicalDevice, &createInfo, b.allocator, &sc.handle); res != vk.Success {
		err := fmt.Errorf("failed to create swapchain: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	var actualCount uint32
	if res := vk.GetSwapchainImages(b.logicalDevice, sc.handle, &actualCount, nil); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	handles := make([]vk.Image, actualCount)
	if res := vk.GetSwapchainImages(b.logicalDevice, sc.handle, &actualCount, handles); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	sc.images = make([]*image, actualCount)
	for i, handle := range handles {
		view, err := b.createImageView(handle, surfaceFormat.Format)
		if err != nil {
			return nil, err
		}
		sc.images[i] = &image{
			handle: handle,
			view:   view,
			extent: extent,
			format: sc.format,
			owned:  false,
		}
	}

	core.LogDebug("Swapchain created with %d images (%dx%d).", actualCount, extent.Width, extent.Height)
	return sc, nil
}

func (b *Backend) DestroySwapchain(sc device.Swapchain) {
	chain := sc.(*swapchain)
	for _, img := range chain.images {
		vk.DestroyImageView(b.logicalDevice, img.view, b.allocator)
	}
	chain.images = nil
	vk.DestroySwapchain(b.logicalDevice, chain.handle, b.allocator)
	chain.handle = vk.NullSwapchain
}

func (b *Backend) SwapchainImages(sc device.Swapchain) ([]device.Image, error) {
	chain := sc.(*swapchain)
	if chain.handle == vk.NullSwapchain {
		return nil, fmt.Errorf("swapchain has been destroyed")
	}
	images := make([]device.Image, len(chain.images))
	for i, img := range chain.images {
		images[i] = img
	}
	return images, nil
}

func (b *Backend) AcquireNextImage(sc device.Swapchain, signal device.Semaphore) (uint32, device.AcquireResult) {
	chain := sc.(*swapchain)

	var imageIndex uint32
	res := vk.AcquireNextImage(b.logicalDevice, chain.handle, math.MaxUint64, signal.(vk.Semaphore), vk.NullFence, &imageIndex)
	switch res {
	case vk.Success:
		return imageIndex, device.AcquireSuccess
	case vk.Suboptimal:
		return imageIndex, device.AcquireSuboptimal
	case vk.ErrorOutOfDate:
		return 0, device.AcquireOutOfDate
	default:
		core.LogError("vkAcquireNextImageKHR failed: %s", VulkanResultString(res, true))
		return 0, device.AcquireError
	}
}

func (b *Backend) Present(sc device.Swapchain, imageIndex uint32, wait device.Semaphore) device.PresentResult {
	chain := sc.(*swapchain)

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.(vk.Semaphore)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{chain.handle},
		PImageIndices:      []uint32{imageIndex},
	}

	res := vk.QueuePresent(b.presentQueue, &presentInfo)
	switch res {
	case vk.Success:
		return device.PresentSuccess
	case vk.Suboptimal:
		return device.PresentSuboptimal
	case vk.ErrorOutOfDate:
		return device.PresentOutOfDate
	default:
		core.LogError("vkQueuePresentKHR failed: %s", VulkanResultString(res, true))
		return device.PresentError
	}
}
