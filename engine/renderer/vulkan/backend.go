// Package vulkan implements the renderer's device contract on top of the
// Vulkan API.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// Backend owns the Vulkan instance, device and the layout objects shared by
// every pipeline. It implements device.Device.
type Backend struct {
	platform  *platform.Platform
	allocator *vk.AllocationCallbacks

	instance       vk.Instance
	debugMessenger vk.DebugReportCallback
	surface        vk.Surface

	physicalDevice vk.PhysicalDevice
	logicalDevice  vk.Device
	properties     vk.PhysicalDeviceProperties
	memory         vk.PhysicalDeviceMemoryProperties

	graphicsQueueIndex uint32
	presentQueueIndex  uint32
	computeQueueIndex  uint32
	graphicsQueue      vk.Queue
	presentQueue       vk.Queue
	computeQueue       vk.Queue

	displaySetLayout vk.DescriptorSetLayout
	renderSetLayout  vk.DescriptorSetLayout

	// Sampler bound with the display buffer descriptor. Set when the display
	// pipeline is created.
	displaySampler vk.Sampler

	transientPool vk.CommandPool

	timestampPeriod float32

	shaderDir string
	debug     bool
}

func New(p *platform.Platform, shaderDir string, debug bool) *Backend {
	return &Backend{
		platform:  p,
		allocator: nil,
		shaderDir: shaderDir,
		debug:     debug,
	}
}

func (b *Backend) Initialize(appName string) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := fmt.Errorf("GetInstanceProcAddress is nil")
		core.LogFatal(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	if err := b.createInstance(appName); err != nil {
		return err
	}

	if b.debug {
		if err := b.createDebugger(); err != nil {
			return err
		}
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := b.platform.CreateSurface(b.instance)
	if err != nil {
		core.LogError("Failed to create platform surface!")
		return err
	}
	b.surface = surface
	core.LogDebug("Vulkan surface created.")

	if err := b.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := b.createLogicalDevice(); err != nil {
		return err
	}
	if err := b.createSetLayouts(); err != nil {
		return err
	}

	core.LogInfo("Vulkan backend initialized successfully.")
	return nil
}

func (b *Backend) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Lumen Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, b.platform.RequiredInstanceExtensions()...)

	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}

	if b.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugUtilsExtensionName, vk.ExtDebugReportExtensionName)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	requiredLayers := []string{}
	if b.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		requiredLayers = []string{"VK_LAYER_KHRONOS_validation"}

		var availableLayerCount uint32
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
			err := fmt.Errorf("failed to enumerate instance layers: %s", VulkanResultString(res, true))
			core.LogError(err.Error())
			return err
		}
		availableLayers := make([]vk.LayerProperties, availableLayerCount)
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
			err := fmt.Errorf("failed to enumerate instance layers: %s", VulkanResultString(res, true))
			core.LogError(err.Error())
			return err
		}

		for _, required := range requiredLayers {
			found := false
			for j := range availableLayers {
				availableLayers[j].Deref()
				end := FindFirstZeroInByteArray(availableLayers[j].LayerName[:])
				if required == vk.ToString(availableLayers[j].LayerName[:end+1]) {
					found = true
					break
				}
			}
			if !found {
				err := fmt.Errorf("required validation layer is missing: %s", required)
				core.LogFatal(err.Error())
				return err
			}
		}
		core.LogInfo("All required validation layers are present.")
	}

	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	if res := vk.CreateInstance(&createInfo, b.allocator, &b.instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(b.instance); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Vulkan Instance created.")
	return nil
}

func (b *Backend) createDebugger() error {
	core.LogDebug("Creating Vulkan debugger...")
	debugCreateInfo := vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
		PfnCallback: dbgCallbackFunc,
	}

	var dbg vk.DebugReportCallback
	if err := vk.Error(vk.CreateDebugReportCallback(b.instance, &debugCreateInfo, nil, &dbg)); err != nil {
		core.LogError("vk.CreateDebugReportCallback failed with %s", err)
		return err
	}
	b.debugMessenger = dbg
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func (b *Backend) Shutdown() {
	vk.DeviceWaitIdle(b.logicalDevice)

	// Destroy in the opposite order of creation.
	if b.transientPool != vk.NullCommandPool {
		vk.DestroyCommandPool(b.logicalDevice, b.transientPool, b.allocator)
		b.transientPool = vk.NullCommandPool
	}

	if b.displaySetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(b.logicalDevice, b.displaySetLayout, b.allocator)
		b.displaySetLayout = vk.NullDescriptorSetLayout
	}
	if b.renderSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(b.logicalDevice, b.renderSetLayout, b.allocator)
		b.renderSetLayout = vk.NullDescriptorSetLayout
	}

	core.LogDebug("Destroying Vulkan device...")
	b.graphicsQueue = nil
	b.presentQueue = nil
	b.computeQueue = nil
	if b.logicalDevice != nil {
		vk.DestroyDevice(b.logicalDevice, b.allocator)
		b.logicalDevice = nil
	}
	b.physicalDevice = nil

	core.LogDebug("Destroying Vulkan surface...")
	if b.surface != vk.NullSurface {
		vk.DestroySurface(b.instance, b.surface, b.allocator)
		b.surface = vk.NullSurface
	}

	if b.debug && b.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(b.instance, b.debugMessenger, b.allocator)
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(b.instance, b.allocator)
}

func (b *Backend) SurfaceCapabilities() (device.SurfaceCapabilities, error) {
	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(b.physicalDevice, b.surface, &capabilities); res != vk.Success {
		err := fmt.Errorf("failed to query surface capabilities: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return device.SurfaceCapabilities{}, err
	}
	capabilities.Deref()

	format, err := b.selectSurfaceFormat()
	if err != nil {
		return device.SurfaceCapabilities{}, err
	}

	return device.SurfaceCapabilities{
		MinImageCount: capabilities.MinImageCount,
		Format:        formatFromVulkan(format.Format),
	}, nil
}

func (b *Backend) SurfaceExtent() (device.Extent, error) {
	var capabilities vk.SurfaceCapabilities
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(b.physicalDevice, b.surface, &capabilities); res != vk.Success {
		err := fmt.Errorf("failed to query surface capabilities: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return device.Extent{}, err
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()

	extent := device.Extent{
		Width:  capabilities.CurrentExtent.Width,
		Height: capabilities.CurrentExtent.Height,
	}
	// Some window systems report the maximum uint32 extent and leave sizing
	// to the application.
	if extent.Width == ^uint32(0) || extent.Height == ^uint32(0) {
		width, height := b.platform.FramebufferSize()
		extent.Width = width
		extent.Height = height
	}
	return extent, nil
}

func (b *Backend) WaitIdle() error {
	if res := vk.DeviceWaitIdle(b.logicalDevice); res != vk.Success {
		err := fmt.Errorf("vkDeviceWaitIdle failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (b *Backend) Submit(cb device.CommandBuffer, info device.SubmitInfo) error {
	buffer := cb.(*commandBuffer)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{buffer.handle},
	}
	if info.Wait != nil {
		flags := vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit | vk.PipelineStageColorAttachmentOutputBit)
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{info.Wait.(vk.Semaphore)}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{flags}
	}
	if info.Signal != nil {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{info.Signal.(vk.Semaphore)}
	}

	fence := vk.NullFence
	if info.Fence != nil {
		fence = info.Fence.(vk.Fence)
	}

	if res := vk.QueueSubmit(b.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
		err := fmt.Errorf("vkQueueSubmit failed with result: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

// SubmitImmediate records into a transient command buffer, submits it and
// blocks until the queue drains it.
func (b *Backend) SubmitImmediate(record func(device.CommandBuffer) error) error {
	if b.transientPool == vk.NullCommandPool {
		poolCreateInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: b.graphicsQueueIndex,
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		}
		if res := vk.CreateCommandPool(b.logicalDevice, &poolCreateInfo, b.allocator, &b.transientPool); res != vk.Success {
			err := fmt.Errorf("failed to create transient command pool: %s", VulkanResultString(res, true))
			core.LogError(err.Error())
			return err
		}
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        b.transientPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(b.logicalDevice, &allocateInfo, handles); res != vk.Success {
		err := fmt.Errorf("failed to allocate transient command buffer: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	defer vk.FreeCommandBuffers(b.logicalDevice, b.transientPool, 1, handles)

	buffer := &commandBuffer{handle: handles[0], backend: b}
	if err := buffer.Begin(); err != nil {
		return err
	}
	if err := record(buffer); err != nil {
		return err
	}
	if err := buffer.End(); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    handles,
	}
	if res := vk.QueueSubmit(b.graphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
		err := fmt.Errorf("vkQueueSubmit failed with result: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if res := vk.QueueWaitIdle(b.graphicsQueue); res != vk.Success {
		err := fmt.Errorf("vkQueueWaitIdle failed with result: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
