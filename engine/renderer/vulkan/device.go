package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

type physicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type queueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
}

func (b *Backend) selectPhysicalDevice() error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(b.instance, &physicalDeviceCount, nil); res != vk.Success {
		err := fmt.Errorf("failed to enumerate physical devices: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found")
		core.LogFatal(err.Error())
		return err
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(b.instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		err := fmt.Errorf("failed to enumerate physical devices: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}

	requirements := physicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Compute:              true,
		DiscreteGPU:          true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	for i := 0; i < int(physicalDeviceCount); i++ {
		properties := vk.PhysicalDeviceProperties{}
		vk.GetPhysicalDeviceProperties(physicalDevices[i], &properties)
		properties.Deref()
		properties.Limits.Deref()

		memory := vk.PhysicalDeviceMemoryProperties{}
		vk.GetPhysicalDeviceMemoryProperties(physicalDevices[i], &memory)
		memory.Deref()

		queueInfo := queueFamilyInfo{}
		if !b.deviceMeetsRequirements(physicalDevices[i], &properties, &requirements, &queueInfo) {
			continue
		}

		end := FindFirstZeroInByteArray(properties.DeviceName[:])
		core.LogInfo("Selected device: '%s'.", vk.ToString(properties.DeviceName[:end+1]))
		core.LogInfo(
			"Vulkan API version: %d.%d.%d",
			vk.Version.Major(vk.Version(properties.ApiVersion)),
			vk.Version.Minor(vk.Version(properties.ApiVersion)),
			vk.Version.Patch(vk.Version(properties.ApiVersion)),
		)

		b.physicalDevice = physicalDevices[i]
		b.graphicsQueueIndex = uint32(queueInfo.GraphicsFamilyIndex)
		b.presentQueueIndex = uint32(queueInfo.PresentFamilyIndex)
		b.computeQueueIndex = uint32(queueInfo.ComputeFamilyIndex)
		b.properties = properties
		b.memory = memory
		b.timestampPeriod = properties.Limits.TimestampPeriod
		break
	}

	if b.physicalDevice == nil {
		err := fmt.Errorf("no physical devices were found which meet the requirements")
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Physical device selected.")
	return nil
}

func (b *Backend) deviceMeetsRequirements(pd vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *physicalDeviceRequirements, outQueueInfo *queueFamilyInfo) bool {
	outQueueInfo.GraphicsFamilyIndex = -1
	outQueueInfo.PresentFamilyIndex = -1
	outQueueInfo.ComputeFamilyIndex = -1

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueFamilyCount, queueFamilies)

	for i := 0; i < int(queueFamilyCount); i++ {
		queueFamilies[i].Deref()

		if vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueGraphicsBit > 0 {
			outQueueInfo.GraphicsFamilyIndex = int32(i)
			// Timestamps are recorded on the graphics queue; a family
			// without valid timestamp bits cannot drive the frame timer.
			if queueFamilies[i].TimestampValidBits == 0 {
				core.LogInfo("Graphics queue family has no timestamp support, skipping device.")
				return false
			}
		}
		if vk.QueueFlagBits(queueFamilies[i].QueueFlags)&vk.QueueComputeBit > 0 {
			outQueueInfo.ComputeFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32 = vk.False
		if res := vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), b.surface, &supportsPresent); res != vk.Success {
			return false
		}
		if supportsPresent == vk.True {
			outQueueInfo.PresentFamilyIndex = int32(i)
		}
	}

	if (requirements.Graphics && outQueueInfo.GraphicsFamilyIndex < 0) ||
		(requirements.Present && outQueueInfo.PresentFamilyIndex < 0) ||
		(requirements.Compute && outQueueInfo.ComputeFamilyIndex < 0) {
		return false
	}

	// Surface support: at least one format and one present mode.
	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(pd, b.surface, &formatCount, nil); res != vk.Success {
		return false
	}
	var presentModeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(pd, b.surface, &presentModeCount, nil); res != vk.Success {
		return false
	}
	if formatCount < 1 || presentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return false
	}

	// Device extensions.
	var availableExtensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &availableExtensionCount, nil); res != vk.Success {
		return false
	}
	availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &availableExtensionCount, availableExtensions); res != vk.Success {
		return false
	}
	for _, required := range requirements.DeviceExtensionNames {
		found := false
		for j := range availableExtensions {
			availableExtensions[j].Deref()
			end := FindFirstZeroInByteArray(availableExtensions[j].ExtensionName[:])
			if required == vk.ToString(availableExtensions[j].ExtensionName[:end+1]) {
				found = true
				break
			}
		}
		if !found {
			core.LogInfo("Required extension not found: '%s', skipping device.", required)
			return false
		}
	}

	return true
}

func (b *Backend) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	// NOTE: Do not create additional queues for shared indices.
	uniqueIndices := []uint32{b.graphicsQueueIndex}
	if b.presentQueueIndex != b.graphicsQueueIndex {
		uniqueIndices = append(uniqueIndices, b.presentQueueIndex)
	}
	if b.computeQueueIndex != b.graphicsQueueIndex && b.computeQueueIndex != b.presentQueueIndex {
		uniqueIndices = append(uniqueIndices, b.computeQueueIndex)
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(uniqueIndices))
	for i, index := range uniqueIndices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if b.portabilityRequired() {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(b.physicalDevice, &deviceCreateInfo, b.allocator, &b.logicalDevice); res != vk.Success {
		err := fmt.Errorf("failed to create logical device: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(b.logicalDevice, b.graphicsQueueIndex, 0, &b.graphicsQueue)
	vk.GetDeviceQueue(b.logicalDevice, b.presentQueueIndex, 0, &b.presentQueue)
	vk.GetDeviceQueue(b.logicalDevice, b.computeQueueIndex, 0, &b.computeQueue)
	core.LogInfo("Queues obtained.")

	return nil
}

func (b *Backend) portabilityRequired() bool {
	var availableExtensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(b.physicalDevice, "", &availableExtensionCount, nil); res != vk.Success {
		return false
	}
	if availableExtensionCount == 0 {
		return false
	}
	availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
	if res := vk.EnumerateDeviceExtensionProperties(b.physicalDevice, "", &availableExtensionCount, availableExtensions); res != vk.Success {
		return false
	}
	for i := range availableExtensions {
		availableExtensions[i].Deref()
		end := FindFirstZeroInByteArray(availableExtensions[i].ExtensionName[:])
		if vk.ToString(availableExtensions[i].ExtensionName[:end+1]) == "VK_KHR_portability_subset" {
			return true
		}
	}
	return false
}

func (b *Backend) findMemoryType(typeBits uint32, properties vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < b.memory.MemoryTypeCount; i++ {
		b.memory.MemoryTypes[i].Deref()
		if typeBits&(1<<i) != 0 && b.memory.MemoryTypes[i].PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no suitable memory type for bits 0x%x", typeBits)
}
