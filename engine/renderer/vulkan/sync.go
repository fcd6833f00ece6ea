package vulkan

import (
	"fmt"
	"math"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

func (b *Backend) CreateFence(signaled bool) (device.Fence, error) {
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	if res := vk.CreateFence(b.logicalDevice, &createInfo, b.allocator, &fence); res != vk.Success {
		err := fmt.Errorf("failed to create fence: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return fence, nil
}

func (b *Backend) DestroyFence(fence device.Fence) {
	vk.DestroyFence(b.logicalDevice, fence.(vk.Fence), b.allocator)
}

func (b *Backend) WaitForFence(fence device.Fence) error {
	res := vk.WaitForFences(b.logicalDevice, 1, []vk.Fence{fence.(vk.Fence)}, vk.True, math.MaxUint64)
	if res != vk.Success {
		err := fmt.Errorf("vkWaitForFences failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (b *Backend) ResetFence(fence device.Fence) error {
	if res := vk.ResetFences(b.logicalDevice, 1, []vk.Fence{fence.(vk.Fence)}); res != vk.Success {
		err := fmt.Errorf("vkResetFences failed: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (b *Backend) CreateSemaphore() (device.Semaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(b.logicalDevice, &createInfo, b.allocator, &semaphore); res != vk.Success {
		err := fmt.Errorf("failed to create semaphore: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return semaphore, nil
}

func (b *Backend) DestroySemaphore(semaphore device.Semaphore) {
	vk.DestroySemaphore(b.logicalDevice, semaphore.(vk.Semaphore), b.allocator)
}

func (b *Backend) CreateCommandPool() (device.CommandPool, error) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: b.graphicsQueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}

	var pool vk.CommandPool
	if res := vk.CreateCommandPool(b.logicalDevice, &createInfo, b.allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create command pool: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return pool, nil
}

func (b *Backend) DestroyCommandPool(pool device.CommandPool) {
	vk.DestroyCommandPool(b.logicalDevice, pool.(vk.CommandPool), b.allocator)
}

func (b *Backend) AllocateCommandBuffers(pool device.CommandPool, count int) ([]device.CommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool.(vk.CommandPool),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}

	handles := make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(b.logicalDevice, &allocateInfo, handles); res != vk.Success {
		err := fmt.Errorf("failed to allocate command buffers: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}

	buffers := make([]device.CommandBuffer, count)
	for i, handle := range handles {
		buffers[i] = &commandBuffer{handle: handle, backend: b}
	}
	return buffers, nil
}

func (b *Backend) CreateQueryPool(timestampCount uint32) (device.QueryPool, error) {
	createInfo := vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: timestampCount,
	}

	var pool vk.QueryPool
	if res := vk.CreateQueryPool(b.logicalDevice, &createInfo, b.allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create query pool: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return pool, nil
}

func (b *Backend) DestroyQueryPool(pool device.QueryPool) {
	vk.DestroyQueryPool(b.logicalDevice, pool.(vk.QueryPool), b.allocator)
}

// TimeElapsed reads the timestamp pair starting at first and returns the
// elapsed device time in milliseconds. A negative value means the pair is
// not available yet.
func (b *Backend) TimeElapsed(pool device.QueryPool, first uint32, wait bool) float64 {
	flags := vk.QueryResultFlags(vk.QueryResult64Bit)
	if wait {
		flags |= vk.QueryResultFlags(vk.QueryResultWaitBit)
	}

	var timestamps [2]uint64
	res := vk.GetQueryPoolResults(
		b.logicalDevice,
		pool.(vk.QueryPool),
		first, 2,
		uint64(unsafe.Sizeof(timestamps)),
		unsafe.Pointer(&timestamps[0]),
		vk.DeviceSize(unsafe.Sizeof(timestamps[0])),
		flags)
	if res == vk.NotReady {
		return -1
	}
	if res != vk.Success {
		core.LogWarn("vkGetQueryPoolResults failed: %s", VulkanResultString(res, true))
		return -1
	}
	if timestamps[1] <= timestamps[0] {
		return -1
	}

	ticks := timestamps[1] - timestamps[0]
	return float64(ticks) * float64(b.timestampPeriod) / 1e6
}
