package scene

import (
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

type fakeBuffer struct {
	data []byte
}

func (b *fakeBuffer) Size() uint64         { return uint64(len(b.data)) }
func (b *fakeBuffer) Bytes() []byte        { return b.data }
func (b *fakeBuffer) HostAccessible() bool { return true }

// fakeDevice implements only the buffer lifecycle the scene manager uses;
// everything else is inert.
type fakeDevice struct {
	created   []*fakeBuffer
	destroyed []*fakeBuffer
}

func (d *fakeDevice) CreateBuffer(info device.BufferInfo) (device.Buffer, error) {
	buffer := &fakeBuffer{data: make([]byte, info.Size)}
	d.created = append(d.created, buffer)
	return buffer, nil
}

func (d *fakeDevice) DestroyBuffer(buffer device.Buffer) {
	d.destroyed = append(d.destroyed, buffer.(*fakeBuffer))
}

func (d *fakeDevice) SurfaceCapabilities() (device.SurfaceCapabilities, error) {
	return device.SurfaceCapabilities{}, nil
}

func (d *fakeDevice) SurfaceExtent() (device.Extent, error) { return device.Extent{}, nil }

func (d *fakeDevice) CreateSwapchain(extent device.Extent, imageCount uint32, vsync bool, old device.Swapchain) (device.Swapchain, error) {
	return nil, nil
}

func (d *fakeDevice) DestroySwapchain(sc device.Swapchain) {}

func (d *fakeDevice) SwapchainImages(sc device.Swapchain) ([]device.Image, error) { return nil, nil }

func (d *fakeDevice) AcquireNextImage(sc device.Swapchain, signal device.Semaphore) (uint32, device.AcquireResult) {
	return 0, device.AcquireError
}

func (d *fakeDevice) Present(sc device.Swapchain, imageIndex uint32, wait device.Semaphore) device.PresentResult {
	return device.PresentError
}

func (d *fakeDevice) CreateImage(info device.ImageInfo) (device.Image, error) { return nil, nil }
func (d *fakeDevice) DestroyImage(image device.Image)                         {}

func (d *fakeDevice) CreateSampler(filter device.Filter) (device.Sampler, error) { return nil, nil }
func (d *fakeDevice) DestroySampler(sampler device.Sampler)                      {}

func (d *fakeDevice) CreateCommandPool() (device.CommandPool, error) { return nil, nil }
func (d *fakeDevice) DestroyCommandPool(pool device.CommandPool)     {}

func (d *fakeDevice) AllocateCommandBuffers(pool device.CommandPool, count int) ([]device.CommandBuffer, error) {
	return nil, nil
}

func (d *fakeDevice) CreateDescriptorPool(capacity uint32) (device.DescriptorPool, error) {
	return nil, nil
}

func (d *fakeDevice) DestroyDescriptorPool(pool device.DescriptorPool) {}

func (d *fakeDevice) AllocateDescriptorSets(pool device.DescriptorPool, count int) ([]device.DescriptorSet, error) {
	return nil, nil
}

func (d *fakeDevice) WriteDescriptors(writes []device.DescriptorWrite) {}

func (d *fakeDevice) CreateFence(signaled bool) (device.Fence, error) { return nil, nil }
func (d *fakeDevice) DestroyFence(fence device.Fence)                 {}
func (d *fakeDevice) WaitForFence(fence device.Fence) error           { return nil }
func (d *fakeDevice) ResetFence(fence device.Fence) error             { return nil }

func (d *fakeDevice) CreateSemaphore() (device.Semaphore, error)  { return nil, nil }
func (d *fakeDevice) DestroySemaphore(semaphore device.Semaphore) {}

func (d *fakeDevice) CreateQueryPool(timestampCount uint32) (device.QueryPool, error) {
	return nil, nil
}

func (d *fakeDevice) DestroyQueryPool(pool device.QueryPool) {}

func (d *fakeDevice) TimeElapsed(pool device.QueryPool, first uint32, wait bool) float64 {
	return -1
}

func (d *fakeDevice) CreateRenderPass(format device.Format) (device.RenderPass, error) {
	return nil, nil
}

func (d *fakeDevice) DestroyRenderPass(pass device.RenderPass) {}

func (d *fakeDevice) CreateFramebuffer(pass device.RenderPass, image device.Image, extent device.Extent) (device.Framebuffer, error) {
	return nil, nil
}

func (d *fakeDevice) DestroyFramebuffer(framebuffer device.Framebuffer) {}

func (d *fakeDevice) CreateDisplayPipeline(pass device.RenderPass, sampler device.Sampler) (device.Pipeline, error) {
	return nil, nil
}

func (d *fakeDevice) CreateTracePipeline(sampler device.Sampler) (device.Pipeline, error) {
	return nil, nil
}

func (d *fakeDevice) DestroyPipeline(pipeline device.Pipeline) {}

func (d *fakeDevice) Submit(cb device.CommandBuffer, info device.SubmitInfo) error { return nil }

func (d *fakeDevice) SubmitImmediate(record func(device.CommandBuffer) error) error { return nil }

func (d *fakeDevice) WaitIdle() error { return nil }
