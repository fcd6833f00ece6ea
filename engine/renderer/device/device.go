// Package device defines the graphics device contract the renderer is built
// against. The production implementation lives in engine/renderer/vulkan;
// tests inject fakes.
package device

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type Format int

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatRGBA32Float
)

type Filter int

const (
	FilterNearest Filter = iota
	FilterLinear
)

// Opaque handle contracts. Backends return their own concrete types; the
// renderer only ever passes them back into the device.
type (
	Fence          interface{}
	Semaphore      interface{}
	Sampler        interface{}
	CommandPool    interface{}
	DescriptorPool interface{}
	DescriptorSet  interface{}
	QueryPool      interface{}
	Pipeline       interface{}
	RenderPass     interface{}
	Framebuffer    interface{}
)

type Image interface {
	Extent() Extent
	Format() Format
}

type Buffer interface {
	Size() uint64
	// Bytes exposes the buffer's host-visible memory. Only valid for
	// host-accessible buffers.
	Bytes() []byte
	HostAccessible() bool
}

type Swapchain interface {
	Extent() Extent
}

type ImageInfo struct {
	Extent Extent
	Format Format
	// Storage images back the accumulation targets; they additionally need
	// transfer-src/dst usage for clears and readback.
	Storage bool
}

type BufferUsage int

const (
	BufferUsageStorage BufferUsage = iota
	BufferUsageStaging
)

type BufferInfo struct {
	Size  uint64
	Usage BufferUsage
}

// SurfaceCapabilities reports what the presentation surface supports at
// initialization time.
type SurfaceCapabilities struct {
	MinImageCount uint32
	Format        Format
}

type BindingPoint int

const (
	BindingDisplayBuffer BindingPoint = iota
	BindingRenderBuffer
	BindingPrevRenderBuffer
	BindingTLAS
	BindingInstances
	BindingMaterials
	BindingEmitters
	BindingTextures
)

// DescriptorWrite binds either an image (with its expected state) or a buffer
// to a binding point of a descriptor set.
type DescriptorWrite struct {
	Set        DescriptorSet
	Binding    BindingPoint
	Image      Image
	ImageState ImageState
	Buffer     Buffer
}

type AcquireResult int

const (
	AcquireSuccess AcquireResult = iota
	AcquireSuboptimal
	AcquireOutOfDate
	AcquireError
)

type PresentResult int

const (
	PresentSuccess PresentResult = iota
	PresentSuboptimal
	PresentOutOfDate
	PresentError
)

// SubmitInfo describes the synchronization of a queue submission. Zero-valued
// semaphores mean the submission neither waits nor signals; the fence, when
// set, is signaled once the command buffer retires.
type SubmitInfo struct {
	Wait   Semaphore
	Signal Semaphore
	Fence  Fence
}

// CommandBuffer records the per-frame command stream. Recording order is
// enforced by the caller; Barrier rejects transitions that are invalid per
// Transition.
type CommandBuffer interface {
	Begin() error
	End() error

	ResetQueryPool(pool QueryPool, first, count uint32)
	WriteTimestamp(pool QueryPool, index uint32)

	Barrier(transitions ...ImageTransition) error
	ClearColorImage(image Image, state ImageState)

	BindTracePipeline(pipeline Pipeline, sets ...DescriptorSet)
	PushConstants(pipeline Pipeline, data interface{})
	TraceRays(width, height uint32)

	BeginDisplayPass(pass RenderPass, framebuffer Framebuffer, extent Extent)
	BindDisplayPipeline(pipeline Pipeline, set DescriptorSet)
	Draw(vertexCount, instanceCount uint32)
	EndDisplayPass()

	CopyImageToBuffer(image Image, state ImageState, buffer Buffer, extent Extent)
}

// Device is the abstraction over the GPU and its presentation surface.
// All calls happen on the orchestrator goroutine unless documented otherwise.
type Device interface {
	SurfaceCapabilities() (SurfaceCapabilities, error)
	// SurfaceExtent reports the current size of the presentation surface.
	SurfaceExtent() (Extent, error)

	CreateSwapchain(extent Extent, imageCount uint32, vsync bool, old Swapchain) (Swapchain, error)
	DestroySwapchain(sc Swapchain)
	SwapchainImages(sc Swapchain) ([]Image, error)
	AcquireNextImage(sc Swapchain, signal Semaphore) (uint32, AcquireResult)
	Present(sc Swapchain, imageIndex uint32, wait Semaphore) PresentResult

	CreateImage(info ImageInfo) (Image, error)
	DestroyImage(image Image)
	CreateBuffer(info BufferInfo) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	CreateSampler(filter Filter) (Sampler, error)
	DestroySampler(sampler Sampler)

	CreateCommandPool() (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)

	CreateDescriptorPool(capacity uint32) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	// AllocateDescriptorSets returns one display-facing and one render-facing
	// set per requested pair.
	AllocateDescriptorSets(pool DescriptorPool, count int) ([]DescriptorSet, error)
	WriteDescriptors(writes []DescriptorWrite)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	// WaitForFence blocks until the fence signals. Bounded by the device's
	// forward-progress guarantee.
	WaitForFence(fence Fence) error
	ResetFence(fence Fence) error
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)

	CreateQueryPool(timestampCount uint32) (QueryPool, error)
	DestroyQueryPool(pool QueryPool)
	// TimeElapsed returns the elapsed milliseconds between the timestamp pair
	// starting at first. A negative value means the pair is not yet available.
	TimeElapsed(pool QueryPool, first uint32, wait bool) float64

	CreateRenderPass(format Format) (RenderPass, error)
	DestroyRenderPass(pass RenderPass)
	CreateFramebuffer(pass RenderPass, image Image, extent Extent) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)

	CreateDisplayPipeline(pass RenderPass, sampler Sampler) (Pipeline, error)
	CreateTracePipeline(sampler Sampler) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	Submit(cb CommandBuffer, info SubmitInfo) error
	// SubmitImmediate records into a transient command buffer, submits it and
	// waits for completion. Used by the image-grab path.
	SubmitImmediate(record func(CommandBuffer) error) error
	WaitIdle() error
}
