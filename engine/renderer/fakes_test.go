package renderer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

type fakeImage struct {
	extent device.Extent
	format device.Format
}

func (i *fakeImage) Extent() device.Extent { return i.extent }
func (i *fakeImage) Format() device.Format { return i.format }

type fakeBuffer struct {
	data []byte
	host bool
}

func (b *fakeBuffer) Size() uint64         { return uint64(len(b.data)) }
func (b *fakeBuffer) Bytes() []byte        { return b.data }
func (b *fakeBuffer) HostAccessible() bool { return b.host }

type fakeSwapchain struct {
	extent     device.Extent
	imageCount uint32
}

func (s *fakeSwapchain) Extent() device.Extent { return s.extent }

type fakeFence struct {
	signaled bool
}

// fakeCommandBuffer records the operation stream and validates every
// requested image transition.
type fakeCommandBuffer struct {
	ops         []string
	transitions []device.ImageTransition
	copyFill    byte
}

func (cb *fakeCommandBuffer) record(op string) {
	cb.ops = append(cb.ops, op)
}

func (cb *fakeCommandBuffer) Begin() error { cb.record("begin"); return nil }
func (cb *fakeCommandBuffer) End() error   { cb.record("end"); return nil }

func (cb *fakeCommandBuffer) ResetQueryPool(pool device.QueryPool, first, count uint32) {
	cb.record("reset-query-pool")
}

func (cb *fakeCommandBuffer) WriteTimestamp(pool device.QueryPool, index uint32) {
	cb.record("write-timestamp")
}

func (cb *fakeCommandBuffer) Barrier(transitions ...device.ImageTransition) error {
	for _, t := range transitions {
		if _, err := device.Transition(t.From, t.To); err != nil {
			return err
		}
	}
	cb.transitions = append(cb.transitions, transitions...)
	cb.record("barrier")
	return nil
}

func (cb *fakeCommandBuffer) ClearColorImage(image device.Image, state device.ImageState) {
	cb.record("clear-color-image")
}

func (cb *fakeCommandBuffer) BindTracePipeline(pipeline device.Pipeline, sets ...device.DescriptorSet) {
	cb.record("bind-trace-pipeline")
}

func (cb *fakeCommandBuffer) PushConstants(pipeline device.Pipeline, data interface{}) {
	cb.record("push-constants")
}

func (cb *fakeCommandBuffer) TraceRays(width, height uint32) {
	cb.record("trace-rays")
}

func (cb *fakeCommandBuffer) BeginDisplayPass(pass device.RenderPass, framebuffer device.Framebuffer, extent device.Extent) {
	cb.record("begin-display-pass")
}

func (cb *fakeCommandBuffer) BindDisplayPipeline(pipeline device.Pipeline, set device.DescriptorSet) {
	cb.record("bind-display-pipeline")
}

func (cb *fakeCommandBuffer) Draw(vertexCount, instanceCount uint32) {
	cb.record("draw")
}

func (cb *fakeCommandBuffer) EndDisplayPass() {
	cb.record("end-display-pass")
}

func (cb *fakeCommandBuffer) CopyImageToBuffer(image device.Image, state device.ImageState, buffer device.Buffer, extent device.Extent) {
	cb.record("copy-image-to-buffer")
	for i := range buffer.Bytes() {
		buffer.Bytes()[i] = cb.copyFill
	}
}

// fakeDevice satisfies the device contract with host-side bookkeeping so
// orchestrator behavior can be asserted without a GPU.
type fakeDevice struct {
	minImageCount uint32
	surfaceExtent device.Extent
	surfaceErr    error

	acquireResult device.AcquireResult
	presentResult device.PresentResult
	submitErr     error
	gpuTime       float64

	createdImages    int
	destroyedImages  int
	createdBuffers   []*fakeBuffer
	destroyedBuffers []*fakeBuffer
	descriptorWrites []device.DescriptorWrite
	submits          int
	presents         int
	waitIdles        int
	fenceWaits       int

	commandBuffers []*fakeCommandBuffer
	immediateCB    *fakeCommandBuffer
	copyFill       byte
}

func newFakeDevice(minImageCount uint32) *fakeDevice {
	return &fakeDevice{
		minImageCount: minImageCount,
		acquireResult: device.AcquireSuccess,
		presentResult: device.PresentSuccess,
		gpuTime:       -1,
	}
}

func (d *fakeDevice) SurfaceCapabilities() (device.SurfaceCapabilities, error) {
	return device.SurfaceCapabilities{MinImageCount: d.minImageCount, Format: device.FormatBGRA8Unorm}, nil
}

func (d *fakeDevice) SurfaceExtent() (device.Extent, error) {
	return d.surfaceExtent, d.surfaceErr
}

func (d *fakeDevice) CreateSwapchain(extent device.Extent, imageCount uint32, vsync bool, old device.Swapchain) (device.Swapchain, error) {
	return &fakeSwapchain{extent: extent, imageCount: imageCount}, nil
}

func (d *fakeDevice) DestroySwapchain(sc device.Swapchain) {}

func (d *fakeDevice) SwapchainImages(sc device.Swapchain) ([]device.Image, error) {
	chain := sc.(*fakeSwapchain)
	images := make([]device.Image, chain.imageCount)
	for i := range images {
		images[i] = &fakeImage{extent: chain.extent, format: device.FormatBGRA8Unorm}
	}
	return images, nil
}

func (d *fakeDevice) AcquireNextImage(sc device.Swapchain, signal device.Semaphore) (uint32, device.AcquireResult) {
	return 0, d.acquireResult
}

func (d *fakeDevice) Present(sc device.Swapchain, imageIndex uint32, wait device.Semaphore) device.PresentResult {
	d.presents++
	return d.presentResult
}

func (d *fakeDevice) CreateImage(info device.ImageInfo) (device.Image, error) {
	d.createdImages++
	return &fakeImage{extent: info.Extent, format: info.Format}, nil
}

func (d *fakeDevice) DestroyImage(image device.Image) {
	d.destroyedImages++
}

func (d *fakeDevice) CreateBuffer(info device.BufferInfo) (device.Buffer, error) {
	buffer := &fakeBuffer{data: make([]byte, info.Size), host: true}
	d.createdBuffers = append(d.createdBuffers, buffer)
	return buffer, nil
}

func (d *fakeDevice) DestroyBuffer(buffer device.Buffer) {
	d.destroyedBuffers = append(d.destroyedBuffers, buffer.(*fakeBuffer))
}

func (d *fakeDevice) CreateSampler(filter device.Filter) (device.Sampler, error) {
	return struct{ device.Sampler }{}, nil
}

func (d *fakeDevice) DestroySampler(sampler device.Sampler) {}

func (d *fakeDevice) CreateCommandPool() (device.CommandPool, error) {
	return struct{ device.CommandPool }{}, nil
}

func (d *fakeDevice) DestroyCommandPool(pool device.CommandPool) {}

func (d *fakeDevice) AllocateCommandBuffers(pool device.CommandPool, count int) ([]device.CommandBuffer, error) {
	buffers := make([]device.CommandBuffer, count)
	for i := range buffers {
		cb := &fakeCommandBuffer{copyFill: d.copyFill}
		d.commandBuffers = append(d.commandBuffers, cb)
		buffers[i] = cb
	}
	return buffers, nil
}

func (d *fakeDevice) CreateDescriptorPool(capacity uint32) (device.DescriptorPool, error) {
	return struct{ device.DescriptorPool }{}, nil
}

func (d *fakeDevice) DestroyDescriptorPool(pool device.DescriptorPool) {}

func (d *fakeDevice) AllocateDescriptorSets(pool device.DescriptorPool, count int) ([]device.DescriptorSet, error) {
	sets := make([]device.DescriptorSet, 2*count)
	for i := range sets {
		sets[i] = &struct{ index int }{i}
	}
	return sets, nil
}

func (d *fakeDevice) WriteDescriptors(writes []device.DescriptorWrite) {
	d.descriptorWrites = append(d.descriptorWrites, writes...)
}

func (d *fakeDevice) CreateFence(signaled bool) (device.Fence, error) {
	return &fakeFence{signaled: signaled}, nil
}

func (d *fakeDevice) DestroyFence(fence device.Fence) {}

// WaitForFence is strict: a wait on an unsignaled fence has no submission
// that could ever signal it, so it fails instead of hanging the test.
func (d *fakeDevice) WaitForFence(fence device.Fence) error {
	d.fenceWaits++
	if !fence.(*fakeFence).signaled {
		return fmt.Errorf("wait on a fence with no pending submission")
	}
	return nil
}

func (d *fakeDevice) ResetFence(fence device.Fence) error {
	fence.(*fakeFence).signaled = false
	return nil
}

func (d *fakeDevice) CreateSemaphore() (device.Semaphore, error) {
	return struct{ device.Semaphore }{}, nil
}

func (d *fakeDevice) DestroySemaphore(semaphore device.Semaphore) {}

func (d *fakeDevice) CreateQueryPool(timestampCount uint32) (device.QueryPool, error) {
	return struct{ device.QueryPool }{}, nil
}

func (d *fakeDevice) DestroyQueryPool(pool device.QueryPool) {}

func (d *fakeDevice) TimeElapsed(pool device.QueryPool, first uint32, wait bool) float64 {
	return d.gpuTime
}

func (d *fakeDevice) CreateRenderPass(format device.Format) (device.RenderPass, error) {
	return struct{ device.RenderPass }{}, nil
}

func (d *fakeDevice) DestroyRenderPass(pass device.RenderPass) {}

func (d *fakeDevice) CreateFramebuffer(pass device.RenderPass, image device.Image, extent device.Extent) (device.Framebuffer, error) {
	return struct{ device.Framebuffer }{}, nil
}

func (d *fakeDevice) DestroyFramebuffer(framebuffer device.Framebuffer) {}

func (d *fakeDevice) CreateDisplayPipeline(pass device.RenderPass, sampler device.Sampler) (device.Pipeline, error) {
	return struct{ device.Pipeline }{}, nil
}

func (d *fakeDevice) CreateTracePipeline(sampler device.Sampler) (device.Pipeline, error) {
	return struct{ device.Pipeline }{}, nil
}

func (d *fakeDevice) DestroyPipeline(pipeline device.Pipeline) {}

// Submit completes instantly: the fence signals as if the GPU already
// drained the work.
func (d *fakeDevice) Submit(cb device.CommandBuffer, info device.SubmitInfo) error {
	d.submits++
	if d.submitErr != nil {
		return d.submitErr
	}
	if info.Fence != nil {
		info.Fence.(*fakeFence).signaled = true
	}
	return nil
}

func (d *fakeDevice) SubmitImmediate(record func(device.CommandBuffer) error) error {
	d.immediateCB = &fakeCommandBuffer{copyFill: d.copyFill}
	return record(d.immediateCB)
}

func (d *fakeDevice) WaitIdle() error {
	d.waitIdles++
	return nil
}

// fakeScene drives the job graph builder and the frame executor with
// scripted responses while recording every call.
type fakeScene struct {
	mutex sync.Mutex

	ready       bool
	renderables []EntityID
	numEmitters uint32

	dirtyGeometry  []EntityID
	dirtyTextures  []EntityID
	dirtyMaterials []EntityID
	allMaterials   []EntityID

	calls            []string
	materialWorklist []EntityID
	activeCamera     EntityID

	tlas      device.Buffer
	instances device.Buffer
	materials device.Buffer
	emitters  device.Buffer
	textures  device.Buffer
}

func newFakeScene() *fakeScene {
	return &fakeScene{
		tlas:      &fakeBuffer{data: make([]byte, 16), host: true},
		instances: &fakeBuffer{data: make([]byte, 16), host: true},
		materials: &fakeBuffer{data: make([]byte, 16), host: true},
		emitters:  &fakeBuffer{data: make([]byte, 16), host: true},
		textures:  &fakeBuffer{data: make([]byte, 16), host: true},
	}
}

func (s *fakeScene) called(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calls = append(s.calls, name)
}

func (s *fakeScene) callCount(name string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	count := 0
	for _, call := range s.calls {
		if call == name {
			count++
		}
	}
	return count
}

func (s *fakeScene) IsReadyToRender() bool   { return s.ready }
func (s *fakeScene) Renderables() []EntityID { return s.renderables }
func (s *fakeScene) GatherEntities()         { s.called("gather-entities") }
func (s *fakeScene) NumEmitters() uint32     { return s.numEmitters }

func (s *fakeScene) AcquireDirtyGeometry() []EntityID {
	s.called("acquire-dirty-geometry")
	ids := s.dirtyGeometry
	s.dirtyGeometry = nil
	return ids
}

func (s *fakeScene) AcquireDirtyTextures() []EntityID {
	s.called("acquire-dirty-textures")
	ids := s.dirtyTextures
	s.dirtyTextures = nil
	return ids
}

func (s *fakeScene) AcquireDirtyMaterials() []EntityID {
	s.called("acquire-dirty-materials")
	ids := s.dirtyMaterials
	s.dirtyMaterials = nil
	return ids
}

func (s *fakeScene) AllMaterials() []EntityID { return s.allMaterials }

func (s *fakeScene) UpdateWorldTransforms() error {
	s.called("update-world-transforms")
	return nil
}

func (s *fakeScene) BuildGeometry(id EntityID) error {
	s.called("build-geometry")
	return nil
}

func (s *fakeScene) UploadTexture(id EntityID) error {
	s.called("upload-texture")
	return nil
}

func (s *fakeScene) UpdateMaterials(ids []EntityID) error {
	s.mutex.Lock()
	s.materialWorklist = ids
	s.mutex.Unlock()
	s.called("update-materials")
	return nil
}

func (s *fakeScene) BuildTLAS() error {
	s.called("build-tlas")
	return nil
}

func (s *fakeScene) UpdateInstanceBuffer() error {
	s.called("update-instance-buffer")
	return nil
}

func (s *fakeScene) UpdateEmitters() error {
	s.called("update-emitters")
	return nil
}

func (s *fakeScene) DestroyExpiredResources() error {
	s.called("destroy-expired-resources")
	return nil
}

func (s *fakeScene) UpdateActiveCamera(id EntityID) {
	s.mutex.Lock()
	s.activeCamera = id
	s.mutex.Unlock()
	s.called("update-active-camera")
}

func (s *fakeScene) ApplyCameraParameters(params *RenderParams) {
	s.called("apply-camera-parameters")
}

func (s *fakeScene) ApplyDisplayParameters(params *DisplayParams) {
	s.called("apply-display-parameters")
}

func (s *fakeScene) TLAS() device.Buffer           { return s.tlas }
func (s *fakeScene) InstanceBuffer() device.Buffer { return s.instances }
func (s *fakeScene) MaterialBuffer() device.Buffer { return s.materials }
func (s *fakeScene) EmitterBuffer() device.Buffer  { return s.emitters }
func (s *fakeScene) TextureBuffer() device.Buffer  { return s.textures }

func (s *fakeScene) UpdateRetiredResources() { s.called("update-retired-resources") }
func (s *fakeScene) DestroyResources()       { s.called("destroy-resources") }

// fakeScheduler runs each batch synchronously in slice order, which the
// builder guarantees is a valid topological order.
type fakeScheduler struct {
	errors chan JobError
	ran    [][]JobID
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{errors: make(chan JobError, 16)}
}

func (s *fakeScheduler) Run(jobs []*Job) {
	ids := make([]JobID, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID())
		if err := job.Run(); err != nil {
			s.errors <- JobError{ID: job.ID(), Role: job.Role(), Err: err}
		}
	}
	s.ran = append(s.ran, ids)
}

func (s *fakeScheduler) Errors() <-chan JobError { return s.errors }

type fakeSettings struct {
	vsync    bool
	cameraID EntityID
}

func (s *fakeSettings) PrimarySamples() uint32         { return 2 }
func (s *fakeSettings) SecondarySamples() uint32       { return 1 }
func (s *fakeSettings) MinDepth() uint32               { return 1 }
func (s *fakeSettings) MaxDepth() uint32               { return 8 }
func (s *fakeSettings) DirectRadianceClamp() float32   { return 10 }
func (s *fakeSettings) IndirectRadianceClamp() float32 { return 5 }
func (s *fakeSettings) CameraID() EntityID             { return s.cameraID }
func (s *fakeSettings) Vsync() bool                    { return s.vsync }

func newID() EntityID { return uuid.New() }
