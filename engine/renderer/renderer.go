// Package renderer drives the progressive path-traced frame loop: it decides
// which scene-update operations run each tick and in what dependency order,
// manages the in-flight frame resource ring, records and submits the per-frame
// command stream, and tracks accumulated refinement progress.
package renderer

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

const (
	// Accumulation happens in linear high-dynamic-range color.
	renderBufferFormat = device.FormatRGBA32Float

	descriptorPoolCapacity = 1024
	minConcurrentFrames    = 2
)

type swapchainTarget struct {
	image       device.Image
	framebuffer device.Framebuffer
}

type Renderer struct {
	dev       device.Device
	scene     SceneManager
	scheduler JobScheduler
	settings  Settings

	dirty   *DirtyTracker
	builder *JobGraphBuilder

	ring                *FrameRing
	frameCommandPool    device.CommandPool
	frameDescriptorPool device.DescriptorPool
	queryPool           device.QueryPool
	displaySampler      device.Sampler
	textureSampler      device.Sampler
	displayRenderPass   device.RenderPass
	displayPipeline     device.Pipeline
	tracePipeline       device.Pipeline

	renderingFinished    device.Semaphore
	presentationFinished device.Semaphore

	surfaceFormat device.Format

	swapchain        device.Swapchain
	swapchainExtent  device.Extent
	swapchainTargets []swapchainTarget

	renderBufferExtent device.Extent
	renderBuffersReady bool

	// Guards the last-produced buffer handles read by the grab/export path.
	surfaceLock        sync.RWMutex
	lastRenderBuffer   device.Image
	lastSwapchainImage device.Image

	paramsLock    sync.Mutex
	renderParams  RenderParams
	displayParams DisplayParams

	// Progress and timing state, guarded for concurrent statistics reads.
	timingsLock               sync.RWMutex
	hostTimeAverage           rollingAverage
	deviceTimeAverage         rollingAverage
	frameNumber               uint64
	progressStart             time.Time
	clearPreviousRenderBuffer bool

	initialized bool
}

func New(dev device.Device, scene SceneManager, scheduler JobScheduler, settings Settings) *Renderer {
	r := &Renderer{
		dev:       dev,
		scene:     scene,
		scheduler: scheduler,
		settings:  settings,
		dirty:     NewDirtyTracker(),
	}
	r.builder = NewJobGraphBuilder(scene, r.updateActiveCamera, r.refreshRenderParameters)
	return r
}

// MarkDirty accumulates a change notification. Safe to call from any
// goroutine at any time.
func (r *Renderer) MarkDirty(flags DirtyFlag) {
	r.dirty.MarkDirty(flags)
}

// NumConcurrentFrames is the depth of the frame resource ring.
func (r *Renderer) NumConcurrentFrames() int {
	return r.ring.Len()
}

// Initialize creates the frame ring and all per-frame GPU resources. The
// swapchain and render targets are created lazily by the first tick's surface
// size query.
func (r *Renderer) Initialize() error {
	caps, err := r.dev.SurfaceCapabilities()
	if err != nil {
		core.LogError("failed to query surface capabilities: %s", err)
		return err
	}
	r.surfaceFormat = caps.Format

	numConcurrentFrames := int(caps.MinImageCount)
	if numConcurrentFrames < minConcurrentFrames {
		numConcurrentFrames = minConcurrentFrames
	}
	r.ring = NewFrameRing(numConcurrentFrames)

	if err := r.createResources(); err != nil {
		return err
	}

	r.ResetRenderProgress()
	r.initialized = true

	core.LogInfo("renderer initialized with %d concurrent frames", numConcurrentFrames)
	return nil
}

func (r *Renderer) createResources() error {
	var err error

	if r.renderingFinished, err = r.dev.CreateSemaphore(); err != nil {
		return fmt.Errorf("failed to create rendering-finished semaphore: %w", err)
	}
	if r.presentationFinished, err = r.dev.CreateSemaphore(); err != nil {
		return fmt.Errorf("failed to create presentation-finished semaphore: %w", err)
	}

	if r.frameCommandPool, err = r.dev.CreateCommandPool(); err != nil {
		return fmt.Errorf("failed to create frame command pool: %w", err)
	}
	commandBuffers, err := r.dev.AllocateCommandBuffers(r.frameCommandPool, r.ring.Len())
	if err != nil {
		return fmt.Errorf("failed to allocate frame command buffers: %w", err)
	}
	for i, slot := range r.ring.Slots() {
		slot.CommandBuffer = commandBuffers[i]
		// Created unsignaled: submission requires an unsignaled fence, and
		// WaitRetire only waits on slots that actually submitted.
		if slot.Fence, err = r.dev.CreateFence(false); err != nil {
			return fmt.Errorf("failed to create frame fence: %w", err)
		}
	}

	if r.frameDescriptorPool, err = r.dev.CreateDescriptorPool(descriptorPoolCapacity); err != nil {
		return fmt.Errorf("failed to create frame descriptor pool: %w", err)
	}
	descriptorSets, err := r.dev.AllocateDescriptorSets(r.frameDescriptorPool, r.ring.Len())
	if err != nil {
		return fmt.Errorf("failed to allocate frame descriptor sets: %w", err)
	}
	for i, slot := range r.ring.Slots() {
		slot.DisplaySet = descriptorSets[2*i]
		slot.RenderSet = descriptorSets[2*i+1]
	}

	// Two timestamps per slot: start and end of frame.
	if r.queryPool, err = r.dev.CreateQueryPool(uint32(2 * r.ring.Len())); err != nil {
		return fmt.Errorf("failed to create timestamp query pool: %w", err)
	}

	if r.displaySampler, err = r.dev.CreateSampler(device.FilterNearest); err != nil {
		return fmt.Errorf("failed to create display sampler: %w", err)
	}
	if r.textureSampler, err = r.dev.CreateSampler(device.FilterLinear); err != nil {
		return fmt.Errorf("failed to create texture sampler: %w", err)
	}

	if r.displayRenderPass, err = r.dev.CreateRenderPass(r.surfaceFormat); err != nil {
		return fmt.Errorf("failed to create display render pass: %w", err)
	}
	if r.displayPipeline, err = r.dev.CreateDisplayPipeline(r.displayRenderPass, r.displaySampler); err != nil {
		return fmt.Errorf("failed to create display pipeline: %w", err)
	}
	if r.tracePipeline, err = r.dev.CreateTracePipeline(r.textureSampler); err != nil {
		return fmt.Errorf("failed to create trace pipeline: %w", err)
	}

	return nil
}

// Shutdown waits for the device to idle and releases every resource in strict
// reverse creation order: swapchain-dependent resources before the swapchain,
// render-target-dependent bindings before the render targets, pools and
// samplers last.
func (r *Renderer) Shutdown() {
	if !r.initialized {
		return
	}
	if err := r.dev.WaitIdle(); err != nil {
		core.LogWarn("device wait-idle failed during shutdown: %s", err)
	}

	if r.swapchain != nil {
		r.releaseSwapchainResources()
		r.dev.DestroySwapchain(r.swapchain)
		r.swapchain = nil
	}
	r.releaseRenderBufferResources()

	r.dev.DestroyPipeline(r.tracePipeline)
	r.dev.DestroyPipeline(r.displayPipeline)
	r.dev.DestroyRenderPass(r.displayRenderPass)
	r.dev.DestroySampler(r.textureSampler)
	r.dev.DestroySampler(r.displaySampler)
	r.dev.DestroyQueryPool(r.queryPool)
	for _, slot := range r.ring.Slots() {
		r.dev.DestroyFence(slot.Fence)
	}
	r.dev.DestroyDescriptorPool(r.frameDescriptorPool)
	r.dev.DestroyCommandPool(r.frameCommandPool)
	r.dev.DestroySemaphore(r.presentationFinished)
	r.dev.DestroySemaphore(r.renderingFinished)

	r.scene.DestroyResources()
	r.initialized = false
}

// Tick runs one orchestrator cycle: drain last tick's job failures, consume
// the dirty set, build and hand off the update job graph, then execute the
// frame.
func (r *Renderer) Tick() {
	r.drainJobErrors()

	dirty := r.dirty.ConsumeAndClear()
	if dirty != NoneDirty {
		r.ResetRenderProgress()
	}

	jobs := r.builder.Build(dirty)
	r.scheduler.Run(jobs)

	r.renderFrame()
}

// drainJobErrors re-marks the category of every failed update job so the work
// is retried on a later tick rather than leaving stale GPU state behind.
func (r *Renderer) drainJobErrors() {
	for {
		select {
		case jobErr := <-r.scheduler.Errors():
			core.LogError("update job %s failed: %s", jobErr.ID, jobErr.Err)
			if category := jobErr.Role.DirtyCategory(); category != NoneDirty {
				r.dirty.MarkDirty(category)
			}
		default:
			return
		}
	}
}

func (r *Renderer) updateActiveCamera() {
	r.scene.UpdateActiveCamera(r.settings.CameraID())
}

// refreshRenderParameters re-derives the camera-dependent portion of the
// per-frame parameter block. Runs as an update job, potentially concurrent
// with the tick's own beginRenderIteration.
func (r *Renderer) refreshRenderParameters() error {
	r.paramsLock.Lock()
	defer r.paramsLock.Unlock()
	r.scene.ApplyCameraParameters(&r.renderParams)
	r.scene.ApplyDisplayParameters(&r.displayParams)
	return nil
}

// beginRenderIteration advances the refinement frame counter and snapshots
// the settings into the parameter block.
func (r *Renderer) beginRenderIteration() (RenderParams, DisplayParams) {
	r.timingsLock.Lock()
	r.frameNumber++
	frameNumber := r.frameNumber
	r.timingsLock.Unlock()

	r.paramsLock.Lock()
	defer r.paramsLock.Unlock()
	r.renderParams.NumPrimarySamples = r.settings.PrimarySamples()
	r.renderParams.NumSecondarySamples = r.settings.SecondarySamples()
	r.renderParams.MinDepth = r.settings.MinDepth()
	r.renderParams.MaxDepth = r.settings.MaxDepth()
	r.renderParams.DirectRadianceClamp = r.settings.DirectRadianceClamp()
	r.renderParams.IndirectRadianceClamp = r.settings.IndirectRadianceClamp()
	r.renderParams.FrameNumber = uint32(frameNumber)
	r.renderParams.NumEmitters = r.scene.NumEmitters()
	return r.renderParams, r.displayParams
}

// renderFrame records, submits and presents one frame. Frames are never
// skipped entirely once initialized: even when the scene is not ready to
// render, the clear/transition/presentation machinery still runs against the
// last valid render target contents.
func (r *Renderer) renderFrame() {
	r.resizeSwapchain()

	frameStart := time.Now()

	currentQueryIndex := uint32(2 * r.ring.CurrentIndex())
	previousQueryIndex := uint32(2 * r.ring.PreviousIndex())

	current := r.ring.Current()
	previous := r.ring.Previous()

	// Admission control: the CPU runs at most N-1 frames ahead. The slot's
	// fence (from its use N submissions ago) gates any reuse of its
	// resources.
	if err := current.WaitRetire(r.dev); err != nil {
		core.LogError("frame slot retirement failed: %s", err)
		r.ring.Advance()
		return
	}

	r.scene.UpdateRetiredResources()

	// Until the first surface size arrives there are no render targets to
	// transition or trace into. The ring still advances below the early
	// return, keeping the fence-wait schedule deterministic.
	if r.renderBufferExtent.IsZero() {
		r.ring.Advance()
		return
	}

	readyToRender := r.scene.IsReadyToRender()
	var renderParams RenderParams
	var displayParams DisplayParams
	if readyToRender {
		renderParams, displayParams = r.beginRenderIteration()

		r.dev.WriteDescriptors([]device.DescriptorWrite{
			{Set: current.RenderSet, Binding: device.BindingTLAS, Buffer: r.scene.TLAS()},
			{Set: current.RenderSet, Binding: device.BindingInstances, Buffer: r.scene.InstanceBuffer()},
			{Set: current.RenderSet, Binding: device.BindingMaterials, Buffer: r.scene.MaterialBuffer()},
			{Set: current.RenderSet, Binding: device.BindingEmitters, Buffer: r.scene.EmitterBuffer()},
			{Set: current.RenderSet, Binding: device.BindingTextures, Buffer: r.scene.TextureBuffer()},
		})
	}

	if err := current.BeginRecording(); err != nil {
		core.LogError("cannot record frame: %s", err)
		r.ring.Advance()
		return
	}

	cb := current.CommandBuffer
	if err := cb.Begin(); err != nil {
		core.LogError("failed to begin frame command buffer: %s", err)
		r.ring.Advance()
		return
	}

	cb.ResetQueryPool(r.queryPool, currentQueryIndex, 2)
	cb.WriteTimestamp(r.queryPool, currentQueryIndex)

	clearPrevious := r.consumeClearPreviousFlag()

	if !r.renderBuffersReady {
		// First use after (re)creation: all render targets leave the
		// undefined state together. The slot about to be cleared goes to
		// copy-dest, the rest straight to shader-read-write.
		transitions := make([]device.ImageTransition, r.ring.Len())
		for i, slot := range r.ring.Slots() {
			to := device.ImageStateShaderReadWrite
			if clearPrevious && i == r.ring.PreviousIndex() {
				to = device.ImageStateCopyDest
			}
			transitions[i] = device.ImageTransition{Image: slot.RenderTarget, From: device.ImageStateUndefined, To: to}
		}
		if err := cb.Barrier(transitions...); err != nil {
			core.LogError("render target first-use transition failed: %s", err)
		}
		if clearPrevious {
			cb.ClearColorImage(previous.RenderTarget, device.ImageStateCopyDest)
			if err := cb.Barrier(device.ImageTransition{Image: previous.RenderTarget, From: device.ImageStateCopyDest, To: device.ImageStateShaderReadWrite}); err != nil {
				core.LogError("render target clear transition failed: %s", err)
			}
		}
		r.renderBuffersReady = true
	} else if clearPrevious {
		// Accumulation reset without stalling the pipeline: wipe the
		// previous slot's target, which the current trace reads as its
		// accumulation source.
		if err := cb.Barrier(device.ImageTransition{Image: previous.RenderTarget, From: device.ImageStateUndefined, To: device.ImageStateCopyDest}); err != nil {
			core.LogError("render target clear transition failed: %s", err)
		}
		cb.ClearColorImage(previous.RenderTarget, device.ImageStateCopyDest)
		if err := cb.Barrier(device.ImageTransition{Image: previous.RenderTarget, From: device.ImageStateCopyDest, To: device.ImageStateShaderReadWrite}); err != nil {
			core.LogError("render target clear transition failed: %s", err)
		}
	}

	if readyToRender {
		cb.BindTracePipeline(r.tracePipeline, current.RenderSet)
		cb.PushConstants(r.tracePipeline, &renderParams)
		cb.TraceRays(r.renderBufferExtent.Width, r.renderBufferExtent.Height)

		r.surfaceLock.Lock()
		r.lastRenderBuffer = current.RenderTarget
		r.surfaceLock.Unlock()
	}

	if err := cb.Barrier(device.ImageTransition{Image: current.RenderTarget, From: device.ImageStateShaderReadWrite, To: device.ImageStateShaderRead}); err != nil {
		core.LogError("render target read transition failed: %s", err)
	}

	swapchainImageIndex := uint32(0)
	presentable := false
	if r.swapchain != nil && !r.swapchainExtent.IsZero() {
		if index, ok := r.acquireNextSwapchainImage(); ok {
			swapchainImageIndex = index
			target := r.swapchainTargets[index]
			cb.BeginDisplayPass(r.displayRenderPass, target.framebuffer, r.renderBufferExtent)
			cb.BindDisplayPipeline(r.displayPipeline, current.DisplaySet)
			cb.PushConstants(r.displayPipeline, &displayParams)
			cb.Draw(3, 1)
			cb.EndDisplayPass()

			r.surfaceLock.Lock()
			r.lastSwapchainImage = target.image
			r.surfaceLock.Unlock()
			presentable = true
		}
	}

	if err := cb.Barrier(device.ImageTransition{Image: current.RenderTarget, From: device.ImageStateShaderRead, To: device.ImageStateShaderReadWrite}); err != nil {
		core.LogError("render target write transition failed: %s", err)
	}
	cb.WriteTimestamp(r.queryPool, currentQueryIndex+1)

	if err := cb.End(); err != nil {
		core.LogError("failed to end frame command buffer: %s", err)
		r.ring.Advance()
		return
	}

	if r.submitFrameCommands(current, presentable) {
		if presentable {
			r.presentSwapchainImage(swapchainImageIndex)
		}
	} else {
		core.LogWarn("failed to submit frame commands to the graphics queue")
	}

	// The ring advances every tick no matter what happened, keeping the
	// fence-wait schedule deterministic.
	r.ring.Advance()

	// The previous frame's timestamps may legitimately still be unavailable;
	// a negative result is skipped by the timing accumulator.
	gpuTimeMs := r.dev.TimeElapsed(r.queryPool, previousQueryIndex, true)
	r.updateFrameTimings(float64(time.Since(frameStart).Nanoseconds())*1e-6, gpuTimeMs)
}

func (r *Renderer) consumeClearPreviousFlag() bool {
	r.timingsLock.Lock()
	defer r.timingsLock.Unlock()
	pending := r.clearPreviousRenderBuffer
	r.clearPreviousRenderBuffer = false
	return pending
}

func (r *Renderer) submitFrameCommands(slot *FrameSlot, presentable bool) bool {
	info := device.SubmitInfo{Fence: slot.Fence}
	if presentable {
		info.Wait = r.presentationFinished
		info.Signal = r.renderingFinished
	}
	if err := r.dev.Submit(slot.CommandBuffer, info); err != nil {
		core.LogError("failed to submit frame commands: %s", err)
		return false
	}
	slot.MarkSubmitted()
	return true
}
