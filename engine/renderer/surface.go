package renderer

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// resizeSwapchain reconciles the presentable-image chain with the current
// surface size, once per tick before recording. The render targets follow the
// surface size, so a surface resize also rebuilds the frame ring's render
// buffers and resets accumulation.
func (r *Renderer) resizeSwapchain() {
	extent, err := r.dev.SurfaceExtent()
	if err != nil {
		core.LogWarn("failed to retrieve current surface size: %s", err)
		return
	}

	if extent == r.swapchainExtent {
		return
	}

	// Swapchain images may still be referenced by in-flight frames.
	if err := r.dev.WaitIdle(); err != nil {
		core.LogWarn("device wait-idle failed before swapchain resize: %s", err)
		return
	}

	if r.swapchain != nil {
		r.releaseSwapchainResources()
	}

	if extent.IsZero() {
		// Degenerate surface (e.g. minimized window): tear the chain down
		// entirely and skip presentation until the surface becomes valid.
		if r.swapchain != nil {
			r.dev.DestroySwapchain(r.swapchain)
			r.swapchain = nil
		}
		return
	}

	newSwapchain, err := r.dev.CreateSwapchain(extent, uint32(r.ring.Len()), r.settings.Vsync(), r.swapchain)
	if err != nil {
		core.LogWarn("failed to resize swapchain: %s", err)
		return
	}
	if r.swapchain != nil {
		r.dev.DestroySwapchain(r.swapchain)
	}
	r.swapchain = newSwapchain

	if err := r.createSwapchainResources(extent); err != nil {
		core.LogWarn("failed to create swapchain resources: %s", err)
		return
	}

	if r.swapchainExtent != r.renderBufferExtent {
		r.releaseRenderBufferResources()
		if err := r.createRenderBufferResources(r.swapchainExtent); err != nil {
			core.LogError("failed to create render buffers: %s", err)
		}
	}
}

func (r *Renderer) createSwapchainResources(extent device.Extent) error {
	images, err := r.dev.SwapchainImages(r.swapchain)
	if err != nil {
		return err
	}

	r.swapchainTargets = make([]swapchainTarget, len(images))
	for i, image := range images {
		framebuffer, err := r.dev.CreateFramebuffer(r.displayRenderPass, image, extent)
		if err != nil {
			return err
		}
		r.swapchainTargets[i] = swapchainTarget{image: image, framebuffer: framebuffer}
	}

	r.swapchainExtent = extent
	return nil
}

func (r *Renderer) releaseSwapchainResources() {
	for _, target := range r.swapchainTargets {
		r.dev.DestroyFramebuffer(target.framebuffer)
	}
	r.swapchainTargets = nil

	r.surfaceLock.Lock()
	r.lastSwapchainImage = nil
	r.surfaceLock.Unlock()

	r.swapchainExtent = device.Extent{}
}

// createRenderBufferResources allocates one accumulation target per frame
// slot and rebinds all display/render descriptor sets. Each slot's render set
// also binds the previous slot's target, which the trace reads for temporal
// accumulation.
func (r *Renderer) createRenderBufferResources(extent device.Extent) error {
	for _, slot := range r.ring.Slots() {
		image, err := r.dev.CreateImage(device.ImageInfo{
			Extent:  extent,
			Format:  renderBufferFormat,
			Storage: true,
		})
		if err != nil {
			return err
		}
		slot.RenderTarget = image
	}

	previous := r.ring.Slot(r.ring.Len() - 1)
	var writes []device.DescriptorWrite
	for _, slot := range r.ring.Slots() {
		writes = append(writes,
			device.DescriptorWrite{Set: slot.DisplaySet, Binding: device.BindingDisplayBuffer, Image: slot.RenderTarget, ImageState: device.ImageStateShaderRead},
			device.DescriptorWrite{Set: slot.RenderSet, Binding: device.BindingRenderBuffer, Image: slot.RenderTarget, ImageState: device.ImageStateShaderReadWrite},
			device.DescriptorWrite{Set: slot.RenderSet, Binding: device.BindingPrevRenderBuffer, Image: previous.RenderTarget, ImageState: device.ImageStateShaderReadWrite},
		)
		previous = slot
	}
	r.dev.WriteDescriptors(writes)

	r.renderBufferExtent = extent
	// A render-target resize invalidates every accumulated sample.
	r.ResetRenderProgress()
	return nil
}

func (r *Renderer) releaseRenderBufferResources() {
	for _, slot := range r.ring.Slots() {
		if slot.RenderTarget != nil {
			r.dev.DestroyImage(slot.RenderTarget)
			slot.RenderTarget = nil
		}
	}
	r.renderBufferExtent = device.Extent{}
	r.renderBuffersReady = false

	r.surfaceLock.Lock()
	r.lastRenderBuffer = nil
	r.surfaceLock.Unlock()
}

// acquireNextSwapchainImage attempts a non-blocking-from-the-orchestrator
// acquire. Suboptimal is tolerated; the resize is detected next tick.
func (r *Renderer) acquireNextSwapchainImage() (uint32, bool) {
	index, result := r.dev.AcquireNextImage(r.swapchain, r.presentationFinished)
	switch result {
	case device.AcquireSuccess, device.AcquireSuboptimal:
		return index, true
	case device.AcquireOutOfDate:
		core.LogDebug("swapchain out of date on acquire; resize pending")
		return 0, false
	default:
		core.LogError("failed to acquire next swapchain image")
		return 0, false
	}
}

// presentSwapchainImage queues the rendered image for presentation. Failures
// other than out-of-date are logged; none tear down state.
func (r *Renderer) presentSwapchainImage(imageIndex uint32) {
	switch r.dev.Present(r.swapchain, imageIndex, r.renderingFinished) {
	case device.PresentSuccess, device.PresentSuboptimal:
	case device.PresentOutOfDate:
		core.LogDebug("swapchain out of date on present; resize pending")
	default:
		core.LogError("failed to queue swapchain image for presentation")
	}
}
