package renderer

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

// RenderImageKind selects which buffer an image grab reads.
type RenderImageKind int

const (
	// RenderImageAccumulation is the high-dynamic-range accumulation buffer.
	RenderImageAccumulation RenderImageKind = iota
	// RenderImageDisplay is the final presentable image after the blit pass.
	RenderImageDisplay
)

type PixelValueType int

const (
	PixelUInt8   PixelValueType = 1
	PixelFloat32 PixelValueType = 4
)

type PixelFormat int

const (
	PixelFormatRGBA PixelFormat = iota
	PixelFormatBGRA
)

// ImageData is raw pixel data copied back to host memory, plus the metadata
// needed to interpret it. An empty Data slice means the grab failed.
type ImageData struct {
	Width    int
	Height   int
	Channels int
	Type     PixelValueType
	Format   PixelFormat
	Data     []byte
}

func imageMetadata(format device.Format) (PixelValueType, PixelFormat, error) {
	switch format {
	case device.FormatRGBA8Unorm, device.FormatRGBA8Srgb:
		return PixelUInt8, PixelFormatRGBA, nil
	case device.FormatBGRA8Unorm, device.FormatBGRA8Srgb:
		return PixelUInt8, PixelFormatBGRA, nil
	case device.FormatRGBA32Float:
		return PixelFloat32, PixelFormatRGBA, nil
	}
	return 0, 0, fmt.Errorf("unsupported image format %d", format)
}

// GrabImage copies the requested buffer into host-readable memory. Fails
// gracefully with an empty result if the buffer has never been produced.
func (r *Renderer) GrabImage(kind RenderImageKind) ImageData {
	r.surfaceLock.RLock()
	var image device.Image
	var state device.ImageState
	switch kind {
	case RenderImageAccumulation:
		image = r.lastRenderBuffer
		state = device.ImageStateShaderReadWrite
	case RenderImageDisplay:
		image = r.lastSwapchainImage
		state = device.ImageStatePresentSource
	}
	r.surfaceLock.RUnlock()

	if image == nil {
		core.LogWarn("cannot grab image: buffer not ready")
		return ImageData{}
	}
	return r.grabImage(image, state)
}

func (r *Renderer) grabImage(image device.Image, state device.ImageState) ImageData {
	extent := image.Extent()

	valueType, pixelFormat, err := imageMetadata(image.Format())
	if err != nil {
		core.LogError("cannot grab image: %s", err)
		return ImageData{}
	}

	output := ImageData{
		Width:    int(extent.Width),
		Height:   int(extent.Height),
		Channels: 4,
		Type:     valueType,
		Format:   pixelFormat,
	}

	pixelSize := uint64(output.Channels) * uint64(valueType)
	stagingSize := uint64(extent.Width) * uint64(extent.Height) * pixelSize

	staging, err := r.dev.CreateBuffer(device.BufferInfo{Size: stagingSize, Usage: device.BufferUsageStaging})
	if err != nil || !staging.HostAccessible() {
		core.LogError("failed to grab image: staging buffer creation failed")
		return output
	}
	defer r.dev.DestroyBuffer(staging)

	err = r.dev.SubmitImmediate(func(cb device.CommandBuffer) error {
		if err := cb.Barrier(device.ImageTransition{Image: image, From: state, To: device.ImageStateCopySource}); err != nil {
			return err
		}
		cb.CopyImageToBuffer(image, device.ImageStateCopySource, staging, extent)
		return cb.Barrier(device.ImageTransition{Image: image, From: device.ImageStateCopySource, To: state})
	})
	if err != nil {
		core.LogError("failed to grab image: transfer operation failed: %s", err)
		return output
	}

	output.Data = make([]byte, stagingSize)
	copy(output.Data, staging.Bytes())
	return output
}
