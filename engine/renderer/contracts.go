package renderer

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

type EntityID = uuid.UUID

// SceneManager owns the GPU-resident scene state the renderer traces against.
// All mutating operations are invoked through update jobs; the accessors are
// read by the orchestrator once per tick.
type SceneManager interface {
	// IsReadyToRender attests that the scene buffers are in a consistent,
	// traceable state.
	IsReadyToRender() bool
	Renderables() []EntityID
	// GatherEntities re-walks the scene graph and refreshes the renderable
	// entity list.
	GatherEntities()
	NumEmitters() uint32

	// Dirty-entity acquisition. Acquire methods return the dirty entity ids
	// and clear the per-entity dirty marks.
	AcquireDirtyGeometry() []EntityID
	AcquireDirtyTextures() []EntityID
	AcquireDirtyMaterials() []EntityID
	AllMaterials() []EntityID

	// Update operations executed by the job scheduler.
	UpdateWorldTransforms() error
	BuildGeometry(id EntityID) error
	UploadTexture(id EntityID) error
	UpdateMaterials(ids []EntityID) error
	BuildTLAS() error
	UpdateInstanceBuffer() error
	UpdateEmitters() error
	DestroyExpiredResources() error

	// UpdateActiveCamera re-resolves the active camera entity from the
	// current scene root.
	UpdateActiveCamera(id EntityID)
	// ApplyCameraParameters fills the camera basis of the per-frame
	// parameter block from the active camera.
	ApplyCameraParameters(params *RenderParams)
	ApplyDisplayParameters(params *DisplayParams)

	// GPU handles consumed by the per-frame descriptor writes.
	TLAS() device.Buffer
	InstanceBuffer() device.Buffer
	MaterialBuffer() device.Buffer
	EmitterBuffer() device.Buffer
	TextureBuffer() device.Buffer

	// UpdateRetiredResources reclaims GPU memory no longer referenced by any
	// in-flight frame. Called once per tick before recording.
	UpdateRetiredResources()
	DestroyResources()
}

// JobScheduler executes update jobs in parallel, honoring the dependency
// edges declared on each job. Errors surface on the scheduler's own channel;
// the orchestrator drains it each tick.
type JobScheduler interface {
	Run(jobs []*Job)
	Errors() <-chan JobError
}

type JobError struct {
	ID   JobID
	Role JobRole
	Err  error
}

// Settings exposes the render parameters provided by the application.
type Settings interface {
	PrimarySamples() uint32
	SecondarySamples() uint32
	MinDepth() uint32
	MaxDepth() uint32
	DirectRadianceClamp() float32
	IndirectRadianceClamp() float32
	CameraID() EntityID
	Vsync() bool
}

// RenderParams is the per-frame parameter block pushed to the trace dispatch.
type RenderParams struct {
	FrameNumber           uint32
	NumPrimarySamples     uint32
	NumSecondarySamples   uint32
	MinDepth              uint32
	MaxDepth              uint32
	NumEmitters           uint32
	DirectRadianceClamp   float32
	IndirectRadianceClamp float32
	CameraPosition        [4]float32
	CameraRight           [4]float32
	CameraUp              [4]float32
	CameraForward         [4]float32
}

// DisplayParams parameterizes the presentation blit.
type DisplayParams struct {
	Exposure float32
	Gamma    float32
}
