// Package scene owns the GPU-resident scene state: entities, geometry,
// materials, textures and emitters, plus the packed buffers the trace
// dispatch reads. Mutations happen through the renderer's update jobs.
package scene

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/device"
)

type retiredBuffer struct {
	buffer device.Buffer
	frame  uint64
}

// Manager implements the renderer's SceneManager contract.
type Manager struct {
	dev            device.Device
	framesInFlight int

	mutex    sync.RWMutex
	root     *Entity
	entities map[uuid.UUID]*Entity

	materials     map[uuid.UUID]*Material
	materialOrder []uuid.UUID
	textures      map[uuid.UUID]*Texture
	textureOrder  []uuid.UUID
	renderables   []renderer.EntityID
	activeCamera  *Camera
	numEmitters   uint32

	dirtyGeometry  map[uuid.UUID]struct{}
	dirtyTextures  map[uuid.UUID]struct{}
	dirtyMaterials map[uuid.UUID]struct{}

	geometryBuffers map[uuid.UUID]device.Buffer
	texturePixels   map[uuid.UUID][]byte
	tlasBuffer      device.Buffer
	instanceBuffer  device.Buffer
	materialBuffer  device.Buffer
	emitterBuffer   device.Buffer
	textureBuffer   device.Buffer

	frameCounter uint64
	retired      []retiredBuffer
}

func NewManager(dev device.Device, framesInFlight int) *Manager {
	return &Manager{
		dev:             dev,
		framesInFlight:  framesInFlight,
		entities:        make(map[uuid.UUID]*Entity),
		materials:       make(map[uuid.UUID]*Material),
		textures:        make(map[uuid.UUID]*Texture),
		dirtyGeometry:   make(map[uuid.UUID]struct{}),
		dirtyTextures:   make(map[uuid.UUID]struct{}),
		dirtyMaterials:  make(map[uuid.UUID]struct{}),
		geometryBuffers: make(map[uuid.UUID]device.Buffer),
		texturePixels:   make(map[uuid.UUID][]byte),
	}
}

// SetRoot installs the scene graph root. The caller is responsible for
// marking the relevant dirty categories on the renderer.
func (m *Manager) SetRoot(root *Entity) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.root = root
}

func (m *Manager) RegisterMaterial(material *Material) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.materials[material.ID]; !exists {
		m.materialOrder = append(m.materialOrder, material.ID)
	}
	m.materials[material.ID] = material
	m.dirtyMaterials[material.ID] = struct{}{}
}

func (m *Manager) RegisterTexture(texture *Texture) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.textures[texture.ID]; !exists {
		m.textureOrder = append(m.textureOrder, texture.ID)
	}
	m.textures[texture.ID] = texture
	m.dirtyTextures[texture.ID] = struct{}{}
}

func (m *Manager) MarkGeometryDirty(id uuid.UUID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dirtyGeometry[id] = struct{}{}
}

func (m *Manager) MarkTextureDirty(id uuid.UUID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dirtyTextures[id] = struct{}{}
}

func (m *Manager) MarkMaterialDirty(id uuid.UUID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dirtyMaterials[id] = struct{}{}
}

// IsReadyToRender attests that every packed buffer the trace dispatch binds
// exists and that all renderable geometry has been built.
func (m *Manager) IsReadyToRender() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.renderables) == 0 {
		return false
	}
	if m.tlasBuffer == nil || m.instanceBuffer == nil || m.materialBuffer == nil || m.emitterBuffer == nil || m.textureBuffer == nil {
		return false
	}
	for _, id := range m.renderables {
		entity := m.entities[id]
		if entity == nil || entity.Geometry == nil || !entity.Geometry.built {
			return false
		}
	}
	return true
}

func (m *Manager) Renderables() []renderer.EntityID {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]renderer.EntityID, len(m.renderables))
	copy(out, m.renderables)
	return out
}

// GatherEntities re-walks the scene graph and refreshes the entity index and
// the renderable list.
func (m *Manager) GatherEntities() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	clear(m.entities)
	m.renderables = m.renderables[:0]
	if m.root == nil {
		return
	}
	m.gather(m.root)
}

func (m *Manager) gather(entity *Entity) {
	m.entities[entity.ID] = entity
	if entity.Geometry != nil {
		m.renderables = append(m.renderables, entity.ID)
	}
	for _, child := range entity.Children {
		m.gather(child)
	}
}

func (m *Manager) NumEmitters() uint32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.numEmitters
}

func acquire(set map[uuid.UUID]struct{}) []renderer.EntityID {
	ids := make([]renderer.EntityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	clear(set)
	return ids
}

func (m *Manager) AcquireDirtyGeometry() []renderer.EntityID {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return acquire(m.dirtyGeometry)
}

func (m *Manager) AcquireDirtyTextures() []renderer.EntityID {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return acquire(m.dirtyTextures)
}

func (m *Manager) AcquireDirtyMaterials() []renderer.EntityID {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return acquire(m.dirtyMaterials)
}

func (m *Manager) AllMaterials() []renderer.EntityID {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]renderer.EntityID, len(m.materialOrder))
	copy(out, m.materialOrder)
	return out
}

// UpdateWorldTransforms recomputes every entity's world matrix from the
// scene graph root down.
func (m *Manager) UpdateWorldTransforms() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.root == nil {
		return nil
	}
	m.updateWorld(m.root, nil)
	return nil
}

func (m *Manager) updateWorld(entity *Entity, parent *Entity) {
	local := entity.Transform.Local()
	if parent != nil {
		entity.Transform.World = parent.Transform.World.Mul(local)
	} else {
		entity.Transform.World = local
	}
	for _, child := range entity.Children {
		m.updateWorld(child, entity)
	}
}

// BuildGeometry (re)uploads one entity's geometry and builds its
// bottom-level acceleration data. The replaced buffer is retired, not
// destroyed: in-flight frames may still reference it.
func (m *Manager) BuildGeometry(id renderer.EntityID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entity := m.entities[id]
	if entity == nil || entity.Geometry == nil {
		return fmt.Errorf("build-geometry: entity %s has no geometry", id)
	}
	geometry := entity.Geometry

	size := uint64(len(geometry.Vertices)*4 + len(geometry.Indices)*4)
	if size == 0 {
		return fmt.Errorf("build-geometry: entity %s has empty geometry", id)
	}

	buffer, err := m.dev.CreateBuffer(device.BufferInfo{Size: size, Usage: device.BufferUsageStorage})
	if err != nil {
		return fmt.Errorf("build-geometry: %w", err)
	}
	if buffer.HostAccessible() {
		var packed bytes.Buffer
		packBinary(&packed, geometry.Vertices)
		packBinary(&packed, geometry.Indices)
		copy(buffer.Bytes(), packed.Bytes())
	}

	if old, ok := m.geometryBuffers[id]; ok {
		m.retireLocked(old)
	}
	m.geometryBuffers[id] = buffer
	geometry.generation++
	geometry.built = true
	return nil
}

// UpdateMaterials re-packs the given materials into the material buffer.
// The work list is decided by the job graph builder: dirty materials only,
// or every material when a texture changed.
func (m *Manager) UpdateMaterials(ids []renderer.EntityID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	touched := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := m.materials[id]; !ok {
			return fmt.Errorf("update-materials: unknown material %s", id)
		}
		touched[id] = struct{}{}
	}

	// The buffer holds every registered material in stable registration
	// order; instance records index into it.
	var packed bytes.Buffer
	for _, id := range m.materialOrder {
		material := m.materials[id]
		packBinary(&packed, [4]float32{material.BaseColor.X, material.BaseColor.Y, material.BaseColor.Z, material.BaseColor.W})
		packBinary(&packed, [4]float32{material.Emission.X, material.Emission.Y, material.Emission.Z, material.Emission.W})
		packBinary(&packed, material.Roughness)
		packBinary(&packed, material.Metalness)
		packBinary(&packed, m.textureIndexLocked(material.Texture))
		packBinary(&packed, uint32(0)) // padding to 16-byte stride
	}
	buffer, err := m.replaceBufferLocked(m.materialBuffer, packed.Bytes())
	if err != nil {
		return fmt.Errorf("update-materials: %w", err)
	}
	m.materialBuffer = buffer

	// The trace dispatch binds the texture table alongside the materials, so
	// a scene without textures still materializes an empty table.
	if m.textureBuffer == nil {
		if err := m.rebuildTextureTableLocked(); err != nil {
			return fmt.Errorf("update-materials: %w", err)
		}
	}
	return nil
}

// BuildTLAS rebuilds the top-level acceleration structure over the current
// renderable instances.
func (m *Manager) BuildTLAS() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var packed bytes.Buffer
	for _, id := range m.renderables {
		entity := m.entities[id]
		if entity == nil || entity.Geometry == nil || !entity.Geometry.built {
			return fmt.Errorf("build-tlas: geometry for entity %s not built", id)
		}
		packBinary(&packed, entity.Transform.World.Data)
		packBinary(&packed, entity.Geometry.generation)
		packBinary(&packed, uint32(len(entity.Geometry.Indices)/3))
		packBinary(&packed, [2]uint32{}) // padding
	}
	buffer, err := m.replaceBufferLocked(m.tlasBuffer, packed.Bytes())
	if err != nil {
		return fmt.Errorf("build-tlas: %w", err)
	}
	m.tlasBuffer = buffer
	return nil
}

// UpdateInstanceBuffer re-packs per-instance records: world transform plus
// geometry and material indices.
func (m *Manager) UpdateInstanceBuffer() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var packed bytes.Buffer
	for index, id := range m.renderables {
		entity := m.entities[id]
		if entity == nil {
			continue
		}
		packBinary(&packed, entity.Transform.World.Data)
		packBinary(&packed, uint32(index))
		packBinary(&packed, m.materialIndexLocked(entity.Material))
		packBinary(&packed, [2]uint32{}) // padding
	}
	buffer, err := m.replaceBufferLocked(m.instanceBuffer, packed.Bytes())
	if err != nil {
		return fmt.Errorf("update-instance-buffer: %w", err)
	}
	m.instanceBuffer = buffer
	return nil
}

// UpdateEmitters gathers every emissive entity (lights and emissive
// materials) into the emitter buffer.
func (m *Manager) UpdateEmitters() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var packed bytes.Buffer
	var count uint32
	for _, entity := range m.entities {
		var radiance [4]float32
		switch {
		case entity.Light != nil:
			radiance = [4]float32{entity.Light.Radiance.X, entity.Light.Radiance.Y, entity.Light.Radiance.Z, 1}
		case m.isEmissiveLocked(entity.Material):
			material := m.materials[entity.Material]
			radiance = [4]float32{material.Emission.X, material.Emission.Y, material.Emission.Z, 1}
		default:
			continue
		}
		packBinary(&packed, [4]float32{entity.Transform.World.Data[12], entity.Transform.World.Data[13], entity.Transform.World.Data[14], 1})
		packBinary(&packed, radiance)
		count++
	}

	buffer, err := m.replaceBufferLocked(m.emitterBuffer, packed.Bytes())
	if err != nil {
		return fmt.Errorf("update-emitters: %w", err)
	}
	m.emitterBuffer = buffer
	m.numEmitters = count
	return nil
}

// DestroyExpiredResources frees retired buffers that no in-flight frame can
// reference anymore.
func (m *Manager) DestroyExpiredResources() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	kept := m.retired[:0]
	for _, entry := range m.retired {
		if m.frameCounter-entry.frame >= uint64(m.framesInFlight) {
			m.dev.DestroyBuffer(entry.buffer)
		} else {
			kept = append(kept, entry)
		}
	}
	m.retired = kept
	return nil
}

// UpdateRetiredResources advances the reclamation clock. Called once per
// tick by the orchestrator, before recording.
func (m *Manager) UpdateRetiredResources() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.frameCounter++
}

func (m *Manager) UpdateActiveCamera(id renderer.EntityID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entity := m.entities[id]
	if entity == nil || entity.Camera == nil {
		core.LogWarn("cannot activate camera: entity %s is not a camera", id)
		return
	}
	m.activeCamera = entity.Camera
}

func (m *Manager) ApplyCameraParameters(params *renderer.RenderParams) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.activeCamera == nil {
		return
	}
	camera := m.activeCamera
	right, up, forward := camera.Basis()
	params.CameraPosition = [4]float32{camera.Position.X, camera.Position.Y, camera.Position.Z, 1}
	params.CameraRight = [4]float32{right.X, right.Y, right.Z, 0}
	params.CameraUp = [4]float32{up.X, up.Y, up.Z, camera.FovY}
	params.CameraForward = [4]float32{forward.X, forward.Y, forward.Z, 0}
}

func (m *Manager) ApplyDisplayParameters(params *renderer.DisplayParams) {
	if params.Exposure == 0 {
		params.Exposure = 1
	}
	if params.Gamma == 0 {
		params.Gamma = 2.2
	}
}

func (m *Manager) TLAS() device.Buffer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.tlasBuffer
}

func (m *Manager) InstanceBuffer() device.Buffer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.instanceBuffer
}

func (m *Manager) MaterialBuffer() device.Buffer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.materialBuffer
}

func (m *Manager) EmitterBuffer() device.Buffer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.emitterBuffer
}

func (m *Manager) TextureBuffer() device.Buffer {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.textureBuffer
}

// DestroyResources releases everything the manager owns. Called during
// renderer shutdown, after the device has idled.
func (m *Manager) DestroyResources() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, entry := range m.retired {
		m.dev.DestroyBuffer(entry.buffer)
	}
	m.retired = nil

	for id, buffer := range m.geometryBuffers {
		m.dev.DestroyBuffer(buffer)
		delete(m.geometryBuffers, id)
	}
	for _, buffer := range []device.Buffer{m.tlasBuffer, m.instanceBuffer, m.materialBuffer, m.emitterBuffer, m.textureBuffer} {
		if buffer != nil {
			m.dev.DestroyBuffer(buffer)
		}
	}
	m.tlasBuffer = nil
	m.instanceBuffer = nil
	m.materialBuffer = nil
	m.emitterBuffer = nil
	m.textureBuffer = nil
}

func (m *Manager) retireLocked(buffer device.Buffer) {
	m.retired = append(m.retired, retiredBuffer{buffer: buffer, frame: m.frameCounter})
}

// replaceBufferLocked creates a buffer holding data, retiring the old one.
// An empty payload still produces a minimal valid buffer so descriptor
// writes always have something to bind.
func (m *Manager) replaceBufferLocked(old device.Buffer, data []byte) (device.Buffer, error) {
	size := uint64(len(data))
	if size == 0 {
		size = 16
	}
	buffer, err := m.dev.CreateBuffer(device.BufferInfo{Size: size, Usage: device.BufferUsageStorage})
	if err != nil {
		return nil, err
	}
	if buffer.HostAccessible() && len(data) > 0 {
		copy(buffer.Bytes(), data)
	}
	if old != nil {
		m.retireLocked(old)
	}
	return buffer, nil
}

func (m *Manager) materialIndexLocked(id uuid.UUID) uint32 {
	for index, materialID := range m.materialOrder {
		if materialID == id {
			return uint32(index)
		}
	}
	return 0
}

// textureIndexLocked resolves a texture reference to its slot in the texture
// table. Registration order keeps the index stable across re-packs.
func (m *Manager) textureIndexLocked(id uuid.UUID) uint32 {
	if id == uuid.Nil {
		return ^uint32(0)
	}
	for index, textureID := range m.textureOrder {
		if textureID == id {
			return uint32(index)
		}
	}
	return ^uint32(0)
}

func (m *Manager) isEmissiveLocked(id uuid.UUID) bool {
	material, ok := m.materials[id]
	if !ok {
		return false
	}
	return material.Emission.X > 0 || material.Emission.Y > 0 || material.Emission.Z > 0
}

func packBinary(buf *bytes.Buffer, value interface{}) {
	// Packing into an in-memory buffer cannot fail for fixed-size values.
	_ = binary.Write(buf, binary.LittleEndian, value)
}
