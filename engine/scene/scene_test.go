package scene

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

func triangle() *Geometry {
	return &Geometry{
		Vertices: []float32{0, 0, 0, 1, 0, 0, 0, 1, 0},
		Indices:  []uint32{0, 1, 2},
	}
}

func readFloats(t *testing.T, data []byte, count int) []float32 {
	t.Helper()
	out := make([]float32, count)
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, out))
	return out
}

func readUint32(t *testing.T, data []byte) uint32 {
	t.Helper()
	var v uint32
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, &v))
	return v
}

func TestGatherEntitiesFindsRenderables(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	root := NewEntity("root")
	mesh := NewEntity("mesh")
	mesh.Geometry = triangle()
	camera := NewEntity("camera")
	camera.Camera = &Camera{Position: math.Vec3{Z: 5}, Up: math.Vec3{Y: 1}}
	nested := NewEntity("nested")
	nested.Geometry = triangle()
	camera.Children = append(camera.Children, nested)
	root.Children = append(root.Children, mesh, camera)

	m.SetRoot(root)
	m.GatherEntities()

	renderables := m.Renderables()
	assert.ElementsMatch(t, []renderer.EntityID{mesh.ID, nested.ID}, renderables)
}

func TestUpdateWorldTransformsComposesParentChain(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	root := NewEntity("root")
	root.Transform.Position = math.Vec3{X: 1}
	child := NewEntity("child")
	child.Transform.Position = math.Vec3{Y: 2}
	grandchild := NewEntity("grandchild")
	grandchild.Transform.Position = math.Vec3{Z: 3}
	child.Children = append(child.Children, grandchild)
	root.Children = append(root.Children, child)

	m.SetRoot(root)
	require.NoError(t, m.UpdateWorldTransforms())

	world := grandchild.Transform.World
	assert.InDelta(t, 1, world.Data[12], 1e-6)
	assert.InDelta(t, 2, world.Data[13], 1e-6)
	assert.InDelta(t, 3, world.Data[14], 1e-6)
}

func TestBuildGeometryPacksVerticesAndIndices(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, 2)

	root := NewEntity("root")
	mesh := NewEntity("mesh")
	mesh.Geometry = triangle()
	root.Children = append(root.Children, mesh)
	m.SetRoot(root)
	m.GatherEntities()

	require.NoError(t, m.BuildGeometry(mesh.ID))

	require.Len(t, dev.created, 1)
	buffer := dev.created[0]
	wantSize := len(mesh.Geometry.Vertices)*4 + len(mesh.Geometry.Indices)*4
	require.EqualValues(t, wantSize, buffer.Size())

	vertices := readFloats(t, buffer.data, len(mesh.Geometry.Vertices))
	assert.Equal(t, mesh.Geometry.Vertices, vertices)
	assert.EqualValues(t, 0, readUint32(t, buffer.data[len(mesh.Geometry.Vertices)*4:]))
}

func TestBuildGeometryUnknownEntityErrors(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)
	err := m.BuildGeometry(uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no geometry")
}

// Replaced buffers stay alive until every in-flight frame that could
// reference them has retired.
func TestRebuildRetiresOldBufferUntilFramesDrain(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, 2)

	root := NewEntity("root")
	mesh := NewEntity("mesh")
	mesh.Geometry = triangle()
	root.Children = append(root.Children, mesh)
	m.SetRoot(root)
	m.GatherEntities()

	require.NoError(t, m.BuildGeometry(mesh.ID))
	require.NoError(t, m.BuildGeometry(mesh.ID))
	old := dev.created[0]

	require.NoError(t, m.DestroyExpiredResources())
	assert.Empty(t, dev.destroyed, "buffer freed while frames may reference it")

	m.UpdateRetiredResources()
	require.NoError(t, m.DestroyExpiredResources())
	assert.Empty(t, dev.destroyed)

	m.UpdateRetiredResources()
	require.NoError(t, m.DestroyExpiredResources())
	require.Len(t, dev.destroyed, 1)
	assert.Same(t, old, dev.destroyed[0])
}

func TestUpdateMaterialsPacksRegistrationOrder(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	first := &Material{
		ID:        uuid.New(),
		BaseColor: math.Vec4{X: 1, Y: 0.5, Z: 0.25, W: 1},
		Roughness: 0.7,
		Metalness: 0.1,
	}
	second := &Material{
		ID:       uuid.New(),
		Emission: math.Vec4{X: 15, Y: 14, Z: 13, W: 1},
	}
	m.RegisterMaterial(first)
	m.RegisterMaterial(second)
	// Re-registering must not shift buffer indices.
	m.RegisterMaterial(first)

	require.NoError(t, m.UpdateMaterials(m.AcquireDirtyMaterials()))

	buffer := m.MaterialBuffer()
	require.NotNil(t, buffer)
	require.EqualValues(t, 2*48, buffer.Size())

	baseColor := readFloats(t, buffer.Bytes(), 4)
	assert.Equal(t, []float32{1, 0.5, 0.25, 1}, baseColor)
	scalars := readFloats(t, buffer.Bytes()[32:], 2)
	assert.InDelta(t, 0.7, scalars[0], 1e-6)
	assert.InDelta(t, 0.1, scalars[1], 1e-6)
	// No texture reference packs as the sentinel index.
	assert.Equal(t, ^uint32(0), readUint32(t, buffer.Bytes()[40:]))

	emission := readFloats(t, buffer.Bytes()[48+16:], 4)
	assert.Equal(t, []float32{15, 14, 13, 1}, emission)
}

// Material records must reference textures by their registration position,
// and the position must survive re-packing.
func TestUpdateMaterialsPacksStableTextureIndices(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	textures := make([]*Texture, 4)
	for i := range textures {
		textures[i] = &Texture{ID: uuid.New(), Name: "t"}
		m.RegisterTexture(textures[i])
	}

	var materials []*Material
	for i := len(textures) - 1; i >= 0; i-- {
		material := &Material{ID: uuid.New(), Texture: textures[i].ID}
		materials = append(materials, material)
		m.RegisterMaterial(material)
	}

	readIndices := func() []uint32 {
		buffer := m.MaterialBuffer()
		require.NotNil(t, buffer)
		indices := make([]uint32, len(materials))
		for i := range materials {
			indices[i] = readUint32(t, buffer.Bytes()[i*48+40:])
		}
		return indices
	}

	require.NoError(t, m.UpdateMaterials(m.AcquireDirtyMaterials()))
	want := []uint32{3, 2, 1, 0}
	assert.Equal(t, want, readIndices())

	// Re-packing must not reshuffle the references.
	for i := 0; i < 8; i++ {
		require.NoError(t, m.UpdateMaterials(nil))
		assert.Equal(t, want, readIndices())
	}
}

func TestUpdateMaterialsUnknownIDErrors(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)
	err := m.UpdateMaterials([]renderer.EntityID{uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown material")
}

func TestUpdateEmittersCountsLightsAndEmissiveMaterials(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	lamp := &Material{ID: uuid.New(), Emission: math.Vec4{X: 5, Y: 5, Z: 5}}
	plain := &Material{ID: uuid.New(), BaseColor: math.Vec4{X: 1, Y: 1, Z: 1, W: 1}}
	m.RegisterMaterial(lamp)
	m.RegisterMaterial(plain)

	root := NewEntity("root")
	light := NewEntity("light")
	light.Light = &Light{Radiance: math.Vec3{X: 10, Y: 10, Z: 10}}
	emissive := NewEntity("emissive")
	emissive.Geometry = triangle()
	emissive.Material = lamp.ID
	dull := NewEntity("dull")
	dull.Geometry = triangle()
	dull.Material = plain.ID
	root.Children = append(root.Children, light, emissive, dull)

	m.SetRoot(root)
	m.GatherEntities()
	require.NoError(t, m.UpdateWorldTransforms())
	require.NoError(t, m.UpdateEmitters())

	assert.EqualValues(t, 2, m.NumEmitters())
	require.NotNil(t, m.EmitterBuffer())
	assert.EqualValues(t, 2*32, m.EmitterBuffer().Size())
}

func TestBuildTLASRequiresBuiltGeometry(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	root := NewEntity("root")
	mesh := NewEntity("mesh")
	mesh.Geometry = triangle()
	root.Children = append(root.Children, mesh)
	m.SetRoot(root)
	m.GatherEntities()

	err := m.BuildTLAS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not built")

	require.NoError(t, m.BuildGeometry(mesh.ID))
	require.NoError(t, m.BuildTLAS())
	// One record per renderable instance.
	assert.EqualValues(t, 80, m.TLAS().Size())
}

func TestIsReadyToRenderLifecycle(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)
	assert.False(t, m.IsReadyToRender())

	material := &Material{ID: uuid.New(), BaseColor: math.Vec4{W: 1}}
	m.RegisterMaterial(material)

	root := NewEntity("root")
	mesh := NewEntity("mesh")
	mesh.Geometry = triangle()
	mesh.Material = material.ID
	root.Children = append(root.Children, mesh)
	m.SetRoot(root)
	m.GatherEntities()
	assert.False(t, m.IsReadyToRender(), "geometry not built yet")

	require.NoError(t, m.UpdateWorldTransforms())
	require.NoError(t, m.BuildGeometry(mesh.ID))
	assert.False(t, m.IsReadyToRender(), "scene buffers missing")

	require.NoError(t, m.BuildTLAS())
	require.NoError(t, m.UpdateInstanceBuffer())
	require.NoError(t, m.UpdateMaterials(m.AcquireDirtyMaterials()))
	require.NoError(t, m.UpdateEmitters())
	assert.True(t, m.IsReadyToRender())
}

// An empty pack still yields a bindable buffer.
func TestEmptyEmitterBufferHasMinimumSize(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)
	require.NoError(t, m.UpdateEmitters())
	require.NotNil(t, m.EmitterBuffer())
	assert.EqualValues(t, 16, m.EmitterBuffer().Size())
	assert.EqualValues(t, 0, m.NumEmitters())
}

func TestUpdateActiveCameraFillsParameters(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)

	root := NewEntity("root")
	camera := NewEntity("camera")
	camera.Camera = &Camera{
		Position: math.Vec3{Z: 9},
		LookAt:   math.Vec3{},
		Up:       math.Vec3{Y: 1},
		FovY:     0.66,
	}
	notACamera := NewEntity("mesh")
	root.Children = append(root.Children, camera, notACamera)
	m.SetRoot(root)
	m.GatherEntities()

	// Activating a non-camera entity is rejected.
	m.UpdateActiveCamera(notACamera.ID)
	var params renderer.RenderParams
	m.ApplyCameraParameters(&params)
	assert.Zero(t, params.CameraPosition)

	m.UpdateActiveCamera(camera.ID)
	m.ApplyCameraParameters(&params)
	assert.Equal(t, [4]float32{0, 0, 9, 1}, params.CameraPosition)
	assert.InDelta(t, -1, params.CameraForward[2], 1e-6)
	assert.InDelta(t, 0.66, params.CameraUp[3], 1e-6)
}

func TestApplyDisplayParametersDefaults(t *testing.T) {
	m := NewManager(&fakeDevice{}, 2)
	var params renderer.DisplayParams
	m.ApplyDisplayParameters(&params)
	assert.InDelta(t, 1, params.Exposure, 1e-6)
	assert.InDelta(t, 2.2, params.Gamma, 1e-6)
}

func TestDestroyResourcesFreesEverything(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, 2)

	material := &Material{ID: uuid.New()}
	m.RegisterMaterial(material)

	root := NewEntity("root")
	mesh := NewEntity("mesh")
	mesh.Geometry = triangle()
	root.Children = append(root.Children, mesh)
	m.SetRoot(root)
	m.GatherEntities()

	require.NoError(t, m.BuildGeometry(mesh.ID))
	require.NoError(t, m.BuildGeometry(mesh.ID)) // leaves one retired buffer
	require.NoError(t, m.BuildTLAS())
	require.NoError(t, m.UpdateInstanceBuffer())
	require.NoError(t, m.UpdateMaterials(nil))
	require.NoError(t, m.UpdateEmitters())

	m.DestroyResources()

	assert.Len(t, dev.destroyed, len(dev.created))
	assert.Nil(t, m.TLAS())
	assert.Nil(t, m.InstanceBuffer())
	assert.Nil(t, m.MaterialBuffer())
	assert.Nil(t, m.EmitterBuffer())
	assert.Nil(t, m.TextureBuffer())
}
