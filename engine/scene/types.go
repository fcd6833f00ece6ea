package scene

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/math"
)

type Transform struct {
	Position math.Vec3
	Scale    math.Vec3
	World    math.Mat4
}

func NewTransform() Transform {
	return Transform{
		Scale: math.Vec3{X: 1, Y: 1, Z: 1},
		World: math.Mat4Identity(),
	}
}

func (t *Transform) Local() math.Mat4 {
	return math.Mat4Translation(t.Position).Mul(math.Mat4Scale(t.Scale))
}

// Entity is a node of the scene graph. An entity is renderable when it
// carries geometry; emissive entities additionally carry a light or an
// emissive material.
type Entity struct {
	ID        uuid.UUID
	Name      string
	Transform Transform
	Geometry  *Geometry
	Material  uuid.UUID
	Light     *Light
	Camera    *Camera
	Children  []*Entity
}

func NewEntity(name string) *Entity {
	return &Entity{
		ID:        uuid.New(),
		Name:      name,
		Transform: NewTransform(),
	}
}

type Geometry struct {
	Vertices []float32
	Indices  []uint32

	// GPU-side build state, owned by BuildGeometry.
	generation uint32
	built      bool
}

type Material struct {
	ID        uuid.UUID
	Name      string
	BaseColor math.Vec4
	Emission  math.Vec4
	Roughness float32
	Metalness float32
	// Texture references the base-color texture, if any.
	Texture uuid.UUID
}

type Light struct {
	Radiance math.Vec3
}

type Camera struct {
	Position math.Vec3
	LookAt   math.Vec3
	Up       math.Vec3
	FovY     float32
}

func (c *Camera) Basis() (right, up, forward math.Vec3) {
	forward = c.LookAt.Sub(c.Position).Normalized()
	right = forward.Cross(c.Up).Normalized()
	up = right.Cross(forward)
	return right, up, forward
}
