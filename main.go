/*
Lumen is a progressive path tracing renderer. This entry point sets up a
small demo scene and runs the engine until the window closes.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/scene"
)

func main() {
	e, err := engine.New("lumen.toml")
	if err != nil {
		panic(err)
	}
	e.BuildScene = buildDemoScene

	if err := e.Initialize(); err != nil {
		panic(err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	go func() {
		<-sigCh
		_ = e.Shutdown()
	}()

	if err := e.Run(); err != nil {
		panic(err)
	}

	_ = e.Shutdown()
}

// buildDemoScene assembles a box with a single area light, two blocks and
// a camera, then registers everything with the scene manager.
func buildDemoScene(m *scene.Manager, cfg *config.Config) error {
	white := &scene.Material{
		ID:        uuid.New(),
		Name:      "white",
		BaseColor: math.Vec4{X: 0.73, Y: 0.73, Z: 0.73, W: 1},
		Roughness: 1,
	}
	red := &scene.Material{
		ID:        uuid.New(),
		Name:      "red",
		BaseColor: math.Vec4{X: 0.65, Y: 0.05, Z: 0.05, W: 1},
		Roughness: 1,
	}
	lamp := &scene.Material{
		ID:       uuid.New(),
		Name:     "lamp",
		Emission: math.Vec4{X: 15, Y: 15, Z: 15, W: 1},
	}
	m.RegisterMaterial(white)
	m.RegisterMaterial(red)
	m.RegisterMaterial(lamp)

	root := scene.NewEntity("root")

	floor := scene.NewEntity("floor")
	floor.Geometry = quad(10, 10)
	floor.Material = white.ID
	root.Children = append(root.Children, floor)

	wall := scene.NewEntity("wall")
	wall.Geometry = quad(10, 6)
	wall.Material = red.ID
	wall.Transform.Position = math.Vec3{Z: -5, Y: 3}
	root.Children = append(root.Children, wall)

	block := scene.NewEntity("block")
	block.Geometry = cube()
	block.Material = white.ID
	block.Transform.Position = math.Vec3{X: -1.5, Y: 1}
	block.Transform.Scale = math.Vec3{X: 1, Y: 2, Z: 1}
	root.Children = append(root.Children, block)

	light := scene.NewEntity("light")
	light.Geometry = quad(2, 2)
	light.Material = lamp.ID
	light.Transform.Position = math.Vec3{Y: 5.9}
	light.Light = &scene.Light{Radiance: math.Vec3{X: 15, Y: 15, Z: 15}}
	root.Children = append(root.Children, light)

	camera := scene.NewEntity("camera")
	camera.Camera = &scene.Camera{
		Position: math.Vec3{Y: 3, Z: 9},
		LookAt:   math.Vec3{Y: 2},
		Up:       math.Vec3{Y: 1},
		FovY:     0.66,
	}
	root.Children = append(root.Children, camera)

	m.SetRoot(root)
	cfg.SetCameraID(camera.ID)
	return nil
}

func quad(width, depth float32) *scene.Geometry {
	w, d := width/2, depth/2
	return &scene.Geometry{
		Vertices: []float32{
			-w, 0, -d,
			w, 0, -d,
			w, 0, d,
			-w, 0, d,
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
	}
}

func cube() *scene.Geometry {
	return &scene.Geometry{
		Vertices: []float32{
			-0.5, -0.5, -0.5,
			0.5, -0.5, -0.5,
			0.5, 0.5, -0.5,
			-0.5, 0.5, -0.5,
			-0.5, -0.5, 0.5,
			0.5, -0.5, 0.5,
			0.5, 0.5, 0.5,
			-0.5, 0.5, 0.5,
		},
		Indices: []uint32{
			0, 1, 2, 0, 2, 3,
			4, 6, 5, 4, 7, 6,
			0, 3, 7, 0, 7, 4,
			1, 5, 6, 1, 6, 2,
			3, 2, 6, 3, 6, 7,
			0, 4, 5, 0, 5, 1,
		},
	}
}
