// Package config loads render settings from a TOML file and hot-reloads
// them while the application runs.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/renderer"
)

const (
	maxSamplesPerPass = 64
	maxBounceDepth    = 32
)

// WindowConfig describes the presentation surface.
type WindowConfig struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
	Vsync  bool   `toml:"vsync"`
}

// RenderConfig holds the path tracing parameters.
type RenderConfig struct {
	PrimarySamples        uint32  `toml:"primary_samples"`
	SecondarySamples      uint32  `toml:"secondary_samples"`
	MinDepth              uint32  `toml:"min_depth"`
	MaxDepth              uint32  `toml:"max_depth"`
	DirectRadianceClamp   float32 `toml:"direct_radiance_clamp"`
	IndirectRadianceClamp float32 `toml:"indirect_radiance_clamp"`
}

// DisplayConfig holds the tone mapping parameters for the display pass.
type DisplayConfig struct {
	Exposure float32 `toml:"exposure"`
	Gamma    float32 `toml:"gamma"`
}

type fileConfig struct {
	Window  WindowConfig  `toml:"window"`
	Render  RenderConfig  `toml:"render"`
	Display DisplayConfig `toml:"display"`
}

// Config is the live application configuration. Reads and reloads are
// safe to interleave; the renderer snapshots values once per tick.
type Config struct {
	mutex    sync.RWMutex
	path     string
	window   WindowConfig
	render   RenderConfig
	display  DisplayConfig
	cameraID uuid.UUID
}

func defaults() fileConfig {
	return fileConfig{
		Window: WindowConfig{
			Title:  "Lumen",
			Width:  1280,
			Height: 720,
			Vsync:  true,
		},
		Render: RenderConfig{
			PrimarySamples:        1,
			SecondarySamples:      1,
			MinDepth:              1,
			MaxDepth:              8,
			DirectRadianceClamp:   0,
			IndirectRadianceClamp: 0,
		},
		Display: DisplayConfig{
			Exposure: 1,
			Gamma:    2.2,
		},
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed or invalid file is an error.
func Load(path string) (*Config, error) {
	fc := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := validate(&fc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &Config{
		path:    path,
		window:  fc.Window,
		render:  fc.Render,
		display: fc.Display,
	}, nil
}

func validate(fc *fileConfig) error {
	if fc.Window.Width <= 0 || fc.Window.Height <= 0 {
		return fmt.Errorf("window size %dx%d must be positive", fc.Window.Width, fc.Window.Height)
	}
	if fc.Render.PrimarySamples == 0 || fc.Render.PrimarySamples > maxSamplesPerPass {
		return fmt.Errorf("primary_samples %d out of range [1, %d]", fc.Render.PrimarySamples, maxSamplesPerPass)
	}
	if fc.Render.SecondarySamples == 0 || fc.Render.SecondarySamples > maxSamplesPerPass {
		return fmt.Errorf("secondary_samples %d out of range [1, %d]", fc.Render.SecondarySamples, maxSamplesPerPass)
	}
	if fc.Render.MaxDepth == 0 || fc.Render.MaxDepth > maxBounceDepth {
		return fmt.Errorf("max_depth %d out of range [1, %d]", fc.Render.MaxDepth, maxBounceDepth)
	}
	if fc.Render.MinDepth > fc.Render.MaxDepth {
		return fmt.Errorf("min_depth %d exceeds max_depth %d", fc.Render.MinDepth, fc.Render.MaxDepth)
	}
	if fc.Render.DirectRadianceClamp < 0 || fc.Render.IndirectRadianceClamp < 0 {
		return fmt.Errorf("radiance clamps must be non-negative")
	}
	if fc.Display.Gamma <= 0 {
		return fmt.Errorf("gamma %f must be positive", fc.Display.Gamma)
	}
	return nil
}

// Reload re-reads the configuration file in place. Window settings are
// intentionally not reloaded; the surface is created once.
func (c *Config) Reload() error {
	fresh, err := Load(c.path)
	if err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.render = fresh.render
	c.display = fresh.display
	return nil
}

func (c *Config) Window() WindowConfig {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.window
}

func (c *Config) Display() DisplayConfig {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.display
}

// SetCameraID installs the active camera entity. Called by the application
// after the scene is assembled.
func (c *Config) SetCameraID(id uuid.UUID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cameraID = id
}

func (c *Config) PrimarySamples() uint32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.render.PrimarySamples
}

func (c *Config) SecondarySamples() uint32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.render.SecondarySamples
}

func (c *Config) MinDepth() uint32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.render.MinDepth
}

func (c *Config) MaxDepth() uint32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.render.MaxDepth
}

func (c *Config) DirectRadianceClamp() float32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.render.DirectRadianceClamp
}

func (c *Config) IndirectRadianceClamp() float32 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.render.IndirectRadianceClamp
}

func (c *Config) CameraID() renderer.EntityID {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.cameraID
}

func (c *Config) Vsync() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.window.Vsync
}
