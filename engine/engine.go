package engine

import (
	"fmt"
	"runtime"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/engine/scene"
	"github.com/spaghettifunk/lumen/engine/systems"
)

const (
	shaderDir    = "assets/shaders"
	jobQueueSize = 256
	minWorkers   = 4
)

// Engine wires the platform, device backend, scene and renderer together
// and drives the frame loop.
type Engine struct {
	platform  *platform.Platform
	config    *config.Config
	watcher   *config.Watcher
	backend   *vulkan.Backend
	scene     *scene.Manager
	scheduler *systems.JobScheduler
	renderer  *renderer.Renderer
	clock     *core.Clock

	isRunning   bool
	isSuspended bool

	// BuildScene populates the scene before the first frame. Set by the
	// application between New and Initialize.
	BuildScene func(*scene.Manager, *config.Config) error
}

func New(configPath string) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	p, err := platform.New()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		platform:  p,
		config:    cfg,
		clock:     core.NewClock(),
		isRunning: true,
	}, nil
}

func (e *Engine) Initialize() error {
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_SETTINGS_CHANGED, e, e.onSettingsChanged)

	window := e.config.Window()
	if err := e.platform.Startup(window.Title, uint32(window.Width), uint32(window.Height)); err != nil {
		return err
	}

	e.backend = vulkan.New(e.platform, shaderDir, true)
	if err := e.backend.Initialize(window.Title); err != nil {
		return err
	}

	capabilities, err := e.backend.SurfaceCapabilities()
	if err != nil {
		return err
	}
	framesInFlight := math.Max(int(capabilities.MinImageCount), 2)
	e.scene = scene.NewManager(e.backend, framesInFlight)

	workers := math.Max(runtime.NumCPU(), minWorkers)
	scheduler, err := systems.NewJobScheduler(workers, jobQueueSize)
	if err != nil {
		return err
	}
	e.scheduler = scheduler

	e.renderer = renderer.New(e.backend, e.scene, e.scheduler, e.config)
	if err := e.renderer.Initialize(); err != nil {
		return err
	}

	if e.BuildScene != nil {
		if err := e.BuildScene(e.scene, e.config); err != nil {
			return err
		}
		e.renderer.MarkDirty(renderer.AllDirty)
	}

	watcher, err := config.NewWatcher(e.config)
	if err != nil {
		core.LogWarn("config hot-reload disabled: %s", err.Error())
	} else {
		e.watcher = watcher
	}

	core.LogInfo("Engine initialized successfully.")
	return nil
}

func (e *Engine) Run() error {
	e.clock.Start()

	for e.isRunning {
		e.platform.PumpMessages()

		if e.isSuspended {
			continue
		}

		e.clock.Update()
		e.renderer.Tick()
	}

	return nil
}

func (e *Engine) Shutdown() error {
	e.isRunning = false

	if e.watcher != nil {
		e.watcher.Shutdown()
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
	}
	if e.scheduler != nil {
		e.scheduler.Shutdown()
	}
	if e.backend != nil {
		e.backend.Shutdown()
	}
	if err := core.EventSystemShutdown(); err != nil {
		return err
	}
	return e.platform.Shutdown()
}

// Renderer exposes the frame orchestrator, mainly for image grabs and
// progress statistics.
func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	core.LogDebug("Window resize: %d, %d", width, height)

	// The renderer queries the surface size each tick; here we only track
	// minimization so the loop stops burning cycles.
	if width == 0 || height == 0 {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending rendering.")
			e.isSuspended = true
		}
	} else if e.isSuspended {
		core.LogInfo("Window restored, resuming rendering.")
		e.isSuspended = false
	}
	return false
}

func (e *Engine) onSettingsChanged(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	// Reloaded settings change the camera parameters and possibly the
	// shading setup; restart the accumulation.
	e.renderer.MarkDirty(renderer.CameraDirty | renderer.MaterialDirty)
	return false
}
