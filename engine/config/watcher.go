package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Watcher hot-reloads the configuration file and fires a settings-changed
// event when the reload succeeds.
type Watcher struct {
	config   *Config
	fsnotify *fsnotify.Watcher
	done     chan struct{}
}

func NewWatcher(config *Config) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: editors replace files on save
	// and the inode-level watch would be lost.
	if err := fsWatch.Add(filepath.Dir(config.path)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		config:   config,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	target := filepath.Clean(w.config.path)
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != target {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if err := w.config.Reload(); err != nil {
				core.LogWarn("config reload failed: %s", err.Error())
				continue
			}
			core.LogInfo("configuration reloaded from %s", w.config.path)
			core.EventFire(core.EVENT_CODE_SETTINGS_CHANGED, w, core.EventContext{})

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-w.done:
			w.fsnotify.Close()
			return
		}
	}
}

func (w *Watcher) Shutdown() {
	close(w.done)
}
