package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of write events editors produce.
const reloadDebounce = 500 * time.Millisecond

// Watcher keeps a settings snapshot in sync with the file on disk.
type Watcher struct {
	path     string
	onReload func(*Settings, error)
	current  *Settings
	mu       sync.RWMutex
	reloads  atomic.Uint32
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher loads path and starts watching it. onReload may be nil.
func NewWatcher(path string, onReload func(*Settings, error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load initial config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	// Editors that save by renaming a temp file replace the inode, so the
	// directory is watched and events are filtered by name.
	path = filepath.Clean(path)
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		current:  cfg,
		fsw:      fsw,
		done:     make(chan struct{}),
	}
	go w.watch()

	return w, nil
}

func (w *Watcher) watch() {
	defer close(w.done)

	var timer *time.Timer
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	count := w.reloads.Add(1)
	slog.Info("reloading config", "path", w.path, "count", count)

	cfg, err := Load(w.path)
	if err != nil {
		slog.Error("config reload failed, keeping previous settings", "error", err)
		if w.onReload != nil {
			w.onReload(nil, err)
		}
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(cfg, nil)
	}
}

// Snapshot returns the most recently loaded settings.
func (w *Watcher) Snapshot() *Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ReloadCount returns how many reloads have been attempted.
func (w *Watcher) ReloadCount() uint32 {
	return w.reloads.Load()
}

// Close stops watching the file.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
