package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Config from a file whenever that file changes on
// disk, without requiring a process restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	closed  bool
}

// Watch starts watching path for writes and calls onChange with the
// freshly reloaded Config after each debounced write. onChange receiving
// a parse/validation error should decide whether to keep running on the
// last-good config; Watch itself never reverts state on a bad reload.
func Watch(path string, onChange func(*Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	w := &Watcher{path: path, watcher: fsw}

	go w.loop(onChange)

	return w, nil
}

func (w *Watcher) loop(onChange func(*Config, error)) {
	var debounce *time.Timer
	reload := func() {
		cfg := DefaultConfig()
		LoadFromEnv(cfg)
		err := cfg.LoadFromFile(w.path)
		onChange(cfg, err)
	}

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
