package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file whenever it changes on disk. A
// reload never affects a pause that is already running: callers take a
// snapshot with Current when they start a pause.
type Watcher struct {
	path     string
	w        *fsnotify.Watcher
	mu       sync.RWMutex
	current  *Config
	onChange func(*Config)
	onError  func(error)
	done     chan struct{}
}

// Watch loads path and starts watching it. onChange runs after every
// successful reload, onError after a failed one; both may be nil. The
// directory is watched rather than the file so editors that replace the
// file on save are handled.
func Watch(path string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		w:        fw,
		current:  cfg,
		onChange: onChange,
		onError:  onError,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
