package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads non-active-test settings (log level, report
// destinations) from a config file whenever it changes on disk. It never
// touches TestPlan/Distributed fields of a test already in flight; callers
// that need the active plan should snapshot it before starting a run.
type Watcher struct {
	path string
	log  *zap.Logger

	mu  sync.RWMutex
	cur Config

	fsw      *fsnotify.Watcher
	onChange func(Config)
}

// NewWatcher starts watching path, which must already have been loaded
// into initial via Load. log may be nil.
func NewWatcher(path string, initial Config, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{path: path, log: log.Named("config.watch"), cur: initial, fsw: fsw}
	go w.loop()
	return w, nil
}

// OnChange registers a callback invoked with the freshly reloaded Config
// after every successful reload. Only one callback is supported; a later
// call replaces an earlier one.
func (w *Watcher) OnChange(fn func(Config)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.cur = cfg
	cb := w.onChange
	w.mu.Unlock()

	w.log.Info("config reloaded", zap.String("path", w.path))
	if cb != nil {
		cb(cfg)
	}
}
