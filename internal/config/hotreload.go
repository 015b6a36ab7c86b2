package config

import (
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay collapses the burst of events an editor save produces.
const reloadDelay = 300 * time.Millisecond

// ChangeHandler receives the previous and the newly loaded config. prev is
// nil when the file could not be read at Start.
type ChangeHandler func(prev, next *Config)

// Watcher reloads a config file when it changes on disk and passes the
// result to its handlers. The directory holding the file is watched so a
// save by rename is still seen. Writes that leave the parsed config
// unchanged, and files that fail to load or validate, notify nobody.
type Watcher struct {
	path   string
	fs     *fsnotify.Watcher
	delay  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	current  *Config
	handlers []ChangeHandler

	stop chan struct{}
	done chan struct{}
}

// NewWatcher prepares a watcher for configPath. Nothing is watched until
// Start.
func NewWatcher(configPath string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{path: abs, fs: fw, delay: reloadDelay, logger: logger}, nil
}

// OnChange registers h. Handlers run on the reload goroutine, in
// registration order.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start records the current file contents as the baseline and begins
// watching.
func (w *Watcher) Start() error {
	if cfg, err := Load(w.path); err == nil {
		w.mu.Lock()
		w.current = cfg
		w.mu.Unlock()
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop()

	w.logger.Info("config watcher started", "path", w.path)
	return nil
}

// Stop ends watching and waits for the event loop to exit. It is safe to
// call without a successful Start.
func (w *Watcher) Stop() {
	if w.stop != nil {
		close(w.stop)
		<-w.done
		w.stop = nil
	}
	w.fs.Close()
}

func (w *Watcher) loop() {
	defer close(w.done)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.delay, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// relevant keeps events that may have replaced the config file's contents.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	prev := w.current
	if prev != nil && reflect.DeepEqual(prev, next) {
		w.mu.Unlock()
		return
	}
	w.current = next
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	for _, h := range handlers {
		h(prev, next)
	}
}
