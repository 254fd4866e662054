package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk and hands the
// new value to a callback. It exists for the auto-install manifest (spec
// §4.3): a container's declared provider/trigger list may be edited by an
// external operator while the engine is running.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onLoad  func(*Config, error)
	done    chan struct{}
}

// WatchFile starts watching path and invokes onLoad once immediately with
// the current contents, then again on every subsequent write. Call Close
// to stop watching.
func WatchFile(path string, onLoad func(*Config, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fw, path: path, onLoad: onLoad, done: make(chan struct{})}

	cfg, loadErr := Load(path)
	onLoad(cfg, loadErr)

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				slog.Error("config: reload failed", "path", w.path, "error", err)
			}
			w.onLoad(cfg, err)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config: watcher error", "path", w.path, "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
