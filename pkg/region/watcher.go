package region

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce is how long the watcher waits after the last file event
// before reloading, so editor write-rename sequences trigger one reload.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the registry when its backing file changes. The parent
// directory is watched rather than the file itself so that atomic
// rename-over-save (the common editor and config-management pattern) is
// still observed.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *logrus.Logger
	done     chan struct{}
	stopped  chan struct{}
}

// NewWatcher starts watching the registry's backing file for changes.
func NewWatcher(registry *Registry, logger *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("region: could not create watcher: %w", err)
	}

	dir := filepath.Dir(registry.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("region: could not watch %s: %w", dir, err)
	}

	w := &Watcher{
		registry: registry,
		watcher:  fw,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// Stop shuts the watcher down and waits for its loop to exit.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	target := filepath.Clean(w.registry.path)
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := w.registry.Reload(); err != nil {
				w.logger.Errorf("Region registry reload failed: %v", err)
			} else {
				w.logger.Infof("Region registry reloaded: %d region(s)", w.registry.Len())
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("Region registry watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}
