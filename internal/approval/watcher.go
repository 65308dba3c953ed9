package approval

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the backing store file for out-of-band edits and hot
// reloads the engine. Editors and atomic writers replace the file rather
// than writing in place, so the watch is on the parent directory.
type Watcher struct {
	engine   *Engine
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Debounce rapid file changes
	debounce     time.Duration
	pendingTimer *time.Timer
	timerMu      sync.Mutex
}

// NewWatcher creates a watcher for the engine's backing store.
func NewWatcher(engine *Engine) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		engine:   engine,
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start begins watching the store's directory.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.engine.StorePath())
	if err := w.watcher.Add(dir); err != nil {
		// Directory might not exist until the first save.
		log.Warn("cannot watch config directory %s (may not exist yet): %v", dir, err)
		return nil
	}

	w.wg.Add(1)
	go w.run()

	log.Info("watching approval config: %s", w.engine.StorePath())
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	w.wg.Wait()

	w.timerMu.Lock()
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.engine.StorePath()) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	log.Debug("approval config changed: %s (%s)", filepath.Base(event.Name), event.Op)
	w.scheduleReload()
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.doReload)
}

func (w *Watcher) doReload() {
	log.Info("reloading approval config")
	w.engine.Reload()
}
