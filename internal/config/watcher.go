package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config store when the backing file changes on disk,
// so pool edits take effect for sessions created afterwards. Editors tend to
// emit bursts of write events, hence the per-path debounce.
type Watcher struct {
	store    *Store
	log      *zap.Logger
	onReload func(File)

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	debounce map[string]time.Time
	window   time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher over the store's file. onReload may be nil.
func NewWatcher(store *Store, log *zap.Logger, onReload func(File)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		store:    store,
		log:      log,
		onReload: onReload,
		watcher:  fw,
		debounce: make(map[string]time.Time),
		window:   500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; idempotent.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory rather than the file: most editors replace the
	// file, which would drop a direct watch.
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		// No loop goroutine exists yet; roll back so Stop does not wait
		// on doneCh forever.
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		_ = w.watcher.Close()
		return err
	}
	go w.loop()
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !w.allow(ev.Name) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) allow(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if last, ok := w.debounce[path]; ok && now.Sub(last) < w.window {
		return false
	}
	w.debounce[path] = now
	return true
}

func (w *Watcher) reload() {
	f, err := Load(w.store.Path())
	if err != nil {
		w.log.Warn("config reload failed", zap.Error(err))
		return
	}
	w.store.Replace(f)
	w.log.Info("config reloaded", zap.String("path", w.store.Path()))
	if w.onReload != nil {
		w.onReload(f)
	}
}
