package bundle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"testloom/internal/logging"
)

// Change reports a bundle whose on-disk artifacts moved underneath us,
// with the state revalidation found.
type Change struct {
	Slug  string
	Path  string
	Op    string
	State State
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	EventsSeen    int
	Revalidations int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Watcher watches the bundle root for external edits to bundle artifacts
// and revalidates affected bundles after events settle. Edits made through
// the store also surface here; consumers dedupe by comparing state.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	store       *Store
	onChange    func(Change)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// NewWatcher creates a watcher over the store's root. onChange fires once
// per settled bundle change.
func NewWatcher(store *Store, debounce time.Duration, onChange func(Change)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fsWatcher,
		store:       store,
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in a goroutine
// until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.store.Root(), 0o755); err != nil {
		logging.WatchWarn("failed to create bundle root %s: %v", w.store.Root(), err)
	}
	if err := w.watcher.Add(w.store.Root()); err != nil {
		logging.WatchWarn("initial watch failed on %s: %v", w.store.Root(), err)
	} else {
		logging.Watch("watching bundle root %s", w.store.Root())
	}

	// Existing bundle directories and the data dir; new ones are picked up
	// from create events.
	entries, err := os.ReadDir(w.store.Root())
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = w.watcher.Add(filepath.Join(w.store.Root(), entry.Name()))
			}
		}
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("watcher stopped")
}

// IsWatching returns whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Watch("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watch error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A new bundle directory needs its own watch
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if filepath.Dir(event.Name) == w.store.Root() {
				_ = w.watcher.Add(event.Name)
				logging.WatchDebug("watching new directory %s", event.Name)
			}
			return
		}
	}

	if !isBundleArtifact(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	toProcess := make([]string, 0)
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			toProcess = append(toProcess, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range toProcess {
		w.revalidate(path)
	}
}

func (w *Watcher) revalidate(path string) {
	slug, ok := w.slugFor(path)
	if !ok {
		return
	}

	state, _ := w.store.Validate(slug)
	logging.Watch("revalidated %s after external change: %s", slug, state)

	w.mu.Lock()
	w.stats.Revalidations++
	onChange := w.onChange
	w.mu.Unlock()

	if onChange != nil {
		onChange(Change{Slug: slug, Path: path, Op: "revalidate", State: state})
	}
}

// slugFor derives the owning slug from an artifact path. Data files name
// the slug directly; bundle artifacts take it from the parent directory.
func (w *Watcher) slugFor(path string) (string, bool) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	if filepath.Base(dir) == "data" && filepath.Dir(dir) == w.store.Root() {
		if strings.HasSuffix(base, "Data.json") {
			return strings.TrimSuffix(base, "Data.json"), true
		}
		return "", false
	}
	if filepath.Dir(dir) != w.store.Root() {
		return "", false
	}
	return filepath.Base(dir), true
}

func isBundleArtifact(path string) bool {
	switch {
	case strings.HasSuffix(path, ".spec.ts"),
		strings.HasSuffix(path, ".meta.json"),
		strings.HasSuffix(path, ".meta.md"),
		strings.HasSuffix(path, "Data.json"):
		return true
	}
	return false
}

// RevalidateAll sweeps every known bundle through the change callback.
// Useful at watch startup so consumers see the current state.
func (w *Watcher) RevalidateAll() error {
	infos, err := w.store.List()
	if err != nil {
		return err
	}

	w.mu.Lock()
	onChange := w.onChange
	w.mu.Unlock()

	for _, info := range infos {
		w.mu.Lock()
		w.stats.Revalidations++
		w.mu.Unlock()
		if onChange != nil {
			onChange(Change{Slug: info.Slug, Op: "sweep", State: info.State})
		}
	}
	return nil
}
