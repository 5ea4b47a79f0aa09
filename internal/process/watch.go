package process

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devenv-go/devenv/internal/logging"
)

// FileWatcher watches a process's declared Watch.Paths for changes and
// reports a debounced, deduplicated trigger on Restarts whenever a
// matching file settles after editing.
type FileWatcher struct {
	watcher     *fsnotify.Watcher
	watch       Watch
	debounceDur time.Duration

	mu          sync.Mutex
	pending     map[string]time.Time

	Restarts chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewFileWatcher creates a watcher for the given process Watch config. A
// zero-value Watch (no Paths) yields a watcher that never fires.
func NewFileWatcher(watch Watch) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &FileWatcher{
		watcher:     w,
		watch:       watch,
		debounceDur: 300 * time.Millisecond,
		pending:     make(map[string]time.Time),
		Restarts:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	return fw, nil
}

// Start adds the configured paths to the watcher (best-effort; a path
// that does not yet exist is simply skipped, matching the teacher's
// "directory may not exist yet" tolerance) and begins the debounce loop.
func (fw *FileWatcher) Start() {
	for _, p := range fw.watch.Paths {
		if st, err := os.Stat(p); err == nil {
			if st.IsDir() {
				_ = fw.watcher.Add(p)
			} else {
				_ = fw.watcher.Add(filepath.Dir(p))
			}
		}
	}
	go fw.run()
}

func (fw *FileWatcher) Stop() {
	close(fw.stopCh)
	<-fw.doneCh
	_ = fw.watcher.Close()
}

func (fw *FileWatcher) run() {
	defer close(fw.doneCh)
	log := logging.Get(logging.CategoryProcess)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("file watcher error: %v", err)
		case <-ticker.C:
			fw.flush()
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !fw.matches(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	fw.mu.Lock()
	fw.pending[event.Name] = time.Now()
	fw.mu.Unlock()
}

func (fw *FileWatcher) flush() {
	fw.mu.Lock()
	now := time.Now()
	settled := false
	for path, t := range fw.pending {
		if now.Sub(t) >= fw.debounceDur {
			delete(fw.pending, path)
			settled = true
		}
	}
	fw.mu.Unlock()
	if !settled {
		return
	}
	select {
	case fw.Restarts <- struct{}{}:
	default:
		// a restart is already pending; coalesce
	}
}

func (fw *FileWatcher) matches(name string) bool {
	base := filepath.Base(name)
	for _, ignore := range fw.watch.Ignore {
		if matched, _ := filepath.Match(ignore, base); matched {
			return false
		}
	}
	if len(fw.watch.Extensions) == 0 {
		return true
	}
	for _, ext := range fw.watch.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
