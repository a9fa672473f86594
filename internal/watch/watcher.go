// Watcher implements the JIT daemon's file-system half of spec §4.11,
// grounded on the teacher's internal/indexing/watcher.go: an fsnotify
// watcher recursively registered over every resource root, debouncing
// bursts of events per path before acting, so a save-then-rewrite from an
// editor collapses into a single invalidation instead of several.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

var ignoredDirNames = map[string]bool{
	".svn": true,
	".git": true,
	".hg":  true,
}

// Stats tallies what one Watcher has done since Start, for a daemon
// front-end to print on shutdown.
type Stats struct {
	EventsSeen      int
	PathsInvalidated int
	TasksRequeued   int
}

// Watcher reacts to resource-root file changes by invalidating the
// compiler's cached file hashes and re-queuing every task a ReverseMap
// says depends on the changed path.
type Watcher struct {
	c     *compiler.Compiler
	rmap  *ReverseMap
	roots []string

	fsw       *fsnotify.Watcher
	debouncer *eventDebouncer

	mu    sync.Mutex
	stats Stats

	// Wake receives a value after each debounced invalidation batch so a
	// daemon loop blocked on the processor's scheduler can resume; it is
	// buffered so a send never blocks a filesystem event from being
	// processed.
	Wake chan struct{}

	cancel func()
}

// NewWatcher returns a Watcher bound to c and rmap, ready to watch roots.
func NewWatcher(c *compiler.Compiler, rmap *ReverseMap, roots []string) *Watcher {
	return &Watcher{
		c:     c,
		rmap:  rmap,
		roots: roots,
		Wake:  make(chan struct{}, 1),
	}
}

// Start registers watches on every root (and its sub-directories) and
// begins processing fsnotify events in a background goroutine. Stop must
// be called to release the underlying OS watch.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.debouncer = newEventDebouncer(150*time.Millisecond, w.handlePath)

	for _, root := range w.roots {
		if err := w.addWatches(root); err != nil {
			fsw.Close()
			return err
		}
	}

	done := make(chan struct{})
	w.cancel = func() { close(done) }
	go w.processEvents(done)
	return nil
}

// Stop halts event processing, flushes any pending debounced paths, and
// closes the underlying watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.debouncer != nil {
		w.debouncer.flush()
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
}

// Stats returns a snapshot of counters accumulated since Start.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) addWatches(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			debug.LogWatch("skipping unwatchable path %s: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if ignoredDirNames[filepath.Base(path)] {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			debug.LogWatch("failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *Watcher) processEvents(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			debug.LogWatch("fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	w.mu.Lock()
	w.stats.EventsSeen++
	w.mu.Unlock()

	info, err := os.Stat(ev.Name)
	if err == nil && info.IsDir() {
		if ev.Op&(fsnotify.Create) != 0 {
			if addErr := w.addWatches(ev.Name); addErr != nil {
				debug.LogWatch("failed to extend watch to new directory %s: %v", ev.Name, addErr)
			}
		}
		return
	}

	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.debouncer.notify(ev.Name)
}

// handlePath is the debounced action per changed file: invalidate its
// cached hash, find every task whose reverse edges name it (directly or
// via a directory glob), reset each to New and re-queue it, then wake
// anyone waiting on w.Wake.
func (w *Watcher) handlePath(absPath string) {
	w.c.FileHashes().Invalidate(absPath)

	rel := w.relativePath(absPath)
	affected := w.rmap.Affected(rel)

	w.mu.Lock()
	w.stats.PathsInvalidated++
	w.stats.TasksRequeued += len(affected)
	w.mu.Unlock()

	for _, t := range affected {
		debug.LogWatch("invalidating %s due to change in %s", t.SourcePath(), rel)
		resetAndRequeue(w.c, t)
	}

	if len(affected) > 0 {
		select {
		case w.Wake <- struct{}{}:
		default:
		}
	}
}

func resetAndRequeue(c *compiler.Compiler, t *task.Task) {
	t.Reset()
	c.QueueTask(t)
}

// relativePath strips whichever configured root contains absPath, falling
// back to the unmodified input if none match (e.g. the path is already
// relative, as in tests that watch a root directly).
func (w *Watcher) relativePath(absPath string) string {
	for _, root := range w.roots {
		if rel, err := filepath.Rel(root, absPath); err == nil && !isOutsideRel(rel) {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(absPath)
}

func isOutsideRel(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}
