package watch

import (
	"sync"
	"time"
)

// eventDebouncer coalesces repeated notifications for the same path within
// window into a single action call, grounded on the teacher's
// indexing.eventDebouncer (internal/indexing/watcher.go): editors routinely
// emit write+rename+create bursts for a single logical save, and acting on
// every one would invalidate and re-queue the same task repeatedly.
type eventDebouncer struct {
	mu      sync.Mutex
	window  time.Duration
	action  func(path string)
	pending map[string]*time.Timer
}

func newEventDebouncer(window time.Duration, action func(path string)) *eventDebouncer {
	return &eventDebouncer{
		window:  window,
		action:  action,
		pending: make(map[string]*time.Timer),
	}
}

// notify schedules (or reschedules) path's action window seconds out.
func (d *eventDebouncer) notify(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.pending[path]; ok {
		t.Stop()
	}
	d.pending[path] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()
		d.action(path)
	})
}

// flush fires every still-pending path immediately, used on Stop so a
// change right before shutdown isn't silently dropped.
func (d *eventDebouncer) flush() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]*time.Timer)
	d.mu.Unlock()

	for path, t := range pending {
		t.Stop()
		d.action(path)
	}
}
