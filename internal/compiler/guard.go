package compiler

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// ConverterGuard is the process-wide reader/writer lock enforcing that
// non-thread-safe converters run exclusively while thread-safe ones
// share. A pending-exclusive counter makes thread-safe arrivals spin
// rather than pile in ahead of a waiting exclusive converter, so a
// non-thread-safe converter is never starved by a stream of new
// thread-safe ones.
type ConverterGuard struct {
	mu               sync.RWMutex
	pendingExclusive int32
}

// NewConverterGuard creates an unlocked guard.
func NewConverterGuard() *ConverterGuard {
	return &ConverterGuard{}
}

// AcquireShared waits for no pending exclusive waiter, then takes the
// shared read lock. Call for THREAD_SAFE converters.
func (g *ConverterGuard) AcquireShared() {
	for atomic.LoadInt32(&g.pendingExclusive) > 0 {
		runtime.Gosched()
	}
	g.mu.RLock()
}

// ReleaseShared releases a shared lock taken by AcquireShared.
func (g *ConverterGuard) ReleaseShared() { g.mu.RUnlock() }

// AcquireExclusive registers as a pending exclusive waiter, then takes the
// write lock. Call for non-THREAD_SAFE converters.
func (g *ConverterGuard) AcquireExclusive() {
	atomic.AddInt32(&g.pendingExclusive, 1)
	g.mu.Lock()
	atomic.AddInt32(&g.pendingExclusive, -1)
}

// ReleaseExclusive releases an exclusive lock taken by AcquireExclusive.
func (g *ConverterGuard) ReleaseExclusive() { g.mu.Unlock() }

// Run executes fn under the guard appropriate to threadSafe, releasing it
// afterward even if fn panics.
func (g *ConverterGuard) Run(threadSafe bool, fn func()) {
	if threadSafe {
		g.AcquireShared()
		defer g.ReleaseShared()
	} else {
		g.AcquireExclusive()
		defer g.ReleaseExclusive()
	}
	fn()
}
