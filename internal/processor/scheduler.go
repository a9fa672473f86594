package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// pollInterval is the scheduler's outer-loop cadence, capping how often it
// reconciles worker count against queue depth.
const pollInterval = 100 * time.Millisecond

// Scheduler is the multi-thread processTasks driver: an outer loop that
// compares queued task count against idle worker count and spins workers
// up or signals them to drain, polling at a fixed cadence to bound
// contention on the task queue and intern table.
type Scheduler struct {
	p          *Processor
	numThreads int

	// keepAlive keeps the outer loop running once the queue drains
	// instead of returning, for a JIT daemon that expects a later
	// watch-triggered requeue to refill it. A batch build leaves this
	// false so Run returns as soon as there is nothing left to do.
	keepAlive bool

	nextThreadID uint64
}

// NewScheduler returns a Scheduler that keeps at most numThreads workers
// draining p's compiler queue at once, returning once the queue empties.
func NewScheduler(p *Processor, numThreads int) *Scheduler {
	if numThreads < 1 {
		numThreads = 1
	}
	return &Scheduler{p: p, numThreads: numThreads}
}

// NewDaemonScheduler is NewScheduler but Run never returns on an empty
// queue: it keeps polling until ctx is canceled or the compiler
// terminates, so a daemon frontend can requeue tasks from a file watcher
// between drains.
func NewDaemonScheduler(p *Processor, numThreads int) *Scheduler {
	s := NewScheduler(p, numThreads)
	s.keepAlive = true
	return s
}

// RunSingleThread drains the queue on the calling goroutine until it is
// empty or kill reports a pending stop token, decrementing it and
// returning. This is the single-thread processTasks mode and also the body
// every multi-thread worker goroutine runs.
func (p *Processor) RunSingleThread(threadID uint64, kill *int32) {
	for {
		if atomic.LoadInt32(kill) > 0 {
			atomic.AddInt32(kill, -1)
			return
		}
		t := p.c.GetNextTask()
		if t == nil {
			return
		}
		p.ProcessTask(threadID, t)
	}
}

// Run is the multi-thread processTasks outer loop. It polls every
// pollInterval: if the queue holds more tasks than there are active
// workers, it spawns more (up to numThreads); if workers outnumber queued
// tasks, it raises the kill-token counter by the difference so idle
// workers drain themselves. It returns once the compiler is terminated, or
// ctx is done, and every spawned worker has exited.
func (p *Processor) Run(ctx context.Context, numThreads int) error {
	return NewScheduler(p, numThreads).Run(ctx)
}

// RunDaemon is Run but never returns once the queue first drains: it keeps
// polling, ready for a watcher to requeue tasks, until ctx is canceled.
func (p *Processor) RunDaemon(ctx context.Context, numThreads int) error {
	return NewDaemonScheduler(p, numThreads).Run(ctx)
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.numThreads == 1 && !s.keepAlive {
		var kill int32
		s.p.RunSingleThread(s.nextID(), &kill)
		return ctx.Err()
	}

	g, ctx := errgroup.WithContext(ctx)
	var (
		mu         sync.Mutex
		killTokens int32
		active     int
	)

	spawn := func() {
		active++
		id := s.nextID()
		g.Go(func() error {
			s.p.RunSingleThread(id, &killTokens)
			mu.Lock()
			active--
			mu.Unlock()
			return nil
		})
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		case <-ticker.C:
		}

		if s.p.c.Terminated() {
			break
		}

		queued := s.p.c.Queue().Len()

		mu.Lock()
		switch {
		case queued > active && active < s.numThreads:
			toSpawn := queued - active
			if active+toSpawn > s.numThreads {
				toSpawn = s.numThreads - active
			}
			for i := 0; i < toSpawn; i++ {
				spawn()
			}
		case active > queued:
			atomic.AddInt32(&killTokens, int32(active-queued))
		}
		idle := active == 0
		mu.Unlock()

		if idle && !s.p.c.HasTasks() && !s.keepAlive {
			break
		}
	}

	return g.Wait()
}

func (s *Scheduler) nextID() uint64 {
	return atomic.AddUint64(&s.nextThreadID, 1)
}
