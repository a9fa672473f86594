package compiler

// Semaphore is the counting semaphore sized to numThreads that gates how
// many tasks may be in-flight at once. Every on_task_started/resumed call
// acquires one slot; every on_task_suspended/completed call releases it.
// Pause acquires every slot, which can only succeed once every in-flight
// task has released its own — exactly the "pause blocks until every slot
// is idle" guarantee the design calls for. Resume gives every slot back.
type Semaphore struct {
	slots chan struct{}
	size  int
}

// NewSemaphore creates a semaphore with size idle slots already available.
func NewSemaphore(size int) *Semaphore {
	if size < 1 {
		size = 1
	}
	s := &Semaphore{slots: make(chan struct{}, size), size: size}
	for i := 0; i < size; i++ {
		s.slots <- struct{}{}
	}
	return s
}

// Acquire takes one idle slot, blocking while all are in use.
func (s *Semaphore) Acquire() { <-s.slots }

// Release returns a slot to the idle pool.
func (s *Semaphore) Release() { s.slots <- struct{}{} }

// Pause acquires every slot, blocking until all in-flight tasks have
// suspended or completed, and returns only once the pool is fully frozen.
func (s *Semaphore) Pause() {
	for i := 0; i < s.size; i++ {
		s.Acquire()
	}
}

// Resume releases every slot acquired by Pause.
func (s *Semaphore) Resume() {
	for i := 0; i < s.size; i++ {
		s.Release()
	}
}

// Size returns the configured number of worker slots.
func (s *Semaphore) Size() int { return s.size }
