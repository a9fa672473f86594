package task

import "sync"

// Queue is the mutex-protected deque of pending tasks the scheduler drains.
// queue_task pushes to the back; a requested task pushes to the front,
// first removing any existing back-entry for the same task so it is never
// queued twice.
type Queue struct {
	mu    sync.Mutex
	tasks []*Task
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push enqueues t. A requested task jumps to the front; any existing
// occurrence elsewhere in the queue is removed first so the front entry is
// the only one. A non-requested task pushes to the back as usual.
func (q *Queue) Push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t.IsRequested() {
		q.removeLocked(t)
		q.tasks = append([]*Task{t}, q.tasks...)
		return
	}
	q.tasks = append(q.tasks, t)
}

// PushFront promotes t to the front of the queue unconditionally, used to
// promote a suspended task's unresolved sub-task edges ahead of ordinary
// work.
func (q *Queue) PushFront(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(t)
	q.tasks = append([]*Task{t}, q.tasks...)
}

func (q *Queue) removeLocked(t *Task) {
	for i, existing := range q.tasks {
		if existing == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// Next pops the front task and flips its status Queued -> Processing.
// Returns nil if the queue is empty.
func (q *Queue) Next() *Task {
	q.mu.Lock()
	t := q.popFrontLocked()
	q.mu.Unlock()

	if t == nil {
		return nil
	}
	t.SetStatus(StatusProcessing)
	return t
}

func (q *Queue) popFrontLocked() *Task {
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t
}

// Len returns the number of tasks currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// HasTasks reports whether the queue is non-empty.
func (q *Queue) HasTasks() bool {
	return q.Len() > 0
}
