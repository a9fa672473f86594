package task

import (
	"sync"

	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
)

// UnknownConverterID is the sentinel converter identity assigned to a task
// whose conversion rule could not resolve a converter for its source path.
// Such a task is pre-marked Failed; its status never advances further.
const UnknownConverterID uint64 = 0

// Task is one source file's build state: the source path it was created
// with (resource-relative, as the compiler passes it) identifies it; it is
// interned for the lifetime of the owning compiler and never moved.
type Task struct {
	mu sync.Mutex

	sourcePath       string
	converterID      uint64
	converterVersion string
	params           string

	status Status

	deps *dependency.List

	// subTasks holds the edges to other interned tasks this task's
	// secondary dependencies resolved to on its most recent stage B pass.
	// It is rebuilt before every convert attempt; stale edges from a
	// previous attempt never remain across attempts.
	subTasks []*Task

	// owningThread identifies which worker currently owns this task's
	// in-flight processing, or 0 if none. At most one conversion attempt
	// per task is ever in flight.
	owningThread uint64

	// requested marks a task explicitly asked for by a client (AssetServer
	// request or CLI-named input), which jumps the queue ahead of tasks
	// discovered only as dependencies.
	requested bool

	logBuffer []string
}

// New constructs an uninterned task in status New.
func New(sourcePath string, converterID uint64, converterVersion, params string) *Task {
	return &Task{
		sourcePath:       sourcePath,
		converterID:      converterID,
		converterVersion: converterVersion,
		params:           params,
		status:           StatusNew,
		deps:             dependency.New(),
	}
}

// NewUnknownConverter constructs a task that is pre-marked Failed because no
// rule could resolve a converter for sourcePath. Its status is deterministic
// and never changes: queries see Failed immediately, no build is attempted.
func NewUnknownConverter(sourcePath string) *Task {
	t := New(sourcePath, UnknownConverterID, "", "")
	t.status = StatusFailed
	return t
}

func (t *Task) SourcePath() string { return t.sourcePath }

func (t *Task) ConverterID() uint64 { return t.converterID }

func (t *Task) ConverterVersion() string { return t.converterVersion }

func (t *Task) Params() string { return t.params }

func (t *Task) IsUnknownConverter() bool { return t.converterID == UnknownConverterID }

// Status returns the task's current status under lock.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus transitions the task to to, ignoring the call if the
// transition would move a terminal Failed/Done task anywhere but Failed
// or a reset to New. Returns whether the transition was applied.
func (t *Task) SetStatus(to Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusFailed && to != StatusFailed && to != StatusNew {
		return false
	}
	if !CanTransition(t.status, to) {
		return false
	}
	t.status = to
	return true
}

// Reset returns the task to status New, clearing sub-task edges and owning
// thread, for a JIT re-queue after a watched dependency changed. The
// dependency list itself is left intact; Stage A will judge it stale on
// the next pass if the underlying hashes no longer match.
func (t *Task) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusNew
	t.subTasks = nil
	t.owningThread = 0
}

// DepList returns the task's dependency list. Callers must hold no
// assumption of thread-safety across concurrent processor stages; only one
// worker ever owns a task's processing at a time (see OwningThread).
func (t *Task) DepList() *dependency.List { return t.deps }

// OwningThread returns the worker thread id currently processing this task,
// or 0 if none.
func (t *Task) OwningThread() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.owningThread
}

// SetOwningThread records which worker owns this task's in-flight
// processing. Pass 0 to release ownership on suspend or completion.
func (t *Task) SetOwningThread(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.owningThread = id
}

// SubTasks returns a snapshot of the task's current sub-task edges.
func (t *Task) SubTasks() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Task, len(t.subTasks))
	copy(out, t.subTasks)
	return out
}

// ResetSubTasks replaces the sub-task edge set, called at the start of
// every stage B pass so stale edges from a previous attempt never persist.
func (t *Task) ResetSubTasks() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subTasks = nil
}

// AddSubTask records an edge to another interned task this task's
// secondary dependency resolution promoted or discovered.
func (t *Task) AddSubTask(sub *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.subTasks {
		if existing == sub {
			return
		}
	}
	t.subTasks = append(t.subTasks, sub)
}

// IsRequested reports whether this task was explicitly requested rather
// than discovered only as another task's dependency.
func (t *Task) IsRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requested
}

// MarkRequested flags the task as explicitly requested, used by the queue
// to decide front-insertion on (re-)queue.
func (t *Task) MarkRequested() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requested = true
}

// AppendLog appends a line to the task-scoped log buffer surfaced through
// on_task_completed for the JIT UI.
func (t *Task) AppendLog(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logBuffer = append(t.logBuffer, line)
}

// LogLines returns a snapshot of the task's log buffer.
func (t *Task) LogLines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.logBuffer))
	copy(out, t.logBuffer)
	return out
}
