package compiler

import "github.com/v2v3v4/bw-asset-pipeline/internal/dependency"

// ThreadHandle is the converter.Compiler view bound to one worker thread.
// Go has no goroutine-local storage, so every per-thread state the
// original design kept implicitly (current error/warning flags, the
// task presently owned) is instead threaded explicitly through an
// integer threadID captured here at construction. ForThread builds a
// handle on demand (the processor asks for one at each converter call);
// handles for the same threadID share that thread's state.
type ThreadHandle struct {
	c        *Compiler
	threadID uint64
}

// ForThread returns the converter-facing handle for threadID, creating its
// backing state on first use.
func (c *Compiler) ForThread(threadID uint64) *ThreadHandle {
	c.stateFor(threadID) // ensure state exists
	return &ThreadHandle{c: c, threadID: threadID}
}

// EnsureUpToDate implements converter.Compiler. It translates the host's
// (ready, *task.Task) result into the (ready, subTaskSourcePath) shape the
// converter contract exposes, since converters never see task internals.
func (h *ThreadHandle) EnsureUpToDate(dep dependency.Dependency) (ready bool, subTaskSourcePath string) {
	ok, sub := h.c.EnsureUpToDate(dep, h.threadID)
	if sub != nil {
		return ok, sub.SourcePath()
	}
	return ok, ""
}

func (h *ThreadHandle) GetSourceFile(path string) (string, bool) { return h.c.GetSourceFile(path) }
func (h *ThreadHandle) GetHash(dep dependency.Dependency) uint64 { return h.c.GetHash(dep) }
func (h *ThreadHandle) GetFileHash(path string, force bool) uint64 {
	return h.c.GetFileHash(path, force)
}
func (h *ThreadHandle) GetDirectoryHash(dir, pattern string, isRegex, recursive bool) uint64 {
	return h.c.GetDirectoryHash(dir, pattern, isRegex, recursive)
}

func (h *ThreadHandle) SetError(msg string)   { h.c.SetError(h.threadID, msg) }
func (h *ThreadHandle) SetWarning(msg string) { h.c.SetWarning(h.threadID, msg) }
func (h *ThreadHandle) HasError() bool        { return h.c.HasError(h.threadID) }
func (h *ThreadHandle) HasWarning() bool      { return h.c.HasWarning(h.threadID) }

func (h *ThreadHandle) ResolveSourcePath(path string) string       { return h.c.ResolveSourcePath(path) }
func (h *ThreadHandle) ResolveIntermediatePath(path string) string { return h.c.ResolveIntermediatePath(path) }
func (h *ThreadHandle) ResolveOutputPath(path string) string       { return h.c.ResolveOutputPath(path) }

func (h *ThreadHandle) ForceRebuild() bool { return h.c.ForceRebuild() }

// ThreadID returns the bound thread identifier, used by the processor to
// key owning-thread comparisons and to pass into task.SetOwningThread.
func (h *ThreadHandle) ThreadID() uint64 { return h.threadID }
