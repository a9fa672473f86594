// Package watch implements the JIT daemon's reverse-dependency map and
// file-system watcher (spec §4.11): on every completed task it records
// which source paths and directory globs that task's inputs named, so a
// later file-system modification can find every task to invalidate without
// re-walking the dependency graph.
package watch

import (
	"sync"

	"github.com/v2v3v4/bw-asset-pipeline/internal/dependency"
	"github.com/v2v3v4/bw-asset-pipeline/internal/task"
)

// globEdge is one (pattern, recursive) directory dependency a task recorded,
// matched against a modified file's directory and base name.
type globEdge struct {
	dir       string
	pattern   string
	isRegex   bool
	recursive bool
	task      *task.Task
}

// ReverseMap is the JIT daemon's reverse-dependency index: path -> tasks
// that read it, plus the directory-glob edges tasks recorded via a
// Directory dependency. It also keeps each task's own forward edge set so
// a re-record (after the task runs again) can prune exactly its previous
// entries before installing the new ones, the way the teacher's debounced
// watcher replaces a path's prior state wholesale rather than accumulating
// stale edges across runs.
type ReverseMap struct {
	mu sync.Mutex

	byPath map[string][]*task.Task
	globs  []globEdge

	// forwardPaths remembers, per task, exactly which byPath keys it last
	// contributed, and forwardGlobCount how many glob edges, so Record can
	// prune them before re-inserting.
	forwardPaths map[*task.Task][]string
	forwardGlobCount map[*task.Task]int
}

// NewReverseMap returns an empty ReverseMap.
func NewReverseMap() *ReverseMap {
	return &ReverseMap{
		byPath:           make(map[string][]*task.Task),
		forwardPaths:     make(map[*task.Task][]string),
		forwardGlobCount: make(map[*task.Task]int),
	}
}

// Record installs t's current dependency list (primary + secondary inputs)
// into the reverse index, first pruning whatever edges t contributed on its
// previous run. Directory dependencies are recorded as glob edges; every
// other kind that carries a concrete path is recorded as a direct path
// edge, tagged is_output implicitly by the dependency's own Kind (the
// watcher only ever sees raw file-system paths, so IntermediateFile/
// OutputFile edges only matter if those trees are themselves watched).
func (m *ReverseMap) Record(t *task.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(t)

	deps := t.DepList()
	var paths []string
	addPath := func(p string) {
		m.byPath[p] = append(m.byPath[p], t)
		paths = append(paths, p)
	}

	globCount := 0
	record := func(dep dependency.Dependency) {
		switch dep.Type() {
		case dependency.KindSourceFile, dependency.KindIntermediateFile, dependency.KindOutputFile:
			addPath(dep.Path())
		case dependency.KindDirectory:
			dir, pattern, isRegex, recursive := dep.Directory()
			m.globs = append(m.globs, globEdge{dir: dir, pattern: pattern, isRegex: isRegex, recursive: recursive, task: t})
			globCount++
		}
	}

	for _, in := range deps.PrimaryInputs {
		record(in.Dep)
	}
	for _, in := range deps.SecondaryInputs {
		record(in.Dep)
	}

	m.forwardPaths[t] = paths
	m.forwardGlobCount[t] = globCount
}

// pruneLocked removes every edge t contributed on its previous Record call.
// Must be called with m.mu held.
func (m *ReverseMap) pruneLocked(t *task.Task) {
	for _, p := range m.forwardPaths[t] {
		m.byPath[p] = removeTask(m.byPath[p], t)
		if len(m.byPath[p]) == 0 {
			delete(m.byPath, p)
		}
	}
	delete(m.forwardPaths, t)

	if n := m.forwardGlobCount[t]; n > 0 {
		filtered := m.globs[:0]
		for _, g := range m.globs {
			if g.task == t {
				continue
			}
			filtered = append(filtered, g)
		}
		m.globs = filtered
	}
	delete(m.forwardGlobCount, t)
}

func removeTask(list []*task.Task, t *task.Task) []*task.Task {
	out := list[:0]
	for _, cand := range list {
		if cand != t {
			out = append(out, cand)
		}
	}
	return out
}

// Affected returns every task whose reverse edges name path directly, or
// whose directory-glob edge matches path's directory and base name,
// de-duplicated.
func (m *ReverseMap) Affected(path string) []*task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[*task.Task]bool)
	var out []*task.Task
	add := func(t *task.Task) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}

	for _, t := range m.byPath[path] {
		add(t)
	}

	dir, base := splitDirBase(path)
	for _, g := range m.globs {
		if !globDirMatches(g.dir, dir, g.recursive) {
			continue
		}
		if matchGlobPattern(g.pattern, g.isRegex, base) {
			add(g.task)
		}
	}

	return out
}
