// Package discovery implements the discovery worker: a tree walk over each
// configured resource root that asks the compiler's conversion rules to
// create a root task for every file it allows, grounded on the teacher's
// indexing.FileScanner tree walk (internal/indexing/pipeline.go) but
// generalized from "index this file" to "queue a root conversion task".
package discovery

import (
	"io/fs"
	"path/filepath"

	"github.com/v2v3v4/bw-asset-pipeline/internal/compiler"
	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
)

const testFixturesDirName = "test_fixtures"

// Worker walks a compiler's resource roots, queuing a root task for every
// file a registered conversion rule claims.
type Worker struct {
	c *compiler.Compiler
}

// New returns a discovery Worker bound to c.
func New(c *compiler.Compiler) *Worker { return &Worker{c: c} }

// Stats summarizes one discovery pass, returned so a CLI frontend can print
// a short "discovered N, queued M" line.
type Stats struct {
	FilesConsidered int
	TasksQueued     int
}

// Run walks every root in roots, interning and queuing a root task for each
// file a rule claims. It skips the version-control directories the
// compiler's iteration policy excludes and any directory named
// test_fixtures. It does not check for the intermediate/output trees, so
// one that sits inside a root is walked too.
func (w *Worker) Run(roots []string) (Stats, error) {
	var stats Stats
	for _, root := range roots {
		if err := w.walkRoot(root, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (w *Worker) walkRoot(root string, stats *Stats) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A path that vanished mid-walk or is unreadable is simply
			// invisible to discovery; it never fails the pass.
			debug.LogDiscovery("skipping unreadable path %s: %v", path, err)
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if filepath.Base(rel) == testFixturesDirName || !w.c.ShouldIterateDirectory(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		stats.FilesConsidered++
		if !w.c.ShouldIterateFile(rel) {
			return nil
		}

		t := w.c.GetTask(rel, true)
		if t == nil {
			return nil
		}
		w.c.QueueTask(t)
		stats.TasksQueued++
		return nil
	})
}
