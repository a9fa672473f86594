package compiler

import (
	"path/filepath"
)

// skippedDirNames are tree-walk entries discovery never descends into:
// version-control metadata directories. The intermediate and output trees
// are not among them; one placed inside a resource root is walked like any
// other directory.
var skippedDirNames = map[string]bool{
	".svn": true,
	".git": true,
	".hg":  true,
}

// ShouldIterateDirectory reports whether discovery should recurse into
// dir (a path relative to its resource root). It rejects only the names in
// skippedDirNames; it does not check for the intermediate or output trees.
func (c *Compiler) ShouldIterateDirectory(relDir string) bool {
	base := filepath.Base(relDir)
	if skippedDirNames[base] {
		return false
	}
	return true
}

// ShouldIterateFile reports whether discovery should consider relPath for
// task creation at all, before even consulting conversion rules. Files
// already interned (because a converter's CreateDependencies discovered
// them as a secondary input before discovery reached them) are skipped so
// discovery never clobbers a task's existing state.
func (c *Compiler) ShouldIterateFile(relPath string) bool {
	if _, exists := c.tasks.Get(relPath); exists {
		return false
	}
	return true
}
