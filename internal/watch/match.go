package watch

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// splitDirBase splits a slash-normalized relative path into its directory
// (using "." for a top-level file) and base name, mirroring how Directory
// dependencies are recorded relative to a resource root.
func splitDirBase(relPath string) (dir, base string) {
	clean := filepath.ToSlash(relPath)
	dir = filepath.ToSlash(filepath.Dir(clean))
	base = filepath.Base(clean)
	return dir, base
}

// globDirMatches reports whether candidateDir is watchedDir itself, or (when
// recursive) a sub-directory of it.
func globDirMatches(watchedDir, candidateDir string, recursive bool) bool {
	watchedDir = filepath.ToSlash(watchedDir)
	candidateDir = filepath.ToSlash(candidateDir)
	if watchedDir == "" {
		watchedDir = "."
	}

	if watchedDir == candidateDir {
		return true
	}
	if !recursive {
		return false
	}
	if watchedDir == "." {
		return true
	}
	return strings.HasPrefix(candidateDir, watchedDir+"/")
}

// matchGlobPattern applies a Directory dependency's pattern to a single file
// base name, using the same regex-or-doublestar choice as the content-hash
// matcher in hashutil.DirectoryHash so a watched glob and its hashed
// membership always agree.
func matchGlobPattern(pattern string, isRegex bool, base string) bool {
	if pattern == "" {
		return true
	}
	if isRegex {
		re, err := regexp.Compile(pattern)
		return err == nil && re.MatchString(base)
	}
	ok, err := doublestar.Match(pattern, base)
	return err == nil && ok
}
