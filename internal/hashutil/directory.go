package hashutil

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DirectoryHash computes the combined hash of a directory's matching files,
// per spec: list the directory (sorted), for each matching file combine
// (filename_hash, file_hash); for each sub-directory, if recursive, combine
// the recursive result only if it is non-zero. Unmatched files are ignored.
func DirectoryHash(cache *FileHashCache, dir, pattern string, isRegex, recursive bool) uint64 {
	match, err := newMatcher(pattern, isRegex)
	if err != nil {
		return 0
	}
	return directoryHash(cache, dir, match, recursive)
}

func directoryHash(cache *FileHashCache, dir string, match func(name string) bool, recursive bool) uint64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)

	byName := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		byName[e.Name()] = e
	}

	var h uint64
	for _, name := range names {
		entry := byName[name]
		full := filepath.Join(dir, name)

		if entry.IsDir() {
			if !recursive {
				continue
			}
			sub := directoryHash(cache, full, match, recursive)
			if sub != 0 {
				h = Combine(h, sub)
			}
			continue
		}

		if !match(name) {
			continue
		}
		h = Combine(h, Combine(String(name), cache.FileHash(full, false)))
	}

	return h
}

func newMatcher(pattern string, isRegex bool) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	if isRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	}
	return func(name string) bool {
		ok, err := doublestar.Match(pattern, name)
		return err == nil && ok
	}, nil
}
