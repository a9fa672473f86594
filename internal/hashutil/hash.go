// Package hashutil implements the pipeline's FNV-1a-like 64-bit hashing
// primitive and the shared, process-wide file-content hash cache. The
// avalanche constant used by Combine is contractual: every dependency list
// ever persisted to disk was hashed with it, so it must never change.
package hashutil

import (
	"os"
	"sync"
)

const (
	fnvOffsetBasis uint64 = 14695981039346656037
	fnvPrime       uint64 = 1099511628211

	// combineConstant is XORed into every Combine call. It is the same
	// 0x9E3779B97F4A7C15 golden-ratio constant used throughout the asset
	// pipeline's original hash-combine routines; changing it would silently
	// invalidate every persisted dependency list and cache key.
	combineConstant uint64 = 0x9E3779B97F4A7C15
)

// Bytes computes the FNV-1a 64-bit hash of a byte slice.
func Bytes(b []byte) uint64 {
	h := fnvOffsetBasis
	for _, c := range b {
		h ^= uint64(c)
		h *= fnvPrime
	}
	return h
}

// String computes the FNV-1a 64-bit hash of a string without allocating.
func String(s string) uint64 {
	h := fnvOffsetBasis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return h
}

// Uint64 hashes a single 64-bit integer value.
func Uint64(v uint64) uint64 {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return Bytes(buf[:])
}

// Combine folds value, itself an already-computed hash, into seed using
// the pipeline's contractual avalanche formula: seed' = seed XOR value XOR
// 0x9E3779B97F4A7C15 XOR ((seed<<5) + (seed>>3)). value is not hashed again.
func Combine(seed, value uint64) uint64 {
	return seed ^ value ^ combineConstant ^ ((seed << 5) + (seed >> 3))
}

// CombineValues folds a sequence of already-computed hashes into one,
// starting from the sequence length. This is the routine DependencyList
// uses to compute its combined input hash.
func CombineValues(values ...uint64) uint64 {
	h := Uint64(uint64(len(values)))
	for _, v := range values {
		h = Combine(h, v)
	}
	return h
}

// FileHashCache maps absolute path -> content hash, shared for the lifetime
// of the compiler. Reads take a shared lock; a miss is resolved under an
// exclusive lock so concurrent misses for the same path don't race to
// insert different values for the same content.
type FileHashCache struct {
	mu      sync.RWMutex
	entries map[string]uint64
}

// NewFileHashCache creates an empty cache.
func NewFileHashCache() *FileHashCache {
	return &FileHashCache{entries: make(map[string]uint64)}
}

// FileHash returns the FNV-1a hash of path's content, reading and caching it
// if not already cached or if force is set. A missing file hashes to 0 and
// is not cached (so a later run sees it appear without needing Invalidate).
func (c *FileHashCache) FileHash(path string, force bool) uint64 {
	if !force {
		c.mu.RLock()
		h, ok := c.entries[path]
		c.mu.RUnlock()
		if ok {
			return h
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.mu.Lock()
		delete(c.entries, path)
		c.mu.Unlock()
		return 0
	}

	h := Bytes(data)
	c.mu.Lock()
	c.entries[path] = h
	c.mu.Unlock()
	return h
}

// Invalidate removes path's cached hash, forcing the next FileHash call to
// re-read it. Used by the JIT file-system watcher on modification events.
func (c *FileHashCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

// Peek returns the cached hash for path without touching the filesystem.
func (c *FileHashCache) Peek(path string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[path]
	return h, ok
}
