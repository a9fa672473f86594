// Package cache implements the content-addressable cache façade: a static
// mapping from (logical path, input hash) to bytes in a shared filesystem
// store. The cache never mutates an entry in place — the same hash is
// assumed to always mean identical bytes — so reads and writes never
// race on a single key.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/v2v3v4/bw-asset-pipeline/internal/debug"
)

// Cache is a shared-filesystem content-addressable store. The zero value
// with an empty Path is a disabled cache: every Read misses, every Write
// is a silent no-op.
type Cache struct {
	path         string
	readEnabled  bool
	writeEnabled bool

	// reads dedupes concurrent Read calls that land on the same shard
	// path: several tasks racing to pull down the same cached hash only
	// touch the backing store once, and share the bytes.
	reads singleflight.Group

	hits    int64
	misses  int64
	writes  int64
	corrupt int64
}

// New constructs a cache rooted at path. An empty path disables the cache
// outright regardless of the enabled flags.
func New(path string, readEnabled, writeEnabled bool) *Cache {
	return &Cache{
		path:         path,
		readEnabled:  readEnabled && path != "",
		writeEnabled: writeEnabled && path != "",
	}
}

// Enabled reports whether the cache has a backing path at all.
func (c *Cache) Enabled() bool { return c.path != "" }

// shardedPath maps a hash to cache_path/<two-hex>/<rest-of-hex>, fanning
// entries out across 256 shard directories so no single directory holds
// the whole cache.
func (c *Cache) shardedPath(hash uint64) string {
	hex := fmt.Sprintf("%016x", hash)
	return filepath.Join(c.path, hex[:2], hex[2:])
}

// Read copies the cache entry for hash into localPath if present and
// reading is enabled. Failure (disabled, miss, or any I/O error) is
// non-fatal: callers fall back to local work and report the miss via
// their own on_cache_read_miss hook.
func (c *Cache) Read(localPath string, hash uint64) bool {
	if !c.readEnabled {
		return false
	}
	src := c.shardedPath(hash)
	v, err, _ := c.reads.Do(src, func() (interface{}, error) {
		return os.ReadFile(src)
	})
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		debug.LogCache("read miss for %s (hash %016x): %v", localPath, hash, err)
		return false
	}
	if err := writeLocal(localPath, v.([]byte)); err != nil {
		atomic.AddInt64(&c.misses, 1)
		debug.LogCache("read miss for %s (hash %016x): %v", localPath, hash, err)
		return false
	}
	atomic.AddInt64(&c.hits, 1)
	debug.LogCache("read hit for %s (hash %016x)", localPath, hash)
	return true
}

// ReadVerified is Read plus a post-copy hash check against contentHash,
// the caller's own FNV-1a hash of the copied bytes. A mismatch is treated
// as cache-corrupt: the copy is removed and the call reports failure as if
// it had simply missed. Nothing is recorded about the key, so a later Write
// for it proceeds as usual.
func (c *Cache) ReadVerified(localPath string, hash uint64, contentHash func([]byte) uint64) bool {
	if !c.Read(localPath, hash) {
		return false
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		atomic.AddInt64(&c.misses, 1)
		return false
	}
	if contentHash(data) != hash {
		atomic.AddInt64(&c.corrupt, 1)
		os.Remove(localPath)
		debug.LogCache("corrupt entry for %s (hash %016x)", localPath, hash)
		return false
	}
	return true
}

// Write uploads localPath's contents under hash. Failure is non-fatal.
func (c *Cache) Write(localPath string, hash uint64) bool {
	if !c.writeEnabled {
		return false
	}
	dst := c.shardedPath(hash)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		debug.LogCache("write miss for %s (hash %016x): %v", localPath, hash, err)
		return false
	}
	if err := copyFile(localPath, dst); err != nil {
		debug.LogCache("write miss for %s (hash %016x): %v", localPath, hash, err)
		return false
	}
	atomic.AddInt64(&c.writes, 1)
	debug.LogCache("wrote %s under hash %016x", localPath, hash)
	return true
}

// Stats is a snapshot of the cache's lifetime hit/miss/write/corrupt
// counters, exposed for diagnostics and tests.
type Stats struct {
	Hits    int64
	Misses  int64
	Writes  int64
	Corrupt int64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    atomic.LoadInt64(&c.hits),
		Misses:  atomic.LoadInt64(&c.misses),
		Writes:  atomic.LoadInt64(&c.writes),
		Corrupt: atomic.LoadInt64(&c.corrupt),
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%016x.tmp", dst, xxhash.Sum64String(src))
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// writeLocal atomically materializes data at dst, the same
// write-to-tmp-then-rename pattern copyFile uses, but from an in-memory
// buffer so concurrent Read calls sharing one singleflight result don't
// each re-open the backing store file.
func writeLocal(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%016x.tmp", dst, xxhash.Sum64(data))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
