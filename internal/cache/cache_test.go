package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/v2v3v4/bw-asset-pipeline/internal/hashutil"
)

func TestDisabledCacheMissesEverything(t *testing.T) {
	c := New("", true, true)
	if c.Enabled() {
		t.Fatalf("expected empty path to disable the cache")
	}
	if c.Read(filepath.Join(t.TempDir(), "out"), 1) {
		t.Fatalf("expected disabled cache to miss on read")
	}
	if c.Write(filepath.Join(t.TempDir(), "out"), 1) {
		t.Fatalf("expected disabled cache to no-op on write")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "store"), true, true)

	src := filepath.Join(dir, "a.TXT")
	if err := os.WriteFile(src, []byte("HELLO"), 0644); err != nil {
		t.Fatal(err)
	}
	hash := hashutil.Bytes([]byte("HELLO"))

	if !c.Write(src, hash) {
		t.Fatalf("expected write to succeed")
	}

	dst := filepath.Join(dir, "restored.TXT")
	if !c.Read(dst, hash) {
		t.Fatalf("expected read to hit after write")
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "HELLO" {
		t.Fatalf("got %q want HELLO", got)
	}

	stats := c.Stats()
	if stats.Writes != 1 || stats.Hits != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReadMissForUnknownHash(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "store"), true, true)

	if c.Read(filepath.Join(dir, "out"), 0xdeadbeef) {
		t.Fatalf("expected miss for hash never written")
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("expected 1 recorded miss")
	}
}

func TestReadVerifiedDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "store"), true, true)

	src := filepath.Join(dir, "a.TXT")
	os.WriteFile(src, []byte("HELLO"), 0644)
	hash := hashutil.Bytes([]byte("HELLO"))
	c.Write(src, hash)

	// Corrupt the stored shard directly.
	shard := c.shardedPath(hash)
	if err := os.WriteFile(shard, []byte("TAMPERED"), 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "restored.TXT")
	if c.ReadVerified(dst, hash, hashutil.Bytes) {
		t.Fatalf("expected corrupted entry to fail verification")
	}
	if c.Stats().Corrupt != 1 {
		t.Fatalf("expected corruption recorded")
	}
	if _, err := os.Stat(dst); err == nil {
		t.Fatalf("expected corrupted local copy to be removed")
	}
}

func TestConcurrentReadsOfSameHashAllSucceed(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "store"), true, true)

	src := filepath.Join(dir, "a.TXT")
	os.WriteFile(src, []byte("HELLO"), 0644)
	hash := hashutil.Bytes([]byte("HELLO"))
	c.Write(src, hash)

	const n = 16
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			dst := filepath.Join(dir, "restored", string(rune('a'+i)))
			results <- c.Read(dst, hash)
		}(i)
	}
	for i := 0; i < n; i++ {
		if !<-results {
			t.Fatalf("expected every concurrent read of the same hash to hit")
		}
	}
}

func TestWriteDisabledWhileReadEnabled(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "store"), true, false)

	src := filepath.Join(dir, "a.TXT")
	os.WriteFile(src, []byte("HELLO"), 0644)
	if c.Write(src, 1) {
		t.Fatalf("expected write to be a no-op when write-disabled")
	}
}
