package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T, maxSize int64) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), maxSize)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCache_PutAndGet(t *testing.T) {
	c := newTestCache(t, 1<<20)

	content := []byte("hello world")
	path, err := c.Put("test1", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("content mismatch: got %q, want %q", data, content)
	}

	gotPath, ok := c.Get("test1")
	if !ok {
		t.Fatal("Get returned not ok")
	}
	if gotPath != path {
		t.Errorf("Get path mismatch: got %q, want %q", gotPath, path)
	}
}

func TestCache_IsCached(t *testing.T) {
	c := newTestCache(t, 1<<20)

	if c.IsCached("nonexistent") {
		t.Error("IsCached returned true for nonexistent file")
	}
	content := []byte("test")
	if _, err := c.Put("exists", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.IsCached("exists") {
		t.Error("IsCached returned false for existing file")
	}
}

func TestCache_Evict(t *testing.T) {
	c := newTestCache(t, 1<<20)

	content := []byte("test")
	path, _ := c.Put("evictme", bytes.NewReader(content), int64(len(content)))

	if err := c.Evict("evictme"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if c.IsCached("evictme") {
		t.Error("file still cached after evict")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists on disk after evict")
	}
	if err := c.Evict("evictme"); err != nil {
		t.Errorf("Evict of missing entry: %v", err)
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := newTestCache(t, 100)

	c.Put("file1", bytes.NewReader(make([]byte, 30)), 30)
	time.Sleep(10 * time.Millisecond)

	c.Put("file2", bytes.NewReader(make([]byte, 30)), 30)
	time.Sleep(10 * time.Millisecond)

	// Access file1 to make it more recent
	c.Get("file1")

	// 30 + 30 + 50 > 100: file2 is the least recently used.
	c.Put("file3", bytes.NewReader(make([]byte, 50)), 50)

	if c.IsCached("file2") {
		t.Error("file2 should have been evicted")
	}
	if !c.IsCached("file1") {
		t.Error("file1 should not have been evicted")
	}
	if !c.IsCached("file3") {
		t.Error("file3 should be cached")
	}
}

func TestCache_UnknownSizeStillBounded(t *testing.T) {
	c := newTestCache(t, 100)

	c.Put("a", bytes.NewReader(make([]byte, 60)), -1)
	time.Sleep(10 * time.Millisecond)
	c.Put("b", bytes.NewReader(make([]byte, 60)), -1)

	size, _, count := c.Stats()
	if size > 100 || count != 1 {
		t.Errorf("size=%d count=%d, want <=100 and 1", size, count)
	}
	if !c.IsCached("b") {
		t.Error("newest entry should survive")
	}
}

func TestCache_ContentLargerThanCache(t *testing.T) {
	c := newTestCache(t, 10)
	c.Put("small", bytes.NewReader(make([]byte, 5)), 5)

	tests := []struct {
		name string
		size int64
	}{
		{"size known", 20},
		{"size unknown", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := c.Put("big", bytes.NewReader(make([]byte, 20)), tt.size)
			if !errors.Is(err, ErrTooLarge) {
				t.Fatalf("Put = %q, %v; want ErrTooLarge", path, err)
			}
			if c.IsCached("big") {
				t.Error("oversized content should not be cached")
			}
			if !c.IsCached("small") {
				t.Error("oversized content should not evict other entries")
			}
			if _, err := os.Stat(filepath.Join(c.Dir(), "big.tmp")); !os.IsNotExist(err) {
				t.Errorf("temp file left behind: %v", err)
			}
		})
	}
	if c.Fits(20) || !c.Fits(10) {
		t.Error("Fits disagrees with the cache limit")
	}
}

func TestCache_NewEntryNeverEvicted(t *testing.T) {
	c := newTestCache(t, 10)

	c.Put("old", bytes.NewReader(make([]byte, 6)), 6)
	time.Sleep(10 * time.Millisecond)
	// The hint understates the size, so room is only made afterwards.
	path, err := c.Put("new", bytes.NewReader(make([]byte, 10)), 1)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("returned path missing: %v", err)
	}
	if !c.IsCached("new") || c.IsCached("old") {
		t.Error("expected old evicted and new kept")
	}
}

func TestCache_Stats(t *testing.T) {
	maxSize := int64(1 << 20)
	c := newTestCache(t, maxSize)

	size, max, count := c.Stats()
	if size != 0 || count != 0 {
		t.Errorf("initial stats wrong: size=%d, count=%d", size, count)
	}
	if max != maxSize {
		t.Errorf("max size wrong: got %d, want %d", max, maxSize)
	}

	c.Put("stats1", bytes.NewReader(make([]byte, 100)), 100)
	// Replacing an entry must not double count.
	c.Put("stats1", bytes.NewReader(make([]byte, 100)), 100)

	size, _, count = c.Stats()
	if size != 100 || count != 1 {
		t.Errorf("after Put stats wrong: size=%d, count=%d", size, count)
	}
}

func TestCache_ListAndClear(t *testing.T) {
	c := newTestCache(t, 1<<20)

	c.Put("a", bytes.NewReader([]byte("a")), 1)
	c.Put("b", bytes.NewReader([]byte("bb")), 2)
	c.Put("c", bytes.NewReader([]byte("ccc")), 3)

	if entries := c.List(); len(entries) != 3 {
		t.Errorf("List returned %d entries, want 3", len(entries))
	}
	if cleared := c.Clear(); cleared != 3 {
		t.Errorf("Clear returned %d, want 3", cleared)
	}
	if size, _, count := c.Stats(); size != 0 || count != 0 {
		t.Errorf("after Clear: size=%d count=%d", size, count)
	}
}

func TestCache_AtomicWrite(t *testing.T) {
	c := newTestCache(t, 1<<20)

	content := []byte("atomic content")
	path, err := c.Put("atomic", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error(".tmp file should not exist after Put")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("final file should exist: %v", err)
	}
}

func TestNew_IndexesExistingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "subdir", "cache")
	c, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("keep", bytes.NewReader([]byte("12345")), 5)
	os.WriteFile(filepath.Join(dir, "partial.tmp"), []byte("x"), 0600)

	reopened, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !reopened.IsCached("keep") {
		t.Error("entry from previous run not indexed")
	}
	if size, _, count := reopened.Stats(); size != 5 || count != 1 {
		t.Errorf("stats = %d/%d, want 5/1", size, count)
	}
	if _, err := os.Stat(filepath.Join(dir, "partial.tmp")); !os.IsNotExist(err) {
		t.Error("leftover temp file should be removed")
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		id, want string
	}{
		{"/path/to/file.txt", "_path_to_file.txt"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Key(tt.id); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
