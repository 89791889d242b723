// Package cache keeps downloaded file content on local disk with a size
// bound and least-recently-used eviction.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/pkg/models"
)

// ErrTooLarge is returned by Put for content that could never fit.
var ErrTooLarge = errors.New("cache: content larger than cache")

// Cache manages locally cached files.
type Cache struct {
	dir     string
	maxSize int64 // Maximum cache size in bytes
	log     *zap.Logger

	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	size    int64
}

// New creates a cache in dir and indexes whatever a previous run left there.
func New(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:     dir,
		maxSize: maxSize,
		log:     logging.Named("cache"),
		entries: make(map[string]*models.CacheEntry),
	}
	if err := c.scan(); err != nil {
		return nil, err
	}
	return c, nil
}

// Key converts a file ID to a file-name-safe cache key.
func Key(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(id)
}

func (c *Cache) scan() error {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(c.dir, name))
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		c.entries[name] = &models.CacheEntry{
			FileID:     name,
			LocalPath:  filepath.Join(c.dir, name),
			Size:       info.Size(),
			LastAccess: info.ModTime(),
		}
		c.size += info.Size()
	}
	return nil
}

// Get returns the local path if the file is cached.
func (c *Cache) Get(fileID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[Key(fileID)]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		c.size -= entry.Size
		delete(c.entries, entry.FileID)
		return "", false
	}

	entry.LastAccess = time.Now()
	now := entry.LastAccess
	os.Chtimes(entry.LocalPath, now, now)
	return entry.LocalPath, true
}

// Put stores a file in the cache. size is a hint used to make room
// before writing; pass -1 when unknown.
// Content is written atomically (temp file then rename).
func (c *Cache) Put(fileID string, r io.Reader, size int64) (string, error) {
	key := Key(fileID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		os.Remove(old.LocalPath)
		c.size -= old.Size
		delete(c.entries, key)
	}
	if size > c.maxSize {
		return "", ErrTooLarge
	}
	if size > 0 {
		c.makeRoom(size)
	}

	localPath := filepath.Join(c.dir, key)
	tempPath := localPath + ".tmp"

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, c.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write content: %w", err)
	}
	if written > c.maxSize {
		os.Remove(tempPath)
		return "", ErrTooLarge
	}

	// Atomic rename
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	c.entries[key] = &models.CacheEntry{
		FileID:     key,
		LocalPath:  localPath,
		Size:       written,
		LastAccess: time.Now(),
	}
	c.size += written

	// The size hint may have been wrong. The new entry itself stays.
	for c.size > c.maxSize {
		if !c.evictOldest(key) {
			break
		}
	}
	return localPath, nil
}

// Evict removes a file from the cache.
func (c *Cache) Evict(fileID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[Key(fileID)]
	if !ok {
		return nil
	}
	if err := os.Remove(entry.LocalPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached file: %w", err)
	}
	c.size -= entry.Size
	delete(c.entries, entry.FileID)
	return nil
}

// makeRoom evicts least recently used entries until need more bytes fit.
// Must be called with lock held.
func (c *Cache) makeRoom(need int64) {
	for c.size+need > c.maxSize {
		if !c.evictOldest("") {
			return
		}
	}
}

// evictOldest removes the least recently used file other than keep.
// Must be called with lock held.
func (c *Cache) evictOldest(keep string) bool {
	var oldest *models.CacheEntry
	for key, entry := range c.entries {
		if key == keep {
			continue
		}
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest == nil {
		return false
	}

	os.Remove(oldest.LocalPath)
	c.size -= oldest.Size
	delete(c.entries, oldest.FileID)
	c.log.Debug("evicted", zap.String("key", oldest.FileID), zap.Int64("size", oldest.Size))
	return true
}

// Fits reports whether content of the given size can be cached at all.
func (c *Cache) Fits(size int64) bool {
	return size <= c.maxSize
}

// Stats returns cache statistics.
func (c *Cache) Stats() (size, maxSize int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, c.maxSize, len(c.entries)
}

// List returns all cached entries, most recently used first.
func (c *Cache) List() []models.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]models.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.After(entries[j].LastAccess)
	})
	return entries
}

// Clear removes all files from the cache and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for id, entry := range c.entries {
		os.Remove(entry.LocalPath)
		c.size -= entry.Size
		delete(c.entries, id)
		count++
	}
	return count
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// IsCached returns true if the file is cached.
func (c *Cache) IsCached(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[Key(fileID)]
	return ok
}
