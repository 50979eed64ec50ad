// Package cache maps rasterized content to the files already produced for
// it, so identical fragments are converted once per process.
//
// Entries are only as durable as the files they point to: a lookup whose
// backing file has disappeared evicts the entry and reports a miss, and no
// background sweeping is performed.
package cache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultCapacity bounds the entry count when the caller does not.
const DefaultCapacity = 100

// Key addresses produced files by content digest.
type Key string

// KeyFor returns the key for normalized fragment content. Identical content
// always yields the identical key, across processes and runs.
func KeyFor(content string) Key {
	sum := blake2b.Sum256([]byte(content))
	return Key(hex.EncodeToString(sum[:]))
}

type entry struct {
	path         string
	createdAt    time.Time
	lastAccessed time.Time
}

// FileCache is a capacity-bounded index from content keys to files on disk.
// All operations take the single mutex; the cache is the one structure
// shared between conversion workers.
type FileCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[Key]*entry
}

// New returns an empty cache holding at most capacity entries. Non-positive
// capacity means DefaultCapacity.
func New(capacity int) *FileCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &FileCache{
		capacity: capacity,
		entries:  make(map[Key]*entry),
	}
}

// Get returns the produced file recorded for key. An entry whose backing
// file no longer exists is evicted and reported as a miss rather than
// returned. Hits refresh the entry's access time.
func (c *FileCache) Get(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(e.path); err != nil {
		delete(c.entries, key)
		return "", false
	}
	e.lastAccessed = time.Now()
	return e.path, true
}

// Put records path as the produced file for key, refreshing the entry when
// key is already present. When the cache is full, the least recently
// accessed quarter of the entries (at least one) is purged first.
func (c *FileCache) Put(key Key, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if e, ok := c.entries[key]; ok {
		e.path = path
		e.lastAccessed = now
		return
	}
	if len(c.entries) >= c.capacity {
		c.purgeOldest()
	}
	c.entries[key] = &entry{path: path, createdAt: now, lastAccessed: now}
}

// purgeOldest removes ceil(len/4) entries, oldest access time first.
// Caller holds the mutex.
func (c *FileCache) purgeOldest() {
	n := (len(c.entries) + 3) / 4
	if n < 1 {
		n = 1
	}
	type aged struct {
		key Key
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.lastAccessed})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}

// EvictPath removes every entry recording path as its produced file. A
// caller about to write different content to path uses it so the keys that
// pointed there degrade to misses instead of serving the new bytes.
func (c *FileCache) EvictPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	clean := filepath.Clean(path)
	for k, e := range c.entries {
		if filepath.Clean(e.path) == clean {
			delete(c.entries, k)
		}
	}
}

// Len reports the current entry count, dangling entries included.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry. Produced files are left on disk.
func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*entry)
}
