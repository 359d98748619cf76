package cache

import (
	"strings"
	"sync"
	"time"

	"spockfs/internal/core"
)

// AttrCache caches file/directory attributes with TTL-based expiration.
// Supports fine-grained invalidation by path.
//
// Thread-safe: Uses RWMutex for concurrent access.
type AttrCache struct {
	mu      sync.RWMutex
	entries map[string]*attrEntry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type attrEntry struct {
	attr    core.Attr
	expires time.Time
}

// NewAttrCache creates a new attribute cache.
// ttl: Time-to-live for cached entries (use 0 for no expiration)
// maxSize: Maximum number of entries (use 0 for unlimited)
func NewAttrCache(ttl time.Duration, maxSize int) *AttrCache {
	return &AttrCache{
		entries: make(map[string]*attrEntry, 256),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves cached attributes for a path.
// Reports a miss if not found, expired, or caching is disabled (SPOCKFS_CACHE=0).
func (c *AttrCache) Get(path string) (core.Attr, bool) {
	if Disabled {
		return core.Attr{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok {
		return core.Attr{}, false
	}

	if c.ttl > 0 && c.now().After(entry.expires) {
		return core.Attr{}, false
	}

	return entry.attr, true
}

// Set stores attributes for a path.
// No-op if caching is disabled (SPOCKFS_CACHE=0).
func (c *AttrCache) Set(path string, attr core.Attr) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if _, exists := c.entries[path]; !exists {
			c.evictExpiredLocked()
			if len(c.entries) >= c.maxSize {
				return
			}
		}
	}

	expires := time.Time{}
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}

	c.entries[path] = &attrEntry{
		attr:    attr,
		expires: expires,
	}
}

// evictExpiredLocked drops every expired entry. Caller holds c.mu.
func (c *AttrCache) evictExpiredLocked() {
	if c.ttl <= 0 {
		return
	}
	now := c.now()
	for path, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, path)
		}
	}
}

// Invalidate clears all entries from the cache.
func (c *AttrCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]*attrEntry, 256)
	}
}

// InvalidatePath removes a specific path from the cache.
func (c *AttrCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
}

// InvalidatePrefix removes all paths below the given directory.
func (c *AttrCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	for path := range c.entries {
		if strings.HasPrefix(path, prefix) {
			delete(c.entries, path)
		}
	}
}

// InvalidatePathAndParent invalidates a path and its parent directory.
// Used for create, remove, mkdir, symlink operations.
func (c *AttrCache) InvalidatePathAndParent(path, parentPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
	delete(c.entries, parentPath)
}

// InvalidateRename invalidates paths affected by a rename operation.
// Affects: oldPath, newPath, oldParent, newParent
func (c *AttrCache) InvalidateRename(oldPath, newPath, oldParent, newParent string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, oldPath)
	delete(c.entries, newPath)
	delete(c.entries, oldParent)
	delete(c.entries, newParent)
}

// Size returns the current number of entries in the cache.
func (c *AttrCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// AttrCacheStats is a point-in-time view of an AttrCache.
type AttrCacheStats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
}

// Stats returns current cache statistics.
func (c *AttrCache) Stats() AttrCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AttrCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		TTL:     c.ttl,
	}
}

var _ Invalidator = (*AttrCache)(nil)
