package vfs

import (
	"strings"
	"sync"

	"spockfs/internal/core"
)

// HandleID is the type for VFS handles
type HandleID uint64

// openHandle represents an open file or directory
type openHandle struct {
	ino         core.ID
	path        string // canonical path at open time, kept current across renames
	isDir       bool
	flags       int
	acquired    bool // holds an open reference on ino
	dirPos      int  // For ReadDir pagination
	dirEnumDone bool // True if directory enumeration completed (for SMB)
}

// HandleManager manages VFS handles
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate creates a new handle for the given inode. acquired records that
// the caller took an open reference which Release must give back.
func (hm *HandleManager) Allocate(ino core.ID, path string, isDir bool, flags int, acquired bool) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		ino:      ino,
		path:     path,
		isDir:    isDir,
		flags:    flags,
		acquired: acquired,
	}

	return handle
}

// Get retrieves a copy of a handle's info
func (hm *HandleManager) Get(h HandleID) (openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	if !ok {
		return openHandle{}, false
	}
	return *info, true
}

// Release frees a handle and returns what it held
func (hm *HandleManager) Release(h HandleID) (openHandle, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	if !ok {
		return openHandle{}, false
	}
	delete(hm.handles, h)
	return *info, true
}

// Rebind points an existing handle at a different inode, returning the
// previous state so the caller can drop its reference.
func (hm *HandleManager) Rebind(h HandleID, ino core.ID, acquired bool) (openHandle, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	if !ok {
		return openHandle{}, false
	}
	prev := *info
	info.ino = ino
	info.acquired = acquired
	return prev, true
}

// Rename rewrites the recorded path of every handle at or below oldPath
func (hm *HandleManager) Rename(oldPath, newPath string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	prefix := strings.TrimSuffix(oldPath, "/") + "/"
	for _, info := range hm.handles {
		switch {
		case info.path == oldPath:
			info.path = newPath
		case strings.HasPrefix(info.path, prefix):
			info.path = strings.TrimSuffix(newPath, "/") + "/" + strings.TrimPrefix(info.path, prefix)
		}
	}
}

// FindPath returns the path of any open handle on ino
func (hm *HandleManager) FindPath(ino core.ID) (string, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	for _, info := range hm.handles {
		if info.ino == ino {
			return info.path, true
		}
	}
	return "", false
}

// UpdateDirPos updates the directory position for ReadDir
func (hm *HandleManager) UpdateDirPos(h HandleID, pos int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirPos = pos
	}
}

// GetDirPos gets the current directory position
func (hm *HandleManager) GetDirPos(h HandleID) int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirPos
	}
	return 0
}

// SetDirEnumDone marks directory enumeration as complete
func (hm *HandleManager) SetDirEnumDone(h HandleID, done bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirEnumDone = done
	}
}

// IsDirEnumDone checks if directory enumeration is complete
func (hm *HandleManager) IsDirEnumDone(h HandleID) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirEnumDone
	}
	return false
}

// Count returns the number of open handles
func (hm *HandleManager) Count() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Clear removes all handles and returns them so their references can be
// released. Handle ids are not reused afterwards.
func (hm *HandleManager) Clear() []openHandle {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	out := make([]openHandle, 0, len(hm.handles))
	for _, info := range hm.handles {
		out = append(out, *info)
	}
	hm.handles = make(map[HandleID]*openHandle)
	return out
}
