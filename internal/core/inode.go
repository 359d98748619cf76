// Copyright 2024 SpockFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spockfs/internal/common"
)

// ID identifies an inode within one FS instance. IDs are never reused.
type ID uint64

// RootID is the inode of the namespace root
const RootID ID = 1

// Caller is the identity an operation runs as
type Caller struct {
	Uid    uint32
	Gid    uint32
	Groups []uint32
}

// Root is the superuser identity
var Root = Caller{}

// inGroup reports whether gid is the caller's primary or a supplementary group
func (c Caller) inGroup(gid uint32) bool {
	if c.Gid == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// Inode is one filesystem object. Exported fields are guarded by the inode's
// own lock; use Store.Mutate and Store.Stat from outside the package.
type Inode struct {
	mu sync.RWMutex

	ID    ID
	Type  FileType
	Mode  uint32 // type bits | permission bits
	Uid   uint32
	Gid   uint32
	Rdev  uint64
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
	Nlink uint32

	xattrs   map[string][]byte
	data     []byte    // regular files
	target   string    // symlinks
	dir      *dirTable // directories
	openRefs int
	reaped   bool
}

// Perm returns the permission bits
func (n *Inode) Perm() uint32 {
	return n.Mode & PermMask
}

// IsDir returns true if the inode is a directory
func (n *Inode) IsDir() bool {
	return n.Type == TypeDirectory
}

// IsSymlink returns true if the inode is a symbolic link
func (n *Inode) IsSymlink() bool {
	return n.Type == TypeSymlink
}

// dirTable is the entry table of a directory. It has its own lock, separate
// from the owning inode's, protecting entries and the removed flag.
type dirTable struct {
	mu      sync.RWMutex
	entries map[string]ID
	removed bool

	// parent changes only under the namespace rename lock, but is read
	// lock-free by ".." resolution and ancestry checks.
	parent atomic.Uint64
}

func newDirTable(parent ID) *dirTable {
	t := &dirTable{entries: make(map[string]ID)}
	t.parent.Store(uint64(parent))
	return t
}

func (t *dirTable) parentID() ID {
	return ID(t.parent.Load())
}

// Attr is a consistent snapshot of an inode's metadata
type Attr struct {
	Ino     ID
	Type    FileType
	Mode    uint32
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Size    int64
	Blocks  int64 // 512-byte units
	Blksize uint32
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// Perm returns the permission bits
func (a Attr) Perm() uint32 {
	return a.Mode & PermMask
}

// IsDir returns true if the attributes describe a directory
func (a Attr) IsDir() bool {
	return a.Type == TypeDirectory
}

// Store is the inode arena. Inodes are addressed by ID only; nothing outside
// the arena holds pointers across operations.
type Store struct {
	mu     sync.RWMutex
	inodes map[ID]*Inode
	nextID ID

	blockSize  uint32
	totalBytes int64
	maxInodes  uint64
	usedBytes  atomic.Int64
	now        func() time.Time
}

func newStore(blockSize uint32, totalBlocks, maxInodes uint64, now func() time.Time) *Store {
	return &Store{
		inodes:     make(map[ID]*Inode, 256),
		nextID:     RootID,
		blockSize:  blockSize,
		totalBytes: int64(totalBlocks) * int64(blockSize),
		maxInodes:  maxInodes,
		now:        now,
	}
}

// Now returns the store clock truncated to whole seconds
func (s *Store) Now() time.Time {
	return s.now().Truncate(time.Second)
}

// Allocate creates an unlinked inode. Link count is 1 (2 for directories);
// the caller is responsible for binding it into a directory.
func (s *Store) Allocate(typ FileType, perm uint32, owner Caller) (*Inode, error) {
	return s.allocate(typ, perm, owner, 0, "")
}

func (s *Store) allocate(typ FileType, perm uint32, owner Caller, rdev uint64, target string) (*Inode, error) {
	if typ == TypeUnknown {
		return nil, common.ErrInvalid
	}
	now := s.Now()
	n := &Inode{
		Type:  typ,
		Mode:  typ.ModeBits() | (perm & PermMask),
		Uid:   owner.Uid,
		Gid:   owner.Gid,
		Rdev:  rdev,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Nlink: 1,
	}
	switch typ {
	case TypeDirectory:
		n.Nlink = 2
		n.dir = newDirTable(0)
	case TypeSymlink:
		n.target = target
		n.Size = int64(len(target))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxInodes > 0 && uint64(len(s.inodes)) >= s.maxInodes {
		return nil, common.ErrNoSpace
	}
	n.ID = s.nextID
	s.nextID++
	s.inodes[n.ID] = n
	return n, nil
}

// Get returns the inode with the given id
func (s *Store) Get(id ID) (*Inode, error) {
	s.mu.RLock()
	n, ok := s.inodes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inode %d: %w", id, common.ErrNotFound)
	}
	return n, nil
}

// Mutate applies fn to the inode under its exclusive lock
func (s *Store) Mutate(id ID, fn func(n *Inode) error) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reaped {
		return fmt.Errorf("inode %d: %w", id, common.ErrNotFound)
	}
	return fn(n)
}

// Stat returns an attribute snapshot of the inode
func (s *Store) Stat(id ID) (Attr, error) {
	n, err := s.Get(id)
	if err != nil {
		return Attr{}, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.reaped {
		return Attr{}, fmt.Errorf("inode %d: %w", id, common.ErrNotFound)
	}
	return s.attrLocked(n), nil
}

func (s *Store) attrLocked(n *Inode) Attr {
	a := Attr{
		Ino:     n.ID,
		Type:    n.Type,
		Mode:    n.Mode,
		Nlink:   n.Nlink,
		Uid:     n.Uid,
		Gid:     n.Gid,
		Rdev:    n.Rdev,
		Size:    n.Size,
		Blksize: s.blockSize,
		Atime:   n.Atime.Unix(),
		Mtime:   n.Mtime.Unix(),
		Ctime:   n.Ctime.Unix(),
	}
	if n.Type == TypeRegular {
		a.Blocks = (int64(len(n.data)) + 511) / 512
	}
	return a
}

// Acquire takes an open reference, keeping the inode alive after its last
// directory entry is removed.
func (s *Store) Acquire(id ID) error {
	return s.Mutate(id, func(n *Inode) error {
		n.openRefs++
		return nil
	})
}

// Release drops an open reference, destroying the inode when it was the
// last reference to an unlinked inode.
func (s *Store) Release(id ID) error {
	return s.Mutate(id, func(n *Inode) error {
		if n.openRefs == 0 {
			return fmt.Errorf("inode %d not open: %w", id, common.ErrInvalidHandle)
		}
		n.openRefs--
		s.reapLocked(n)
		return nil
	})
}

// Destroy removes an inode from the arena. The inode must have no links and
// no open references; calling it otherwise is a programming error.
func (s *Store) Destroy(id ID) {
	n, err := s.Get(id)
	if err != nil {
		panic(fmt.Sprintf("destroy of unknown inode %d", id))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	s.destroyLocked(n)
}

// reapLocked destroys n if nothing references it any more. n.mu must be held.
func (s *Store) reapLocked(n *Inode) {
	if n.Nlink == 0 && n.openRefs == 0 && !n.reaped {
		s.destroyLocked(n)
	}
}

func (s *Store) destroyLocked(n *Inode) {
	if n.Nlink != 0 || n.openRefs != 0 {
		panic(fmt.Sprintf("destroy of live inode %d (nlink=%d refs=%d)", n.ID, n.Nlink, n.openRefs))
	}
	if n.ID == RootID {
		panic("destroy of root inode")
	}
	s.usedBytes.Add(-int64(len(n.data)))
	n.data = nil
	n.xattrs = nil
	n.reaped = true

	s.mu.Lock()
	delete(s.inodes, n.ID)
	s.mu.Unlock()
}

// reserve accounts delta bytes of content against capacity. Negative deltas
// always succeed.
func (s *Store) reserve(delta int64) error {
	if delta <= 0 {
		s.usedBytes.Add(delta)
		return nil
	}
	for {
		used := s.usedBytes.Load()
		if s.totalBytes > 0 && delta > s.totalBytes-used {
			return common.ErrNoSpace
		}
		if s.usedBytes.CompareAndSwap(used, used+delta) {
			return nil
		}
	}
}

// Count returns the number of live inodes
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inodes)
}

// touchLocked sets mtime and ctime to now. n.mu must be held.
func (s *Store) touchLocked(n *Inode) {
	now := s.Now()
	n.Mtime = now
	n.Ctime = now
}
