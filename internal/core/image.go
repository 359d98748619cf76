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
	"sort"
	"time"

	"github.com/google/uuid"

	"spockfs/internal/common"
)

// Image is a self-contained copy of a namespace, used to persist and restore
// instances. Unlinked inodes kept alive only by open references are omitted.
type Image struct {
	ID     uuid.UUID
	NextID ID
	Inodes []ImageInode
}

// ImageInode is one inode of an Image
type ImageInode struct {
	ID      ID
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Parent  ID // directories only
	Entries []DirEntry
	Data    []byte
	Target  string
	Xattrs  map[string][]byte
}

// Export copies the namespace while no operation is in flight
func (f *FS) Export() *Image {
	f.gate.Lock()
	defer f.gate.Unlock()

	f.Store.mu.RLock()
	nodes := make([]*Inode, 0, len(f.Store.inodes))
	for _, n := range f.Store.inodes {
		nodes = append(nodes, n)
	}
	img := &Image{ID: f.opts.ID, NextID: f.Store.nextID}
	f.Store.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for _, n := range nodes {
		n.mu.RLock()
		if n.Nlink == 0 {
			n.mu.RUnlock()
			continue
		}
		in := ImageInode{
			ID:     n.ID,
			Mode:   n.Mode,
			Uid:    n.Uid,
			Gid:    n.Gid,
			Rdev:   n.Rdev,
			Atime:  n.Atime,
			Mtime:  n.Mtime,
			Ctime:  n.Ctime,
			Target: n.target,
		}
		if n.Type == TypeRegular {
			in.Data = append([]byte{}, n.data...)
		}
		if len(n.xattrs) > 0 {
			in.Xattrs = make(map[string][]byte, len(n.xattrs))
			for k, v := range n.xattrs {
				in.Xattrs[k] = append([]byte{}, v...)
			}
		}
		if n.dir != nil {
			in.Parent = n.dir.parentID()
			n.dir.mu.RLock()
			for name, id := range n.dir.entries {
				in.Entries = append(in.Entries, DirEntry{Name: name, Ino: id})
			}
			n.dir.mu.RUnlock()
			sort.Slice(in.Entries, func(i, j int) bool { return in.Entries[i].Name < in.Entries[j].Name })
		}
		n.mu.RUnlock()
		img.Inodes = append(img.Inodes, in)
	}
	return img
}

// Import builds a new instance from an image. Link counts and occupancy are
// recomputed from the entries rather than trusted.
func Import(img *Image, opts Options) (*FS, error) {
	if img.ID != uuid.Nil {
		opts.ID = img.ID
	}
	opts.withDefaults()
	f := newFS(opts)
	s := f.Store

	for _, in := range img.Inodes {
		typ := TypeFromMode(in.Mode)
		if typ == TypeUnknown || in.ID == 0 {
			return nil, fmt.Errorf("image inode %d mode %#o: %w", in.ID, in.Mode, common.ErrInvalid)
		}
		if _, dup := s.inodes[in.ID]; dup {
			return nil, fmt.Errorf("image inode %d duplicated: %w", in.ID, common.ErrInvalid)
		}
		n := &Inode{
			ID:     in.ID,
			Type:   typ,
			Mode:   in.Mode,
			Uid:    in.Uid,
			Gid:    in.Gid,
			Rdev:   in.Rdev,
			Atime:  in.Atime.Truncate(time.Second),
			Mtime:  in.Mtime.Truncate(time.Second),
			Ctime:  in.Ctime.Truncate(time.Second),
			target: in.Target,
		}
		switch typ {
		case TypeRegular:
			n.data = append([]byte{}, in.Data...)
			n.Size = int64(len(n.data))
			if err := s.reserve(n.Size); err != nil {
				return nil, err
			}
		case TypeSymlink:
			n.Size = int64(len(in.Target))
		case TypeDirectory:
			n.dir = newDirTable(in.Parent)
			n.Nlink = 2
		}
		if len(in.Xattrs) > 0 {
			n.xattrs = make(map[string][]byte, len(in.Xattrs))
			for k, v := range in.Xattrs {
				n.xattrs[k] = append([]byte{}, v...)
			}
		}
		s.inodes[n.ID] = n
		if n.ID >= s.nextID {
			s.nextID = n.ID + 1
		}
	}
	if img.NextID > s.nextID {
		s.nextID = img.NextID
	}
	if uint64(len(s.inodes)) > s.maxInodes {
		return nil, fmt.Errorf("image holds %d inodes: %w", len(s.inodes), common.ErrNoSpace)
	}

	root, ok := s.inodes[RootID]
	if !ok || root.dir == nil {
		return nil, fmt.Errorf("image has no root directory: %w", common.ErrInvalid)
	}
	root.dir.parent.Store(uint64(RootID))

	bound := make(map[ID]bool, len(s.inodes))
	for _, in := range img.Inodes {
		if len(in.Entries) == 0 {
			continue
		}
		dn := s.inodes[in.ID]
		if dn.dir == nil {
			return nil, fmt.Errorf("image inode %d has entries but is not a directory: %w", in.ID, common.ErrInvalid)
		}
		for _, e := range in.Entries {
			if err := validName(e.Name); err != nil {
				return nil, err
			}
			child, ok := s.inodes[e.Ino]
			if !ok || e.Ino == RootID {
				return nil, fmt.Errorf("image entry %q -> %d: %w", e.Name, e.Ino, common.ErrInvalid)
			}
			if child.dir != nil {
				if child.dir.parentID() != in.ID || bound[e.Ino] {
					return nil, fmt.Errorf("image directory %d bound under %d: %w", e.Ino, in.ID, common.ErrInvalid)
				}
				dn.Nlink++
			} else {
				child.Nlink++
			}
			dn.dir.entries[e.Name] = e.Ino
			bound[e.Ino] = true
		}
	}

	reached := map[ID]bool{RootID: true}
	queue := []ID{RootID}
	for len(queue) > 0 {
		dn := s.inodes[queue[0]]
		queue = queue[1:]
		for _, id := range dn.dir.entries {
			if reached[id] {
				continue
			}
			reached[id] = true
			if s.inodes[id].dir != nil {
				queue = append(queue, id)
			}
		}
	}
	if len(reached) != len(s.inodes) {
		return nil, fmt.Errorf("image holds %d unreachable inodes: %w", len(s.inodes)-len(reached), common.ErrInvalid)
	}
	return f, nil
}
