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

	"spockfs/internal/common"
)

// Links creates symbolic links, hard links and special files
type Links struct {
	store *Store
	dirs  *DirIndex
}

func newLinks(store *Store, dirs *DirIndex) *Links {
	return &Links{store: store, dirs: dirs}
}

// Symlink binds name in dir to a new symlink storing target verbatim.
// The target is neither validated nor resolved.
func (l *Links) Symlink(dir ID, name, target string, owner Caller) (ID, error) {
	if target == "" {
		return 0, fmt.Errorf("empty symlink target: %w", common.ErrNotFound)
	}
	return l.dirs.Create(dir, name, NewNode{
		Type:   TypeSymlink,
		Perm:   0777,
		Owner:  owner,
		Target: target,
	})
}

// Readlink returns the stored target of a symlink
func (l *Links) Readlink(id ID) (string, error) {
	n, err := l.store.Get(id)
	if err != nil {
		return "", err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.IsSymlink() {
		return "", fmt.Errorf("inode %d is not a symlink: %w", id, common.ErrInvalid)
	}
	return n.target, nil
}

// Hardlink binds name in dir to the existing inode target
func (l *Links) Hardlink(target, dir ID, name string) error {
	n, err := l.store.Get(target)
	if err != nil {
		return err
	}
	if n.IsDir() {
		return fmt.Errorf("hard link to directory: %w", common.ErrIsDir)
	}
	return l.dirs.Insert(dir, name, target)
}

// CreateSpecial makes a payload-less inode (FIFO, device or socket) from
// full mknod(2) mode bits. A mode without type bits yields a regular file.
func (l *Links) CreateSpecial(dir ID, name string, mode uint32, rdev uint64, owner Caller) (ID, error) {
	typ := TypeFromMode(mode)
	switch typ {
	case TypeDirectory, TypeSymlink, TypeUnknown:
		return 0, fmt.Errorf("mknod type %#o: %w", mode&ModeMask, common.ErrInvalid)
	}
	if typ != TypeCharDevice && typ != TypeBlockDevice {
		rdev = 0
	}
	return l.dirs.Create(dir, name, NewNode{
		Type:  typ,
		Perm:  mode & PermMask,
		Owner: owner,
		Rdev:  rdev,
	})
}
