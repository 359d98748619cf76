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
	"strings"
	"sync"

	"spockfs/internal/common"
)

// DirEntry is one name bound in a directory listing
type DirEntry struct {
	Name string
	Ino  ID
}

// NewNode describes an inode created and bound in one step by DirIndex.Create
type NewNode struct {
	Type   FileType
	Perm   uint32
	Owner  Caller
	Rdev   uint64
	Target string // symlinks only
}

// DirIndex owns the name-to-inode bindings of all directories
type DirIndex struct {
	store *Store

	// renameMu serializes renames that move entries between directories so
	// that ancestry checks see a stable tree.
	renameMu sync.Mutex
}

func newDirIndex(store *Store) *DirIndex {
	return &DirIndex{store: store}
}

// validName rejects names that cannot be bound explicitly
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("name %q: %w", name, common.ErrInvalid)
	}
	return nil
}

// directory returns the inode for id, requiring it to be a directory
func (d *DirIndex) directory(id ID) (*Inode, error) {
	n, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	if n.dir == nil {
		return nil, fmt.Errorf("inode %d: %w", id, common.ErrNotDir)
	}
	return n, nil
}

// Lookup returns the inode bound to name in dir
func (d *DirIndex) Lookup(dir ID, name string) (ID, error) {
	dn, err := d.directory(dir)
	if err != nil {
		return 0, err
	}
	switch name {
	case ".":
		return dir, nil
	case "..":
		return dn.dir.parentID(), nil
	}
	dn.dir.mu.RLock()
	defer dn.dir.mu.RUnlock()
	if dn.dir.removed {
		return 0, fmt.Errorf("directory %d removed: %w", dir, common.ErrNotFound)
	}
	id, ok := dn.dir.entries[name]
	if !ok {
		return 0, fmt.Errorf("%q: %w", name, common.ErrNotFound)
	}
	return id, nil
}

// Has reports whether name is bound in dir
func (d *DirIndex) Has(dir ID, name string) bool {
	_, err := d.Lookup(dir, name)
	return err == nil
}

// Create allocates an inode and binds it under name as one critical section
// with respect to other binders of dir.
func (d *DirIndex) Create(dir ID, name string, nn NewNode) (ID, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	dn, err := d.directory(dir)
	if err != nil {
		return 0, err
	}

	unlockTables := lockTables(dn)
	defer unlockTables()

	if dn.dir.removed {
		return 0, fmt.Errorf("directory %d removed: %w", dir, common.ErrNotFound)
	}
	if _, ok := dn.dir.entries[name]; ok {
		return 0, fmt.Errorf("%q: %w", name, common.ErrExists)
	}

	n, err := d.store.allocate(nn.Type, nn.Perm, nn.Owner, nn.Rdev, nn.Target)
	if err != nil {
		return 0, err
	}
	if n.dir != nil {
		n.dir.parent.Store(uint64(dir))
	}
	dn.dir.entries[name] = n.ID

	dn.mu.Lock()
	if n.IsDir() {
		dn.Nlink++
	}
	d.store.touchLocked(dn)
	dn.mu.Unlock()

	return n.ID, nil
}

// Insert binds name in dir to an existing non-directory inode and increments
// its link count.
func (d *DirIndex) Insert(dir ID, name string, target ID) error {
	if err := validName(name); err != nil {
		return err
	}
	dn, err := d.directory(dir)
	if err != nil {
		return err
	}
	tn, err := d.store.Get(target)
	if err != nil {
		return err
	}
	if tn.IsDir() {
		return fmt.Errorf("inode %d: %w", target, common.ErrIsDir)
	}

	unlockTables := lockTables(dn)
	defer unlockTables()

	if dn.dir.removed {
		return fmt.Errorf("directory %d removed: %w", dir, common.ErrNotFound)
	}
	if _, ok := dn.dir.entries[name]; ok {
		return fmt.Errorf("%q: %w", name, common.ErrExists)
	}

	unlockInodes := lockInodes(dn, tn)
	defer unlockInodes()

	// Lost a race with the last unlink.
	if tn.Nlink == 0 || tn.reaped {
		return fmt.Errorf("inode %d: %w", target, common.ErrNotFound)
	}
	dn.dir.entries[name] = tn.ID
	tn.Nlink++
	tn.Ctime = d.store.Now()
	d.store.touchLocked(dn)
	return nil
}

// removeKind restricts what Remove may unbind
type removeKind int

const (
	removeAny removeKind = iota
	removeFile
	removeDir
)

// Remove unbinds name from dir. Directories must be empty.
func (d *DirIndex) Remove(dir ID, name string) error {
	return d.remove(dir, name, removeAny)
}

// Unlink removes a non-directory entry
func (d *DirIndex) Unlink(dir ID, name string) error {
	return d.remove(dir, name, removeFile)
}

// Rmdir removes an empty directory entry
func (d *DirIndex) Rmdir(dir ID, name string) error {
	return d.remove(dir, name, removeDir)
}

func (d *DirIndex) remove(dir ID, name string, kind removeKind) error {
	if err := validName(name); err != nil {
		return err
	}
	dn, err := d.directory(dir)
	if err != nil {
		return err
	}

	for {
		childID, err := d.Lookup(dir, name)
		if err != nil {
			return err
		}
		child, err := d.store.Get(childID)
		if err != nil {
			// Reaped between lookup and get; the entry is gone too.
			continue
		}

		switch {
		case kind == removeFile && child.IsDir():
			return fmt.Errorf("%q: %w", name, common.ErrIsDir)
		case kind == removeDir && !child.IsDir():
			return fmt.Errorf("%q: %w", name, common.ErrNotDir)
		}

		unlockTables := lockTables(dn, child)
		if dn.dir.removed {
			unlockTables()
			return fmt.Errorf("directory %d removed: %w", dir, common.ErrNotFound)
		}
		if cur, ok := dn.dir.entries[name]; !ok || cur != childID {
			unlockTables()
			continue
		}
		if child.IsDir() && len(child.dir.entries) > 0 {
			unlockTables()
			return fmt.Errorf("%q: %w", name, common.ErrNotEmpty)
		}

		unlockInodes := lockInodes(dn, child)
		delete(dn.dir.entries, name)
		now := d.store.Now()
		if child.IsDir() {
			child.Nlink = 0
			child.dir.removed = true
			dn.Nlink--
		} else {
			child.Nlink--
		}
		child.Ctime = now
		dn.Mtime = now
		dn.Ctime = now
		d.store.reapLocked(child)
		unlockInodes()
		unlockTables()
		return nil
	}
}

// List returns ".", ".." and then every bound name in ascending byte order
func (d *DirIndex) List(dir ID) ([]DirEntry, error) {
	dn, err := d.directory(dir)
	if err != nil {
		return nil, err
	}

	dn.dir.mu.RLock()
	if dn.dir.removed {
		dn.dir.mu.RUnlock()
		return nil, fmt.Errorf("directory %d removed: %w", dir, common.ErrNotFound)
	}
	entries := make([]DirEntry, 0, len(dn.dir.entries)+2)
	entries = append(entries,
		DirEntry{Name: ".", Ino: dir},
		DirEntry{Name: "..", Ino: dn.dir.parentID()},
	)
	for name, id := range dn.dir.entries {
		entries = append(entries, DirEntry{Name: name, Ino: id})
	}
	dn.dir.mu.RUnlock()

	explicit := entries[2:]
	sort.Slice(explicit, func(i, j int) bool { return explicit[i].Name < explicit[j].Name })
	return entries, nil
}

// isAncestor reports whether anc is dir or one of its ancestors.
// Callers hold renameMu.
func (d *DirIndex) isAncestor(anc, dir ID) bool {
	for cur := dir; ; {
		if cur == anc {
			return true
		}
		if cur == RootID {
			return false
		}
		n, err := d.store.Get(cur)
		if err != nil || n.dir == nil {
			return false
		}
		cur = n.dir.parentID()
	}
}

// Rename atomically moves srcName in srcDir to dstName in dstDir, replacing
// an existing destination when the types are compatible.
func (d *DirIndex) Rename(srcDir ID, srcName string, dstDir ID, dstName string) error {
	if err := validName(srcName); err != nil {
		return err
	}
	if err := validName(dstName); err != nil {
		return err
	}
	sd, err := d.directory(srcDir)
	if err != nil {
		return err
	}
	dd, err := d.directory(dstDir)
	if err != nil {
		return err
	}

	cross := srcDir != dstDir
	if cross {
		d.renameMu.Lock()
		defer d.renameMu.Unlock()
	}

	for {
		srcID, err := d.Lookup(srcDir, srcName)
		if err != nil {
			return err
		}
		src, err := d.store.Get(srcID)
		if err != nil {
			continue
		}

		var dst *Inode
		dstID, err := d.Lookup(dstDir, dstName)
		switch {
		case err == nil:
			if dst, err = d.store.Get(dstID); err != nil {
				continue
			}
		case !isNotFound(err):
			return err
		}

		if dst != nil {
			if dst.ID == src.ID {
				return nil
			}
			if src.IsDir() && !dst.IsDir() {
				return fmt.Errorf("%q: %w", dstName, common.ErrNotDir)
			}
			if !src.IsDir() && dst.IsDir() {
				return fmt.Errorf("%q: %w", dstName, common.ErrIsDir)
			}
		}
		if src.IsDir() && cross && d.isAncestor(src.ID, dstDir) {
			return fmt.Errorf("cannot move %q into itself: %w", srcName, common.ErrInvalid)
		}

		var dstTable *Inode
		if dst != nil && dst.IsDir() {
			dstTable = dst
		}
		unlockTables := lockTables(sd, dd, dstTable)

		if sd.dir.removed || dd.dir.removed {
			unlockTables()
			return fmt.Errorf("rename: %w", common.ErrNotFound)
		}
		cur, ok := dd.dir.entries[dstName]
		if sd.dir.entries[srcName] != srcID || ok != (dst != nil) || (dst != nil && cur != dst.ID) {
			unlockTables()
			continue
		}
		if dstTable != nil && len(dstTable.dir.entries) > 0 {
			unlockTables()
			return fmt.Errorf("%q: %w", dstName, common.ErrNotEmpty)
		}

		unlockInodes := lockInodes(sd, dd, src, dst)
		now := d.store.Now()
		delete(sd.dir.entries, srcName)
		dd.dir.entries[dstName] = src.ID
		if dst != nil {
			if dst.IsDir() {
				dst.Nlink = 0
				dst.dir.removed = true
				dd.Nlink--
			} else {
				dst.Nlink--
			}
			dst.Ctime = now
		}
		if src.IsDir() && cross {
			sd.Nlink--
			dd.Nlink++
			src.dir.parent.Store(uint64(dstDir))
		}
		src.Ctime = now
		sd.Mtime, sd.Ctime = now, now
		dd.Mtime, dd.Ctime = now, now
		if dst != nil {
			d.store.reapLocked(dst)
		}
		unlockInodes()
		unlockTables()
		return nil
	}
}
