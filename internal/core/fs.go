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

// Package core implements the in-memory namespace: inodes, directory
// entries, file contents, links, extended attributes and path resolution.
//
// All state lives in an FS instance; nothing is global. Components address
// each other by inode ID only, never by pointers held across calls.
package core

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spockfs/internal/common"
)

// Capacity defaults
const (
	DefaultBlockSize   = 4096
	DefaultTotalBlocks = 262144 // 1 GiB at the default block size
	DefaultMaxInodes   = 1 << 20
	DefaultNameMax     = 255
)

// Options configures a new FS
type Options struct {
	BlockSize      uint32
	TotalBlocks    uint64
	MaxInodes      uint64
	NameMax        int
	MaxSymlinkHops int

	// RootOwner and RootPerm describe the root directory
	RootOwner Caller
	RootPerm  uint32

	// ID identifies the instance; a random one is generated when zero
	ID uuid.UUID

	// Clock overrides time.Now, mainly for tests
	Clock func() time.Time
}

func (o *Options) withDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.TotalBlocks == 0 {
		o.TotalBlocks = DefaultTotalBlocks
	}
	if o.MaxInodes == 0 {
		o.MaxInodes = DefaultMaxInodes
	}
	if o.NameMax <= 0 {
		o.NameMax = DefaultNameMax
	}
	if o.MaxSymlinkHops <= 0 {
		o.MaxSymlinkHops = DefaultMaxSymlinkHops
	}
	if o.RootPerm == 0 {
		o.RootPerm = 0755
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// FS is one filesystem instance
type FS struct {
	Store    *Store
	Dirs     *DirIndex
	Contents *Contents
	Links    *Links
	Xattrs   *Xattrs
	Resolver *Resolver

	opts Options

	// gate is held shared by every dispatched call and exclusively by
	// Export, so an exported image is a consistent cut.
	gate   sync.RWMutex
	closed bool
}

// New creates an instance holding only the root directory
func New(opts Options) (*FS, error) {
	opts.withDefaults()
	f := newFS(opts)

	root, err := f.Store.allocate(TypeDirectory, opts.RootPerm, opts.RootOwner, 0, "")
	if err != nil {
		return nil, err
	}
	if root.ID != RootID {
		panic(fmt.Sprintf("root allocated as inode %d", root.ID))
	}
	root.dir.parent.Store(uint64(RootID))
	return f, nil
}

func newFS(opts Options) *FS {
	store := newStore(opts.BlockSize, opts.TotalBlocks, opts.MaxInodes, opts.Clock)
	dirs := newDirIndex(store)
	return &FS{
		Store:    store,
		Dirs:     dirs,
		Contents: newContents(store),
		Links:    newLinks(store, dirs),
		Xattrs:   newXattrs(store),
		Resolver: newResolver(store, dirs, opts.MaxSymlinkHops, opts.NameMax),
		opts:     opts,
	}
}

// ID returns the instance identifier
func (f *FS) ID() uuid.UUID {
	return f.opts.ID
}

// Options returns the effective options
func (f *FS) Options() Options {
	return f.opts
}

// Fsid folds the instance id into the statvfs f_fsid width
func (f *FS) Fsid() uint64 {
	return binary.BigEndian.Uint64(f.opts.ID[:8]) ^ binary.BigEndian.Uint64(f.opts.ID[8:])
}

// StatFS reports capacity and occupancy
func (f *FS) StatFS() StatFS {
	return f.Store.StatFS(f.Fsid(), f.opts.NameMax)
}

// Enter marks the start of an operation. The returned func must be called
// when the operation finishes.
func (f *FS) Enter() (exit func(), err error) {
	f.gate.RLock()
	if f.closed {
		f.gate.RUnlock()
		return nil, fmt.Errorf("filesystem closed: %w", common.ErrIO)
	}
	return f.gate.RUnlock, nil
}

// Close waits for in-flight operations and rejects new ones
func (f *FS) Close() error {
	f.gate.Lock()
	defer f.gate.Unlock()
	f.closed = true
	return nil
}
