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

// Package fusefs exposes a dispatcher through a FUSE mount. Every kernel
// request becomes one dispatcher call, made as the uid/gid of the process
// that issued it. Permission checks on handle-addressed calls are left to
// the kernel through the default_permissions mount option.
package fusefs

import (
	"fmt"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// Default kernel cache lifetimes
const (
	DefaultEntryTimeout    = time.Second
	DefaultAttrTimeout     = time.Second
	DefaultNegativeTimeout = 100 * time.Millisecond
)

// Options configures a FUSE mount
type Options struct {
	// Mountpoint is created if it does not exist
	Mountpoint string

	Dispatcher *dispatch.Dispatcher

	// Caller is used when a request carries no caller credentials
	Caller core.Caller

	// AllowOther requires user_allow_other in /etc/fuse.conf
	AllowOther bool

	// Debug logs every FUSE request
	Debug bool

	// Zero values use the defaults above
	EntryTimeout    time.Duration
	AttrTimeout     time.Duration
	NegativeTimeout time.Duration
}

// Mount mounts the filesystem at opts.Mountpoint. The caller must Unmount
// the returned server when done.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.EntryTimeout == 0 {
		opts.EntryTimeout = DefaultEntryTimeout
	}
	if opts.AttrTimeout == 0 {
		opts.AttrTimeout = DefaultAttrTimeout
	}
	if opts.NegativeTimeout == 0 {
		opts.NegativeTimeout = DefaultNegativeTimeout
	}

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	root := NewRoot(opts.Dispatcher, opts.Caller)
	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &opts.EntryTimeout,
		AttrTimeout:     &opts.AttrTimeout,
		NegativeTimeout: &opts.NegativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "spockfs",
			Name:       "spockfs",
			AllowOther: opts.AllowOther,
			Debug:      opts.Debug,
			Options:    []string{"default_permissions"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}

	log.Infof("[FUSE] mounted at %s", opts.Mountpoint)
	return server, nil
}
