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

// Package dispatch is the single entry point into a core.FS. Each call
// validates its parameters, resolves paths, invokes the owning component
// and translates failures into an Error with a stable Kind.
package dispatch

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"spockfs/internal/common"
	"spockfs/internal/core"
)

// Options tunes permission enforcement
type Options struct {
	// EnforceDirPermissions requires write and search permission on a
	// directory to bind or unbind names in it, and read permission to list it.
	EnforceDirPermissions bool

	// Strict re-raises panics after logging them instead of converting them
	// into I/O errors.
	Strict bool
}

type handler func(d *Dispatcher, req *Request) (*Response, error)

var handlers = map[Op]handler{
	OpCreate:      (*Dispatcher).create,
	OpMkdir:       (*Dispatcher).mkdir,
	OpMknod:       (*Dispatcher).mknod,
	OpUnlink:      (*Dispatcher).unlink,
	OpRmdir:       (*Dispatcher).rmdir,
	OpRename:      (*Dispatcher).rename,
	OpSymlink:     (*Dispatcher).symlink,
	OpReadlink:    (*Dispatcher).readlink,
	OpLink:        (*Dispatcher).link,
	OpListdir:     (*Dispatcher).listdir,
	OpStat:        (*Dispatcher).stat,
	OpLstat:       (*Dispatcher).lstat,
	OpChmod:       (*Dispatcher).chmod,
	OpChown:       (*Dispatcher).chown,
	OpUtimens:     (*Dispatcher).utimens,
	OpAccess:      (*Dispatcher).access,
	OpExists:      (*Dispatcher).exists,
	OpStatvfs:     (*Dispatcher).statvfs,
	OpOpen:        (*Dispatcher).open,
	OpRelease:     (*Dispatcher).release,
	OpRead:        (*Dispatcher).read,
	OpWrite:       (*Dispatcher).write,
	OpTruncate:    (*Dispatcher).truncate,
	OpFallocate:   (*Dispatcher).fallocate,
	OpSetxattr:    (*Dispatcher).setxattr,
	OpGetxattr:    (*Dispatcher).getxattr,
	OpRemovexattr: (*Dispatcher).removexattr,
	OpListxattr:   (*Dispatcher).listxattr,
}

// Dispatcher routes requests to a core.FS
type Dispatcher struct {
	fs   *core.FS
	opts Options

	// generation counts successful mutating calls
	generation atomic.Uint64
}

// New creates a dispatcher over fs
func New(fs *core.FS, opts Options) *Dispatcher {
	return &Dispatcher{fs: fs, opts: opts}
}

// FS returns the underlying instance
func (d *Dispatcher) FS() *core.FS {
	return d.fs
}

// Dispatch runs one request to completion
func (d *Dispatcher) Dispatch(req *Request) (resp *Response, err error) {
	if req == nil {
		return nil, &Error{Op: OpInvalid, Kind: KindInvalidArgument, Err: common.ErrInvalid}
	}
	op := req.Op
	h, ok := handlers[op]
	if !ok {
		return nil, &Error{Op: op, Kind: KindNotSupported, Err: fmt.Errorf("unknown operation %d: %w", op, common.ErrNotSupported)}
	}

	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[Dispatch] %s %q → %v (%v)", op, req.Path, err, time.Since(start)) }()
	}

	exit, err := d.fs.Enter()
	if err != nil {
		return nil, d.wrap(req, err)
	}
	defer exit()
	defer d.recoverPanic(req, &err)

	resp, err = h(d, req)
	if err != nil {
		return nil, d.wrap(req, err)
	}
	if op.Mutates() || (op == OpOpen && req.Flags&(unix.O_CREAT|unix.O_TRUNC) != 0) {
		d.generation.Add(1)
	}
	return resp, nil
}

// Generation returns a counter that advances with every successful call
// that may have changed the instance. Equal values mean nothing changed.
func (d *Dispatcher) Generation() uint64 {
	return d.generation.Load()
}

// Do is a convenience for callers that build requests inline
func (d *Dispatcher) Do(op Op, caller core.Caller, path string, fill func(r *Request)) (*Response, error) {
	req := &Request{Op: op, Caller: caller, Path: path}
	if fill != nil {
		fill(req)
	}
	return d.Dispatch(req)
}

func (d *Dispatcher) wrap(req *Request, err error) error {
	kind := classify(err)
	switch kind {
	case KindIO:
		log.Errorf("[Dispatch] %s %q failed: %v", req.Op, req.Path, err)
	default:
		log.Debugf("[Dispatch] %s %q: %v", req.Op, req.Path, err)
	}
	return &Error{Op: req.Op, Path: req.Path, Kind: kind, Err: err}
}

// recoverPanic turns a panic inside a component into an I/O error so one bad
// request cannot take the host transport down.
func (d *Dispatcher) recoverPanic(req *Request, err *error) {
	r := recover()
	if r == nil {
		return
	}
	log.Errorf("[Dispatch] PANIC RECOVERED in %s %q: %v\nStack:\n%s", req.Op, req.Path, r, debug.Stack())
	if d.opts.Strict {
		panic(r)
	}
	*err = &Error{Op: req.Op, Path: req.Path, Kind: KindIO, Err: fmt.Errorf("internal error: %v: %w", r, common.ErrIO)}
}
