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

package vfs

import (
	"errors"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"spockfs/internal/common"
	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// =============================================================================
// Panic Recovery
// =============================================================================

// recoverSpockFSPanic recovers from panics in SpockFS operations
// This is CRITICAL for preventing SMB server disconnections
func recoverSpockFSPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[SpockFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

// =============================================================================
// Dispatch Helpers
// =============================================================================

// call runs req as the share identity and converts failures to errnos
func (fs *SpockFS) call(req *dispatch.Request) (*dispatch.Response, error) {
	req.Caller = fs.caller
	resp, err := fs.d.Dispatch(req)
	if err != nil {
		return nil, toErrno(err)
	}
	return resp, nil
}

// attrByIno returns the attributes of an inode without following symlinks
func (fs *SpockFS) attrByIno(ino core.ID) (core.Attr, error) {
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpLstat, Ino: ino})
	if err != nil {
		return core.Attr{}, err
	}
	return resp.Attr, nil
}

// releaseRef gives back the open reference a handle held, if any
func (fs *SpockFS) releaseRef(info openHandle) {
	if !info.acquired {
		return
	}
	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpRelease, Ino: info.ino}); err != nil {
		log.Warnf("[VFS] release of inode %d (%s) failed: %v", info.ino, info.path, err)
	}
}

// open resolves and opens path, creating it when flags ask for it. The
// returned handle holds an open reference that Close gives back.
func (fs *SpockFS) open(p string, flags int, mode int, allowDir bool) (vfs.VfsHandle, error) {
	p = common.Canonical(p)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpOpen, Path: p, Flags: flags, Mode: uint32(mode) & core.PermMask})
	if err != nil {
		return 0, err
	}

	isDir := resp.Attr.IsDir()
	if isDir && !allowDir {
		fs.releaseRef(openHandle{ino: resp.Ino, path: p, acquired: true})
		return 0, EISDIR
	}

	h := fs.handles.Allocate(resp.Ino, p, isDir, flags, true)
	if flags&(os.O_CREATE|os.O_TRUNC) != 0 {
		fs.InvalidateAttrPathAndParent(p)
	}
	return vfs.VfsHandle(h), nil
}

func (fs *SpockFS) mkdir(p string, mode int) (core.Attr, error) {
	p = common.Canonical(p)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpMkdir, Path: p, Mode: uint32(mode) & core.PermMask})
	if err != nil {
		return core.Attr{}, err
	}
	fs.InvalidateAttrPathAndParent(p)
	return resp.Attr, nil
}

// remove unlinks a file or removes an empty directory
func (fs *SpockFS) remove(p string, isDir bool) error {
	p = common.Canonical(p)
	op := dispatch.OpUnlink
	if isDir {
		op = dispatch.OpRmdir
	}
	if _, err := fs.call(&dispatch.Request{Op: op, Path: p}); err != nil {
		return err
	}
	fs.InvalidateAttrPathAndParent(p)
	if isDir && fs.attrCache != nil {
		fs.attrCache.InvalidatePrefix(p)
	}
	return nil
}

// list returns the entries of a directory with their attributes. Entries
// removed while the listing is assembled are skipped.
func (fs *SpockFS) list(ino core.ID, dirPath string, withDots bool) ([]DirEntry, error) {
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpListdir, Ino: ino})
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		dot := e.Name == "." || e.Name == ".."
		if dot && !withDots {
			continue
		}
		attr, err := fs.attrByIno(e.Ino)
		if errors.Is(err, ENOENT) {
			continue
		} else if err != nil {
			return nil, err
		}
		if !dot {
			fs.cacheAttr(common.JoinPath(dirPath, e.Name), attr)
		}
		out = append(out, DirEntry{Name: e.Name, Attr: attr})
	}
	return out, nil
}

// Statvfs reports capacity and usage
func (fs *SpockFS) Statvfs() (core.StatFS, error) {
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpStatvfs})
	if err != nil {
		return core.StatFS{}, err
	}
	return resp.StatFS, nil
}

// OpenHandles returns the number of file and directory handles in use
func (fs *SpockFS) OpenHandles() int {
	return fs.handles.Count()
}

// =============================================================================
// Cache Helpers
// =============================================================================

func (fs *SpockFS) cachedAttr(p string) (core.Attr, bool) {
	if fs.attrCache == nil {
		return core.Attr{}, false
	}
	return fs.attrCache.Get(p)
}

func (fs *SpockFS) cacheAttr(p string, attr core.Attr) {
	if fs.attrCache != nil {
		fs.attrCache.Set(p, attr)
	}
}

// InvalidateAttrPath drops the cached attributes of one path
func (fs *SpockFS) InvalidateAttrPath(p string) {
	if fs.attrCache != nil {
		fs.attrCache.InvalidatePath(p)
	}
}

// InvalidateAttrPathAndParent drops a path and its parent directory, whose
// link count and timestamps change when names are bound or unbound.
func (fs *SpockFS) InvalidateAttrPathAndParent(p string) {
	if fs.attrCache != nil {
		fs.attrCache.InvalidatePathAndParent(p, common.ParentPath(p))
	}
}
