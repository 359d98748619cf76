package vfs

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"spockfs/internal/common"
	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// Path-based operations. The NFS adapter speaks billy, which addresses
// everything by path, so these bypass the handle table.

// GetAttrByPath returns the attributes of path without following a final
// symlink. Results are cached for a short TTL.
func (fs *SpockFS) GetAttrByPath(p string) (attr core.Attr, err error) {
	defer recoverSpockFSPanic("GetAttrByPath", &err)
	p = common.Canonical(p)
	if cached, ok := fs.cachedAttr(p); ok {
		return cached, nil
	}

	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpLstat, Path: p})
	if err != nil {
		return core.Attr{}, err
	}
	fs.cacheAttr(p, resp.Attr)
	return resp.Attr, nil
}

// StatByPath returns the attributes of path, following symlinks
func (fs *SpockFS) StatByPath(p string) (attr core.Attr, err error) {
	defer recoverSpockFSPanic("StatByPath", &err)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpStat, Path: common.Canonical(p)})
	if err != nil {
		return core.Attr{}, err
	}
	return resp.Attr, nil
}

// HandleAttr returns the attributes of the inode a handle is open on
func (fs *SpockFS) HandleAttr(handle vfs.VfsHandle) (core.Attr, error) {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return core.Attr{}, EBADF
	}
	return fs.attrByIno(info.ino)
}

// HandlePath returns the current path of an open handle
func (fs *SpockFS) HandlePath(handle vfs.VfsHandle) (string, bool) {
	info, ok := fs.handles.Get(HandleID(handle))
	return info.path, ok
}

// ReadDirPath lists a directory without the "." and ".." entries
func (fs *SpockFS) ReadDirPath(p string) (entries []DirEntry, err error) {
	defer recoverSpockFSPanic("ReadDirPath", &err)
	p = common.Canonical(p)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpStat, Path: p})
	if err != nil {
		return nil, err
	}
	if !resp.Attr.IsDir() {
		return nil, ENOTDIR
	}
	return fs.list(resp.Ino, p, false)
}

// MkdirAll creates a directory and any missing parents. Existing
// directories along the way are accepted.
func (fs *SpockFS) MkdirAll(p string, mode int) (err error) {
	defer recoverSpockFSPanic("MkdirAll", &err)
	cur := "/"
	for _, part := range common.SplitPath(p) {
		cur = common.JoinPath(cur, part)
		attr, err := fs.StatByPath(cur)
		if err == nil {
			if !attr.IsDir() {
				return ENOTDIR
			}
			continue
		}
		if err != ENOENT {
			return err
		}
		if _, err := fs.mkdir(cur, mode); err != nil && err != EEXIST {
			return err
		}
	}
	return nil
}

// RemovePath unlinks a file or removes an empty directory
func (fs *SpockFS) RemovePath(p string) (err error) {
	defer recoverSpockFSPanic("RemovePath", &err)
	p = common.Canonical(p)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpLstat, Path: p})
	if err != nil {
		return err
	}
	return fs.remove(p, resp.Attr.IsDir())
}

// RenamePath moves oldPath to newPath, replacing a compatible target.
// Open handles below oldPath follow the move.
func (fs *SpockFS) RenamePath(oldPath, newPath string) (err error) {
	defer recoverSpockFSPanic("RenamePath", &err)
	oldPath = common.Canonical(oldPath)
	newPath = common.Canonical(newPath)
	log.Debugf("[VFS] Rename: %q → %q", oldPath, newPath)

	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpRename, Path: oldPath, NewPath: newPath}); err != nil {
		return err
	}

	fs.handles.Rename(oldPath, newPath)
	if fs.attrCache != nil {
		fs.attrCache.InvalidateRename(oldPath, newPath, common.ParentPath(oldPath), common.ParentPath(newPath))
		fs.attrCache.InvalidatePrefix(oldPath)
		fs.attrCache.InvalidatePrefix(newPath)
	}
	return nil
}

// SymlinkPath creates a symbolic link at link pointing to target
func (fs *SpockFS) SymlinkPath(target, link string) (err error) {
	defer recoverSpockFSPanic("SymlinkPath", &err)
	link = common.Canonical(link)
	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpSymlink, Path: link, Target: target}); err != nil {
		return err
	}
	fs.InvalidateAttrPathAndParent(link)
	return nil
}

// ReadlinkPath returns the target of a symbolic link
func (fs *SpockFS) ReadlinkPath(p string) (target string, err error) {
	defer recoverSpockFSPanic("ReadlinkPath", &err)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpReadlink, Path: common.Canonical(p)})
	if err != nil {
		return "", err
	}
	return resp.Target, nil
}

// LinkPath creates a hard link newPath to the inode at oldPath
func (fs *SpockFS) LinkPath(oldPath, newPath string) (err error) {
	defer recoverSpockFSPanic("LinkPath", &err)
	oldPath = common.Canonical(oldPath)
	newPath = common.Canonical(newPath)
	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpLink, Path: oldPath, NewPath: newPath}); err != nil {
		return err
	}
	fs.InvalidateAttrPath(oldPath)
	fs.InvalidateAttrPathAndParent(newPath)
	return nil
}

// ChmodPath changes permission bits
func (fs *SpockFS) ChmodPath(p string, mode uint32) (err error) {
	defer recoverSpockFSPanic("ChmodPath", &err)
	p = common.Canonical(p)
	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpChmod, Path: p, Mode: mode & core.PermMask}); err != nil {
		return err
	}
	fs.InvalidateAttrPath(p)
	return nil
}

// ChownPath changes ownership. A negative id leaves that id unchanged.
func (fs *SpockFS) ChownPath(p string, uid, gid int) (err error) {
	defer recoverSpockFSPanic("ChownPath", &err)
	p = common.Canonical(p)
	req := &dispatch.Request{Op: dispatch.OpChown, Path: p}
	if uid >= 0 {
		u := uint32(uid)
		req.Uid = &u
	}
	if gid >= 0 {
		g := uint32(gid)
		req.Gid = &g
	}
	if _, err := fs.call(req); err != nil {
		return err
	}
	fs.InvalidateAttrPath(p)
	return nil
}

// ChtimesPath sets access and modification times
func (fs *SpockFS) ChtimesPath(p string, atime, mtime time.Time) (err error) {
	defer recoverSpockFSPanic("ChtimesPath", &err)
	p = common.Canonical(p)
	a, m := atime.Unix(), mtime.Unix()
	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpUtimens, Path: p, Atime: &a, Mtime: &m}); err != nil {
		return err
	}
	fs.InvalidateAttrPath(p)
	return nil
}

// TruncatePath sets the size of a regular file
func (fs *SpockFS) TruncatePath(p string, size int64) (err error) {
	defer recoverSpockFSPanic("TruncatePath", &err)
	p = common.Canonical(p)
	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpTruncate, Path: p, Length: size}); err != nil {
		return err
	}
	fs.InvalidateAttrPath(p)
	return nil
}
