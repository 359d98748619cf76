package vfs

import (
	"io"
	"os"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"spockfs/internal/cache"
	"spockfs/internal/common"
	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// attrCacheTTL is the TTL for cached attributes.
// 30ms captures NFS GETATTR bursts without serving stale sizes to writers on other paths.
const attrCacheTTL = 30 * time.Millisecond

// attrCacheMaxEntries caps memory usage. Typical large trees have <10K unique paths.
const attrCacheMaxEntries = 10000

// Options configures a SpockFS
type Options struct {
	// Caller is the identity every request runs as. The NFS and SMB servers
	// authenticate nobody, so one identity serves the whole share.
	Caller core.Caller

	// AttrCacheTTL overrides attrCacheTTL; negative disables the cache.
	AttrCacheTTL time.Duration
}

// SpockFS implements vfs.VFSFileSystem on top of a dispatcher. It owns the
// handle table the SMB and NFS servers address files by, and a short-lived
// attribute cache for path lookups.
type SpockFS struct {
	d         *dispatch.Dispatcher
	caller    core.Caller
	handles   *HandleManager
	attrCache *cache.AttrCache
}

// NewSpockFS creates a VFS serving d
func NewSpockFS(d *dispatch.Dispatcher, opts Options) *SpockFS {
	fs := &SpockFS{
		d:       d,
		caller:  opts.Caller,
		handles: NewHandleManager(),
	}
	ttl := opts.AttrCacheTTL
	if ttl == 0 {
		ttl = attrCacheTTL
	}
	if ttl > 0 {
		fs.attrCache = cache.NewAttrCache(ttl, attrCacheMaxEntries)
	}
	return fs
}

// Dispatcher returns the dispatcher requests are routed through
func (fs *SpockFS) Dispatcher() *dispatch.Dispatcher {
	return fs.d
}

// Caller returns the identity requests run as
func (fs *SpockFS) Caller() core.Caller {
	return fs.caller
}

// InvalidateCache drops every cached attribute
func (fs *SpockFS) InvalidateCache() {
	if fs.attrCache != nil {
		fs.attrCache.Invalidate()
	}
}

// CloseAll releases every open handle. Used on shutdown so unlinked-but-open
// inodes are reclaimed.
func (fs *SpockFS) CloseAll() int {
	cleared := fs.handles.Clear()
	for _, info := range cleared {
		fs.releaseRef(info)
	}
	return len(cleared)
}

// --- File Operations ---

// Open opens a file. Directories fail with EISDIR; use OpenDir or OpenAny.
func (fs *SpockFS) Open(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverSpockFSPanic("Open", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Open %q flags=%#x → %v (%v)", path, flags, err, time.Since(start)) }()
	}
	log.Debugf("[VFS] Open: path=%q flags=%#x mode=%o", path, flags, mode)
	return fs.open(path, flags, mode, false)
}

// OpenAny opens a file or directory by path in a single call.
func (fs *SpockFS) OpenAny(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverSpockFSPanic("OpenAny", &err)
	log.Debugf("[VFS] OpenAny: path=%q flags=%#x mode=%o", path, flags, mode)
	return fs.open(path, flags, mode, true)
}

// Close closes a file handle
func (fs *SpockFS) Close(handle vfs.VfsHandle) (err error) {
	defer recoverSpockFSPanic("Close", &err)
	info, ok := fs.handles.Release(HandleID(handle))
	if !ok {
		return EBADF
	}
	fs.releaseRef(info)
	return nil
}

// Read reads data from a file
func (fs *SpockFS) Read(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverSpockFSPanic("Read", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpRead, Ino: info.ino, Offset: int64(offset), Length: int64(len(buf))})
	if err != nil {
		return 0, err
	}
	return copy(buf, resp.Data), nil
}

// Write writes data to a file. Handles opened with O_APPEND write at the
// current end of file regardless of offset.
func (fs *SpockFS) Write(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverSpockFSPanic("Write", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] Write handle=%d len=%d off=%d → %v (%v)", handle, len(buf), offset, err, time.Since(start))
		}()
	}

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	resp, err := fs.call(&dispatch.Request{
		Op:     dispatch.OpWrite,
		Ino:    info.ino,
		Offset: int64(offset),
		Flags:  info.flags & os.O_APPEND,
		Data:   buf,
	})
	if err != nil {
		return 0, err
	}

	fs.InvalidateAttrPath(info.path)
	return resp.N, nil
}

// Truncate truncates a file
func (fs *SpockFS) Truncate(handle vfs.VfsHandle, size uint64) (err error) {
	defer recoverSpockFSPanic("Truncate", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	if info.isDir {
		return EISDIR
	}

	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpTruncate, Ino: info.ino, Length: int64(size)}); err != nil {
		return err
	}

	fs.InvalidateAttrPath(info.path)
	return nil
}

// FSync flushes file data. Content lives in memory, so there is nothing to do.
func (fs *SpockFS) FSync(handle vfs.VfsHandle) error {
	return nil
}

// Flush flushes file data
func (fs *SpockFS) Flush(handle vfs.VfsHandle) error {
	return nil
}

// --- Directory Operations ---

// Mkdir creates a directory
func (fs *SpockFS) Mkdir(path string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverSpockFSPanic("Mkdir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mkdir %q → %v (%v)", path, err, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mkdir: path=%q mode=%o", path, mode)

	attr, err := fs.mkdir(path, mode)
	if err != nil {
		return nil, err
	}
	return attrToAttributes(attr), nil
}

// OpenDir opens a directory
func (fs *SpockFS) OpenDir(path string) (handle vfs.VfsHandle, err error) {
	defer recoverSpockFSPanic("OpenDir", &err)
	log.Debugf("[VFS] OpenDir: path=%q", path)

	path = common.Canonical(path)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpStat, Path: path})
	if err != nil {
		return 0, err
	}
	if !resp.Attr.IsDir() {
		return 0, ENOTDIR
	}

	h := fs.handles.Allocate(resp.Ino, path, true, os.O_RDONLY, false)
	return vfs.VfsHandle(h), nil
}

// ReadDir reads directory entries. count limits the batch size; the
// enumeration position is kept on the handle.
func (fs *SpockFS) ReadDir(handle vfs.VfsHandle, offset int, count int) (entries []vfs.DirInfo, err error) {
	defer recoverSpockFSPanic("ReadDir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] ReadDir handle=%d off=%d → %d entries, %v (%v)", handle, offset, len(entries), err, time.Since(start))
		}()
	}
	log.Debugf("[VFS] ReadDir: handle=%d offset=%d count=%d", handle, offset, count)

	h := HandleID(handle)
	info, ok := fs.handles.Get(h)
	if !ok {
		log.Debugf("[VFS] ReadDir: EBADF handle not found")
		return nil, EBADF
	}
	if !info.isDir {
		return nil, ENOTDIR
	}

	// SMB2 protocol: offset > 0 (RESTART_SCANS) means restart enumeration
	// offset == 0 means continue from where we left off
	if offset > 0 {
		fs.handles.SetDirEnumDone(h, false)
		fs.handles.UpdateDirPos(h, 0)
	}

	if fs.handles.IsDirEnumDone(h) {
		log.Debugf("[VFS] ReadDir: returning EOF (enumeration done)")
		return nil, io.EOF
	}

	listed, err := fs.list(info.ino, info.path, true)
	if err != nil {
		return nil, err
	}

	pos := fs.handles.GetDirPos(h)
	if pos > len(listed) {
		pos = len(listed)
	}
	end := len(listed)
	if count > 0 && pos+count < end {
		end = pos + count
	}
	for _, e := range listed[pos:end] {
		entries = append(entries, dirInfo(e.Name, e.Attr))
	}

	fs.handles.UpdateDirPos(h, end)
	if end == len(listed) {
		fs.handles.SetDirEnumDone(h, true)
	}
	return entries, nil
}

// --- Metadata Operations ---

// GetAttr gets file attributes. Handle 0 means the root directory.
func (fs *SpockFS) GetAttr(handle vfs.VfsHandle) (attrs *vfs.Attributes, err error) {
	defer recoverSpockFSPanic("GetAttr", &err)
	log.Debugf("[VFS] GetAttr: handle=%d", handle)

	ino := core.RootID
	if handle != 0 {
		info, ok := fs.handles.Get(HandleID(handle))
		if !ok {
			return nil, EBADF
		}
		ino = info.ino
	}

	attr, err := fs.attrByIno(ino)
	if err != nil {
		return nil, err
	}
	return attrToAttributes(attr), nil
}

// SetAttr applies the mode, size and timestamps present in inAttrs
func (fs *SpockFS) SetAttr(handle vfs.VfsHandle, inAttrs *vfs.Attributes) (attrs *vfs.Attributes, err error) {
	defer recoverSpockFSPanic("SetAttr", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}

	if mode, ok := inAttrs.GetUnixMode(); ok {
		if _, err := fs.call(&dispatch.Request{Op: dispatch.OpChmod, Ino: info.ino, Mode: mode & core.PermMask}); err != nil {
			return nil, err
		}
	}

	if size, ok := inAttrs.GetSizeBytes(); ok && !info.isDir {
		if _, err := fs.call(&dispatch.Request{Op: dispatch.OpTruncate, Ino: info.ino, Length: int64(size)}); err != nil {
			return nil, err
		}
	}

	var atime, mtime *int64
	if t, ok := inAttrs.GetAccessTime(); ok {
		sec := t.Unix()
		atime = &sec
	}
	if t, ok := inAttrs.GetLastDataModificationTime(); ok {
		sec := t.Unix()
		mtime = &sec
	}
	if atime != nil || mtime != nil {
		if _, err := fs.call(&dispatch.Request{Op: dispatch.OpUtimens, Ino: info.ino, Atime: atime, Mtime: mtime}); err != nil {
			return nil, err
		}
	}

	fs.InvalidateAttrPath(info.path)

	attr, err := fs.attrByIno(info.ino)
	if err != nil {
		return nil, err
	}
	return attrToAttributes(attr), nil
}

// Lookup finds a file in a directory. name may hold several components.
func (fs *SpockFS) Lookup(dirHandle vfs.VfsHandle, name string) (attrs *vfs.Attributes, err error) {
	defer recoverSpockFSPanic("Lookup", &err)
	log.Debugf("[VFS] Lookup: dirHandle=%d name=%q", dirHandle, name)

	dirPath := "/"
	if dirHandle != 0 {
		info, ok := fs.handles.Get(HandleID(dirHandle))
		if !ok {
			return nil, EBADF
		}
		if !info.isDir {
			return nil, ENOTDIR
		}
		dirPath = info.path
	}

	attr, err := fs.GetAttrByPath(path.Join(dirPath, strings.TrimPrefix(name, "/")))
	if err != nil {
		return nil, err
	}
	return attrToAttributes(attr), nil
}

// StatFS returns filesystem statistics
func (fs *SpockFS) StatFS(handle vfs.VfsHandle) (attrs *vfs.FSAttributes, err error) {
	defer recoverSpockFSPanic("StatFS", &err)
	st, err := fs.Statvfs()
	if err != nil {
		return nil, err
	}
	return statFSToAttributes(st), nil
}

// --- File Management ---

// Unlink removes the file or empty directory a handle was opened on
func (fs *SpockFS) Unlink(handle vfs.VfsHandle) (err error) {
	defer recoverSpockFSPanic("Unlink", &err)
	log.Debugf("[VFS] Unlink: handle=%d", handle)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		log.Debugf("[VFS] Unlink: handle not found, returning EBADF")
		return EBADF
	}
	return fs.remove(info.path, info.isDir)
}

// Rename moves the entry a handle was opened on. newName is either a name
// in the same directory or a share-relative path.
func (fs *SpockFS) Rename(handle vfs.VfsHandle, newName string, flags int) (err error) {
	defer recoverSpockFSPanic("Rename", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}

	newPath := newName
	if !strings.Contains(strings.ReplaceAll(newName, "\\", "/"), "/") {
		newPath = path.Join(common.ParentPath(info.path), newName)
	}
	return fs.RenamePath(info.path, newPath)
}

// --- Symbolic Link Operations ---

// Readlink reads a symbolic link target
func (fs *SpockFS) Readlink(handle vfs.VfsHandle) (target string, err error) {
	defer recoverSpockFSPanic("Readlink", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return "", EBADF
	}

	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpReadlink, Ino: info.ino})
	if err != nil {
		return "", err
	}
	return resp.Target, nil
}

// Symlink converts the file a handle was created on into a symbolic link
// pointing to target. The handle is rebound to the new link.
func (fs *SpockFS) Symlink(handle vfs.VfsHandle, target string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverSpockFSPanic("Symlink", &err)
	log.Debugf("[VFS] Symlink: handle=%d target=%q mode=%o", handle, target, mode)

	h := HandleID(handle)
	info, ok := fs.handles.Get(h)
	if !ok {
		return nil, EBADF
	}
	if info.isDir {
		return nil, EISDIR
	}

	if _, err := fs.call(&dispatch.Request{Op: dispatch.OpUnlink, Path: info.path}); err != nil {
		return nil, err
	}
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpSymlink, Path: info.path, Target: target})
	if err != nil {
		return nil, err
	}

	if prev, ok := fs.handles.Rebind(h, resp.Ino, false); ok {
		fs.releaseRef(prev)
	}
	fs.InvalidateAttrPathAndParent(info.path)
	return attrToAttributes(resp.Attr), nil
}

// Link creates a hard link to srcNode named name inside dstNode. The
// destination directory must be open or be the root.
func (fs *SpockFS) Link(srcNode vfs.VfsNode, dstNode vfs.VfsNode, name string) (attrs *vfs.Attributes, err error) {
	defer recoverSpockFSPanic("Link", &err)

	dirPath := "/"
	if dst := core.ID(dstNode); dst != 0 && dst != core.RootID {
		p, ok := fs.handles.FindPath(dst)
		if !ok {
			return nil, ENOTSUP
		}
		dirPath = p
	}

	newPath := path.Join(dirPath, name)
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpLink, Ino: core.ID(srcNode), NewPath: newPath})
	if err != nil {
		return nil, err
	}
	fs.InvalidateAttrPathAndParent(newPath)
	return attrToAttributes(resp.Attr), nil
}

// --- Extended Attributes ---

func (fs *SpockFS) Listxattr(handle vfs.VfsHandle) (names []string, err error) {
	defer recoverSpockFSPanic("Listxattr", &err)
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpListxattr, Ino: info.ino, Size: dispatch.Unbounded})
	if err != nil {
		return nil, err
	}
	if resp.Names == nil {
		return []string{}, nil
	}
	return resp.Names, nil
}

// Getxattr copies the value of name into buf. An empty buf probes the size.
func (fs *SpockFS) Getxattr(handle vfs.VfsHandle, name string, buf []byte) (n int, err error) {
	defer recoverSpockFSPanic("Getxattr", &err)
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	resp, err := fs.call(&dispatch.Request{Op: dispatch.OpGetxattr, Ino: info.ino, Name: name, Size: len(buf)})
	if err != nil {
		return 0, err
	}
	copy(buf, resp.Data)
	return resp.Size, nil
}

func (fs *SpockFS) Setxattr(handle vfs.VfsHandle, name string, value []byte) (err error) {
	defer recoverSpockFSPanic("Setxattr", &err)
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	_, err = fs.call(&dispatch.Request{Op: dispatch.OpSetxattr, Ino: info.ino, Name: name, Data: value})
	return err
}

func (fs *SpockFS) Removexattr(handle vfs.VfsHandle, name string) (err error) {
	defer recoverSpockFSPanic("Removexattr", &err)
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	_, err = fs.call(&dispatch.Request{Op: dispatch.OpRemovexattr, Ino: info.ino, Name: name})
	return err
}

var _ vfs.VFSFileSystem = (*SpockFS)(nil)
