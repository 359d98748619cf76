package fusefs

import (
	"context"
	"path"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// renameNoReplace is RENAME_NOREPLACE from renameat2(2)
const renameNoReplace = 0x1

// mountState is shared by every node of one mount
type mountState struct {
	d      *dispatch.Dispatcher
	caller core.Caller
}

// Node is one inode of the mount. Children are addressed by path for
// namespace calls and by inode number for everything else.
type Node struct {
	gofuse.Inode
	m *mountState
}

// NewRoot returns the root node for a mount of d
func NewRoot(d *dispatch.Dispatcher, caller core.Caller) *Node {
	return &Node{m: &mountState{d: d, caller: caller}}
}

var (
	_ gofuse.InodeEmbedder     = (*Node)(nil)
	_ gofuse.NodeGetattrer     = (*Node)(nil)
	_ gofuse.NodeSetattrer     = (*Node)(nil)
	_ gofuse.NodeLookuper      = (*Node)(nil)
	_ gofuse.NodeReaddirer     = (*Node)(nil)
	_ gofuse.NodeMkdirer       = (*Node)(nil)
	_ gofuse.NodeMknoder       = (*Node)(nil)
	_ gofuse.NodeCreater       = (*Node)(nil)
	_ gofuse.NodeOpener        = (*Node)(nil)
	_ gofuse.NodeUnlinker      = (*Node)(nil)
	_ gofuse.NodeRmdirer       = (*Node)(nil)
	_ gofuse.NodeRenamer       = (*Node)(nil)
	_ gofuse.NodeSymlinker     = (*Node)(nil)
	_ gofuse.NodeLinker        = (*Node)(nil)
	_ gofuse.NodeReadlinker    = (*Node)(nil)
	_ gofuse.NodeStatfser      = (*Node)(nil)
	_ gofuse.NodeAccesser      = (*Node)(nil)
	_ gofuse.NodeGetxattrer    = (*Node)(nil)
	_ gofuse.NodeSetxattrer    = (*Node)(nil)
	_ gofuse.NodeRemovexattrer = (*Node)(nil)
	_ gofuse.NodeListxattrer   = (*Node)(nil)
)

func (n *Node) ino() core.ID {
	if n.IsRoot() {
		return core.RootID
	}
	return core.ID(n.StableAttr().Ino)
}

func (n *Node) path() string {
	return "/" + n.Path(nil)
}

func (n *Node) child(name string) string {
	return path.Join(n.path(), name)
}

func (n *Node) call(ctx context.Context, req *dispatch.Request) (*dispatch.Response, syscall.Errno) {
	req.Caller = callerFrom(ctx, n.m.caller)
	resp, err := n.m.d.Dispatch(req)
	if err != nil {
		log.Debugf("[FUSE] %s %q ino=%d: %v", req.Op, req.Path, req.Ino, err)
		return nil, errno(err)
	}
	return resp, 0
}

// newChild builds the inode for a freshly looked-up or created entry
func (n *Node) newChild(ctx context.Context, attr core.Attr, out *fuse.EntryOut) *gofuse.Inode {
	fillAttr(attr, &out.Attr)
	stable := gofuse.StableAttr{Mode: attr.Mode & unix.S_IFMT, Ino: uint64(attr.Ino)}
	return n.NewInode(ctx, &Node{m: n.m}, stable)
}

func (n *Node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpLstat, Ino: n.ino()})
	if errno != 0 {
		return errno
	}
	fillAttr(resp.Attr, &out.Attr)
	return 0
}

func (n *Node) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	ino := n.ino()

	if in.Valid&fuse.FATTR_MODE != 0 {
		if _, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpChmod, Ino: ino, Mode: in.Mode & core.PermMask}); errno != 0 {
			return errno
		}
	}

	if in.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		req := &dispatch.Request{Op: dispatch.OpChown, Ino: ino}
		if in.Valid&fuse.FATTR_UID != 0 {
			uid := in.Uid
			req.Uid = &uid
		}
		if in.Valid&fuse.FATTR_GID != 0 {
			gid := in.Gid
			req.Gid = &gid
		}
		if _, errno := n.call(ctx, req); errno != 0 {
			return errno
		}
	}

	if in.Valid&fuse.FATTR_SIZE != 0 {
		if _, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpTruncate, Ino: ino, Length: int64(in.Size)}); errno != 0 {
			return errno
		}
	}

	if in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME|fuse.FATTR_ATIME_NOW|fuse.FATTR_MTIME_NOW) != 0 {
		req := &dispatch.Request{Op: dispatch.OpUtimens, Ino: ino}
		req.Atime = timeArg(in.Valid, fuse.FATTR_ATIME, fuse.FATTR_ATIME_NOW, int64(in.Atime))
		req.Mtime = timeArg(in.Valid, fuse.FATTR_MTIME, fuse.FATTR_MTIME_NOW, int64(in.Mtime))
		if _, errno := n.call(ctx, req); errno != 0 {
			return errno
		}
	}

	return n.Getattr(ctx, f, out)
}

// timeArg turns one setattr timestamp into a utimens argument
func timeArg(valid, set, now uint32, sec int64) *int64 {
	switch {
	case valid&now != 0:
		v := dispatch.UtimeNow
		return &v
	case valid&set != 0:
		return &sec
	}
	return nil
}

func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpLstat, Path: n.child(name)})
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, resp.Attr, out), 0
}

func (n *Node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpListdir, Ino: n.ino()})
	if errno != 0 {
		return nil, errno
	}
	return gofuse.NewListDirStream(dirEntries(resp.Entries)), 0
}

func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpMkdir, Path: n.child(name), Mode: mode})
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, resp.Attr, out), 0
}

func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpMknod, Path: n.child(name), Mode: mode, Dev: uint64(dev)})
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, resp.Attr, out), 0
}

func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{
		Op:    dispatch.OpOpen,
		Path:  n.child(name),
		Flags: int(flags) | unix.O_CREAT,
		Mode:  mode,
	})
	if errno != 0 {
		return nil, nil, 0, errno
	}
	child := n.newChild(ctx, resp.Attr, out)
	return child, newFileHandle(n.m, resp.Ino, int(flags)), 0, 0
}

func (n *Node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpOpen, Path: n.path(), Flags: int(flags)})
	if errno != 0 {
		return nil, 0, errno
	}
	return newFileHandle(n.m, resp.Ino, int(flags)), 0, 0
}

func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	_, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpUnlink, Path: n.child(name)})
	return errno
}

func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	_, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpRmdir, Path: n.child(name)})
	return errno
}

func (n *Node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	parent, ok := newParent.(*Node)
	if !ok {
		return syscall.EXDEV
	}
	dst := parent.child(newName)

	switch flags {
	case 0:
	case renameNoReplace:
		resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpExists, Path: dst})
		if errno != 0 {
			return errno
		}
		if resp.Exists {
			return syscall.EEXIST
		}
	default:
		return syscall.EINVAL
	}

	_, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpRename, Path: n.child(name), NewPath: dst})
	return errno
}

func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpSymlink, Path: n.child(name), Target: target})
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, resp.Attr, out), 0
}

func (n *Node) Link(ctx context.Context, target gofuse.InodeEmbedder, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	src, ok := target.(*Node)
	if !ok {
		return nil, syscall.EXDEV
	}
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpLink, Ino: src.ino(), NewPath: n.child(name)})
	if errno != 0 {
		return nil, errno
	}
	return n.newChild(ctx, resp.Attr, out), 0
}

func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpReadlink, Ino: n.ino()})
	if errno != 0 {
		return nil, errno
	}
	return []byte(resp.Target), 0
}

func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpStatvfs})
	if errno != 0 {
		return errno
	}
	fillStatfs(resp.StatFS, out)
	return 0
}

func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpAccess, Ino: n.ino(), Mode: mask & 7})
	if errno != 0 {
		return errno
	}
	if !resp.Allowed {
		return syscall.EACCES
	}
	return 0
}

func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpGetxattr, Ino: n.ino(), Name: attr, Size: len(dest)})
	if errno != 0 {
		return 0, errno
	}
	copy(dest, resp.Data)
	return uint32(resp.Size), 0
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	_, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpSetxattr, Ino: n.ino(), Name: attr, Data: data, Flags: int(flags)})
	return errno
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	_, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpRemovexattr, Ino: n.ino(), Name: attr})
	return errno
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	resp, errno := n.call(ctx, &dispatch.Request{Op: dispatch.OpListxattr, Ino: n.ino(), Size: len(dest)})
	if errno != 0 {
		return 0, errno
	}
	copy(dest, resp.Data)
	return uint32(resp.Size), 0
}
