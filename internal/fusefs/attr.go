package fusefs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

// fillAttr copies inode attributes into the kernel's attribute block
func fillAttr(a core.Attr, out *fuse.Attr) {
	out.Ino = uint64(a.Ino)
	out.Size = uint64(a.Size)
	out.Blocks = uint64(a.Blocks)
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.Uid, Gid: a.Gid}
	out.Rdev = uint32(a.Rdev)
	out.Blksize = a.Blksize
	out.Atime = uint64(a.Atime)
	out.Mtime = uint64(a.Mtime)
	out.Ctime = uint64(a.Ctime)
	out.Atimensec, out.Mtimensec, out.Ctimensec = 0, 0, 0
}

func fillStatfs(st core.StatFS, out *fuse.StatfsOut) {
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = st.Bsize
	out.Frsize = st.Frsize
	out.NameLen = st.Namemax
}

// dirEntries converts a listing into kernel entries. The bridge supplies
// "." and ".." itself.
func dirEntries(entries []dispatch.Entry) []fuse.DirEntry {
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, fuse.DirEntry{
			Name: e.Name,
			Ino:  uint64(e.Ino),
			Mode: e.Type.ModeBits(),
		})
	}
	return out
}

// callerFrom returns the identity of the process behind a request
func callerFrom(ctx context.Context, fallback core.Caller) core.Caller {
	if c, ok := fuse.FromContext(ctx); ok && c != nil {
		return core.Caller{Uid: c.Uid, Gid: c.Gid}
	}
	return fallback
}

// errno maps a dispatcher error to the kernel's view. Success is 0.
func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return dispatch.Errno(err)
}
