package vfs

import (
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"

	"spockfs/internal/core"
)

// attrToAttributes converts core attributes to the SMB attribute set.
// Special files are reported as regular files; SMB has no type for them.
func attrToAttributes(a core.Attr) *vfs.Attributes {
	attrs := &vfs.Attributes{}

	attrs.SetFileHandle(vfs.VfsNode(a.Ino))
	attrs.SetInodeNumber(uint64(a.Ino))
	attrs.SetSizeBytes(uint64(a.Size))
	attrs.SetLinkCount(a.Nlink)
	attrs.SetUID(a.Uid)
	attrs.SetGID(a.Gid)
	attrs.SetPermissions(vfs.NewPermissionsFromMode(a.Mode))
	attrs.SetUnixMode(a.Perm())
	attrs.SetLastDataModificationTime(time.Unix(a.Mtime, 0))
	attrs.SetLastStatusChangeTime(time.Unix(a.Ctime, 0))
	attrs.SetAccessTime(time.Unix(a.Atime, 0))
	attrs.SetBirthTime(time.Unix(a.Ctime, 0))
	attrs.SetChangeID(uint64(a.Ctime))
	attrs.SetFileType(fileType(a.Type))

	return attrs
}

func fileType(t core.FileType) vfs.FileType {
	switch t {
	case core.TypeDirectory:
		return vfs.FileTypeDirectory
	case core.TypeSymlink:
		return vfs.FileTypeSymlink
	}
	return vfs.FileTypeRegularFile
}

// dirInfo builds a directory listing row
func dirInfo(name string, a core.Attr) vfs.DirInfo {
	return vfs.DirInfo{
		Name:       name,
		Attributes: *attrToAttributes(a),
	}
}

// statFSToAttributes converts statvfs numbers to the SMB volume info
func statFSToAttributes(st core.StatFS) *vfs.FSAttributes {
	attrs := &vfs.FSAttributes{}
	attrs.SetBlockSize(uint64(st.Bsize))
	attrs.SetIOSize(uint64(st.Bsize))
	attrs.SetBlocks(st.Blocks)
	attrs.SetFreeBlocks(st.Bfree)
	attrs.SetAvailableBlocks(st.Bavail)
	attrs.SetFiles(st.Files)
	attrs.SetFreeFiles(st.Ffree)
	return attrs
}
