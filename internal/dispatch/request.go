package dispatch

import "spockfs/internal/core"

// Unbounded as Request.Size means the caller accepts an xattr value or list
// of any length.
const Unbounded = -1

// Request carries the parameters of one call. Which fields are meaningful
// depends on Op:
//
//	create, mkdir          Path, Mode, Flags (O_EXCL for create)
//	mknod                  Path, Mode (with type bits), Dev
//	unlink, rmdir          Path
//	rename                 Path, NewPath
//	link                   Path or Ino (existing), NewPath
//	symlink                Path (new link), Target
//	readlink, lstat, stat  Path or Ino
//	chmod                  Path or Ino, Mode
//	chown                  Path or Ino, Uid, Gid (nil keeps the current id)
//	open                   Path, Flags, Mode (when O_CREAT)
//	release                Ino
//	read                   Path or Ino, Offset, Length
//	write                  Path or Ino, Offset, Data, Flags (O_APPEND ignores Offset)
//	truncate               Path or Ino, Length
//	fallocate              Path or Ino, Flags (mode), Offset, Length
//	listdir                Path or Ino
//	statvfs                Path (optional)
//	setxattr               Path or Ino, Name, Data, Flags
//	getxattr               Path or Ino, Name, Size
//	removexattr            Path or Ino, Name
//	listxattr              Path or Ino, Size
//	utimens                Path or Ino, Atime, Mtime (nil omits, UtimeNow stamps now)
//	access                 Path, Mode (R_OK|W_OK|X_OK bits)
//	exists                 Path
//
// When Ino is set the call addresses an inode the caller already opened or
// looked up, and path resolution is skipped.
type Request struct {
	Op     Op
	Caller core.Caller

	Path    string
	NewPath string
	Target  string
	Ino     core.ID

	Mode   uint32
	Dev    uint64
	Flags  int
	Uid    *uint32
	Gid    *uint32
	Offset int64
	Length int64
	Data   []byte
	Name   string
	Size   int
	Atime  *int64
	Mtime  *int64
}

// Entry is one row of a directory listing
type Entry struct {
	Name string
	Ino  core.ID
	Type core.FileType
}

// Response carries the results of one call. Only the fields relevant to the
// operation are set.
type Response struct {
	Attr    core.Attr
	Ino     core.ID
	Data    []byte
	N       int
	Size    int
	Entries []Entry
	Names   []string
	Target  string
	Allowed bool
	Exists  bool
	StatFS  core.StatFS
}
