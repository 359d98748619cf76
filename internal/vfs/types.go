package vfs

import (
	"os"

	"spockfs/internal/core"
)

// DirEntry is one listed name with the attributes of the inode it binds
type DirEntry struct {
	Name string
	Attr core.Attr
}

// FileMode converts inode attributes into an os.FileMode for the
// billy-facing adapters.
func FileMode(a core.Attr) os.FileMode {
	mode := os.FileMode(a.Mode & 0777)
	if a.Mode&0o4000 != 0 {
		mode |= os.ModeSetuid
	}
	if a.Mode&0o2000 != 0 {
		mode |= os.ModeSetgid
	}
	if a.Mode&0o1000 != 0 {
		mode |= os.ModeSticky
	}
	switch a.Type {
	case core.TypeDirectory:
		mode |= os.ModeDir
	case core.TypeSymlink:
		mode |= os.ModeSymlink
	case core.TypeFIFO:
		mode |= os.ModeNamedPipe
	case core.TypeCharDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case core.TypeBlockDevice:
		mode |= os.ModeDevice
	case core.TypeSocket:
		mode |= os.ModeSocket
	}
	return mode
}
