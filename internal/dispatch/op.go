package dispatch

// Op names a dispatcher operation
type Op uint8

const (
	OpInvalid Op = iota
	OpCreate
	OpMkdir
	OpUnlink
	OpRmdir
	OpRename
	OpStat
	OpLstat
	OpChmod
	OpChown
	OpRead
	OpWrite
	OpTruncate
	OpFallocate
	OpSymlink
	OpReadlink
	OpLink
	OpMknod
	OpListdir
	OpStatvfs
	OpSetxattr
	OpGetxattr
	OpRemovexattr
	OpListxattr
	OpUtimens
	OpAccess
	OpOpen
	OpRelease
	OpExists
)

var opNames = [...]string{
	OpInvalid:     "invalid",
	OpCreate:      "create",
	OpMkdir:       "mkdir",
	OpUnlink:      "unlink",
	OpRmdir:       "rmdir",
	OpRename:      "rename",
	OpStat:        "stat",
	OpLstat:       "lstat",
	OpChmod:       "chmod",
	OpChown:       "chown",
	OpRead:        "read",
	OpWrite:       "write",
	OpTruncate:    "truncate",
	OpFallocate:   "fallocate",
	OpSymlink:     "symlink",
	OpReadlink:    "readlink",
	OpLink:        "link",
	OpMknod:       "mknod",
	OpListdir:     "listdir",
	OpStatvfs:     "statvfs",
	OpSetxattr:    "setxattr",
	OpGetxattr:    "getxattr",
	OpRemovexattr: "removexattr",
	OpListxattr:   "listxattr",
	OpUtimens:     "utimens",
	OpAccess:      "access",
	OpOpen:        "open",
	OpRelease:     "release",
	OpExists:      "exists",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "invalid"
}

// Mutates reports whether a successful call of this operation can change
// the namespace, contents or attributes. Access time updates do not count.
func (o Op) Mutates() bool {
	switch o {
	case OpCreate, OpMkdir, OpMknod, OpUnlink, OpRmdir, OpRename,
		OpSymlink, OpLink, OpChmod, OpChown, OpUtimens, OpWrite,
		OpTruncate, OpFallocate, OpSetxattr, OpRemovexattr:
		return true
	}
	return false
}

// ParseOp returns the operation with the given name
func ParseOp(name string) (Op, bool) {
	for i, n := range opNames {
		if n == name && Op(i) != OpInvalid {
			return Op(i), true
		}
	}
	return OpInvalid, false
}
