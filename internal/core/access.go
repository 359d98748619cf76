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

package core

import "golang.org/x/sys/unix"

// Access mask bits as used by access(2)
const (
	AccessExists  uint32 = 0 // F_OK
	AccessExecute uint32 = 1 // X_OK
	AccessWrite   uint32 = 2 // W_OK
	AccessRead    uint32 = 4 // R_OK
)

// Evaluate reports whether caller holds every bit of mask on an inode with
// the given attributes. The permission class is chosen once: owner when the
// uids match, else group, else other. There is no superuser override, so a
// mode of 0 denies even uid 0 when it owns the file.
func Evaluate(attr Attr, mask uint32, caller Caller) bool {
	mask &= AccessRead | AccessWrite | AccessExecute
	if mask == AccessExists {
		return true
	}

	var granted uint32
	switch {
	case caller.Uid == attr.Uid:
		granted = (attr.Mode >> 6) & 7
	case caller.inGroup(attr.Gid):
		granted = (attr.Mode >> 3) & 7
	default:
		granted = attr.Mode & 7
	}
	return granted&mask == mask
}

// OpenMask converts open(2) access-mode flags into an access mask.
func OpenMask(flags int) uint32 {
	var mask uint32
	switch flags & unix.O_ACCMODE {
	case unix.O_WRONLY:
		mask = AccessWrite
	case unix.O_RDWR:
		mask = AccessRead | AccessWrite
	default:
		mask = AccessRead
	}
	if flags&unix.O_TRUNC != 0 {
		mask |= AccessWrite
	}
	return mask
}

// IsOwner reports whether caller may change ownership-protected metadata
// (mode, owner, explicit timestamps) of an inode.
func IsOwner(attr Attr, caller Caller) bool {
	return caller.Uid == 0 || caller.Uid == attr.Uid
}
