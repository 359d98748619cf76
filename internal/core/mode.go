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

// Mode type bits (matching POSIX S_IF* values)
const (
	ModeMask    uint32 = 0170000
	ModeSocket  uint32 = 0140000
	ModeSymlink uint32 = 0120000
	ModeRegular uint32 = 0100000
	ModeBlock   uint32 = 0060000
	ModeDir     uint32 = 0040000
	ModeChar    uint32 = 0020000
	ModeFIFO    uint32 = 0010000

	// PermMask covers permission bits plus setuid, setgid and sticky.
	PermMask uint32 = 07777
)

// FileType discriminates the payload an inode carries.
type FileType uint8

const (
	TypeUnknown FileType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeFIFO
	TypeCharDevice
	TypeBlockDevice
	TypeSocket
)

var typeNames = [...]string{
	TypeUnknown:     "unknown",
	TypeRegular:     "regular",
	TypeDirectory:   "directory",
	TypeSymlink:     "symlink",
	TypeFIFO:        "fifo",
	TypeCharDevice:  "char",
	TypeBlockDevice: "block",
	TypeSocket:      "socket",
}

func (t FileType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// ModeBits returns the S_IF* bits for the type.
func (t FileType) ModeBits() uint32 {
	switch t {
	case TypeRegular:
		return ModeRegular
	case TypeDirectory:
		return ModeDir
	case TypeSymlink:
		return ModeSymlink
	case TypeFIFO:
		return ModeFIFO
	case TypeCharDevice:
		return ModeChar
	case TypeBlockDevice:
		return ModeBlock
	case TypeSocket:
		return ModeSocket
	}
	return 0
}

// IsSpecial reports whether the type has no content payload of its own.
func (t FileType) IsSpecial() bool {
	switch t {
	case TypeFIFO, TypeCharDevice, TypeBlockDevice, TypeSocket:
		return true
	}
	return false
}

// TypeFromMode extracts the file type from full mode bits.
// A mode without type bits is treated as a regular file, like mknod(2).
func TypeFromMode(mode uint32) FileType {
	switch mode & ModeMask {
	case 0, ModeRegular:
		return TypeRegular
	case ModeDir:
		return TypeDirectory
	case ModeSymlink:
		return TypeSymlink
	case ModeFIFO:
		return TypeFIFO
	case ModeChar:
		return TypeCharDevice
	case ModeBlock:
		return TypeBlockDevice
	case ModeSocket:
		return TypeSocket
	}
	return TypeUnknown
}
