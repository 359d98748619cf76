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

package dispatch

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"spockfs/internal/common"
)

// Kind is the externally visible error vocabulary
type Kind uint8

const (
	KindIO Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNotEmpty
	KindNotADirectory
	KindIsADirectory
	KindPermissionDenied
	KindNotPermitted
	KindInvalidArgument
	KindNoAttribute
	KindNameTooLong
	KindNoSpace
	KindRange
	KindNotSupported
	KindBusy
	KindBadHandle
)

var kindNames = [...]string{
	KindIO:               "io",
	KindNotFound:         "not-found",
	KindAlreadyExists:    "already-exists",
	KindNotEmpty:         "not-empty",
	KindNotADirectory:    "not-a-directory",
	KindIsADirectory:     "is-a-directory",
	KindPermissionDenied: "permission-denied",
	KindNotPermitted:     "not-permitted",
	KindInvalidArgument:  "invalid-argument",
	KindNoAttribute:      "no-attribute",
	KindNameTooLong:      "name-too-long",
	KindNoSpace:          "no-space",
	KindRange:            "range",
	KindNotSupported:     "not-supported",
	KindBusy:             "busy",
	KindBadHandle:        "bad-handle",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "io"
}

// Errno maps the kind onto the host errno
func (k Kind) Errno() syscall.Errno {
	switch k {
	case KindNotFound:
		return unix.ENOENT
	case KindAlreadyExists:
		return unix.EEXIST
	case KindNotEmpty:
		return unix.ENOTEMPTY
	case KindNotADirectory:
		return unix.ENOTDIR
	case KindIsADirectory:
		return unix.EISDIR
	case KindPermissionDenied:
		return unix.EACCES
	case KindNotPermitted:
		return unix.EPERM
	case KindInvalidArgument:
		return unix.EINVAL
	case KindNoAttribute:
		return errNoAttr
	case KindNameTooLong:
		return unix.ENAMETOOLONG
	case KindNoSpace:
		return unix.ENOSPC
	case KindRange:
		return unix.ERANGE
	case KindNotSupported:
		return unix.ENOTSUP
	case KindBusy:
		return unix.EBUSY
	case KindBadHandle:
		return unix.EBADF
	}
	return unix.EIO
}

// kindTable maps core sentinels to kinds; order matters only for sentinels
// that wrap others (ErrSymlinkLoop wraps ErrInvalid).
var kindTable = []struct {
	err  error
	kind Kind
}{
	{common.ErrNotFound, KindNotFound},
	{common.ErrExists, KindAlreadyExists},
	{common.ErrNotEmpty, KindNotEmpty},
	{common.ErrNotDir, KindNotADirectory},
	{common.ErrIsDir, KindIsADirectory},
	{common.ErrPermission, KindPermissionDenied},
	{common.ErrNotPermitted, KindNotPermitted},
	{common.ErrInvalid, KindInvalidArgument},
	{common.ErrNoAttr, KindNoAttribute},
	{common.ErrNameTooLong, KindNameTooLong},
	{common.ErrNoSpace, KindNoSpace},
	{common.ErrRange, KindRange},
	{common.ErrNotSupported, KindNotSupported},
	{common.ErrBusy, KindBusy},
	{common.ErrInvalidHandle, KindBadHandle},
}

func classify(err error) Kind {
	for _, e := range kindTable {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return KindIO
}

// Error is returned by every failing dispatcher call
type Error struct {
	Op   Op
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindIO for errors not produced here
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return classify(err)
}

// Errno converts any error into a host errno; nil maps to 0
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return KindOf(err).Errno()
}
