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

package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrExists        = errors.New("already exists")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrPermission    = errors.New("permission denied")
	ErrNotPermitted  = errors.New("operation not permitted")
	ErrInvalid       = errors.New("invalid argument")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrNoAttr        = errors.New("no such attribute")
	ErrNameTooLong   = errors.New("name too long")
	ErrNoSpace       = errors.New("no space left on device")
	ErrRange         = errors.New("result too large")
	ErrNotSupported  = errors.New("operation not supported")
	ErrBusy          = errors.New("resource busy")
	ErrIO            = errors.New("I/O error")

	// ErrTemporary marks failures of a backing store that may succeed on retry.
	ErrTemporary = errors.New("temporary failure")
)

// ErrSymlinkLoop is returned when a path resolution exceeds the symlink hop limit.
// It is an invalid-argument condition to callers that only know the base kinds.
var ErrSymlinkLoop = fmt.Errorf("too many levels of symbolic links: %w", ErrInvalid)

// IsRetryable reports whether err is a transient backing-store failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTemporary) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
