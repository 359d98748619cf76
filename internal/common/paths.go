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
	"path"
	"strings"
)

// Canonical converts a host-supplied path (relative to the share root, with
// or without leading slash) into the absolute form the dispatcher expects.
// "." and ".." are cleaned lexically, which is only valid for hosts that
// hand over paths without symlinks in them (NFS and SMB clients resolve
// components one at a time).
func Canonical(p string) string {
	p = path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	return p
}

// SplitPath splits an absolute path into its components
func SplitPath(p string) []string {
	p = strings.Trim(Canonical(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins path components into a canonical absolute path
func JoinPath(parts ...string) string {
	return Canonical(path.Join(parts...))
}

// ParentPath returns the parent directory of a path; the root is its own parent
func ParentPath(p string) string {
	return path.Dir(Canonical(p))
}

// BaseName returns the final component of a path, "" for the root
func BaseName(p string) string {
	p = Canonical(p)
	if p == "/" {
		return ""
	}
	return path.Base(p)
}
