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

import (
	"errors"
	"fmt"
	"strings"

	"spockfs/internal/common"
)

// DefaultMaxSymlinkHops bounds symlink expansion during one resolution
const DefaultMaxSymlinkHops = 40

// Resolution is the outcome of walking a path.
//
// Parent and Name always describe where the final component lives (or would
// live, for creation). Ino is valid only when Found is true.
type Resolution struct {
	Parent ID
	Name   string
	Ino    ID
	Found  bool
}

// Resolver walks absolute paths from the root
type Resolver struct {
	store   *Store
	dirs    *DirIndex
	maxHops int
	nameMax int
}

func newResolver(store *Store, dirs *DirIndex, maxHops, nameMax int) *Resolver {
	return &Resolver{store: store, dirs: dirs, maxHops: maxHops, nameMax: nameMax}
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

// segments validates an absolute path and splits it. Empty components from
// repeated or trailing slashes are dropped; dirOnly reports a trailing slash.
func (r *Resolver) segments(path string) (segs []string, dirOnly bool, err error) {
	if path == "" || path[0] != '/' {
		return nil, false, fmt.Errorf("path %q must be absolute: %w", path, common.ErrInvalid)
	}
	if strings.IndexByte(path, 0) >= 0 {
		return nil, false, fmt.Errorf("path contains NUL: %w", common.ErrInvalid)
	}
	return r.split(path)
}

func (r *Resolver) split(path string) ([]string, bool, error) {
	raw := strings.Split(path, "/")
	segs := raw[:0]
	for _, s := range raw {
		if s == "" {
			continue
		}
		if len(s) > r.nameMax {
			return nil, false, fmt.Errorf("component %.16q...: %w", s, common.ErrNameTooLong)
		}
		segs = append(segs, s)
	}
	return segs, len(segs) > 0 && strings.HasSuffix(path, "/"), nil
}

// Resolve walks path. Intermediate symlinks are always followed; the final
// component is followed only when follow is set or the path ends in a
// slash. A missing final component under an existing directory yields
// Found=false rather than an error. A trailing slash after anything but a
// directory fails with ErrNotDir.
func (r *Resolver) Resolve(path string, follow bool) (Resolution, error) {
	segs, dirOnly, err := r.segments(path)
	if err != nil {
		return Resolution{}, err
	}
	return r.walk(RootID, segs, follow || dirOnly, dirOnly)
}

func (r *Resolver) walk(start ID, pending []string, follow, dirOnly bool) (Resolution, error) {
	cur := start
	hops := 0
	res := Resolution{Parent: RootID, Ino: RootID, Found: true}
	var final *Inode

	for len(pending) > 0 {
		seg := pending[0]
		pending = pending[1:]
		last := len(pending) == 0

		childID, err := r.dirs.Lookup(cur, seg)
		switch {
		case errors.Is(err, common.ErrNotDir):
			return Resolution{}, err
		case isNotFound(err) && last:
			if _, derr := r.dirs.directory(cur); derr != nil {
				return Resolution{}, derr
			}
			return Resolution{Parent: cur, Name: seg}, nil
		case err != nil:
			return Resolution{}, err
		}

		child, err := r.store.Get(childID)
		if err != nil {
			if last {
				return Resolution{Parent: cur, Name: seg}, nil
			}
			return Resolution{}, err
		}

		if child.IsSymlink() && (!last || follow) {
			hops++
			if hops > r.maxHops {
				return Resolution{}, common.ErrSymlinkLoop
			}
			child.mu.RLock()
			target := child.target
			child.mu.RUnlock()

			tsegs, tdir, err := r.split(target)
			if err != nil {
				return Resolution{}, err
			}
			if last && tdir {
				dirOnly = true
			}
			if strings.HasPrefix(target, "/") {
				cur = RootID
			}
			pending = append(tsegs, pending...)
			if len(pending) == 0 {
				// Target was "/" or equivalent.
				res = Resolution{Parent: RootID, Ino: RootID, Found: true}
				final = nil
			}
			continue
		}

		res = Resolution{Parent: cur, Name: seg, Ino: childID, Found: true}
		final = child
		if !last {
			if !child.IsDir() {
				return Resolution{}, fmt.Errorf("%q: %w", seg, common.ErrNotDir)
			}
			cur = childID
		}
	}
	if dirOnly && final != nil && !final.IsDir() {
		return Resolution{}, fmt.Errorf("%q is not a directory: %w", res.Name, common.ErrNotDir)
	}
	return res, nil
}
