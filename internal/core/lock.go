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

import "sort"

// Lock ordering used by every multi-object operation:
//
//  1. namespace rename lock (cross-directory renames only)
//  2. directory entry tables, ascending inode id
//  3. inode locks, ascending inode id
//  4. the arena lock (never held while acquiring anything else)

// orderedUnique drops nils and duplicates and sorts by id
func orderedUnique(nodes []*Inode) []*Inode {
	out := make([]*Inode, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			continue
		}
		dup := false
		for _, o := range out {
			if o == n {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// lockTables write-locks the entry tables of the given directories.
// Non-directories are ignored.
func lockTables(dirs ...*Inode) (unlock func()) {
	ordered := orderedUnique(dirs)
	locked := ordered[:0]
	for _, d := range ordered {
		if d.dir == nil {
			continue
		}
		d.dir.mu.Lock()
		locked = append(locked, d)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].dir.mu.Unlock()
		}
	}
}

// lockInodes write-locks the given inodes
func lockInodes(nodes ...*Inode) (unlock func()) {
	ordered := orderedUnique(nodes)
	for _, n := range ordered {
		n.mu.Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].mu.Unlock()
		}
	}
}
