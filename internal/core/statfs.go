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

// StatFS is the statvfs(3) view of an instance
type StatFS struct {
	Bsize   uint32
	Frsize  uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint32
}

// StatFS reports capacity from the configured limits and current occupancy
func (s *Store) StatFS(fsid uint64, nameMax int) StatFS {
	bsize := uint64(s.blockSize)
	total := uint64(s.totalBytes) / bsize
	used := (uint64(max(s.usedBytes.Load(), 0)) + bsize - 1) / bsize
	free := uint64(0)
	if used < total {
		free = total - used
	}

	files := s.maxInodes
	count := uint64(s.Count())
	ffree := uint64(0)
	if count < files {
		ffree = files - count
	}

	return StatFS{
		Bsize:   s.blockSize,
		Frsize:  s.blockSize,
		Blocks:  total,
		Bfree:   free,
		Bavail:  free,
		Files:   files,
		Ffree:   ffree,
		Favail:  ffree,
		Fsid:    fsid,
		Namemax: uint32(nameMax),
	}
}
