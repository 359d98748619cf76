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

package storage

import (
	"time"

	"github.com/uptrace/bun"

	"spockfs/internal/core"
)

// Bun ORM models for snapshot file tables.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// SnapshotModel represents the snapshots table
type SnapshotModel struct {
	bun.BaseModel `bun:"table:snapshots"`

	ID         string `bun:"id,pk"`
	FSID       string `bun:"fs_id,notnull"`
	Message    string `bun:"message,notnull"`
	Status     string `bun:"status,notnull"`
	NextIno    int64  `bun:"next_ino,notnull"`
	InodeCount int64  `bun:"inode_count,notnull"`
	TotalSize  int64  `bun:"total_size,notnull"`
	CreatedAt  int64  `bun:"created_at,notnull"` // Unix timestamp
}

// ToSnapshot converts a SnapshotModel to the public Snapshot struct
func (m *SnapshotModel) ToSnapshot() *Snapshot {
	return &Snapshot{
		ID:         m.ID,
		FSID:       m.FSID,
		Message:    m.Message,
		CreatedAt:  time.Unix(m.CreatedAt, 0),
		InodeCount: m.InodeCount,
		TotalSize:  m.TotalSize,
	}
}

// SnapshotInodeModel represents the snapshot_inodes table.
// Times are stored as Unix timestamps.
type SnapshotInodeModel struct {
	bun.BaseModel `bun:"table:snapshot_inodes"`

	SnapshotID string `bun:"snapshot_id,pk"`
	Ino        int64  `bun:"ino,pk"`
	Mode       int64  `bun:"mode,notnull"`
	UID        int64  `bun:"uid,notnull"`
	GID        int64  `bun:"gid,notnull"`
	Rdev       int64  `bun:"rdev,notnull"`
	Size       int64  `bun:"size,notnull"`
	Atime      int64  `bun:"atime,notnull"`
	Mtime      int64  `bun:"mtime,notnull"`
	Ctime      int64  `bun:"ctime,notnull"`
	ParentIno  int64  `bun:"parent_ino,notnull"`
	Target     string `bun:"target,notnull"`
	Xattrs     []byte `bun:"xattrs"`
}

// inodeModelFromImage converts an image inode to its row. The xattr map
// is encoded separately.
func inodeModelFromImage(snapshotID string, in *core.ImageInode, xattrs []byte) *SnapshotInodeModel {
	return &SnapshotInodeModel{
		SnapshotID: snapshotID,
		Ino:        int64(in.ID),
		Mode:       int64(in.Mode),
		UID:        int64(in.Uid),
		GID:        int64(in.Gid),
		Rdev:       int64(in.Rdev),
		Size:       int64(len(in.Data)),
		Atime:      in.Atime.Unix(),
		Mtime:      in.Mtime.Unix(),
		Ctime:      in.Ctime.Unix(),
		ParentIno:  int64(in.Parent),
		Target:     in.Target,
		Xattrs:     xattrs,
	}
}

// toImageInode converts a row back into an image inode without entries,
// content or xattrs.
func (m *SnapshotInodeModel) toImageInode() core.ImageInode {
	return core.ImageInode{
		ID:     core.ID(m.Ino),
		Mode:   uint32(m.Mode),
		Uid:    uint32(m.UID),
		Gid:    uint32(m.GID),
		Rdev:   uint64(m.Rdev),
		Atime:  time.Unix(m.Atime, 0),
		Mtime:  time.Unix(m.Mtime, 0),
		Ctime:  time.Unix(m.Ctime, 0),
		Parent: core.ID(m.ParentIno),
		Target: m.Target,
	}
}

// SnapshotDentryModel represents the snapshot_dentries table
type SnapshotDentryModel struct {
	bun.BaseModel `bun:"table:snapshot_dentries"`

	SnapshotID string `bun:"snapshot_id,pk"`
	ParentIno  int64  `bun:"parent_ino,pk"`
	Name       string `bun:"name,pk"`
	Ino        int64  `bun:"ino,notnull"`
}

// SnapshotContentModel represents the snapshot_content table
type SnapshotContentModel struct {
	bun.BaseModel `bun:"table:snapshot_content"`

	SnapshotID string `bun:"snapshot_id,pk"`
	Ino        int64  `bun:"ino,pk"`
	ChunkIdx   int64  `bun:"chunk_idx,pk"`
	Hash       string `bun:"hash,notnull"`
}

// ContentBlockModel represents the content_blocks table
type ContentBlockModel struct {
	bun.BaseModel `bun:"table:content_blocks"`

	Hash       string `bun:"hash,pk"`
	Size       int64  `bun:"size,notnull"`
	Compressed bool   `bun:"compressed,notnull"`
	Data       []byte `bun:"data,notnull"`
}
