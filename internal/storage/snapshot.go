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
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"spockfs/internal/common"
	"spockfs/internal/core"
	"spockfs/internal/util"
)

// Snapshot describes one saved namespace
type Snapshot struct {
	ID         string
	FSID       string
	Message    string
	CreatedAt  time.Time
	InodeCount int64
	TotalSize  int64 // Sum of regular file sizes in bytes
}

// FileInfo summarizes a snapshot file
type FileInfo struct {
	Path        string
	Snapshots   []Snapshot
	Blocks      int64
	StoredBytes int64
}

// Save writes img as a new snapshot. Rows are written under a draft
// snapshot that is only marked ready once everything is committed, so an
// interrupted save never shows up in List or Load.
func (sf *SnapshotFile) Save(ctx context.Context, img *core.Image, message string) (*Snapshot, error) {
	sf.saveMu.Lock()
	defer sf.saveMu.Unlock()

	snapshotID := uuid.New().String()
	model := &SnapshotModel{
		ID:        snapshotID,
		FSID:      img.ID.String(),
		Message:   message,
		Status:    StatusDraft,
		NextIno:   int64(img.NextID),
		CreatedAt: time.Now().Unix(),
	}
	for i := range img.Inodes {
		model.InodeCount++
		model.TotalSize += int64(len(img.Inodes[i].Data))
	}

	start := time.Now()
	err := util.Retry(ctx, func() error {
		return sf.bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return sf.writeSnapshotTx(ctx, tx, model, img)
		})
	}, util.DatabaseRetryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	err = util.Retry(ctx, func() error {
		_, err := sf.bunDB.NewUpdate().
			Model((*SnapshotModel)(nil)).
			Set("status = ?", StatusReady).
			Where("id = ?", snapshotID).
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("publish snapshot %s: %w", snapshotID, err)
	}

	log.Infof("[Snapshot] saved %s: %d inodes, %d bytes (%v)", snapshotID, model.InodeCount, model.TotalSize, time.Since(start))
	return model.ToSnapshot(), nil
}

func (sf *SnapshotFile) writeSnapshotTx(ctx context.Context, tx bun.Tx, model *SnapshotModel, img *core.Image) error {
	if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
		return err
	}

	written := make(map[string]bool)
	for i := range img.Inodes {
		in := &img.Inodes[i]

		xattrs, err := encodeXattrs(in.Xattrs)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(inodeModelFromImage(model.ID, in, xattrs)).Exec(ctx); err != nil {
			return err
		}

		if len(in.Entries) > 0 {
			rows := make([]SnapshotDentryModel, 0, len(in.Entries))
			for _, e := range in.Entries {
				rows = append(rows, SnapshotDentryModel{
					SnapshotID: model.ID,
					ParentIno:  int64(in.ID),
					Name:       e.Name,
					Ino:        int64(e.Ino),
				})
			}
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return err
			}
		}

		for idx, chunk := range splitChunks(in.Data) {
			hash := hashChunk(chunk)
			if !written[hash] {
				exists, err := sf.bunDB.BlockExistsWith(tx, ctx, hash)
				if err != nil {
					return err
				}
				if !exists {
					block, err := encodeBlock(chunk)
					if err != nil {
						return err
					}
					if err := sf.bunDB.InsertBlockWith(tx, ctx, block); err != nil {
						return err
					}
				}
				written[hash] = true
			}
			if _, err := tx.NewInsert().Model(&SnapshotContentModel{
				SnapshotID: model.ID,
				Ino:        int64(in.ID),
				ChunkIdx:   int64(idx),
				Hash:       hash,
			}).Exec(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads a snapshot back into an image. An empty id loads the most
// recent snapshot.
func (sf *SnapshotFile) Load(ctx context.Context, id string) (*core.Image, *Snapshot, error) {
	var model *SnapshotModel
	var err error
	if id == "" {
		model, err = sf.bunDB.GetLatestSnapshot(ctx)
	} else {
		model, err = sf.bunDB.GetSnapshot(ctx, id)
	}
	if err != nil {
		return nil, nil, err
	}

	fsid, err := uuid.Parse(model.FSID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s fs id %q: %w", model.ID, model.FSID, common.ErrInvalid)
	}
	img := &core.Image{ID: fsid, NextID: core.ID(model.NextIno)}

	rows, err := sf.bunDB.ListSnapshotInodesWith(sf.bunDB.DB, ctx, model.ID)
	if err != nil {
		return nil, nil, err
	}
	index := make(map[int64]int, len(rows))
	sizes := make(map[int64]int64, len(rows))
	for _, row := range rows {
		in := row.toImageInode()
		if in.Xattrs, err = decodeXattrs(row.Xattrs); err != nil {
			return nil, nil, fmt.Errorf("inode %d: %w", row.Ino, err)
		}
		index[row.Ino] = len(img.Inodes)
		sizes[row.Ino] = row.Size
		img.Inodes = append(img.Inodes, in)
	}

	dentries, err := sf.bunDB.ListSnapshotDentriesWith(sf.bunDB.DB, ctx, model.ID)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range dentries {
		i, ok := index[d.ParentIno]
		if !ok {
			return nil, nil, fmt.Errorf("entry %q under missing inode %d: %w", d.Name, d.ParentIno, common.ErrInvalid)
		}
		img.Inodes[i].Entries = append(img.Inodes[i].Entries, core.DirEntry{Name: d.Name, Ino: core.ID(d.Ino)})
	}

	chunks, err := sf.bunDB.ListSnapshotContentWith(sf.bunDB.DB, ctx, model.ID)
	if err != nil {
		return nil, nil, err
	}
	decoded := make(map[string][]byte)
	for _, c := range chunks {
		i, ok := index[c.Ino]
		if !ok {
			return nil, nil, fmt.Errorf("content for missing inode %d: %w", c.Ino, common.ErrInvalid)
		}
		data, ok := decoded[c.Hash]
		if !ok {
			block, err := sf.bunDB.GetBlockWith(sf.bunDB.DB, ctx, c.Hash)
			if err != nil {
				return nil, nil, err
			}
			if data, err = decodeBlock(block); err != nil {
				return nil, nil, err
			}
			decoded[c.Hash] = data
		}
		img.Inodes[i].Data = append(img.Inodes[i].Data, data...)
	}

	for ino, size := range sizes {
		if got := int64(len(img.Inodes[index[ino]].Data)); got != size {
			return nil, nil, fmt.Errorf("inode %d content is %d bytes, expected %d: %w", ino, got, size, common.ErrIO)
		}
	}

	log.Debugf("[Snapshot] loaded %s: %d inodes", model.ID, len(img.Inodes))
	return img, model.ToSnapshot(), nil
}

// List returns the ready snapshots, newest first
func (sf *SnapshotFile) List(ctx context.Context) ([]Snapshot, error) {
	models, err := sf.bunDB.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(models))
	for i := range models {
		out = append(out, *models[i].ToSnapshot())
	}
	return out, nil
}

// Delete removes a snapshot and garbage-collects content blocks no other
// snapshot references.
func (sf *SnapshotFile) Delete(ctx context.Context, id string) error {
	sf.saveMu.Lock()
	defer sf.saveMu.Unlock()

	if _, err := sf.bunDB.GetSnapshot(ctx, id); err != nil {
		return err
	}
	return sf.deleteSnapshots(ctx, []string{id})
}

// Prune deletes all but the newest keep snapshots and returns how many were
// removed.
func (sf *SnapshotFile) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune must keep at least one snapshot: %w", common.ErrInvalid)
	}
	sf.saveMu.Lock()
	defer sf.saveMu.Unlock()

	models, err := sf.bunDB.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	if len(models) <= keep {
		return 0, nil
	}
	ids := make([]string, 0, len(models)-keep)
	for _, m := range models[keep:] {
		ids = append(ids, m.ID)
	}
	return len(ids), sf.deleteSnapshots(ctx, ids)
}

func (sf *SnapshotFile) deleteSnapshots(ctx context.Context, ids []string) error {
	return util.Retry(ctx, func() error {
		return sf.bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			for _, id := range ids {
				if err := sf.bunDB.DeleteSnapshotWith(tx, ctx, id); err != nil {
					return err
				}
			}
			removed, err := sf.bunDB.GCBlocksWith(tx, ctx)
			if err != nil {
				return err
			}
			log.Debugf("[Snapshot] deleted %d snapshots, collected %d blocks", len(ids), removed)
			return nil
		})
	}, util.DatabaseRetryOptions(ctx)...)
}

// cleanupDrafts removes saves interrupted before they were published
func (sf *SnapshotFile) cleanupDrafts(ctx context.Context) error {
	drafts, err := sf.bunDB.GetDraftSnapshots(ctx)
	if err != nil || len(drafts) == 0 {
		return err
	}
	log.Warnf("[Snapshot] cleaning up %d interrupted saves in %s", len(drafts), sf.path)
	return sf.deleteSnapshots(ctx, drafts)
}

// Info summarizes the snapshots and block store of the file
func (sf *SnapshotFile) Info(ctx context.Context) (*FileInfo, error) {
	snaps, err := sf.List(ctx)
	if err != nil {
		return nil, err
	}
	blocks, stored, err := sf.bunDB.CountBlocks(ctx)
	if err != nil {
		return nil, err
	}
	return &FileInfo{Path: sf.path, Snapshots: snaps, Blocks: blocks, StoredBytes: stored}, nil
}
