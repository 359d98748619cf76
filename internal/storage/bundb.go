package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"spockfs/internal/common"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// --- Schema Info ---

// GetSchemaValue retrieves a schema_info value by key. Missing keys read as "".
func (db *BunDB) GetSchemaValue(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SetSchemaValue sets a schema_info value (upserts).
func (db *BunDB) SetSchemaValue(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&SchemaInfoModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// --- Snapshot Rows ---

// GetSnapshot retrieves a ready snapshot by id.
func (db *BunDB) GetSnapshot(ctx context.Context, id string) (*SnapshotModel, error) {
	var m SnapshotModel
	err := db.NewSelect().
		Model(&m).
		Where("id = ?", id).
		Where("status = ?", StatusReady).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetLatestSnapshot retrieves the most recent ready snapshot.
func (db *BunDB) GetLatestSnapshot(ctx context.Context) (*SnapshotModel, error) {
	var m SnapshotModel
	err := db.NewSelect().
		Model(&m).
		Where("status = ?", StatusReady).
		OrderExpr("created_at DESC, rowid DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no snapshot: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListSnapshots returns all ready snapshots, newest first.
func (db *BunDB) ListSnapshots(ctx context.Context) ([]SnapshotModel, error) {
	var models []SnapshotModel
	err := db.NewSelect().
		Model(&models).
		Where("status = ?", StatusReady).
		OrderExpr("created_at DESC, rowid DESC").
		Scan(ctx)
	return models, err
}

// GetDraftSnapshots returns the ids of saves that never completed.
func (db *BunDB) GetDraftSnapshots(ctx context.Context) ([]string, error) {
	var ids []string
	err := db.NewRaw(`SELECT id FROM snapshots WHERE status = ?`, StatusDraft).Scan(ctx, &ids)
	return ids, err
}

// DeleteSnapshotWith removes a snapshot and its rows. Content blocks are
// left for GCBlocksWith.
func (db *BunDB) DeleteSnapshotWith(idb bun.IDB, ctx context.Context, id string) error {
	if _, err := idb.NewDelete().Model((*SnapshotContentModel)(nil)).Where("snapshot_id = ?", id).Exec(ctx); err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*SnapshotDentryModel)(nil)).Where("snapshot_id = ?", id).Exec(ctx); err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*SnapshotInodeModel)(nil)).Where("snapshot_id = ?", id).Exec(ctx); err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*SnapshotModel)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return err
	}
	return nil
}

// --- Snapshot Contents ---

// ListSnapshotInodesWith returns every inode row of a snapshot ordered by ino.
func (db *BunDB) ListSnapshotInodesWith(idb bun.IDB, ctx context.Context, id string) ([]SnapshotInodeModel, error) {
	var rows []SnapshotInodeModel
	err := idb.NewSelect().
		Model(&rows).
		Where("snapshot_id = ?", id).
		Order("ino ASC").
		Scan(ctx)
	return rows, err
}

// ListSnapshotDentriesWith returns every entry row of a snapshot.
func (db *BunDB) ListSnapshotDentriesWith(idb bun.IDB, ctx context.Context, id string) ([]SnapshotDentryModel, error) {
	var rows []SnapshotDentryModel
	err := idb.NewSelect().
		Model(&rows).
		Where("snapshot_id = ?", id).
		Order("parent_ino ASC", "name ASC").
		Scan(ctx)
	return rows, err
}

// ListSnapshotContentWith returns the chunk list of every file in a
// snapshot, ordered by inode and chunk index.
func (db *BunDB) ListSnapshotContentWith(idb bun.IDB, ctx context.Context, id string) ([]SnapshotContentModel, error) {
	var rows []SnapshotContentModel
	err := idb.NewSelect().
		Model(&rows).
		Where("snapshot_id = ?", id).
		Order("ino ASC", "chunk_idx ASC").
		Scan(ctx)
	return rows, err
}

// --- Content Blocks ---

// BlockExistsWith reports whether a chunk with this hash is stored.
func (db *BunDB) BlockExistsWith(idb bun.IDB, ctx context.Context, hash string) (bool, error) {
	return idb.NewSelect().
		Model((*ContentBlockModel)(nil)).
		Where("hash = ?", hash).
		Exists(ctx)
}

// InsertBlockWith stores a chunk; an existing chunk with the same hash wins.
func (db *BunDB) InsertBlockWith(idb bun.IDB, ctx context.Context, block *ContentBlockModel) error {
	_, err := idb.NewInsert().
		Model(block).
		On("CONFLICT (hash) DO NOTHING").
		Exec(ctx)
	return err
}

// GetBlockWith retrieves a stored chunk.
func (db *BunDB) GetBlockWith(idb bun.IDB, ctx context.Context, hash string) (*ContentBlockModel, error) {
	var block ContentBlockModel
	err := idb.NewSelect().
		Model(&block).
		Where("hash = ?", hash).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content block %s: %w", hash, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GCBlocksWith deletes chunks no snapshot references and returns how many
// were removed.
func (db *BunDB) GCBlocksWith(idb bun.IDB, ctx context.Context) (int64, error) {
	res, err := idb.NewDelete().
		Model((*ContentBlockModel)(nil)).
		Where("hash NOT IN (SELECT DISTINCT hash FROM snapshot_content)").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountBlocks returns the number of stored chunks and their stored
// (possibly compressed) size.
func (db *BunDB) CountBlocks(ctx context.Context) (count, stored int64, err error) {
	err = db.NewRaw(`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM content_blocks`).Scan(ctx, &count, &stored)
	return count, stored, err
}
