package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spockfs/internal/common"
	"spockfs/internal/core"
	"spockfs/internal/dispatch"
)

var owner = core.Caller{Uid: 1000, Gid: 1000}

func testSnapshotFile(t *testing.T) *SnapshotFile {
	t.Helper()
	sf, err := Create(filepath.Join(t.TempDir(), "test.spockfs"))
	require.NoError(t, err, "failed to create snapshot file")
	t.Cleanup(func() { sf.Close() })
	return sf
}

// populate builds a small namespace with every kind of payload
func populate(t *testing.T) *core.FS {
	t.Helper()
	inst, err := core.New(core.Options{RootOwner: owner})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	d := dispatch.New(inst, dispatch.Options{})

	do := func(req *dispatch.Request) {
		t.Helper()
		req.Caller = owner
		_, err := d.Dispatch(req)
		require.NoError(t, err, "%s %s", req.Op, req.Path)
	}

	big := bytes.Repeat([]byte("spockfs "), 3*ChunkSize/8+100)
	do(&dispatch.Request{Op: dispatch.OpMkdir, Path: "/docs", Mode: 0750})
	do(&dispatch.Request{Op: dispatch.OpCreate, Path: "/docs/big.txt", Mode: 0644})
	do(&dispatch.Request{Op: dispatch.OpWrite, Path: "/docs/big.txt", Data: big})
	do(&dispatch.Request{Op: dispatch.OpCreate, Path: "/copy.txt", Mode: 0600})
	do(&dispatch.Request{Op: dispatch.OpWrite, Path: "/copy.txt", Data: big})
	do(&dispatch.Request{Op: dispatch.OpLink, Path: "/copy.txt", NewPath: "/docs/hard.txt"})
	do(&dispatch.Request{Op: dispatch.OpSymlink, Path: "/link", Target: "docs/big.txt"})
	do(&dispatch.Request{Op: dispatch.OpMknod, Path: "/fifo", Mode: core.ModeFIFO | 0644})
	do(&dispatch.Request{Op: dispatch.OpSetxattr, Path: "/docs", Name: "user.tag", Data: []byte("blue")})
	return inst
}

func TestCreateAndOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.spockfs")

	sf, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, sf.Close())

	_, err = Create(path)
	assert.Error(t, err, "Create must refuse an existing file")

	sf, err = Open(path)
	require.NoError(t, err)
	defer sf.Close()
	assert.Equal(t, path, sf.Path())

	_, err = Open(filepath.Join(t.TempDir(), "missing.spockfs"))
	assert.Error(t, err)
}

func TestOpenOrCreate(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.spockfs")

	sf, err := OpenOrCreate(path)
	require.NoError(t, err)
	require.NoError(t, sf.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)

	sf, err = OpenOrCreate(path)
	require.NoError(t, err)
	sf.Close()
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	sf := testSnapshotFile(t)
	ctx := context.Background()
	src := populate(t)

	img := src.Export()
	snap, err := sf.Save(ctx, img, "first")
	require.NoError(t, err)
	assert.Equal(t, "first", snap.Message)
	assert.Equal(t, int64(len(img.Inodes)), snap.InodeCount)
	assert.Equal(t, src.ID().String(), snap.FSID)

	loaded, meta, err := sf.Load(ctx, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, meta.ID)
	assert.Equal(t, img.ID, loaded.ID)
	assert.Equal(t, img.NextID, loaded.NextID)
	require.Len(t, loaded.Inodes, len(img.Inodes))
	for i := range img.Inodes {
		want, got := img.Inodes[i], loaded.Inodes[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Mode, got.Mode)
		assert.Equal(t, want.Uid, got.Uid)
		assert.Equal(t, want.Parent, got.Parent)
		assert.Equal(t, want.Target, got.Target)
		assert.Equal(t, want.Mtime.Unix(), got.Mtime.Unix())
		assert.Equal(t, want.Entries, got.Entries, "inode %d entries", want.ID)
		assert.True(t, bytes.Equal(want.Data, got.Data), "inode %d content", want.ID)
		assert.Equal(t, len(want.Xattrs), len(got.Xattrs))
	}

	restored, err := core.Import(loaded, core.Options{})
	require.NoError(t, err)
	defer restored.Close()
	d := dispatch.New(restored, dispatch.Options{})

	resp, err := d.Dispatch(&dispatch.Request{Op: dispatch.OpStat, Path: "/link", Caller: owner})
	require.NoError(t, err)
	assert.Equal(t, int64(3*ChunkSize+800), resp.Attr.Size)

	resp, err = d.Dispatch(&dispatch.Request{Op: dispatch.OpStat, Path: "/docs/hard.txt", Caller: owner})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), resp.Attr.Nlink)

	resp, err = d.Dispatch(&dispatch.Request{Op: dispatch.OpGetxattr, Path: "/docs", Name: "user.tag", Size: dispatch.Unbounded, Caller: owner})
	require.NoError(t, err)
	assert.Equal(t, "blue", string(resp.Data))
}

func TestSaveDeduplicatesChunks(t *testing.T) {
	t.Parallel()
	sf := testSnapshotFile(t)
	ctx := context.Background()
	img := populate(t).Export()

	_, err := sf.Save(ctx, img, "")
	require.NoError(t, err)
	info, err := sf.Info(ctx)
	require.NoError(t, err)
	firstBlocks := info.Blocks

	// big.txt and copy.txt share content, and the three full chunks of
	// each are identical: one full chunk plus one tail chunk are stored.
	assert.Equal(t, int64(2), firstBlocks)
	assert.Less(t, info.StoredBytes, int64(3*ChunkSize), "repetitive content should compress")

	_, err = sf.Save(ctx, img, "")
	require.NoError(t, err)
	info, err = sf.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstBlocks, info.Blocks, "an identical save adds no blocks")
	assert.Len(t, info.Snapshots, 2)
}

func TestLoadLatestAndMissing(t *testing.T) {
	t.Parallel()
	sf := testSnapshotFile(t)
	ctx := context.Background()

	_, _, err := sf.Load(ctx, "")
	assert.ErrorIs(t, err, common.ErrNotFound)

	inst := populate(t)
	_, err = sf.Save(ctx, inst.Export(), "one")
	require.NoError(t, err)
	second, err := sf.Save(ctx, inst.Export(), "two")
	require.NoError(t, err)

	_, meta, err := sf.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, second.ID, meta.ID)

	_, _, err = sf.Load(ctx, "no-such-id")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDeleteAndPrune(t *testing.T) {
	t.Parallel()
	sf := testSnapshotFile(t)
	ctx := context.Background()
	inst := populate(t)

	var ids []string
	for i := 0; i < 3; i++ {
		snap, err := sf.Save(ctx, inst.Export(), "")
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	require.NoError(t, sf.Delete(ctx, ids[0]))
	assert.ErrorIs(t, sf.Delete(ctx, ids[0]), common.ErrNotFound)

	removed, err := sf.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	snaps, err := sf.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	require.NoError(t, sf.Delete(ctx, snaps[0].ID))
	info, err := sf.Info(ctx)
	require.NoError(t, err)
	assert.Zero(t, info.Blocks, "blocks are collected with the last snapshot")

	_, err = sf.Prune(ctx, 0)
	assert.ErrorIs(t, err, common.ErrInvalid)
}

func TestDraftsAreCleanedOnOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "test.spockfs")
	ctx := context.Background()

	sf, err := Create(path)
	require.NoError(t, err)
	_, err = sf.BunDB().NewInsert().Model(&SnapshotModel{
		ID: "interrupted", FSID: "00000000-0000-0000-0000-000000000000", Status: StatusDraft, NextIno: 2,
	}).Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, sf.Close())

	sf, err = Open(path)
	require.NoError(t, err)
	defer sf.Close()

	drafts, err := sf.BunDB().GetDraftSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}
