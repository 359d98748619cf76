package storage

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitChunks(t *testing.T) {
	t.Parallel()

	assert.Empty(t, splitChunks(nil))

	chunks := splitChunks(make([]byte, 2*ChunkSize+1))
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], ChunkSize)
	assert.Len(t, chunks[2], 1)

	assert.Len(t, splitChunks(make([]byte, ChunkSize)), 1)
}

func TestHashChunk(t *testing.T) {
	t.Parallel()

	a := hashChunk([]byte("hello"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, hashChunk([]byte("hello")))
	assert.NotEqual(t, a, hashChunk([]byte("hello!")))
}

func TestEncodeDecodeBlock(t *testing.T) {
	t.Parallel()

	t.Run("compressible", func(t *testing.T) {
		t.Parallel()
		data := bytes.Repeat([]byte("abcd"), ChunkSize/4)
		block, err := encodeBlock(data)
		require.NoError(t, err)
		assert.True(t, block.Compressed)
		assert.Less(t, len(block.Data), len(data))
		assert.Equal(t, int64(len(data)), block.Size)

		got, err := decodeBlock(block)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("incompressible", func(t *testing.T) {
		t.Parallel()
		data := make([]byte, 1024)
		_, _ = rand.Read(data)
		block, err := encodeBlock(data)
		require.NoError(t, err)
		assert.False(t, block.Compressed)

		got, err := decodeBlock(block)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("corrupt", func(t *testing.T) {
		t.Parallel()
		block, err := encodeBlock([]byte("some plain bytes"))
		require.NoError(t, err)
		block.Data = []byte("other plain bytes")
		block.Compressed = false
		_, err = decodeBlock(block)
		assert.Error(t, err)
	})
}

func TestXattrEncoding(t *testing.T) {
	t.Parallel()

	raw, err := encodeXattrs(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	in := map[string][]byte{"user.b": []byte("2"), "user.a": []byte("1")}
	raw, err = encodeXattrs(in)
	require.NoError(t, err)
	again, err := encodeXattrs(map[string][]byte{"user.a": []byte("1"), "user.b": []byte("2")})
	require.NoError(t, err)
	assert.Equal(t, raw, again, "encoding is deterministic")

	out, err := decodeXattrs(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeXattrs([]byte{0xff, 0x00})
	assert.Error(t, err)
}
