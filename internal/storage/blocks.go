package storage

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"
)

// hashChunk returns the content address of a chunk
func hashChunk(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// splitChunks cuts data into ChunkSize pieces. The last piece may be short.
func splitChunks(data []byte) [][]byte {
	var chunks [][]byte
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// encodeBlock builds the stored form of a chunk. Chunks LZ4 cannot shrink
// are kept verbatim.
func encodeBlock(data []byte) (*ContentBlockModel, error) {
	block := &ContentBlockModel{
		Hash: hashChunk(data),
		Size: int64(len(data)),
		Data: data,
	}

	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written > 0 && written < len(data) {
		block.Data = destination[:written]
		block.Compressed = true
	}
	return block, nil
}

// decodeBlock returns the plain bytes of a stored chunk and checks them
// against the chunk's address.
func decodeBlock(block *ContentBlockModel) ([]byte, error) {
	data := block.Data
	if block.Compressed {
		destination := make([]byte, block.Size)
		read, err := lz4.UncompressBlock(block.Data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if int64(read) != block.Size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, block.Size)
		}
		data = destination
	}
	if hashChunk(data) != block.Hash {
		return nil, fmt.Errorf("content block %s: checksum mismatch", block.Hash)
	}
	return data, nil
}

// xattrEncMode encodes xattr maps deterministically so identical maps
// produce identical bytes.
var xattrEncMode cbor.EncMode

func init() {
	var err error
	xattrEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: CBOR encoder initialization failed: " + err.Error())
	}
}

func encodeXattrs(xattrs map[string][]byte) ([]byte, error) {
	if len(xattrs) == 0 {
		return nil, nil
	}
	return xattrEncMode.Marshal(xattrs)
}

func decodeXattrs(data []byte) (map[string][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var xattrs map[string][]byte
	if err := cbor.Unmarshal(data, &xattrs); err != nil {
		return nil, fmt.Errorf("decode xattrs: %w", err)
	}
	return xattrs, nil
}
