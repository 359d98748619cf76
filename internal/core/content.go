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
	"fmt"
	"math"

	"spockfs/internal/common"
)

// Contents reads and mutates the byte payload of regular files
type Contents struct {
	store *Store
}

func newContents(store *Store) *Contents {
	return &Contents{store: store}
}

// payloadError explains why n has no byte payload
func payloadError(n *Inode) error {
	switch {
	case n.reaped:
		return fmt.Errorf("inode %d: %w", n.ID, common.ErrNotFound)
	case n.IsDir():
		return fmt.Errorf("inode %d: %w", n.ID, common.ErrIsDir)
	case n.Type != TypeRegular:
		return fmt.Errorf("inode %d is a %s: %w", n.ID, n.Type, common.ErrNotSupported)
	}
	return nil
}

// Read returns up to length bytes starting at off. Reading at or past the
// end of file returns an empty slice.
func (c *Contents) Read(id ID, off int64, length int) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, common.ErrInvalid
	}
	n, err := c.store.Get(id)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if err := payloadError(n); err != nil {
		return nil, err
	}

	size := int64(len(n.data))
	if off >= size {
		return []byte{}, nil
	}
	end := off + int64(length)
	if end > size {
		end = size
	}
	out := make([]byte, end-off)
	copy(out, n.data[off:end])
	return out, nil
}

// Write stores data at off, zero-filling any gap past the current end.
// Either every byte is written or none is.
func (c *Contents) Write(id ID, off int64, data []byte) (int, error) {
	if off < 0 {
		return 0, common.ErrInvalid
	}
	return c.write(id, func(*Inode) int64 { return off }, data)
}

// Append stores data at the end of the file. The offset is taken under the
// inode lock, so concurrent appends never overlap.
func (c *Contents) Append(id ID, data []byte) (int, error) {
	return c.write(id, func(n *Inode) int64 { return int64(len(n.data)) }, data)
}

func (c *Contents) write(id ID, offset func(*Inode) int64, data []byte) (int, error) {
	n, err := c.store.Get(id)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := payloadError(n); err != nil {
		return 0, err
	}

	off := offset(n)
	if off > math.MaxInt64-int64(len(data)) {
		return 0, fmt.Errorf("write of %d bytes at %d: %w", len(data), off, common.ErrInvalid)
	}
	end := off + int64(len(data))
	if err := c.resizeLocked(n, max(end, int64(len(n.data)))); err != nil {
		return 0, err
	}
	copy(n.data[off:], data)
	c.store.touchLocked(n)
	return len(data), nil
}

// Truncate sets the file size, discarding or zero-padding the tail
func (c *Contents) Truncate(id ID, size int64) error {
	if size < 0 {
		return common.ErrInvalid
	}
	n, err := c.store.Get(id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := payloadError(n); err != nil {
		return err
	}
	if err := c.resizeLocked(n, size); err != nil {
		return err
	}
	c.store.touchLocked(n)
	return nil
}

// Allocate guarantees the range [off, off+length) is backed, growing the
// file with zeros if needed. Existing bytes are untouched.
func (c *Contents) Allocate(id ID, off, length int64) error {
	if off < 0 || length <= 0 {
		return common.ErrInvalid
	}
	n, err := c.store.Get(id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := payloadError(n); err != nil {
		return err
	}
	if off > math.MaxInt64-length {
		return fmt.Errorf("allocate %d bytes at %d: %w", length, off, common.ErrInvalid)
	}
	end := off + length
	if end <= int64(len(n.data)) {
		return nil
	}
	if err := c.resizeLocked(n, end); err != nil {
		return err
	}
	c.store.touchLocked(n)
	return nil
}

// resizeLocked changes the payload length, accounting capacity first so a
// failed grow leaves the file untouched.
func (c *Contents) resizeLocked(n *Inode, size int64) error {
	cur := int64(len(n.data))
	if size == cur {
		return nil
	}
	if err := c.store.reserve(size - cur); err != nil {
		return err
	}
	if size < cur {
		clear(n.data[size:])
		n.data = n.data[:size]
	} else if size <= int64(cap(n.data)) {
		// Bytes between len and cap were zeroed on shrink.
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size, growCap(cur, size))
		copy(grown, n.data)
		n.data = grown
	}
	n.Size = size
	return nil
}

// growCap amortizes sequential appends without doubling very large files
func growCap(cur, want int64) int64 {
	const step = 1 << 20
	if cur < step {
		return max(want, 2*cur)
	}
	return max(want, cur+step)
}
