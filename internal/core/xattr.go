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
	"sort"

	"spockfs/internal/common"
)

// Xattr set flags (values of XATTR_CREATE and XATTR_REPLACE)
const (
	XattrCreate  = 0x1
	XattrReplace = 0x2
)

// Xattrs is the per-inode extended attribute table
type Xattrs struct {
	store *Store
}

func newXattrs(store *Store) *Xattrs {
	return &Xattrs{store: store}
}

// Set stores value under key. XattrCreate fails if the key exists,
// XattrReplace fails if it does not.
func (x *Xattrs) Set(id ID, key string, value []byte, flags int) error {
	if key == "" {
		return fmt.Errorf("empty xattr name: %w", common.ErrInvalid)
	}
	if flags&XattrCreate != 0 && flags&XattrReplace != 0 {
		return fmt.Errorf("xattr flags %#x: %w", flags, common.ErrInvalid)
	}
	return x.store.Mutate(id, func(n *Inode) error {
		_, exists := n.xattrs[key]
		if exists && flags&XattrCreate != 0 {
			return fmt.Errorf("xattr %q: %w", key, common.ErrExists)
		}
		if !exists && flags&XattrReplace != 0 {
			return fmt.Errorf("xattr %q: %w", key, common.ErrNoAttr)
		}
		if n.xattrs == nil {
			n.xattrs = make(map[string][]byte)
		}
		n.xattrs[key] = append([]byte(nil), value...)
		n.Ctime = x.store.Now()
		return nil
	})
}

// Get returns a copy of the value stored under key
func (x *Xattrs) Get(id ID, key string) ([]byte, error) {
	n, err := x.store.Get(id)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.xattrs[key]
	if !ok || n.reaped {
		return nil, fmt.Errorf("xattr %q: %w", key, common.ErrNoAttr)
	}
	return append([]byte{}, v...), nil
}

// Has reports whether key is set. A missing key is not an error.
func (x *Xattrs) Has(id ID, key string) (bool, error) {
	n, err := x.store.Get(id)
	if err != nil {
		return false, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.xattrs[key]
	return ok, nil
}

// Remove deletes key
func (x *Xattrs) Remove(id ID, key string) error {
	return x.store.Mutate(id, func(n *Inode) error {
		if _, ok := n.xattrs[key]; !ok {
			return fmt.Errorf("xattr %q: %w", key, common.ErrNoAttr)
		}
		delete(n.xattrs, key)
		n.Ctime = x.store.Now()
		return nil
	})
}

// List returns all keys in ascending order
func (x *Xattrs) List(id ID) ([]string, error) {
	n, err := x.store.Get(id)
	if err != nil {
		return nil, err
	}
	n.mu.RLock()
	keys := make([]string, 0, len(n.xattrs))
	for k := range n.xattrs {
		keys = append(keys, k)
	}
	n.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}
