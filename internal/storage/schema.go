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
	"fmt"
	"os"
	"strconv"
)

const SchemaVersion = "1"

const ChunkSize = 16384 // 16KB chunks for file content

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// EnvBusyTimeout overrides the busy_timeout for every snapshot file
const EnvBusyTimeout = "SPOCKFS_BUSY_TIMEOUT"

// configBusyTimeout is set from settings.yaml via SetConfigBusyTimeout
var configBusyTimeout int

// SetConfigBusyTimeout sets the config-based busy_timeout value.
// Values of 0 are ignored (use env var or default).
func SetConfigBusyTimeout(timeout int) {
	configBusyTimeout = timeout
}

// GetBusyTimeout returns the busy_timeout value.
// Priority: env > config file > default
func GetBusyTimeout() int {
	if val := os.Getenv(EnvBusyTimeout); val != "" {
		if timeout, err := strconv.Atoi(val); err == nil && timeout > 0 {
			return timeout
		}
	}
	if configBusyTimeout > 0 {
		return configBusyTimeout
	}
	return DefaultBusyTimeout
}

// BuildDSN builds the SQLite DSN for a snapshot file
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, GetBusyTimeout())
}

// Snapshot status values
const (
	StatusDraft = "draft"
	StatusReady = "ready"
)

// Schema SQL for snapshot files. Statements are executed one at a time for
// libsql compatibility.
var snapshotSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,

	// One row per saved namespace. Rows stay 'draft' until every inode,
	// entry and chunk of the save has been written.
	`CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    fs_id TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'ready')),
    next_ino INTEGER NOT NULL,
    inode_count INTEGER NOT NULL DEFAULT 0,
    total_size INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(status, created_at DESC)`,

	// Inode metadata. Times are Unix seconds; xattrs is a CBOR map.
	`CREATE TABLE IF NOT EXISTS snapshot_inodes (
    snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    ino INTEGER NOT NULL,
    mode INTEGER NOT NULL,
    uid INTEGER NOT NULL DEFAULT 0,
    gid INTEGER NOT NULL DEFAULT 0,
    rdev INTEGER NOT NULL DEFAULT 0,
    size INTEGER NOT NULL DEFAULT 0,
    atime INTEGER NOT NULL,
    mtime INTEGER NOT NULL,
    ctime INTEGER NOT NULL,
    parent_ino INTEGER NOT NULL DEFAULT 0,
    target TEXT NOT NULL DEFAULT '',
    xattrs BLOB,
    PRIMARY KEY (snapshot_id, ino)
)`,

	`CREATE TABLE IF NOT EXISTS snapshot_dentries (
    snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    parent_ino INTEGER NOT NULL,
    name TEXT NOT NULL,
    ino INTEGER NOT NULL,
    PRIMARY KEY (snapshot_id, parent_ino, name)
)`,

	// File content as an ordered list of chunk hashes
	`CREATE TABLE IF NOT EXISTS snapshot_content (
    snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    ino INTEGER NOT NULL,
    chunk_idx INTEGER NOT NULL,
    hash TEXT NOT NULL,
    PRIMARY KEY (snapshot_id, ino, chunk_idx)
)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_content_hash ON snapshot_content(hash)`,

	// Content-addressed chunk store shared by all snapshots. data is LZ4
	// block-compressed when compressed = 1.
	`CREATE TABLE IF NOT EXISTS content_blocks (
    hash TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    compressed INTEGER NOT NULL DEFAULT 0,
    data BLOB NOT NULL
)`,
}
