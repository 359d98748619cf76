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

// Package storage persists namespace images to a SQLite snapshot file.
// File content is split into chunks addressed by their BLAKE3 hash, stored
// once per file and LZ4-compressed when that helps.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
)

// SnapshotFile is an open snapshot database
type SnapshotFile struct {
	path  string
	db    *sql.DB
	bunDB *BunDB

	// saveMu serializes saves and deletes from this process
	saveMu sync.Mutex
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements. The result rows are drained and closed.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout MUST be set first; journal_mode=WAL needs exclusive access.
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps PRAGMAs applied to every statement.
	db.SetMaxOpenConns(1)
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Create creates a new snapshot file. It fails if path already exists.
func Create(path string) (*SnapshotFile, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("file already exists: %s", path)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	// Create schema (execute statements individually for libsql compatibility)
	for _, stmt := range snapshotSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(path)
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	sf := &SnapshotFile{path: path, db: db, bunDB: NewBunDB(db)}
	if err := sf.bunDB.SetSchemaValue(context.Background(), "version", SchemaVersion); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to set schema version: %w", err)
	}

	log.Debugf("[Storage] created snapshot file %s", path)
	return sf, nil
}

// Open opens an existing snapshot file
func Open(path string) (*SnapshotFile, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot file not found: %s", path)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	sf := &SnapshotFile{path: path, db: db, bunDB: NewBunDB(db)}
	version, err := sf.bunDB.GetSchemaValue(context.Background(), "version")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if version != SchemaVersion {
		db.Close()
		return nil, fmt.Errorf("unsupported schema version %q in %s (want %s)", version, path, SchemaVersion)
	}

	if err := sf.cleanupDrafts(context.Background()); err != nil {
		log.Warnf("[Storage] failed to clean up interrupted saves in %s: %v", path, err)
	}
	return sf, nil
}

// OpenOrCreate opens path, creating an empty snapshot file if it is missing
func OpenOrCreate(path string) (*SnapshotFile, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Create(path)
	}
	return Open(path)
}

// Path returns the file path
func (sf *SnapshotFile) Path() string {
	return sf.path
}

// BunDB returns the query layer
func (sf *SnapshotFile) BunDB() *BunDB {
	return sf.bunDB
}

// Close checkpoints the WAL and closes the database
func (sf *SnapshotFile) Close() error {
	if sf.db == nil {
		return nil
	}
	// PRAGMA wal_checkpoint returns rows, so we must use Query() not Exec()
	if err := execPragma(sf.db, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Debugf("[Storage] wal checkpoint failed for %s: %v", sf.path, err)
	}
	err := sf.db.Close()
	sf.db = nil
	return err
}
