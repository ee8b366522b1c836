// Copyright 2025 Notesync Authors
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

// Package readcache is the derived SQLite index over materialized documents.
// It exists so the UI can list and search notes without replaying logs, and
// it is disposable: deleting the cache file loses nothing, the next full
// scan rebuilds it from the update logs. It is never consulted for merge
// decisions.
package readcache

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"notesync/internal/common"
)

// Cache is an open read cache file.
type Cache struct {
	path string
	db   *sql.DB
	bun  *bun.DB
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
	// Busy timeout MUST be set first: all subsequent PRAGMAs (especially
	// journal_mode=WAL which needs exclusive access) will wait for locks
	// instead of failing immediately with "database is locked".
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", DefaultBusyTimeout)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	// WAL mode: enables concurrent readers during writes.
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	// synchronous=NORMAL: safe against process crashes in WAL mode, and this
	// file is rebuildable anyway.
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	return nil
}

// OpenOrCreate opens the cache at path, creating and initializing it when
// missing.
func OpenOrCreate(path string) (*Cache, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Create(path)
	}
	c, err := Open(path)
	if err != nil {
		// A cache that cannot be opened is just stale derived state.
		// Recreate it and let the next scan repopulate.
		log.WithField("path", path).WithError(err).Warn("readcache: unreadable cache, recreating")
		os.Remove(path)
		os.Remove(path + "-wal")
		os.Remove(path + "-shm")
		return Create(path)
	}
	return c, nil
}

// Create creates a new cache file at path.
func Create(path string) (*Cache, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrExists, path)
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	// Create schema (execute statements individually for libsql compatibility)
	if err := execStatements(db, cacheSchema); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	if err := execStatements(db, initCache, SchemaVersion); err != nil {
		db.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return &Cache{path: path, db: db, bun: bun.NewDB(db, sqlitedialect.New())}, nil
}

// Open opens an existing cache file and verifies its type marker.
func Open(path string) (*Cache, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	bunDB := bun.NewDB(db, sqlitedialect.New())

	var info SchemaInfoModel
	err = bunDB.NewSelect().Model(&info).Where("key = 'type'").Scan(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read cache schema info: %w", err)
	}
	if info.Value != "readcache" {
		db.Close()
		return nil, fmt.Errorf("not a read cache file (type=%s)", info.Value)
	}

	return &Cache{path: path, db: db, bun: bunDB}, nil
}

// Close checkpoints the WAL into the main file and closes the connection.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}

	// PRAGMA wal_checkpoint returns rows, so we must use Query() not Exec()
	rows, err := c.db.Query("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		log.WithError(err).Warn("readcache: WAL checkpoint failed")
	} else {
		rows.Close()
	}

	if err := c.db.Close(); err != nil {
		return err
	}
	c.db = nil

	os.Remove(c.path + "-wal")
	os.Remove(c.path + "-shm")
	return nil
}

// Path returns the cache file path.
func (c *Cache) Path() string {
	return c.path
}

// --- Document rows ---

// Upsert writes the listing row for one materialized document.
func (c *Cache) Upsert(ctx context.Context, doc *DocumentModel) error {
	_, err := c.bun.NewInsert().
		Model(doc).
		On("CONFLICT (sd_id, document_id) DO UPDATE").
		Set("folder_id = EXCLUDED.folder_id").
		Set("title = EXCLUDED.title").
		Set("preview = EXCLUDED.preview").
		Set("created = EXCLUDED.created").
		Set("modified = EXCLUDED.modified").
		Set("deleted = EXCLUDED.deleted").
		Set("pinned = EXCLUDED.pinned").
		Exec(ctx)
	return err
}

// Get returns one document row, or common.ErrNotFound.
func (c *Cache) Get(ctx context.Context, sdID, documentID string) (*DocumentModel, error) {
	var doc DocumentModel
	err := c.bun.NewSelect().
		Model(&doc).
		Where("sd_id = ?", sdID).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// MarkDeleted flips the trash flag on a document row.
func (c *Cache) MarkDeleted(ctx context.Context, sdID, documentID string, deleted bool) error {
	_, err := c.bun.NewUpdate().
		Model((*DocumentModel)(nil)).
		Set("deleted = ?", deleted).
		Where("sd_id = ?", sdID).
		Where("document_id = ?", documentID).
		Exec(ctx)
	return err
}

// Delete removes a document row entirely. Used when a document is purged
// from the storage directory.
func (c *Cache) Delete(ctx context.Context, sdID, documentID string) error {
	_, err := c.bun.NewDelete().
		Model((*DocumentModel)(nil)).
		Where("sd_id = ?", sdID).
		Where("document_id = ?", documentID).
		Exec(ctx)
	return err
}

// Filter selects document rows for listing.
type Filter struct {
	SDID           string
	FolderID       string // "" means all folders
	IncludeDeleted bool   // include trashed documents
	Search         string // substring match on title and preview
}

// Query lists documents matching the filter: pinned first, then newest
// modified first.
func (c *Cache) Query(ctx context.Context, f Filter) ([]DocumentModel, error) {
	q := c.bun.NewSelect().
		Model((*DocumentModel)(nil)).
		Where("sd_id = ?", f.SDID)
	if f.FolderID != "" {
		q = q.Where("folder_id = ?", f.FolderID)
	}
	if !f.IncludeDeleted {
		q = q.Where("deleted = 0")
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q = q.Where("(title LIKE ? OR preview LIKE ?)", pattern, pattern)
	}

	var docs []DocumentModel
	err := q.Order("pinned DESC").Order("modified DESC").Scan(ctx, &docs)
	return docs, err
}

// --- Sync offsets ---

// Offset returns the stored ledger offset for a peer instance, zero when
// the instance has never been seen.
func (c *Cache) Offset(ctx context.Context, sdID, instanceID string) (int64, error) {
	var m SyncOffsetModel
	err := c.bun.NewSelect().
		Model(&m).
		Where("sd_id = ?", sdID).
		Where("instance_id = ?", instanceID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Offset, nil
}

// SetOffset stores the ledger offset for a peer instance.
func (c *Cache) SetOffset(ctx context.Context, sdID, instanceID string, offset int64) error {
	_, err := c.bun.NewInsert().
		Model(&SyncOffsetModel{SDID: sdID, InstanceID: instanceID, Offset: offset}).
		On("CONFLICT (sd_id, instance_id) DO UPDATE").
		Set(`"offset" = EXCLUDED."offset"`).
		Exec(ctx)
	return err
}

// ResetOffsets drops every stored offset for an SD. Used when a ledger
// shrinks under us and the monitor falls back to a full rescan.
func (c *Cache) ResetOffsets(ctx context.Context, sdID string) error {
	_, err := c.bun.NewDelete().
		Model((*SyncOffsetModel)(nil)).
		Where("sd_id = ?", sdID).
		Exec(ctx)
	return err
}

// --- Applied sequences ---

// AppliedSeqs returns, per producing instance, the highest sequence already
// incorporated into a document's cached state.
func (c *Cache) AppliedSeqs(ctx context.Context, sdID, documentID string) (map[string]uint64, error) {
	var rows []AppliedSeqModel
	err := c.bun.NewSelect().
		Model(&rows).
		Where("sd_id = ?", sdID).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(rows))
	for _, r := range rows {
		out[r.InstanceID] = r.Seq
	}
	return out, nil
}

// SetAppliedSeq stores the highest incorporated sequence for one producer.
func (c *Cache) SetAppliedSeq(ctx context.Context, sdID, documentID, instanceID string, seq uint64) error {
	_, err := c.bun.NewInsert().
		Model(&AppliedSeqModel{SDID: sdID, DocumentID: documentID, InstanceID: instanceID, Seq: seq}).
		On("CONFLICT (sd_id, document_id, instance_id) DO UPDATE").
		Set("seq = EXCLUDED.seq").
		Exec(ctx)
	return err
}

// --- Degraded-mode mtimes ---

// DirMtime returns the last observed update-directory mtime for a document,
// zero when never recorded.
func (c *Cache) DirMtime(ctx context.Context, sdID, documentID string) (int64, error) {
	var m DirMtimeModel
	err := c.bun.NewSelect().
		Model(&m).
		Where("sd_id = ?", sdID).
		Where("document_id = ?", documentID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Mtime, nil
}

// SetDirMtime stores the observed update-directory mtime for a document.
func (c *Cache) SetDirMtime(ctx context.Context, sdID, documentID string, mtime int64) error {
	_, err := c.bun.NewInsert().
		Model(&DirMtimeModel{SDID: sdID, DocumentID: documentID, Mtime: mtime}).
		On("CONFLICT (sd_id, document_id) DO UPDATE").
		Set("mtime = EXCLUDED.mtime").
		Exec(ctx)
	return err
}
