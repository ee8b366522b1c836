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

package readcache

import (
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = "1"

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// BuildDSN builds the SQLite DSN for the cache file.
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, DefaultBusyTimeout)
}

// Schema SQL for the read cache. Everything here is derived state: any row
// can be rebuilt by replaying the corresponding document's update log, and
// nothing here is ever consulted for merge decisions.
const cacheSchema = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Denormalized listing metadata per materialized document
CREATE TABLE IF NOT EXISTS documents (
    sd_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    folder_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    preview TEXT NOT NULL DEFAULT '',
    created INTEGER NOT NULL DEFAULT 0,
    modified INTEGER NOT NULL DEFAULT 0,
    deleted INTEGER NOT NULL DEFAULT 0,
    pinned INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (sd_id, document_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(sd_id, folder_id);
CREATE INDEX IF NOT EXISTS idx_documents_modified ON documents(sd_id, modified DESC);

-- Remembered byte offset into each peer instance's activity ledger
CREATE TABLE IF NOT EXISTS sync_offsets (
    sd_id TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    offset INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (sd_id, instance_id)
);

-- Highest sequence already incorporated per (document, producer)
CREATE TABLE IF NOT EXISTS applied_seqs (
    sd_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    seq INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (sd_id, document_id, instance_id)
);

-- Remembered update-directory mtimes for the degraded discovery path
CREATE TABLE IF NOT EXISTS dir_mtimes (
    sd_id TEXT NOT NULL,
    document_id TEXT NOT NULL,
    mtime INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (sd_id, document_id)
);
`

const initCache = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('type', 'readcache');
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		// Skip comments and empty lines
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
