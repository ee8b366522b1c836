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
	"github.com/uptrace/bun"
)

// DocumentModel maps the documents table: one row per materialized note,
// denormalized for list rendering.
type DocumentModel struct {
	bun.BaseModel `bun:"table:documents"`

	SDID       string `bun:"sd_id,pk"`
	DocumentID string `bun:"document_id,pk"`
	FolderID   string `bun:"folder_id"`
	Title      string `bun:"title"`
	Preview    string `bun:"preview"`
	Created    int64  `bun:"created"`
	Modified   int64  `bun:"modified"`
	Deleted    bool   `bun:"deleted"`
	Pinned     bool   `bun:"pinned"`
}

// SyncOffsetModel maps sync_offsets: the byte offset already consumed from a
// peer instance's activity ledger.
type SyncOffsetModel struct {
	bun.BaseModel `bun:"table:sync_offsets"`

	SDID       string `bun:"sd_id,pk"`
	InstanceID string `bun:"instance_id,pk"`
	Offset     int64  `bun:"offset"`
}

// AppliedSeqModel maps applied_seqs: the highest update sequence already
// folded into a document's materialized state, per producing instance.
type AppliedSeqModel struct {
	bun.BaseModel `bun:"table:applied_seqs"`

	SDID       string `bun:"sd_id,pk"`
	DocumentID string `bun:"document_id,pk"`
	InstanceID string `bun:"instance_id,pk"`
	Seq        uint64 `bun:"seq"`
}

// DirMtimeModel maps dir_mtimes: last observed update-directory mtime, used
// only by the degraded scan path.
type DirMtimeModel struct {
	bun.BaseModel `bun:"table:dir_mtimes"`

	SDID       string `bun:"sd_id,pk"`
	DocumentID string `bun:"document_id,pk"`
	Mtime      int64  `bun:"mtime"`
}

// SchemaInfoModel maps the schema_info key-value table.
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value"`
}
