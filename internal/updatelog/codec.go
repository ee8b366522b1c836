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

// Package updatelog encodes single CRDT updates as immutable, atomically
// published log files whose names alone determine replay order.
package updatelog

import (
	"fmt"
	"strconv"
	"strings"

	"notesync/internal/common"
)

// Filename grammar:
//
//	<instanceID>_<documentID>_<timestamp>-<sequence>.log
//
// instanceID and documentID are 32-char compact hex (no '_' or '-').
// timestamp is the producer's clock in Unix milliseconds, zero-padded to 16
// digits; sequence is the per-instance counter, zero-padded to 8 digits.
// The fixed widths make plain string sort of a directory listing a total,
// deterministic replay order without opening a single file.
const (
	Ext            = ".log"
	timestampWidth = 16
	sequenceWidth  = 8
)

// EntryName is the decoded provenance of one update log file.
type EntryName struct {
	InstanceID string
	DocumentID string
	Timestamp  int64 // Unix milliseconds, tie-break and display only
	Sequence   uint64
}

// Filename re-encodes the entry name.
func (n EntryName) Filename() string {
	return EncodeFilename(n.InstanceID, n.DocumentID, n.Timestamp, n.Sequence)
}

// EncodeFilename produces the log filename for one update.
func EncodeFilename(instanceID, documentID string, timestamp int64, sequence uint64) string {
	return fmt.Sprintf("%s_%s_%0*d-%0*d%s",
		instanceID, documentID, timestampWidth, timestamp, sequenceWidth, sequence, Ext)
}

// DecodeFilename parses a log filename back into its provenance. Returns
// ErrCorruptLogName when the grammar does not match; callers skip and log
// such files rather than aborting the replay.
func DecodeFilename(name string) (EntryName, error) {
	base, ok := strings.CutSuffix(name, Ext)
	if !ok {
		return EntryName{}, fmt.Errorf("%w: %q", common.ErrCorruptLogName, name)
	}
	parts := strings.Split(base, "_")
	if len(parts) != 3 || !common.ValidID(parts[0]) || !common.ValidID(parts[1]) {
		return EntryName{}, fmt.Errorf("%w: %q", common.ErrCorruptLogName, name)
	}
	tsSeq := strings.Split(parts[2], "-")
	if len(tsSeq) != 2 || len(tsSeq[0]) != timestampWidth || len(tsSeq[1]) != sequenceWidth {
		return EntryName{}, fmt.Errorf("%w: %q", common.ErrCorruptLogName, name)
	}
	ts, err := strconv.ParseInt(tsSeq[0], 10, 64)
	if err != nil {
		return EntryName{}, fmt.Errorf("%w: %q", common.ErrCorruptLogName, name)
	}
	seq, err := strconv.ParseUint(tsSeq[1], 10, 64)
	if err != nil {
		return EntryName{}, fmt.Errorf("%w: %q", common.ErrCorruptLogName, name)
	}
	return EntryName{
		InstanceID: parts[0],
		DocumentID: parts[1],
		Timestamp:  ts,
		Sequence:   seq,
	}, nil
}
