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

// Package activity implements the per-instance append-only ledger other
// instances tail to discover new updates without scanning every document's
// log directory.
package activity

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"notesync/internal/common"
)

// Record is one ledger line: a high-water mark for (document, instance).
// Line grammar: "<documentID>|<instanceID>_<sequence>\n".
type Record struct {
	DocumentID string
	InstanceID string
	Sequence   uint64
}

func (r Record) line() string {
	return fmt.Sprintf("%s|%s_%d\n", r.DocumentID, r.InstanceID, r.Sequence)
}

func parseLine(line string) (Record, error) {
	docID, rest, ok := strings.Cut(line, "|")
	if !ok {
		return Record{}, fmt.Errorf("activity: malformed line %q", line)
	}
	instID, seqStr, ok := strings.Cut(rest, "_")
	if !ok || !common.ValidID(docID) || !common.ValidID(instID) {
		return Record{}, fmt.Errorf("activity: malformed line %q", line)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("activity: malformed line %q", line)
	}
	return Record{DocumentID: docID, InstanceID: instID, Sequence: seq}, nil
}

// LogPath returns the ledger file for one instance inside the activity dir.
func LogPath(dir, instanceID string) string {
	return filepath.Join(dir, instanceID+".log")
}

// Append writes one high-water mark into owner's ledger. When the record's
// InstanceID equals owner, the line announces an update owner produced;
// when it names another instance, the line acknowledges that owner has
// incorporated that instance's updates up to the sequence (compaction uses
// these acks to decide what is safe to fold).
//
// The caller must only announce its own updates after the corresponding
// update log file is durably visible; the single O_APPEND write plus fsync
// keeps that ordering, so a reader can never see activity pointing at an
// update that is not on disk yet.
func Append(dir, owner string, rec Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("activity: mkdir: %w", err)
	}
	f, err := os.OpenFile(LogPath(dir, owner), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("activity: open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(rec.line()); err != nil {
		return fmt.Errorf("activity: append: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("activity: fsync: %w", err)
	}
	return nil
}

// Tail reads the records appended since offset and returns them with the
// new offset to remember. Repeated polls are O(new records), not O(history).
//
// A partially-appended final line (writer mid-append on shared storage) is
// left for the next poll by not advancing the offset past it. An offset
// beyond the file size means the ledger was rewritten underneath us; that
// violates append-only, so the caller gets an error and should fall back to
// the slow directory-scan path.
func Tail(dir, instanceID string, offset int64) ([]Record, int64, error) {
	f, err := os.Open(LogPath(dir, instanceID))
	if err != nil {
		if os.IsNotExist(err) && offset == 0 {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("activity: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("activity: stat: %w", err)
	}
	if offset > info.Size() {
		return nil, offset, fmt.Errorf("activity: ledger for %s shrank below remembered offset", instanceID)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("activity: seek: %w", err)
	}

	var records []Record
	pos := offset
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// No trailing newline yet: the producer is mid-append.
			break
		}
		if err != nil {
			return records, pos, fmt.Errorf("activity: read: %w", err)
		}
		pos += int64(len(line))
		rec, perr := parseLine(strings.TrimSuffix(line, "\n"))
		if perr != nil {
			log.WithField("instance", instanceID).WithError(perr).Warn("activity: skipping malformed ledger line")
			continue
		}
		records = append(records, rec)
	}
	return records, pos, nil
}

// Instances lists the instance IDs that have a ledger in dir. Unknown
// instances discovered here are added to the monitor's watch set so no
// producer is ever silently ignored.
func Instances(dir string) ([]string, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("activity: list: %w", err)
	}
	var out []string
	for _, de := range dirents {
		id, ok := strings.CutSuffix(de.Name(), ".log")
		if de.IsDir() || !ok || !common.ValidID(id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// HighWater folds records into per-(document, instance) maxima. Later
// records for the same pair always carry a larger sequence, but folding is
// defensive about duplicates from overlapping polls.
func HighWater(records []Record) map[string]map[string]uint64 {
	hw := make(map[string]map[string]uint64)
	for _, r := range records {
		byInst, ok := hw[r.DocumentID]
		if !ok {
			byInst = make(map[string]uint64)
			hw[r.DocumentID] = byInst
		}
		if r.Sequence > byInst[r.InstanceID] {
			byInst[r.InstanceID] = r.Sequence
		}
	}
	return hw
}
