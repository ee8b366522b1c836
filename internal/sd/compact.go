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

package sd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"notesync/internal/activity"
	"notesync/internal/crdt"
	"notesync/internal/materialize"
	"notesync/internal/updatelog"
)

// CompactResult reports what one compaction pass did.
type CompactResult struct {
	Folded   int    // entries folded into the base
	BaseName string // filename of the synthetic base entry, "" if nothing folded
}

// Compact folds a document's fully-acknowledged update entries into one
// synthetic base entry written by selfID with the given sequence number.
//
// An entry from instance X with sequence s is foldable only when every
// known instance's activity ledger acknowledges (document, X) at sequence
// >= s. Anything less risks deleting updates a peer has not yet
// incorporated, so the pass folds nothing from X in that case.
//
// The base entry's filename timestamp is the minimum of the folded range,
// recording where the folded history began; its payload is a snapshot op
// batch that is algebraically equivalent to the folded entries, so where the
// base lands in replay order does not matter. Folded files are removed only
// after the base is durably published, so a crash mid-compaction leaves
// redundant entries, never missing ones.
func (s *SD) Compact(documentID, selfID string, sequence uint64) (*CompactResult, error) {
	dir := s.DocumentUpdatesDir(documentID)
	entries, err := updatelog.List(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) < 2 {
		return &CompactResult{}, nil
	}

	minAck, err := s.ackFloor(documentID)
	if err != nil {
		return nil, err
	}

	var foldable []updatelog.Entry
	for _, e := range entries {
		if e.Name.Sequence <= minAck[e.Name.InstanceID] {
			foldable = append(foldable, e)
		}
	}
	if len(foldable) < 2 {
		return &CompactResult{}, nil
	}

	base := materialize.Document(documentID, foldable)
	if base.Skipped > 0 {
		// Never fold while corrupt entries are in range: folding would
		// erase the evidence a later repair might want.
		return nil, fmt.Errorf("sd: compact %s: %d corrupt entries in foldable range", documentID, base.Skipped)
	}

	payload, err := crdt.EncodeOps(base.Doc.SnapshotOps())
	if err != nil {
		return nil, fmt.Errorf("sd: compact %s: %w", documentID, err)
	}

	minTS := foldable[0].Name.Timestamp
	for _, e := range foldable[1:] {
		if e.Name.Timestamp < minTS {
			minTS = e.Name.Timestamp
		}
	}
	baseName := updatelog.EncodeFilename(selfID, documentID, minTS, sequence)
	if err := updatelog.WriteEntry(dir, baseName, payload); err != nil {
		return nil, err
	}
	if err := activity.Append(s.ActivityDir(), selfID, activity.Record{
		DocumentID: documentID, InstanceID: selfID, Sequence: sequence,
	}); err != nil {
		return nil, err
	}

	for _, e := range foldable {
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			log.WithField("entry", e.Path).WithError(err).Warn("sd: compact: could not remove folded entry")
		}
	}

	log.WithField("doc", documentID).WithField("folded", len(foldable)).Info("sd: compacted document")
	return &CompactResult{Folded: len(foldable), BaseName: baseName}, nil
}

// ackFloor computes, per producing instance, the highest sequence every
// known instance has acknowledged for documentID. The floor is zero for an
// instance that any peer has not acknowledged at all.
func (s *SD) ackFloor(documentID string) (map[string]uint64, error) {
	owners, err := activity.Instances(s.ActivityDir())
	if err != nil {
		return nil, err
	}

	// acks[owner][producer] = owner's acknowledged sequence for producer.
	acks := make([]map[string]uint64, 0, len(owners))
	producers := make(map[string]bool)
	for _, owner := range owners {
		records, _, err := activity.Tail(s.ActivityDir(), owner, 0)
		if err != nil {
			return nil, fmt.Errorf("sd: compact: unreadable ledger for %s: %w", owner, err)
		}
		hw := activity.HighWater(records)[documentID]
		acks = append(acks, hw)
		for producer := range hw {
			producers[producer] = true
		}
	}

	floor := make(map[string]uint64, len(producers))
	for producer := range producers {
		var minSeq uint64
		first := true
		for _, hw := range acks {
			seq := hw[producer] // 0 when owner never acknowledged producer
			if first || seq < minSeq {
				minSeq = seq
				first = false
			}
		}
		floor[producer] = minSeq
	}
	return floor, nil
}
