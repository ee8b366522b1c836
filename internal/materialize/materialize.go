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

// Package materialize replays a document's update log into current state.
// Replay is best-effort: one corrupt entry costs one warning and nothing
// else, because a note with a single bad update should still show every
// other edit.
package materialize

import (
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"

	"notesync/internal/crdt"
	"notesync/internal/updatelog"
)

// PreviewLength is the fixed rune budget of the leading excerpt shown in
// note lists.
const PreviewLength = 160

// State is the result of one materialization pass.
type State struct {
	Doc     *crdt.Document
	Title   string
	Preview string

	// Applied counts entries merged; Skipped counts corrupt entries that
	// were logged and ignored.
	Applied int
	Skipped int

	// Incorporated records the highest sequence merged per instance, used
	// to acknowledge updates and to dedupe rediscovery.
	Incorporated map[string]uint64
}

// Document replays entries (already in filename order, as produced by
// updatelog.List) into document state. The CRDT algebra makes the result
// independent of which process replays and of duplicated entries; this
// function only adds the corruption-skipping policy on top.
func Document(documentID string, entries []updatelog.Entry) *State {
	st := &State{
		Doc:          crdt.New(documentID),
		Incorporated: make(map[string]uint64),
	}

	for _, e := range entries {
		payload, err := e.Read()
		if err != nil {
			log.WithField("entry", e.Path).WithError(err).Warn("materialize: skipping corrupt update entry")
			st.Skipped++
			continue
		}
		ops, err := crdt.DecodeOps(payload)
		if err != nil {
			log.WithField("entry", e.Path).WithError(err).Warn("materialize: skipping undecodable update entry")
			st.Skipped++
			continue
		}
		st.Doc.ApplyAll(ops)
		st.Applied++
		if e.Name.Sequence > st.Incorporated[e.Name.InstanceID] {
			st.Incorporated[e.Name.InstanceID] = e.Name.Sequence
		}
	}

	st.Title, st.Preview = ExtractMetadata(st.Doc.Text())
	return st
}

// FromDir lists dir and materializes everything in it.
func FromDir(dir, documentID string) (*State, error) {
	entries, err := updatelog.List(dir)
	if err != nil {
		return nil, err
	}
	return Document(documentID, entries), nil
}

// ExtractMetadata derives the listing metadata from rendered text: title is
// the first non-empty line, trimmed; preview is a fixed-length leading
// excerpt with runs of whitespace collapsed. Both are pure functions of
// state and are recomputed on every pass, never stored as authoritative.
func ExtractMetadata(text string) (title, preview string) {
	for _, line := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			title = t
			break
		}
	}

	collapsed := strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	runes := []rune(collapsed)
	if len(runes) > PreviewLength {
		runes = runes[:PreviewLength]
	}
	preview = string(runes)
	return title, preview
}
