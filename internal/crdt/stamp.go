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

// Package crdt implements the conflict-free document model behind notesync:
// last-write-wins registers for metadata, an RGA block sequence for note
// text, and the stamps that totally order concurrent edits.
package crdt

// Stamp identifies one edit in the causal order. Counter is a per-document
// Lamport counter, Wall is the producer's clock in Unix milliseconds and is
// only a tie-breaker, Actor is the producing instance ID and breaks the
// final tie so the order is total.
type Stamp struct {
	Counter uint64 `json:"c"`
	Wall    int64  `json:"w"`
	Actor   string `json:"a"`
}

// Compare returns -1, 0 or 1 ordering s against o.
func (s Stamp) Compare(o Stamp) int {
	switch {
	case s.Counter < o.Counter:
		return -1
	case s.Counter > o.Counter:
		return 1
	case s.Wall < o.Wall:
		return -1
	case s.Wall > o.Wall:
		return 1
	case s.Actor < o.Actor:
		return -1
	case s.Actor > o.Actor:
		return 1
	}
	return 0
}

// Less reports whether s orders strictly before o.
func (s Stamp) Less(o Stamp) bool {
	return s.Compare(o) < 0
}

// IsZero reports whether s is the zero stamp.
func (s Stamp) IsZero() bool {
	return s.Counter == 0 && s.Wall == 0 && s.Actor == ""
}
