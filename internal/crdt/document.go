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

package crdt

import (
	"sort"
	"strings"
	"time"
)

// Well-known metadata register keys.
const (
	AttrFolder  = "folder"
	AttrPinned  = "pinned"
	AttrDeleted = "deleted"
)

// Register is a last-write-wins value.
type Register struct {
	Value string
	Stamp Stamp
}

// Block is one text block in the RGA sequence. Origin is the block this one
// was inserted after; Inserted orders concurrent siblings. A deleted block
// stays in the set as a tombstone so the insert stays idempotent.
type Block struct {
	ID       string
	Origin   string
	Text     Register
	Inserted Stamp
	Deleted  bool
}

// Document is the materialized CRDT state of one note (or of the folder
// tree, which reuses the same algebra with registers only).
//
// Apply is commutative and idempotent over any set of ops: blocks merge by
// set union, text and attrs by stamp comparison, deletions by remove-wins.
// Replay order therefore cannot change the final state, which is the
// property the storage layer's filename-sorted replay relies on.
type Document struct {
	ID     string
	Blocks map[string]*Block
	Attrs  map[string]Register

	// Clock is the highest Lamport counter observed. NextStamp advances it.
	Clock uint64

	// Created and Modified are derived from op wall clocks during replay.
	Created  int64
	Modified int64
}

// New returns an empty document.
func New(id string) *Document {
	return &Document{
		ID:     id,
		Blocks: make(map[string]*Block),
		Attrs:  make(map[string]Register),
	}
}

// Apply merges one op into the document.
func (d *Document) Apply(op Op) {
	if op.Stamp.Counter > d.Clock {
		d.Clock = op.Stamp.Counter
	}
	if w := op.Stamp.Wall; w > 0 {
		if d.Created == 0 || w < d.Created {
			d.Created = w
		}
		if w > d.Modified {
			d.Modified = w
		}
	}

	switch op.Kind {
	case OpInsertBlock:
		if op.Block == "" {
			return
		}
		if b, ok := d.Blocks[op.Block]; ok {
			// Either a replayed duplicate or a placeholder created by an
			// edit/delete that arrived first. A placeholder adopts the
			// insert's origin and stamp so sibling order does not depend
			// on arrival order; text still resolves by stamp.
			if b.Inserted.IsZero() {
				b.Origin = op.Origin
				b.Inserted = op.Stamp
			}
			if b.Text.Stamp.Less(op.Stamp) {
				b.Text = Register{Value: op.Text, Stamp: op.Stamp}
			}
			return
		}
		d.Blocks[op.Block] = &Block{
			ID:       op.Block,
			Origin:   op.Origin,
			Text:     Register{Value: op.Text, Stamp: op.Stamp},
			Inserted: op.Stamp,
		}

	case OpEditBlock:
		b, ok := d.Blocks[op.Block]
		if !ok {
			// Edit arrived before its insert. Materialization replays the
			// full set, so record a placeholder the insert will adopt.
			b = &Block{ID: op.Block, Origin: op.Origin}
			d.Blocks[op.Block] = b
		}
		if b.Text.Stamp.Less(op.Stamp) {
			b.Text = Register{Value: op.Text, Stamp: op.Stamp}
		}

	case OpDeleteBlock:
		b, ok := d.Blocks[op.Block]
		if !ok {
			b = &Block{ID: op.Block, Origin: op.Origin}
			d.Blocks[op.Block] = b
		}
		b.Deleted = true

	case OpSetAttr:
		if op.Key == "" {
			return
		}
		cur, ok := d.Attrs[op.Key]
		if !ok || cur.Stamp.Less(op.Stamp) {
			d.Attrs[op.Key] = Register{Value: op.Value, Stamp: op.Stamp}
		}
	}
}

// ApplyAll merges a batch of ops.
func (d *Document) ApplyAll(ops []Op) {
	for _, op := range ops {
		d.Apply(op)
	}
}

// NextStamp mints a stamp for a new local op and advances the clock.
func (d *Document) NextStamp(actor string) Stamp {
	d.Clock++
	return Stamp{Counter: d.Clock, Wall: time.Now().UnixMilli(), Actor: actor}
}

// Attr returns the current value of a metadata register ("" if unset).
func (d *Document) Attr(key string) string {
	return d.Attrs[key].Value
}

// Deleted reports whether the document is soft-deleted.
func (d *Document) Deleted() bool {
	return d.Attr(AttrDeleted) == "true"
}

// Linearize returns the live blocks in display order: a depth-first walk of
// the origin tree with concurrent siblings ordered by insertion stamp,
// newest first. The walk only depends on the block set, not on the order
// ops were applied in.
func (d *Document) Linearize() []*Block {
	children := make(map[string][]*Block, len(d.Blocks))
	for _, b := range d.Blocks {
		children[b.Origin] = append(children[b.Origin], b)
	}
	for _, sibs := range children {
		sort.Slice(sibs, func(i, j int) bool {
			return sibs[j].Inserted.Less(sibs[i].Inserted)
		})
	}

	out := make([]*Block, 0, len(d.Blocks))
	var walk func(origin string)
	walk = func(origin string) {
		for _, b := range children[origin] {
			if !b.Deleted {
				out = append(out, b)
			}
			walk(b.ID)
		}
	}
	walk("")
	return out
}

// Text renders the document as plain text, one block per line.
func (d *Document) Text() string {
	blocks := d.Linearize()
	lines := make([]string, len(blocks))
	for i, b := range blocks {
		lines[i] = b.Text.Value
	}
	return strings.Join(lines, "\n")
}
