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

import "sort"

// SnapshotOps emits a batch of ops that rebuilds the document's exact state
// on an empty replica, preserving every stamp. Because stamps are carried
// verbatim, the batch merges with any entries that were NOT folded exactly
// as the original entries would have: the snapshot is algebraically
// equivalent to the logs it replaces. This is what compaction writes as a
// synthetic base entry.
func (d *Document) SnapshotOps() []Op {
	ops := make([]Op, 0, 2*len(d.Blocks)+len(d.Attrs))

	blockIDs := make([]string, 0, len(d.Blocks))
	for id := range d.Blocks {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)

	for _, id := range blockIDs {
		b := d.Blocks[id]
		insertText := b.Text.Value
		if b.Text.Stamp != b.Inserted {
			insertText = ""
		}
		ops = append(ops, Op{
			Kind:   OpInsertBlock,
			Block:  b.ID,
			Origin: b.Origin,
			Text:   insertText,
			Stamp:  b.Inserted,
		})
		if b.Text.Stamp != b.Inserted {
			ops = append(ops, Op{
				Kind:  OpEditBlock,
				Block: b.ID,
				Text:  b.Text.Value,
				Stamp: b.Text.Stamp,
			})
		}
		if b.Deleted {
			ops = append(ops, Op{Kind: OpDeleteBlock, Block: b.ID, Stamp: b.Inserted})
		}
	}

	attrKeys := make([]string, 0, len(d.Attrs))
	for k := range d.Attrs {
		attrKeys = append(attrKeys, k)
	}
	sort.Strings(attrKeys)
	for _, k := range attrKeys {
		reg := d.Attrs[k]
		ops = append(ops, Op{Kind: OpSetAttr, Key: k, Value: reg.Value, Stamp: reg.Stamp})
	}
	return ops
}
