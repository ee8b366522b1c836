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
	"strings"

	"notesync/internal/common"
)

// The folder tree is one shared document using registers only. Each folder
// contributes three registers keyed by its ID:
//
//	name:<id>    display name
//	parent:<id>  parent folder ID, "" meaning the root
//	deleted:<id> "true" once trashed
const (
	folderNamePrefix    = "name:"
	folderParentPrefix  = "parent:"
	folderDeletedPrefix = "deleted:"
)

// Folder is one node of the materialized folder tree.
type Folder struct {
	ID      string
	Name    string
	Parent  string
	Deleted bool
}

// FolderTree is a read-time view over the folder document. Cycles caused by
// concurrent remote moves are resolved deterministically while building the
// view; the underlying registers are left untouched.
type FolderTree struct {
	Folders map[string]*Folder
}

// BuildFolderTree materializes the folder document into a tree.
//
// Two instances may concurrently move A under B and B under A; both moves
// survive as registers and form a cycle. The view breaks each cycle by
// detaching the folder whose parent register carries the lowest stamp, so
// every replica renders the identical tree.
func BuildFolderTree(doc *Document) *FolderTree {
	t := &FolderTree{Folders: make(map[string]*Folder)}
	for key, reg := range doc.Attrs {
		id, ok := strings.CutPrefix(key, folderNamePrefix)
		if !ok {
			continue
		}
		t.Folders[id] = &Folder{
			ID:      id,
			Name:    reg.Value,
			Parent:  doc.Attr(folderParentPrefix + id),
			Deleted: doc.Attr(folderDeletedPrefix+id) == "true",
		}
	}

	for id := range t.Folders {
		t.breakCycle(doc, id)
	}
	return t
}

// breakCycle walks the parent chain from id and, if the walk re-enters
// itself, detaches the weakest edge of the cycle to the root.
func (t *FolderTree) breakCycle(doc *Document, id string) {
	seen := map[string]bool{}
	cur := id
	for cur != "" {
		f, ok := t.Folders[cur]
		if !ok {
			return // dangling parent, treat as root child
		}
		if seen[cur] {
			// Found a cycle through cur. Collect its members.
			var cycle []string
			for c := cur; ; c = t.Folders[c].Parent {
				cycle = append(cycle, c)
				if t.Folders[c].Parent == cur {
					break
				}
			}
			weakest := cycle[0]
			for _, c := range cycle[1:] {
				if parentStamp(doc, c).Less(parentStamp(doc, weakest)) {
					weakest = c
				}
			}
			t.Folders[weakest].Parent = ""
			return
		}
		seen[cur] = true
		cur = f.Parent
	}
}

func parentStamp(doc *Document, id string) Stamp {
	return doc.Attrs[folderParentPrefix+id].Stamp
}

// isDescendant reports whether candidate is id or lives under id.
func (t *FolderTree) isDescendant(candidate, id string) bool {
	seen := map[string]bool{}
	for cur := candidate; cur != ""; {
		if cur == id {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
		f, ok := t.Folders[cur]
		if !ok {
			return false
		}
		cur = f.Parent
	}
	return false
}

// CreateFolderOps mints the ops that add a folder under parent.
func CreateFolderOps(doc *Document, actor, id, name, parent string) []Op {
	return []Op{
		{Kind: OpSetAttr, Key: folderNamePrefix + id, Value: name, Stamp: doc.NextStamp(actor)},
		{Kind: OpSetAttr, Key: folderParentPrefix + id, Value: parent, Stamp: doc.NextStamp(actor)},
	}
}

// RenameFolderOp mints the op that renames a folder.
func RenameFolderOp(doc *Document, actor, id, name string) Op {
	return Op{Kind: OpSetAttr, Key: folderNamePrefix + id, Value: name, Stamp: doc.NextStamp(actor)}
}

// MoveFolderOp mints the op that reparents a folder. A move that would make
// the folder its own ancestor is rejected with ErrFolderCycle before any op
// exists, so invalid structure never reaches the log.
func MoveFolderOp(doc *Document, actor, id, newParent string) (Op, error) {
	tree := BuildFolderTree(doc)
	if newParent != "" && tree.isDescendant(newParent, id) {
		return Op{}, common.ErrFolderCycle
	}
	return Op{Kind: OpSetAttr, Key: folderParentPrefix + id, Value: newParent, Stamp: doc.NextStamp(actor)}, nil
}

// DeleteFolderOp mints the op that soft-deletes a folder.
func DeleteFolderOp(doc *Document, actor, id string) Op {
	return Op{Kind: OpSetAttr, Key: folderDeletedPrefix + id, Value: "true", Stamp: doc.NextStamp(actor)}
}
