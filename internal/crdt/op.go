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
	"encoding/json"
	"fmt"
)

// OpKind enumerates the operation types carried by an update log entry.
type OpKind string

const (
	// OpInsertBlock adds a text block after Origin ("" means document head).
	OpInsertBlock OpKind = "insert"
	// OpEditBlock replaces a block's text (last writer wins).
	OpEditBlock OpKind = "edit"
	// OpDeleteBlock tombstones a block (remove wins, never resurrected).
	OpDeleteBlock OpKind = "delete"
	// OpSetAttr sets a document metadata register (last writer wins).
	OpSetAttr OpKind = "attr"
)

// Op is a single CRDT operation. A batch of ops forms the payload of one
// update log entry.
type Op struct {
	Kind   OpKind `json:"op"`
	Block  string `json:"block,omitempty"`
	Origin string `json:"origin,omitempty"`
	Text   string `json:"text,omitempty"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	Stamp  Stamp  `json:"stamp"`
}

// EncodeOps serializes a batch of ops to the JSON wire form stored inside
// an update log entry.
func EncodeOps(ops []Op) ([]byte, error) {
	return json.Marshal(ops)
}

// DecodeOps parses the JSON wire form back into a batch of ops.
func DecodeOps(data []byte) ([]Op, error) {
	var ops []Op
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode ops: %w", err)
	}
	return ops, nil
}
