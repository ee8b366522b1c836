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

package updatelog

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"notesync/internal/common"
)

// Entry file framing: 4-byte magic, 8-byte big-endian payload length,
// 32-byte SHA-256 of the payload, then the payload. The checksum lets a
// reader classify a truncated or bit-rotted file as corrupt instead of
// feeding garbage into the CRDT.
var entryMagic = []byte("NSU1")

const entryHeaderSize = 4 + 8 + sha256.Size

// Frame wraps a raw CRDT update payload into the on-disk entry format.
func Frame(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	buf := make([]byte, 0, entryHeaderSize+len(payload))
	buf = append(buf, entryMagic...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(payload)))
	buf = append(buf, sum[:]...)
	return append(buf, payload...)
}

// Unframe validates the entry format and returns the payload. Any mismatch
// (bad magic, short file, checksum failure) returns ErrCorruptEntry.
func Unframe(data []byte) ([]byte, error) {
	if len(data) < entryHeaderSize || !bytes.Equal(data[:4], entryMagic) {
		return nil, fmt.Errorf("%w: bad header", common.ErrCorruptEntry)
	}
	length := binary.BigEndian.Uint64(data[4:12])
	if uint64(len(data)-entryHeaderSize) != length {
		return nil, fmt.Errorf("%w: truncated payload", common.ErrCorruptEntry)
	}
	payload := data[entryHeaderSize:]
	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], data[12:12+sha256.Size]) {
		return nil, fmt.Errorf("%w: checksum mismatch", common.ErrCorruptEntry)
	}
	return payload, nil
}
