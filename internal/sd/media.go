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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"notesync/internal/common"
)

// Media blobs are content-addressed: media/<sha256>.<ext>. Storing the same
// attachment twice is a no-op, and references from note text never dangle
// because blobs are immutable once written.

// StoreBlob writes data into media/ and returns its content hash. The ext
// is informational (lets cloud clients and previews treat the file by type)
// and not part of the address.
func (s *SD) StoreBlob(data []byte, ext string) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	path := s.blobPath(hash, ext)

	if _, err := os.Stat(path); err == nil {
		return hash, nil // already stored, content-addressing makes this exact
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("sd: store blob: %w", err)
	}
	return hash, nil
}

// OpenBlob reads a blob back by hash, trying any extension present.
func (s *SD) OpenBlob(hash string) ([]byte, error) {
	matches, err := filepath.Glob(filepath.Join(s.MediaDir(), hash+".*"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("%w: blob %s", common.ErrNotFound, hash)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("sd: read blob: %w", err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, fmt.Errorf("%w: blob %s content does not match its address", common.ErrCorruptEntry, hash)
	}
	return data, nil
}

func (s *SD) blobPath(hash, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return filepath.Join(s.MediaDir(), hash+"."+ext)
}
