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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Entry couples a decoded log name with the path it was listed from.
// Payload is loaded lazily via Read so a discovery pass can list thousands
// of entries without touching file contents.
type Entry struct {
	Name EntryName
	Path string
}

// Read loads and unframes the entry payload.
func (e Entry) Read() ([]byte, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, fmt.Errorf("updatelog: read %s: %w", e.Path, err)
	}
	return Unframe(data)
}

// List returns the update entries in dir sorted by filename, which is the
// canonical replay order. Temp files and names that fail the grammar are
// skipped; a malformed name is logged once and never aborts the listing.
func List(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("updatelog: list %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		name, decErr := DecodeFilename(de.Name())
		if decErr != nil {
			log.WithField("file", de.Name()).Warn("updatelog: skipping file with malformed name")
			continue
		}
		entries = append(entries, Entry{Name: name, Path: filepath.Join(dir, de.Name())})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name.Filename() < entries[j].Name.Filename()
	})
	return entries, nil
}

// MaxSequence returns the highest sequence number instanceID has published
// in dir, or 0 when it has published nothing. Used to resume the local
// counter after restart and by the degraded discovery path.
func MaxSequence(dir, instanceID string) (uint64, error) {
	entries, err := List(dir)
	if err != nil {
		return 0, err
	}
	var maxSeq uint64
	for _, e := range entries {
		if e.Name.InstanceID == instanceID && e.Name.Sequence > maxSeq {
			maxSeq = e.Name.Sequence
		}
	}
	return maxSeq, nil
}
