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
)

// WriteEntry atomically publishes payload as the log entry name inside dir:
// temp file in the same directory, write, fsync, then rename into place.
// A concurrent reader either sees the complete file or no file at all; a
// crash mid-write leaves only an ignorable temp file. This is the crash
// safety guarantee the whole sync protocol rests on.
func WriteEntry(dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("updatelog: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".notesync-tmp-*")
	if err != nil {
		return fmt.Errorf("updatelog: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(Frame(payload)); err != nil {
		return fmt.Errorf("updatelog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("updatelog: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("updatelog: close temp: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("updatelog: rename: %w", err)
	}
	success = true
	return nil
}
