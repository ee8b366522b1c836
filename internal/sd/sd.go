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

// Package sd owns the storage directory: the shared folder layout every
// instance mounts, its immutable identity, and the physical operations the
// rest of the core goes through to touch it.
package sd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"notesync/internal/common"
)

// Identity files at the SD root. SD_ID is the immutable join key every
// mounting instance must agree on; SD-TYPE is informational.
const (
	idFile   = "SD_ID"
	typeFile = "SD-TYPE"
)

// Known SD types. The type never affects protocol behavior; it only tells
// the UI whether added latency from a cloud sync client is expected.
const (
	TypeLocal  = "local"
	TypeICloud = "icloud"
	TypeDrive  = "drive"
)

// Layout subdirectories.
const (
	notesDir    = "notes"
	foldersDir  = "folders"
	activityDir = "activity"
	mediaDir    = "media"
	updatesDir  = "updates"
)

// SD is one mounted storage directory.
type SD struct {
	Root string
	ID   string
	Type string
}

// Create initializes a new storage directory at path: a fresh SD_ID, the
// identity files, and the fixed subdirectory layout. Fails with
// ErrStorageDirExists when identity files are already present; an existing
// SD is never overwritten.
func Create(path, sdType string) (*SD, error) {
	if _, err := os.Stat(filepath.Join(path, idFile)); err == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrStorageDirExists, path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("sd: mkdir root: %w", err)
	}
	for _, sub := range []string{notesDir, foldersDir, activityDir, mediaDir} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return nil, fmt.Errorf("sd: mkdir %s: %w", sub, err)
		}
	}

	id := common.NewID()
	if err := writeFileAtomic(filepath.Join(path, idFile), []byte(id+"\n")); err != nil {
		return nil, fmt.Errorf("sd: write identity: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(path, typeFile), []byte(sdType+"\n")); err != nil {
		return nil, fmt.Errorf("sd: write type: %w", err)
	}

	log.WithField("sd", id).WithField("path", path).Info("sd: created storage directory")
	return &SD{Root: path, ID: id, Type: sdType}, nil
}

// Open mounts an existing storage directory, validating its identity files.
// Returns ErrNotStorageDir when they are missing or malformed.
func Open(path string) (*SD, error) {
	idBytes, err := os.ReadFile(filepath.Join(path, idFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", common.ErrNotStorageDir, path)
	}
	id := strings.TrimSpace(string(idBytes))
	if !common.ValidID(id) {
		return nil, fmt.Errorf("%w: malformed SD_ID in %s", common.ErrNotStorageDir, path)
	}
	typeBytes, err := os.ReadFile(filepath.Join(path, typeFile))
	if err != nil {
		return nil, fmt.Errorf("%w: missing SD-TYPE in %s", common.ErrNotStorageDir, path)
	}
	return &SD{Root: path, ID: id, Type: strings.TrimSpace(string(typeBytes))}, nil
}

// OpenVerified opens the SD at path and checks its on-disk identity against
// the ID the caller remembered from a previous mount. A mismatch means the
// user pointed the app at a different folder or a cloud provider swapped
// the folder's identity; that is surfaced as ErrIdentityMismatch and never
// silently re-adopted.
func OpenVerified(path, rememberedID string) (*SD, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	if rememberedID != "" && s.ID != rememberedID {
		return nil, fmt.Errorf("%w: path %s has SD_ID %s, expected %s",
			common.ErrIdentityMismatch, path, s.ID, rememberedID)
	}
	return s, nil
}

// NotesDir returns the notes/ directory.
func (s *SD) NotesDir() string {
	return filepath.Join(s.Root, notesDir)
}

// UpdatesDir returns the update log directory for one note document.
func (s *SD) UpdatesDir(documentID string) string {
	return filepath.Join(s.Root, notesDir, documentID, updatesDir)
}

// FolderUpdatesDir returns the update log directory of the folder-tree
// document. The folder tree uses the same log convention under folders/.
func (s *SD) FolderUpdatesDir() string {
	return filepath.Join(s.Root, foldersDir, updatesDir)
}

// FolderDocumentID returns the well-known ID of the folder-tree document,
// derived from the SD identity so every instance computes the same ID
// without coordination.
func (s *SD) FolderDocumentID() string {
	sum := sha256.Sum256([]byte(s.ID + "/" + foldersDir))
	return hex.EncodeToString(sum[:16])
}

// ActivityDir returns the activity/ directory.
func (s *SD) ActivityDir() string {
	return filepath.Join(s.Root, activityDir)
}

// MediaDir returns the media/ directory.
func (s *SD) MediaDir() string {
	return filepath.Join(s.Root, mediaDir)
}

// DocumentUpdatesDir maps a document ID to its updates directory,
// dispatching the folder-tree document to folders/.
func (s *SD) DocumentUpdatesDir(documentID string) string {
	if documentID == s.FolderDocumentID() {
		return s.FolderUpdatesDir()
	}
	return s.UpdatesDir(documentID)
}

// ListDocuments returns the IDs of all note documents present under notes/.
func (s *SD) ListDocuments() ([]string, error) {
	dirents, err := os.ReadDir(s.NotesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sd: list notes: %w", err)
	}
	var out []string
	for _, de := range dirents {
		if de.IsDir() && common.ValidID(de.Name()) {
			out = append(out, de.Name())
		}
	}
	return out, nil
}

// PurgeDocument physically removes every log file for a document. This is
// "empty trash": the only operation that ever hard-deletes CRDT state.
func (s *SD) PurgeDocument(documentID string) error {
	dir := filepath.Join(s.Root, notesDir, documentID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("sd: purge %s: %w", documentID, err)
	}
	log.WithField("doc", documentID).Info("sd: purged document")
	return nil
}

// writeFileAtomic writes data via temp file + rename in the target dir.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".notesync-tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	success = true
	return nil
}
