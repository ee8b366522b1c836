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

package common

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("handle is closed")

	// Update log errors.
	ErrCorruptLogName = errors.New("corrupt log name")
	ErrCorruptEntry   = errors.New("corrupt log entry")

	// Storage directory identity errors. These are fatal to the mount and
	// must reach the caller untouched, never auto-resolved.
	ErrNotStorageDir    = errors.New("not a storage directory")
	ErrIdentityMismatch = errors.New("storage directory identity mismatch")
	ErrStorageDirExists = errors.New("storage directory already exists")

	// Structural edit errors, rejected before an update is produced.
	ErrFolderCycle = errors.New("folder move would create a cycle")
)
