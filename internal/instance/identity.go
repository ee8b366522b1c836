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

package instance

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"notesync/internal/common"
)

// IDPolicy decides how a process obtains its instance ID. The ID names
// every update log file and ledger line the process publishes, and each
// (instance, document) sequence must have a single writer, so whoever hands
// out an ID must guarantee it is not in use by another live process.
type IDPolicy interface {
	InstanceID() (string, error)
}

// PersistentID reuses one ID across restarts, persisted in the config dir.
// This is the normal policy: peers keep compact ledgers because the set of
// instances stays small and stable.
type PersistentID struct{}

func (PersistentID) InstanceID() (string, error) {
	data, err := os.ReadFile(IDPath())
	if err == nil {
		id := strings.TrimSpace(string(data))
		if common.ValidID(id) {
			return id, nil
		}
		log.WithField("path", IDPath()).Warn("instance: malformed persisted ID, minting a new one")
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("instance: read persisted ID: %w", err)
	}

	if err := EnsureConfigDir(); err != nil {
		return "", err
	}
	id := common.NewID()
	if err := os.WriteFile(IDPath(), []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("instance: persist ID: %w", err)
	}
	return id, nil
}

// EphemeralID mints a fresh ID for this process only. Used by one-shot
// invocations that must not contend with a running app for the persistent
// identity's sequence counter.
type EphemeralID struct{}

func (EphemeralID) InstanceID() (string, error) {
	return common.NewID(), nil
}

// Instance is this process's acquired identity.
type Instance struct {
	ID string

	lock *flock.Flock
}

// Acquire obtains an instance identity under the given policy. The
// persistent ID is guarded by a file lock; when another process already
// holds it, Acquire falls back to an ephemeral ID rather than risking two
// writers sharing one sequence counter.
func Acquire(policy IDPolicy) (*Instance, error) {
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}

	if _, persistent := policy.(PersistentID); !persistent {
		id, err := policy.InstanceID()
		if err != nil {
			return nil, err
		}
		return &Instance{ID: id}, nil
	}

	lock := flock.New(LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("instance: acquire identity lock: %w", err)
	}
	if !locked {
		log.Warn("instance: persistent identity is held by another process, using an ephemeral ID")
		id, err := EphemeralID{}.InstanceID()
		if err != nil {
			return nil, err
		}
		return &Instance{ID: id}, nil
	}

	id, err := policy.InstanceID()
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	return &Instance{ID: id, lock: lock}, nil
}

// Release gives the identity back. Only meaningful for a held persistent
// identity; safe to call regardless.
func (i *Instance) Release() error {
	if i.lock == nil {
		return nil
	}
	return i.lock.Unlock()
}
