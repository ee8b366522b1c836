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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notesync/internal/common"
)

// Tests set NOTESYNC_CONFIG_DIR for isolation, so none of them run in
// parallel.

func TestConfigPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NOTESYNC_CONFIG_DIR", dir)

	assert.Equal(t, dir, ConfigDir())
	assert.Equal(t, filepath.Join(dir, "settings.yaml"), SettingsPath())
	assert.Equal(t, filepath.Join(dir, "instance_id"), IDPath())
	assert.Equal(t, filepath.Join(dir, "instance.lock"), LockPath())
	assert.Equal(t, filepath.Join(dir, "readcache.db"), CachePath())
}

func TestSettingsDefaults(t *testing.T) {
	t.Setenv("NOTESYNC_CONFIG_DIR", t.TempDir())

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, 500, s.DebounceMs)
	assert.Zero(t, s.RescanSeconds)
	assert.Empty(t, s.StorageDirs)
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Setenv("NOTESYNC_CONFIG_DIR", t.TempDir())

	s := &Settings{LogLevel: "debug", DebounceMs: 250, RescanSeconds: 60}
	s.Register(Registration{Path: "/mnt/shared", ID: common.NewID(), Type: "drive"})
	require.NoError(t, SaveSettings(s))

	loaded, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, 250, loaded.DebounceMs)
	assert.Equal(t, 60, loaded.RescanSeconds)
	require.Len(t, loaded.StorageDirs, 1)

	reg, ok := loaded.Registered("/mnt/shared")
	require.True(t, ok)
	assert.Equal(t, "drive", reg.Type)

	_, ok = loaded.Registered("/elsewhere")
	assert.False(t, ok)
}

func TestRegisterReplacesSamePath(t *testing.T) {
	s := &Settings{}
	id1 := common.NewID()
	id2 := common.NewID()

	s.Register(Registration{Path: "/mnt/shared", ID: id1, Type: "local"})
	s.Register(Registration{Path: "/mnt/shared", ID: id2, Type: "local"})
	s.Register(Registration{Path: "/mnt/other", ID: common.NewID(), Type: "local"})

	require.Len(t, s.StorageDirs, 2)
	reg, ok := s.Registered("/mnt/shared")
	require.True(t, ok)
	assert.Equal(t, id2, reg.ID)
}

func TestLoadSettingsRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NOTESYNC_CONFIG_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yaml"), []byte("{{{not yaml"), 0o600))

	_, err := LoadSettings()
	assert.Error(t, err)
}

func TestPersistentIDStable(t *testing.T) {
	t.Setenv("NOTESYNC_CONFIG_DIR", t.TempDir())

	first, err := PersistentID{}.InstanceID()
	require.NoError(t, err)
	assert.True(t, common.ValidID(first))

	second, err := PersistentID{}.InstanceID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPersistentIDRecoversFromMalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NOTESYNC_CONFIG_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "instance_id"), []byte("garbage\n"), 0o600))

	id, err := PersistentID{}.InstanceID()
	require.NoError(t, err)
	assert.True(t, common.ValidID(id))

	// The fresh ID was persisted over the damaged file.
	again, err := PersistentID{}.InstanceID()
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestEphemeralIDsDistinct(t *testing.T) {
	a, err := EphemeralID{}.InstanceID()
	require.NoError(t, err)
	b, err := EphemeralID{}.InstanceID()
	require.NoError(t, err)
	assert.True(t, common.ValidID(a))
	assert.NotEqual(t, a, b)
}

func TestAcquireRelease(t *testing.T) {
	t.Setenv("NOTESYNC_CONFIG_DIR", t.TempDir())

	inst, err := Acquire(PersistentID{})
	require.NoError(t, err)
	assert.True(t, common.ValidID(inst.ID))
	require.NoError(t, inst.Release())

	// After release, the persistent identity is available again.
	inst2, err := Acquire(PersistentID{})
	require.NoError(t, err)
	assert.Equal(t, inst.ID, inst2.ID)
	require.NoError(t, inst2.Release())

	// Ephemeral acquisition never touches the lock; Release is a no-op.
	eph, err := Acquire(EphemeralID{})
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID, eph.ID)
	require.NoError(t, eph.Release())
}
