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

package commands

import (
	"fmt"
	"path/filepath"

	"notesync/internal/instance"
	"notesync/internal/manager"
	"notesync/internal/readcache"
	"notesync/internal/sd"
)

// env bundles everything a command needs against one storage directory:
// the acquired instance identity, the verified SD, the read cache, and the
// document manager.
type env struct {
	settings *instance.Settings
	inst     *instance.Instance
	sd       *sd.SD
	cache    *readcache.Cache
	mgr      *manager.Manager
}

// openEnv mounts the SD at path. A path seen before is verified against its
// remembered identity; a new path is registered after a successful open.
func openEnv(path string) (*env, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	settings, err := instance.LoadSettings()
	if err != nil {
		return nil, err
	}
	inst, err := instance.Acquire(instance.PersistentID{})
	if err != nil {
		return nil, err
	}

	var rememberedID string
	reg, known := settings.Registered(abs)
	if known {
		rememberedID = reg.ID
	}
	s, err := sd.OpenVerified(abs, rememberedID)
	if err != nil {
		inst.Release()
		return nil, err
	}
	if !known {
		settings.Register(instance.Registration{Path: abs, ID: s.ID, Type: s.Type})
		if err := instance.SaveSettings(settings); err != nil {
			inst.Release()
			return nil, err
		}
	}

	cache, err := readcache.OpenOrCreate(instance.CachePath())
	if err != nil {
		inst.Release()
		return nil, err
	}

	return &env{
		settings: settings,
		inst:     inst,
		sd:       s,
		cache:    cache,
		mgr:      manager.New(s, cache, inst.ID),
	}, nil
}

func (e *env) close() {
	e.mgr.Close()
	e.cache.Close()
	e.inst.Release()
}
