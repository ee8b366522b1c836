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

// Package instance manages this process's durable identity and local
// configuration: the instance ID that names every update it publishes, the
// settings file, and the remembered storage directory registrations.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// getConfigDir returns the config directory path.
// Uses NOTESYNC_CONFIG_DIR env var if set, otherwise defaults to ~/.notesync.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("NOTESYNC_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".notesync")
}

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// LockPath returns the identity lock file path.
func LockPath() string {
	return filepath.Join(getConfigDir(), "instance.lock")
}

// IDPath returns the persisted instance ID file path.
func IDPath() string {
	return filepath.Join(getConfigDir(), "instance_id")
}

// CachePath returns the read cache database path.
func CachePath() string {
	return filepath.Join(getConfigDir(), "readcache.db")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// Registration is one remembered storage directory. The ID lets a later
// mount verify it is opening the same SD it joined before, not a folder a
// cloud client swapped underneath the same path.
type Registration struct {
	Path string `yaml:"path"`
	ID   string `yaml:"id"`
	Type string `yaml:"type"`
}

// Settings is the persisted local configuration.
type Settings struct {
	LogLevel      string         `yaml:"log_level"`      // trace, debug, info, warn, off (default: warn)
	DebounceMs    int            `yaml:"debounce_ms"`    // watcher event coalescing window
	RescanSeconds int            `yaml:"rescan_seconds"` // periodic full rescan interval, 0 = default
	StorageDirs   []Registration `yaml:"storage_dirs"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (s *Settings) ApplyDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = "warn"
	}
	if s.DebounceMs <= 0 {
		s.DebounceMs = 500
	}
}

// Registered returns the remembered registration for path, if any.
func (s *Settings) Registered(path string) (Registration, bool) {
	for _, r := range s.StorageDirs {
		if r.Path == path {
			return r, true
		}
	}
	return Registration{}, false
}

// Register remembers a storage directory, replacing any earlier entry for
// the same path.
func (s *Settings) Register(r Registration) {
	for i := range s.StorageDirs {
		if s.StorageDirs[i].Path == r.Path {
			s.StorageDirs[i] = r
			return
		}
	}
	s.StorageDirs = append(s.StorageDirs, r)
}

// LoadSettings loads settings from the config dir, returning defaults when
// the file does not exist.
func LoadSettings() (*Settings, error) {
	var s Settings
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			s.ApplyDefaults()
			return &s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("instance: parse settings: %w", err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// SaveSettings writes settings to the config dir.
func SaveSettings(s *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# notesync settings\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}
