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

	"github.com/spf13/cobra"

	"notesync/internal/instance"
	"notesync/internal/sd"
)

var initType string

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a storage directory",
	Long: `Initialize a new storage directory at the given path (or the current
directory) and register it with this instance.

The directory gets its identity files and layout. Point it at a folder your
cloud sync client mirrors; other devices open the same folder instead of
initializing it again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initType, "type", sd.TypeLocal, "storage type: local, icloud, drive")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	abs, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	s, err := sd.Create(abs, initType)
	if err != nil {
		return err
	}

	settings, err := instance.LoadSettings()
	if err != nil {
		return err
	}
	settings.Register(instance.Registration{Path: abs, ID: s.ID, Type: s.Type})
	if err := instance.SaveSettings(settings); err != nil {
		return err
	}

	fmt.Printf("Initialized storage directory %s in %s\n", s.ID, abs)
	return nil
}
