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

	"github.com/spf13/cobra"
)

var (
	trashRestore bool
	trashPurge   bool
)

var trashCmd = &cobra.Command{
	Use:   "trash <directory> <document-id>",
	Short: "Trash, restore, or purge a note",
	Long: `Soft-delete a note (default), restore it from the trash (--restore), or
permanently remove its update logs (--purge).

Trashing is an ordinary synchronized edit and reaches every instance; purge
is local hard deletion of log files and is the only operation that destroys
history.`,
	Args: cobra.ExactArgs(2),
	RunE: runTrash,
}

func init() {
	trashCmd.Flags().BoolVar(&trashRestore, "restore", false, "restore the note from the trash")
	trashCmd.Flags().BoolVar(&trashPurge, "purge", false, "permanently delete the note's update logs")
	rootCmd.AddCommand(trashCmd)
}

func runTrash(cmd *cobra.Command, args []string) error {
	if trashRestore && trashPurge {
		return fmt.Errorf("--restore and --purge are mutually exclusive")
	}
	e, err := openEnv(args[0])
	if err != nil {
		return err
	}
	defer e.close()

	docID := args[1]
	if trashPurge {
		if err := e.mgr.Purge(cmd.Context(), docID); err != nil {
			return err
		}
		fmt.Printf("Purged %s\n", docID)
		return nil
	}

	h, err := e.mgr.Open(docID)
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.SetTrashed(!trashRestore); err != nil {
		return err
	}
	if trashRestore {
		fmt.Printf("Restored %s\n", docID)
	} else {
		fmt.Printf("Trashed %s\n", docID)
	}
	return nil
}
