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

var compactAll bool

var compactCmd = &cobra.Command{
	Use:   "compact <directory> [document-id]",
	Short: "Fold acknowledged update entries into base entries",
	Long: `Fold a document's fully-acknowledged update entries into one synthetic
base entry. Only entries every known instance has incorporated are folded,
so no replica can lose an update it has not seen yet.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().BoolVar(&compactAll, "all", false, "compact every document")
	rootCmd.AddCommand(compactCmd)
}

func runCompact(cmd *cobra.Command, args []string) error {
	e, err := openEnv(args[0])
	if err != nil {
		return err
	}
	defer e.close()

	var targets []string
	switch {
	case compactAll:
		docs, err := e.sd.ListDocuments()
		if err != nil {
			return err
		}
		targets = append(docs, e.sd.FolderDocumentID())
	case len(args) == 2:
		targets = []string{args[1]}
	default:
		return fmt.Errorf("specify a document ID or --all")
	}

	for _, docID := range targets {
		res, err := e.mgr.Compact(docID)
		if err != nil {
			return fmt.Errorf("compact %s: %w", docID, err)
		}
		if res.Folded > 0 {
			fmt.Printf("%s: folded %d entries into %s\n", docID, res.Folded, res.BaseName)
		} else {
			fmt.Printf("%s: nothing to fold\n", docID)
		}
	}
	return nil
}
