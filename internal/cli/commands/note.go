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
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	newText   string
	newFolder string
)

var newCmd = &cobra.Command{
	Use:   "new [directory]",
	Short: "Create a note",
	Long: `Create a note in the storage directory. Text comes from --text or from
stdin; each line becomes one block.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNew,
}

var catCmd = &cobra.Command{
	Use:   "cat <directory> <document-id>",
	Short: "Print a note's text",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

var appendCmd = &cobra.Command{
	Use:   "append <directory> <document-id> <text>",
	Short: "Append a line to a note",
	Args:  cobra.ExactArgs(3),
	RunE:  runAppend,
}

func init() {
	newCmd.Flags().StringVar(&newText, "text", "", "note text (default: read stdin)")
	newCmd.Flags().StringVar(&newFolder, "folder", "", "folder ID to file the note under")
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(appendCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	e, err := openEnv(path)
	if err != nil {
		return err
	}
	defer e.close()

	text := newText
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	h, err := e.mgr.Create()
	if err != nil {
		return err
	}
	defer h.Close()

	origin := ""
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		origin, err = h.AppendBlock(origin, line)
		if err != nil {
			return err
		}
	}
	if newFolder != "" {
		if err := h.SetFolder(newFolder); err != nil {
			return err
		}
	}

	fmt.Println(h.DocumentID())
	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	e, err := openEnv(args[0])
	if err != nil {
		return err
	}
	defer e.close()

	h, err := e.mgr.Open(args[1])
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Println(h.Text())
	return nil
}

func runAppend(cmd *cobra.Command, args []string) error {
	e, err := openEnv(args[0])
	if err != nil {
		return err
	}
	defer e.close()

	h, err := e.mgr.Open(args[1])
	if err != nil {
		return err
	}
	defer h.Close()

	origin := ""
	if blocks := h.Blocks(); len(blocks) > 0 {
		origin = blocks[len(blocks)-1].ID
	}
	if _, err := h.AppendBlock(origin, args[2]); err != nil {
		return err
	}
	return nil
}
