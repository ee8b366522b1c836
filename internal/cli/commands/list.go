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
	"time"

	"github.com/spf13/cobra"

	"notesync/internal/monitor"
	"notesync/internal/readcache"
)

var (
	listFolder  string
	listTrashed bool
	listSearch  string
)

var listCmd = &cobra.Command{
	Use:   "list [directory]",
	Short: "List notes in a storage directory",
	Long: `List notes from the read cache after a discovery pass, newest first with
pinned notes on top.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listFolder, "folder", "", "only notes in this folder ID")
	listCmd.Flags().BoolVar(&listTrashed, "trashed", false, "include trashed notes")
	listCmd.Flags().StringVar(&listSearch, "search", "", "substring match on title and preview")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	e, err := openEnv(path)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	mon := monitor.New(monitor.Config{
		SD:         e.sd,
		Cache:      e.cache,
		InstanceID: e.inst.ID,
	})
	if err := mon.Scan(ctx); err != nil {
		return err
	}

	docs, err := e.mgr.List(ctx, readcache.Filter{
		FolderID:       listFolder,
		IncludeDeleted: listTrashed,
		Search:         listSearch,
	})
	if err != nil {
		return err
	}

	if len(docs) == 0 {
		fmt.Println("No notes.")
		return nil
	}
	for _, d := range docs {
		printNoteRow(d)
	}
	return nil
}

func printNoteRow(d readcache.DocumentModel) {
	flags := ""
	if d.Pinned {
		flags += " [pinned]"
	}
	if d.Deleted {
		flags += " [trashed]"
	}
	title := d.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("%s  %s  %s%s\n",
		d.DocumentID,
		time.UnixMilli(d.Modified).Format("2006-01-02 15:04"),
		title, flags)
}
