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
	"sort"

	"github.com/spf13/cobra"

	"notesync/internal/crdt"
)

var folderParent string

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage the shared folder tree",
}

var folderListCmd = &cobra.Command{
	Use:   "list <directory>",
	Short: "Print the folder tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runFolderList,
}

var folderCreateCmd = &cobra.Command{
	Use:   "create <directory> <name>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(2),
	RunE:  runFolderCreate,
}

var folderMoveCmd = &cobra.Command{
	Use:   "move <directory> <folder-id> <new-parent-id>",
	Short: "Move a folder (\"\" as parent means the root)",
	Args:  cobra.ExactArgs(3),
	RunE:  runFolderMove,
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete <directory> <folder-id>",
	Short: "Soft-delete a folder",
	Args:  cobra.ExactArgs(2),
	RunE:  runFolderDelete,
}

func init() {
	folderCreateCmd.Flags().StringVar(&folderParent, "parent", "", "parent folder ID")
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderCreateCmd)
	folderCmd.AddCommand(folderMoveCmd)
	folderCmd.AddCommand(folderDeleteCmd)
	rootCmd.AddCommand(folderCmd)
}

func withFolders(path string, fn func(e *env, h folderHandle) error) error {
	e, err := openEnv(path)
	if err != nil {
		return err
	}
	defer e.close()

	h, err := e.mgr.OpenFolders()
	if err != nil {
		return err
	}
	defer h.Close()
	return fn(e, h)
}

// folderHandle is the slice of the manager handle the folder commands use.
type folderHandle interface {
	FolderTree() *crdt.FolderTree
	CreateFolder(name, parent string) (string, error)
	MoveFolder(id, newParent string) error
	DeleteFolder(id string) error
}

func runFolderList(cmd *cobra.Command, args []string) error {
	return withFolders(args[0], func(e *env, h folderHandle) error {
		tree := h.FolderTree()
		printFolderLevel(tree, "", 0)
		return nil
	})
}

func printFolderLevel(tree *crdt.FolderTree, parent string, depth int) {
	var children []*crdt.Folder
	for _, f := range tree.Folders {
		if f.Parent == parent && !f.Deleted {
			children = append(children, f)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	for _, f := range children {
		for i := 0; i < depth; i++ {
			fmt.Print("  ")
		}
		fmt.Printf("%s  %s\n", f.ID, f.Name)
		printFolderLevel(tree, f.ID, depth+1)
	}
}

func runFolderCreate(cmd *cobra.Command, args []string) error {
	return withFolders(args[0], func(e *env, h folderHandle) error {
		id, err := h.CreateFolder(args[1], folderParent)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	})
}

func runFolderMove(cmd *cobra.Command, args []string) error {
	return withFolders(args[0], func(e *env, h folderHandle) error {
		return h.MoveFolder(args[1], args[2])
	})
}

func runFolderDelete(cmd *cobra.Command, args []string) error {
	return withFolders(args[0], func(e *env, h folderHandle) error {
		return h.DeleteFolder(args[1])
	})
}
