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

	"notesync/internal/activity"
)

var infoCmd = &cobra.Command{
	Use:   "info [directory]",
	Short: "Show storage directory identity and peers",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	e, err := openEnv(path)
	if err != nil {
		return err
	}
	defer e.close()

	docs, err := e.sd.ListDocuments()
	if err != nil {
		return err
	}
	instances, err := activity.Instances(e.sd.ActivityDir())
	if err != nil {
		return err
	}

	fmt.Printf("Storage directory: %s\n", e.sd.Root)
	fmt.Printf("  ID:        %s\n", e.sd.ID)
	fmt.Printf("  Type:      %s\n", e.sd.Type)
	fmt.Printf("  Documents: %d\n", len(docs))
	fmt.Printf("This instance: %s\n", e.inst.ID)
	fmt.Printf("Known instances:\n")
	for _, id := range instances {
		marker := ""
		if id == e.inst.ID {
			marker = " (this instance)"
		}
		fmt.Printf("  %s%s\n", id, marker)
	}
	if len(instances) == 0 {
		fmt.Printf("  (none yet)\n")
	}
	return nil
}
