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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"notesync/internal/materialize"
	"notesync/internal/monitor"
)

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Watch a storage directory and sync continuously",
	Long: `Run the sync monitor in the foreground: watch the storage directory for
updates from other instances, merge them as they arrive, and keep the read
cache current. Stops on SIGINT or SIGTERM.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	e, err := openEnv(path)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := e.mgr.Notifier().Subscribe()
	defer e.mgr.Notifier().Unsubscribe(events)
	go func() {
		for ev := range events {
			fmt.Printf("%s  %s  %s\n", time.Now().Format("15:04:05"), ev.Origin, ev.DocumentID)
		}
	}()

	mon := monitor.New(monitor.Config{
		SD:          e.sd,
		Cache:       e.cache,
		InstanceID:  e.inst.ID,
		Debounce:    time.Duration(e.settings.DebounceMs) * time.Millisecond,
		RescanEvery: time.Duration(e.settings.RescanSeconds) * time.Second,
		OnChange: func(documentID string, st *materialize.State) {
			e.mgr.MergeRemote(documentID, st)
		},
	})

	fmt.Printf("Watching %s as instance %s\n", e.sd.Root, e.inst.ID)
	return mon.Run(ctx)
}
