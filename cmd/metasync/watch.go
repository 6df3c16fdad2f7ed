package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/catalogops/metasync/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the staging directory and sync files into the local store",
	Long: `Run the staging watcher daemon.

The daemon performs an initial full sync of staged entity JSON files into
the local store, then watches the staging directory for changes. Edits are
debounced and applied incrementally; a periodic full sync catches missed
events. Deleting a staged file deletes the matching local record.

Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("interval", 5*time.Minute, "full sync interval")
	watchCmd.Flags().Duration("debounce", 200*time.Millisecond, "file change debounce window")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	interval, _ := cmd.Flags().GetDuration("interval")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	daemon, err := watcher.New(st, viper.GetString("staging-dir"), &watcher.Config{
		FullSyncInterval: interval,
		DebounceInterval: debounce,
		Logger:           newLogger("[daemon] "),
	})
	if err != nil {
		return err
	}

	return daemon.Start(rootCtx)
}
