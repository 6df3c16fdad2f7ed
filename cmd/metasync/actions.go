package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/catalogops/metasync/internal/actions"
	"github.com/catalogops/metasync/internal/entity"
)

var deployCmd = &cobra.Command{
	Use:   "deploy <type> <id>...",
	Short: "Deploy local entities to the remote catalog",
	Long: `Push local-only or modified entities to the remote catalog.

Each id is a local entity id. Deployed entities are verified by re-fetching
them from the catalog and end up SYNCED. Entities already in sync are
rejected per item; the rest of the batch still runs.`,
	Args: cobra.MinimumNArgs(2),
	RunE: makeBatchRun(actions.ActionDeploy),
}

var pullCmd = &cobra.Command{
	Use:   "pull <type> <urn>...",
	Short: "Pull remote entities into the local store",
	Long: `Create or update local records from remote catalog entities.

Each argument is a remote URN. Pulled entities are stored SYNCED; an
existing local record with the same URN is merged, remote display fields
winning.`,
	Args: cobra.MinimumNArgs(2),
	RunE: makeBatchRun(actions.ActionPull),
}

var resyncCmd = &cobra.Command{
	Use:   "resync <type> <id>...",
	Short: "Discard local edits and re-pull from the remote catalog",
	Long: `Re-pull previously synced entities, discarding local edits.

Each id is a local entity id. Only entities that have been synced before
can be resynced; local-only entities are rejected per item.`,
	Args: cobra.MinimumNArgs(2),
	RunE: makeBatchRun(actions.ActionResync),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <type> <id>...",
	Short: "Delete entities from the local store only",
	Long: `Delete local records. The remote catalog is never touched: a synced
entity reappears as REMOTE_ONLY on the next reconciliation.

Deleting an id that does not exist is a no-op, not an error.`,
	Args: cobra.MinimumNArgs(2),
	RunE: makeBatchRun(actions.ActionDeleteLocal),
}

var stageCmd = &cobra.Command{
	Use:   "stage <type> <id>...",
	Short: "Stage entity JSON files into the git working tree",
	Long: `Write each entity's JSON representation into the staging directory
and add it to the git index for review.

Requires the staging directory to live inside a git repository.`,
	Args: cobra.MinimumNArgs(2),
	RunE: makeBatchRun(actions.ActionStage),
}

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(resyncCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(stageCmd)
}

// makeBatchRun builds the RunE for one batch action command. All action
// commands share the same shape: parse the type, dispatch the batch, print
// per-item outcomes, and fail only if every item failed.
func makeBatchRun(action actions.Action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		t, err := entity.ParseType(args[0])
		if err != nil {
			return err
		}
		ids := args[1:]

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		dispatcher := newDispatcher(st, newCatalog())
		outcomes := dispatcher.Batch(rootCtx, action, t, ids)

		succeeded := 0
		for _, o := range outcomes {
			if o.OK {
				succeeded++
				fmt.Fprintf(cmd.OutOrStdout(), "ok    %s\n", o.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "fail  %s: %s\n", o.ID, o.Err)
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d succeeded, %d failed\n",
			action, succeeded, len(outcomes)-succeeded)

		if succeeded == 0 && len(outcomes) > 0 {
			return fmt.Errorf("all %d items failed", len(outcomes))
		}
		return nil
	}
}
