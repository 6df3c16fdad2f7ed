package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/catalogops/metasync/internal/entity"
	"github.com/catalogops/metasync/internal/hierarchy"
	"github.com/catalogops/metasync/internal/store"
	"github.com/catalogops/metasync/internal/view"
)

var statusCmd = &cobra.Command{
	Use:   "status [type]",
	Short: "Show reconciliation status against the remote catalog",
	Long: `Show how local entities compare to the remote catalog.

With no arguments, prints a summary table across all entity types. With a
type argument (tag, glossary_term, glossary_node, domain, test), prints the
reconciled entities of that type with their sync status.

With --local, counts come from the persisted status hints in the local store
and the remote catalog is never contacted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List reconciled entities of one type",
	Long: `List entities of one type after reconciling with the remote catalog.

Each line shows the sync status, local id (- for remote-only entities),
name, and URN. Use --status and --q to narrow the local side.`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

var treeCmd = &cobra.Command{
	Use:   "tree <type>",
	Short: "Show the entity hierarchy of one type",
	Long: `Show entities of one type organized into their parent/child forest.

Glossary terms, glossary nodes, and domains form hierarchies; other types
print as a flat, name-sorted list. Entities whose parent cannot be resolved
are promoted to roots.`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, listCmd, treeCmd} {
		cmd.Flags().Bool("refresh", false, "bypass the view cache")
	}
	statusCmd.Flags().Bool("local", false, "use local status hints only, skip the remote catalog")
	listCmd.Flags().String("status", "", "filter local entities by sync status")
	listCmd.Flags().String("q", "", "filter local entities by name substring")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(treeCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if local, _ := cmd.Flags().GetBool("local"); local {
		return printLocalStatus(cmd, st)
	}

	service := newService(st, newCatalog())
	opts := viewOptions(cmd)

	if len(args) == 1 {
		return printTypeStatus(cmd, service, args[0], opts)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tTOTAL\tSYNCED\tLOCAL-ONLY\tREMOTE-ONLY\tMODIFIED\tSTALE")
	for _, t := range entity.AllTypes {
		v, err := service.ReconciledView(rootCtx, t, opts)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", t, err)
			continue
		}
		stale := ""
		if v.Stale {
			stale = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			t, v.Stats.Total, v.Stats.Synced, v.Stats.LocalOnly,
			v.Stats.RemoteOnly, v.Stats.Modified, stale)
	}
	return w.Flush()
}

// printLocalStatus prints per-type counts from the persisted status hints
// without contacting the remote catalog. Hints can lag reality; the header
// says so.
func printLocalStatus(cmd *cobra.Command, st *store.Store) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tSTATUS\tCOUNT")
	for _, t := range entity.AllTypes {
		counts, err := st.CountByStatus(rootCtx, t)
		if err != nil {
			return err
		}
		for _, status := range []entity.SyncStatus{
			entity.StatusSynced, entity.StatusLocalOnly, entity.StatusModified,
		} {
			if n := counts[string(status)]; n > 0 {
				fmt.Fprintf(w, "%s\t%s\t%d\n", t, status, n)
			}
		}
	}
	return w.Flush()
}

func printTypeStatus(cmd *cobra.Command, service *view.Service, typeArg string, opts view.Options) error {
	t, err := entity.ParseType(typeArg)
	if err != nil {
		return err
	}

	v, err := service.ReconciledView(rootCtx, t, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d total (%d synced, %d local-only, %d remote-only, %d modified)\n",
		t, v.Stats.Total, v.Stats.Synced, v.Stats.LocalOnly, v.Stats.RemoteOnly, v.Stats.Modified)
	if v.Stale {
		fmt.Fprintf(out, "WARNING: showing stale data, remote fetch failed: %s\n", v.FetchError)
	}
	for _, warning := range v.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	for _, pe := range v.ParseErrors {
		fmt.Fprintf(out, "parse error: %s\n", pe)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	t, err := entity.ParseType(args[0])
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	service := newService(st, newCatalog())
	opts := viewOptions(cmd)
	opts.Filter.Status, _ = cmd.Flags().GetString("status")
	opts.Filter.NameContains, _ = cmd.Flags().GetString("q")

	v, err := service.ReconciledView(rootCtx, t, opts)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tID\tNAME\tURN")
	for _, e := range v.Items() {
		id := "-"
		if e.LocalID != 0 {
			id = fmt.Sprintf("%d", e.LocalID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Status, id, e.Name, e.Key())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if v.Stale {
		fmt.Fprintf(os.Stderr, "WARNING: showing stale data, remote fetch failed: %s\n", v.FetchError)
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	t, err := entity.ParseType(args[0])
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	service := newService(st, newCatalog())

	v, roots, err := service.Tree(rootCtx, t, viewOptions(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, root := range roots {
		printNode(out, root, 0)
	}
	if v.Stale {
		fmt.Fprintf(os.Stderr, "WARNING: showing stale data, remote fetch failed: %s\n", v.FetchError)
	}
	return nil
}

func printNode(out io.Writer, n *hierarchy.Node, depth int) {
	fmt.Fprintf(out, "%s%s [%s]\n", strings.Repeat("  ", depth), n.Entity.Name, n.Entity.Status)
	for _, child := range n.Children {
		printNode(out, child, depth+1)
	}
}

func viewOptions(cmd *cobra.Command) view.Options {
	refresh, _ := cmd.Flags().GetBool("refresh")
	return view.Options{ForceRefresh: refresh}
}
