package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/agentic-research/contentsync/internal/syncer"
)

func init() {
	syncCmd.AddCommand(syncAllCmd, syncSheetCmd, syncEventsCmd, syncGroupCmd)
	rootCmd.AddCommand(syncCmd, sheetsCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge spreadsheet tabs into the content document",
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Rebuild the whole document from every category tab",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(s *syncer.Syncer) (*syncer.Report, error) {
			return s.SyncAll(cmd.Context())
		})
	},
}

var syncSheetCmd = &cobra.Command{
	Use:   "sheet <title>...",
	Short: "Merge the named tabs, each by its kind",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(s *syncer.Syncer) (*syncer.Report, error) {
			return s.SyncSheets(cmd.Context(), args...)
		})
	},
}

var syncEventsCmd = &cobra.Command{
	Use:   "events <title>",
	Short: "Refresh the events root from an events tab, dropping inactive and expired rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(s *syncer.Syncer) (*syncer.Report, error) {
			return s.SyncEvents(cmd.Context(), args[0])
		})
	},
}

var syncGroupCmd = &cobra.Command{
	Use:   "group <title>...",
	Short: "Build several tabs together and merge only the first resulting root, by its own value",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd, func(s *syncer.Syncer) (*syncer.Report, error) {
			return s.SyncGroup(cmd.Context(), args...)
		})
	},
}

var sheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "List source tabs and the kind each syncs as",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withSource)
		if err != nil {
			return err
		}
		defer a.close()

		names, err := a.source.Sheets(cmd.Context())
		if err != nil {
			return err
		}
		classifier := a.cfg.Classifier()
		type sheet struct {
			Title string `json:"title"`
			Kind  string `json:"kind"`
		}
		out := make([]sheet, 0, len(names))
		for _, n := range names {
			out = append(out, sheet{Title: n, Kind: string(classifier.Classify(n))})
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), out)
		}
		for _, s := range out {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", s.Kind, s.Title)
		}
		return nil
	},
}

func runSync(cmd *cobra.Command, fn func(*syncer.Syncer) (*syncer.Report, error)) error {
	a, err := setup(cmd, withSource)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := fn(a.syncer())
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), rep)
}

func printReport(w io.Writer, rep *syncer.Report) error {
	if jsonOutput {
		return printJSON(w, rep)
	}
	state := "unchanged"
	if rep.Changed {
		state = "written"
	}
	target := rep.Kind
	if rep.Target != "" {
		target += " " + rep.Target
	}
	fmt.Fprintf(w, "%s: %s, %d roots, %d nodes (run %s)\n", target, state, rep.Stats.Roots, rep.Stats.Nodes, rep.RunID)
	if rep.Backup != "" {
		fmt.Fprintf(w, "backup: %s\n", rep.Backup)
	}
	if rep.Filter.Inactive+rep.Filter.Expired > 0 {
		fmt.Fprintf(w, "events: %d kept, %d inactive, %d expired\n", rep.Filter.Kept, rep.Filter.Inactive, rep.Filter.Expired)
	}
	for _, f := range rep.Files {
		fmt.Fprintf(w, "wrote %s\n", f)
	}
	for _, s := range rep.Skipped {
		fmt.Fprintf(w, "skipped %s\n", s)
	}
	for _, d := range rep.Diagnostics {
		fmt.Fprintln(w, d.String())
	}
	return nil
}
