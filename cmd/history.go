package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/spf13/cobra"

	"github.com/agentic-research/contentsync/internal/extras"
)

var (
	runsLimit   int
	runsShow    string
	bustVersion int64
	bustDryRun  bool
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to list")
	runsCmd.Flags().StringVar(&runsShow, "run", "", "Print the diagnostics of one run")
	bustCacheCmd.Flags().Int64Var(&bustVersion, "stamp", 0, "Version stamp (default: current Unix time)")
	bustCacheCmd.Flags().BoolVar(&bustDryRun, "dry-run", false, "Report what would change without writing")
	rootCmd.AddCommand(backupsCmd, restoreCmd, runsCmd, bustCacheCmd)
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backups of the content document, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		backups, err := a.store.Backups()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), backups)
		}
		for _, b := range backups {
			fmt.Fprintln(cmd.OutOrStdout(), b)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup>",
	Short: "Make a backup the current document (the current one is backed up first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		backup := args[0]
		if !strings.ContainsRune(backup, filepath.Separator) {
			backup = filepath.Join(filepath.Dir(a.store.Path()), backup)
		}
		if backup, err = filepath.Abs(backup); err != nil {
			return err
		}
		rep, err := a.syncer().Restore(cmd.Context(), backup)
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), rep)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled sync runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()
		if a.journal == nil {
			return errors.New("no journal configured (journal.path or CONTENTSYNC_JOURNAL)")
		}

		w := cmd.OutOrStdout()
		if runsShow != "" {
			diags, err := a.journal.Diagnostics(cmd.Context(), runsShow)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(w, diags)
			}
			for _, d := range diags {
				fmt.Fprintln(w, d.String())
			}
			return nil
		}

		runs, err := a.journal.Recent(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(w, runs)
		}
		for _, r := range runs {
			status := "ok"
			switch {
			case r.Err != "":
				status = "error: " + r.Err
			case !r.Changed:
				status = "unchanged"
			}
			fmt.Fprintf(w, "%s  %s  %-7s %-20s %4d nodes  %s\n",
				r.StartedAt.Local().Format(time.DateTime), r.ID, r.Kind, r.Target, r.Nodes, status)
		}
		return nil
	},
}

var bustCacheCmd = &cobra.Command{
	Use:   "bust-cache <page.html>...",
	Short: "Stamp ?v=<version> onto the configured asset references of each page",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		version := bustVersion
		if version == 0 {
			version = time.Now().Unix()
		}
		for _, page := range args {
			p, err := filepath.Abs(page)
			if err != nil {
				return err
			}
			data, err := util.ReadFile(a.fs, p)
			if err != nil {
				return fmt.Errorf("read %s: %w", page, err)
			}
			out, n := extras.BustCache(data, a.cfg.Assets, version)
			if n > 0 && !bustDryRun {
				if err := util.WriteFile(a.fs, p, out, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", page, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d references stamped v=%d\n", page, n, version)
		}
		return nil
	},
}
