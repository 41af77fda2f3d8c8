package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentic-research/contentsync/internal/ingest"
)

var exportRoot string

func init() {
	exportCmd.Flags().StringVar(&exportRoot, "root", "", "Export only the subtree at this value path, e.g. gym/pool")
	rootCmd.AddCommand(importCmd, exportCmd, snapshotCmd)
}

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Replace the document with the tree described by a directory of CSV files",
	Long: `Reads every .csv file in dir (the configured csv_dir by default) as
category rows. If ` + ingest.AllDataFile + ` is present it is read alone.
Records repeated across files keep their first occurrence.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		dir := a.cfg.CSVDir
		if len(args) == 1 {
			dir = args[0]
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		src := &ingest.CSVSource{FS: a.fs, Dir: abs, Classifier: a.cfg.Classifier()}
		rep, err := a.syncer().Import(cmd.Context(), src, dir)
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), rep)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Flatten the document into one CSV per root plus a combined file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		dir := a.cfg.CSVDir
		if len(args) == 1 {
			dir = args[0]
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}

		doc, err := a.store.Load()
		if err != nil {
			return err
		}
		var batches []ingest.Batch
		if exportRoot != "" {
			b, ok := ingest.SubtreeBatch(doc.Main, exportRoot)
			if !ok {
				return fmt.Errorf("no node at %q", exportRoot)
			}
			batches = []ingest.Batch{b}
		} else {
			batches = ingest.ExportBatches(doc.Main)
		}

		for _, b := range batches {
			p, err := ingest.WriteBatch(a.fs, abs, b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d rows)\n", p, len(b.Rows))
		}
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <out.db>",
	Short: "Copy every source tab into a SQLite snapshot usable with --snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withSource)
		if err != nil {
			return err
		}
		defer a.close()

		batches, err := a.source.Fetch(cmd.Context())
		if err != nil {
			return err
		}
		if err := ingest.WriteSnapshot(cmd.Context(), args[0], batches); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sheets\n", args[0], len(batches))
		return nil
	},
}
