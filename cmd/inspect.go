package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	contentfs "github.com/agentic-research/contentsync/internal/fs"
	"github.com/agentic-research/contentsync/internal/graph"
	"github.com/agentic-research/contentsync/internal/inspect"
	"github.com/agentic-research/contentsync/internal/nfsmount"
)

var (
	statsPath string
	missingIn string
	mountFUSE bool
)

func init() {
	inspectStatsCmd.Flags().StringVar(&statsPath, "path", "", "Measure only the subtree at this value path")
	inspectMissingCmd.Flags().StringVar(&missingIn, "path", "", "Search only the subtree at this value path")
	inspectMountCmd.Flags().BoolVar(&mountFUSE, "fuse", false, "Mount with FUSE instead of NFS")
	inspectCmd.AddCommand(inspectQueryCmd, inspectStatsCmd, inspectMissingCmd, inspectMountCmd)
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Read-only views of the current content document",
}

var inspectQueryCmd = &cobra.Command{
	Use:   "query <jsonpath>",
	Short: "Evaluate a JSONPath expression against the document",
	Example: `  contentsync inspect query '$.main[*].label'
  contentsync inspect query '$..children[?(@.price)].value'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		doc, err := a.store.Load()
		if err != nil {
			return err
		}
		results, err := inspect.Query(doc, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), inspect.Format(results))
		return nil
	},
}

var inspectStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count roots, nodes, leaves, depth and field coverage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		doc, err := a.store.Load()
		if err != nil {
			return err
		}
		rep, err := inspect.Inspect(doc, statsPath)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "roots %d, nodes %d, leaves %d, max depth %d\n", rep.Roots, rep.Nodes, rep.Leaves, rep.MaxDepth)
		for _, field := range graph.FieldOrder {
			if n, ok := rep.Coverage[field]; ok {
				fmt.Fprintf(w, "  %-10s %d/%d\n", field, n, rep.Nodes)
			}
		}
		return nil
	},
}

var inspectMissingCmd = &cobra.Command{
	Use:   "missing <field>",
	Short: "List nodes that lack a display field, e.g. desc or image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		doc, err := a.store.Load()
		if err != nil {
			return err
		}
		paths, err := inspect.Missing(doc, args[0], missingIn)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), paths)
		}
		for _, p := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var inspectMountCmd = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount the document read-only as a directory tree until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withoutSource)
		if err != nil {
			return err
		}
		defer a.close()

		_, stop, err := mountLive(cmd.Context(), a, args[0], mountFUSE)
		if err != nil {
			return err
		}
		defer stop()
		fmt.Fprintf(cmd.OutOrStdout(), "mounted at %s, interrupt to unmount\n", args[0])
		<-cmd.Context().Done()
		return nil
	},
}

// mountLive projects the stored document and serves it at mountpoint.
// Later commits are published through the returned projection; stop
// unmounts.
func mountLive(ctx context.Context, a *app, mountpoint string, useFUSE bool) (*graph.Live, func(), error) {
	doc, err := a.store.Load()
	if err != nil {
		return nil, nil, err
	}
	live, err := graph.NewLive(doc, time.Now())
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create mountpoint: %w", err)
	}

	if useFUSE {
		host := contentfs.NewHost(contentfs.NewContentFS(live))
		errCh := make(chan error, 1)
		go func() { errCh <- host.Mount(mountpoint) }()
		select {
		case err := <-errCh:
			if err == nil {
				err = errors.New("fuse mount exited immediately")
			}
			return nil, nil, err
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			host.Unmount()
			return nil, nil, ctx.Err()
		}
		a.logger.Info("mounted", zap.String("mountpoint", mountpoint), zap.String("backend", "fuse"))
		return live, func() { host.Unmount() }, nil
	}

	srv, err := nfsmount.Serve(live)
	if err != nil {
		return nil, nil, err
	}
	if err := srv.Mount(mountpoint); err != nil {
		_ = srv.Close()
		return nil, nil, err
	}
	a.logger.Info("mounted", zap.String("mountpoint", mountpoint), zap.String("backend", "nfs"), zap.Int("port", srv.Port()))
	return live, func() {
		if err := srv.Close(); err != nil {
			a.logger.Warn("unmount", zap.Error(err))
		}
	}, nil
}
