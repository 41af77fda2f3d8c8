package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/mcpserver"
	"github.com/agentic-research/contentsync/internal/server"
	"github.com/agentic-research/contentsync/internal/syncer"
)

var (
	serveAddr  string
	serveMount string
	serveFUSE  bool
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides http.addr)")
	serveCmd.Flags().StringVar(&serveMount, "mount", "", "Also mount the live document read-only at this path")
	serveCmd.Flags().BoolVar(&serveFUSE, "fuse", false, "Mount with FUSE instead of NFS")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync HTTP API used by the admin page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withSource)
		if err != nil {
			return err
		}
		defer a.close()

		var opts []syncer.Option
		if serveMount != "" {
			live, stop, err := mountLive(cmd.Context(), a, serveMount, serveFUSE)
			if err != nil {
				return err
			}
			defer stop()
			opts = append(opts, syncer.WithCommitHook(func(doc *api.Document) {
				if err := live.Publish(doc, time.Now()); err != nil {
					a.logger.Warn("refresh mount", zap.Error(err))
					return
				}
				a.logger.Debug("mount refreshed", zap.Uint64("generation", live.Generation()))
			}))
		}

		var runs server.RunLog
		if a.journal != nil {
			runs = a.journal
		}
		addr := a.cfg.HTTPAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := server.New(a.syncer(opts...), runs, server.Config{
			Token:      a.cfg.HTTPToken,
			CORSOrigin: a.cfg.CORSOrigin,
		}, a.logger)
		return srv.ListenAndServe(cmd.Context(), addr)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve sync and inspection tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, withSource)
		if err != nil {
			return err
		}
		defer a.close()

		tools := mcpserver.NewTools(a.syncer(), a.store, a.cfg.Classifier())
		return tools.ServeStdio(server.Version)
	},
}
