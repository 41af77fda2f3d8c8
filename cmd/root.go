package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/contentsync/internal/config"
	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/journal"
	"github.com/agentic-research/contentsync/internal/logging"
	"github.com/agentic-research/contentsync/internal/reconcile"
	"github.com/agentic-research/contentsync/internal/server"
	"github.com/agentic-research/contentsync/internal/store"
	"github.com/agentic-research/contentsync/internal/syncer"
)

var (
	configPath   string
	csvSource    string
	snapshotPath string
	documentPath string
	jsonOutput   bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to contentsync.hcl (default ./contentsync.hcl if present)")
	pf.StringVar(&csvSource, "csv", "", "Read sheets from a directory of CSV exports instead of the spreadsheet")
	pf.StringVar(&snapshotPath, "snapshot", "", "Read sheets from a SQLite snapshot instead of the spreadsheet")
	pf.StringVarP(&documentPath, "document", "d", "", "Path to the content document (overrides config)")
	pf.BoolVar(&jsonOutput, "json", false, "Print reports as JSON")
	rootCmd.Version = server.Version
}

var rootCmd = &cobra.Command{
	Use:           "contentsync",
	Short:         "Sync spreadsheet content into the site's content document",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything a command may need, built from configuration.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	fs      billy.Filesystem
	store   *store.Store
	journal *journal.Journal
	source  ingest.Source
	locker  store.Locker
	closers []func() error
}

type setupMode int

const (
	withoutSource setupMode = iota
	withSource
)

func setup(cmd *cobra.Command, mode setupMode) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if documentPath != "" {
		cfg.Document = documentPath
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, fs: osfs.New("/")}
	a.closers = append(a.closers, func() error { _ = logger.Sync(); return nil })
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	docPath, err := filepath.Abs(cfg.Document)
	if err != nil {
		return nil, err
	}
	var storeOpts []store.Option
	storeOpts = append(storeOpts, store.WithLogger(logger))
	if cfg.Mirror != nil {
		m, err := store.NewBucketMirror(cmd.Context(), *cfg.Mirror)
		if err != nil {
			return nil, err
		}
		storeOpts = append(storeOpts, store.WithMirror(m))
	}
	a.store = store.New(a.fs, docPath, storeOpts...)

	if cfg.RedisURL != "" {
		l, err := store.NewRedisLock(cfg.RedisURL, cfg.LockKey, cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		a.locker = l
		a.closers = append(a.closers, l.Close)
	} else {
		a.locker = store.NewFileLock(docPath)
	}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		a.journal = j
		a.closers = append(a.closers, j.Close)
	}

	if mode == withSource {
		if a.source, err = a.openSource(cmd.Context()); err != nil {
			return nil, err
		}
	}
	ok = true
	return a, nil
}

func (a *app) openSource(ctx context.Context) (ingest.Source, error) {
	classifier := a.cfg.Classifier()
	switch {
	case csvSource != "":
		dir, err := filepath.Abs(csvSource)
		if err != nil {
			return nil, err
		}
		return &ingest.CSVSource{FS: a.fs, Dir: dir, Classifier: classifier}, nil
	case snapshotPath != "":
		return &ingest.SQLiteSource{Path: snapshotPath, Classifier: classifier}, nil
	case a.cfg.SpreadsheetID != "":
		sheetsAPI, err := ingest.NewSheetsAPI(ctx, a.cfg.Credentials)
		if err != nil {
			return nil, err
		}
		return &ingest.SheetsSource{
			API:           sheetsAPI,
			SpreadsheetID: a.cfg.SpreadsheetID,
			Classifier:    classifier,
			Logger:        a.logger,
			Concurrency:   a.cfg.Concurrency,
		}, nil
	default:
		return nil, errors.New("no source: set spreadsheet.id in the config or pass --csv/--snapshot")
	}
}

func (a *app) syncer(extra ...syncer.Option) *syncer.Syncer {
	owner, _ := os.Hostname()
	opts := []syncer.Option{
		syncer.WithLogger(a.logger),
		syncer.WithOptions(reconcile.Options{Build: a.cfg.Build, EventsKey: a.cfg.EventsKey}),
		syncer.WithOwner(fmt.Sprintf("%s:%d", owner, os.Getpid())),
		syncer.WithExtras(a.fs, absOrEmpty(a.cfg.SettingsOut), absOrEmpty(a.cfg.SlidesOut)),
	}
	if a.journal != nil {
		opts = append(opts, syncer.WithJournal(a.journal))
	}
	return syncer.New(a.source, a.store, a.locker, append(opts, extra...)...)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func absOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
