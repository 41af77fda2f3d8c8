// Package syncer runs one synchronization end to end: fetch batches, take
// the document lock, load, reconcile, lint, commit, and journal the run.
package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/extras"
	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/journal"
	"github.com/agentic-research/contentsync/internal/lint"
	"github.com/agentic-research/contentsync/internal/reconcile"
	"github.com/agentic-research/contentsync/internal/store"
	"github.com/agentic-research/contentsync/internal/tree"
)

// Run kinds recorded in the journal.
const (
	KindAll     = "all"
	KindSheets  = "sheets"
	KindEvents  = "events"
	KindGroup   = "group"
	KindImport  = "import"
	KindRestore = "restore"
)

// ErrNoSuchSheet is returned when a requested tab is not in the source.
var ErrNoSuchSheet = errors.New("no such sheet")

// Report is the outcome of one run.
type Report struct {
	RunID       string             `json:"run_id"`
	Kind        string             `json:"kind"`
	Target      string             `json:"target,omitempty"`
	Changed     bool               `json:"changed"`
	Backup      string             `json:"backup,omitempty"`
	Stats       tree.Stats         `json:"stats"`
	Rows        int                `json:"rows"`
	Filter      ingest.FilterStats `json:"filter"`
	Files       []string           `json:"files,omitempty"`
	Skipped     []string           `json:"skipped,omitempty"`
	Diagnostics tree.Diagnostics   `json:"diagnostics"`
	Duration    time.Duration      `json:"duration_ns"`
}

// Syncer wires a source to a store.
type Syncer struct {
	source  ingest.Source
	store   *store.Store
	locker  store.Locker
	journal *journal.Journal
	opts    reconcile.Options
	logger  *zap.Logger
	owner   string

	extrasFS    billy.Filesystem
	settingsOut string
	slidesOut   string

	onCommit func(*api.Document)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithJournal records every run in j.
func WithJournal(j *journal.Journal) Option { return func(s *Syncer) { s.journal = j } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Syncer) { s.logger = l } }

// WithOptions sets the reconcile options.
func WithOptions(o reconcile.Options) Option { return func(s *Syncer) { s.opts = o } }

// WithOwner names this process in lock holder strings.
func WithOwner(owner string) Option { return func(s *Syncer) { s.owner = owner } }

// WithExtras writes settings and slides tabs to the given paths on fs.
// An empty path disables that file.
func WithExtras(fs billy.Filesystem, settingsOut, slidesOut string) Option {
	return func(s *Syncer) {
		s.extrasFS, s.settingsOut, s.slidesOut = fs, settingsOut, slidesOut
	}
}

// WithCommitHook calls fn with every document written.
func WithCommitHook(fn func(*api.Document)) Option { return func(s *Syncer) { s.onCommit = fn } }

// New returns a Syncer. source may be nil for a syncer that only imports
// or restores.
func New(source ingest.Source, st *store.Store, locker store.Locker, opts ...Option) *Syncer {
	s := &Syncer{
		source: source,
		store:  st,
		locker: locker,
		opts:   reconcile.DefaultOptions(),
		logger: zap.NewNop(),
		owner:  "contentsync",
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the document store.
func (s *Syncer) Store() *store.Store { return s.store }

// Sheets lists the source tabs in source order.
func (s *Syncer) Sheets(ctx context.Context) ([]string, error) {
	if s.source == nil {
		return nil, errors.New("no source configured")
	}
	return s.source.Sheets(ctx)
}

// applyFunc reconciles fetched batches against the loaded tree.
type applyFunc func(existing []api.Node, batches []ingest.Batch, rep *Report) reconcile.Result

// SyncAll rebuilds the document from every category tab and, once the
// document is safely stored, writes the settings and slides tabs to their
// side files.
func (s *Syncer) SyncAll(ctx context.Context) (*Report, error) {
	return s.run(ctx, KindAll, "", s.fetch, func(existing []api.Node, batches []ingest.Batch, _ *Report) reconcile.Result {
		return reconcile.SyncAll(s.opts, existing, batches)
	}, withSideFiles)
}

// SyncSheets merges each named tab by its kind: category tabs replace their
// top-level node, events tabs replace the events node, settings and slides
// tabs go to side files once the document is stored. The document is
// written once.
func (s *Syncer) SyncSheets(ctx context.Context, titles ...string) (*Report, error) {
	if len(titles) == 0 {
		return nil, errors.New("no sheets named")
	}
	return s.run(ctx, KindSheets, joinTitles(titles), s.fetch, func(existing []api.Node, batches []ingest.Batch, rep *Report) reconcile.Result {
		out := reconcile.Result{Tree: existing}
		for _, b := range batches {
			switch b.Kind {
			case ingest.KindSettings, ingest.KindSlides:
				continue
			}
			res, ok := reconcile.Dispatch(s.opts, out.Tree, b)
			if !ok {
				rep.Skipped = append(rep.Skipped, b.Name)
				s.logger.Warn("sheet kind does not feed the document", zap.String("sheet", b.Name), zap.String("kind", string(b.Kind)))
				continue
			}
			out.Tree = res.Tree
			out.Changed = out.Changed || res.Changed
			out.Rows += res.Rows
			out.Built = append(out.Built, res.Built...)
			out.Filter.Kept += res.Filter.Kept
			out.Filter.Inactive += res.Filter.Inactive
			out.Filter.Expired += res.Filter.Expired
			out.Diagnostics.Extend(res.Diagnostics)
		}
		return out
	}, withSideFiles, titles...)
}

// SyncEvents merges one tab through the event filter whatever its kind.
func (s *Syncer) SyncEvents(ctx context.Context, title string) (*Report, error) {
	return s.run(ctx, KindEvents, title, s.fetch, func(existing []api.Node, batches []ingest.Batch, _ *Report) reconcile.Result {
		return reconcile.MergeEvents(s.opts, existing, batches[0])
	}, documentOnly, title)
}

// SyncGroup builds several tabs as one and merges only the first root.
func (s *Syncer) SyncGroup(ctx context.Context, titles ...string) (*Report, error) {
	if len(titles) == 0 {
		return nil, errors.New("no sheets named")
	}
	return s.run(ctx, KindGroup, joinTitles(titles), s.fetch, func(existing []api.Node, batches []ingest.Batch, _ *Report) reconcile.Result {
		return reconcile.MergeCategoryGroup(s.opts, existing, batches)
	}, documentOnly, titles...)
}

// Import rebuilds the whole document from exported files read from src.
func (s *Syncer) Import(ctx context.Context, src ingest.Source, target string) (*Report, error) {
	fetch := func(ctx context.Context, _ ...string) ([]ingest.Batch, error) { return src.Fetch(ctx) }
	return s.run(ctx, KindImport, target, fetch, func(existing []api.Node, batches []ingest.Batch, _ *Report) reconcile.Result {
		return reconcile.Import(s.opts, existing, batches)
	}, documentOnly)
}

// Restore makes a backup the current document.
func (s *Syncer) Restore(ctx context.Context, backup string) (*Report, error) {
	rep := s.newReport(KindRestore, backup)
	start := time.Now()

	err := s.locked(ctx, rep, func() error {
		info, err := s.store.Restore(ctx, backup)
		if err != nil {
			return err
		}
		rep.Changed = true
		rep.Backup = info.Backup
		doc, err := s.store.Load()
		if err != nil {
			return err
		}
		rep.Stats = tree.Measure(doc.Main)
		s.committed(doc)
		return nil
	})
	return s.finish(ctx, rep, start, err)
}

func (s *Syncer) fetch(ctx context.Context, titles ...string) ([]ingest.Batch, error) {
	if s.source == nil {
		return nil, errors.New("no source configured")
	}
	if len(titles) > 0 {
		known, err := s.source.Sheets(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sheets: %w", err)
		}
		for _, t := range titles {
			if !listed(known, t) {
				return nil, fmt.Errorf("%w: %q", ErrNoSuchSheet, t)
			}
		}
	}
	return s.source.Fetch(ctx, titles...)
}

// sideFiles says whether a run writes settings and slides batches after the
// document is stored.
type sideFiles bool

const (
	withSideFiles sideFiles = true
	documentOnly  sideFiles = false
)

func (s *Syncer) run(ctx context.Context, kind, target string,
	fetch func(context.Context, ...string) ([]ingest.Batch, error), apply applyFunc, side sideFiles, titles ...string,
) (*Report, error) {
	rep := s.newReport(kind, target)
	start := time.Now()

	batches, err := fetch(ctx, titles...)
	if err != nil {
		return s.finish(ctx, rep, start, fmt.Errorf("fetch: %w", err))
	}
	s.logger.Debug("fetched batches", zap.String("run_id", rep.RunID), zap.Int("batches", len(batches)))

	err = s.locked(ctx, rep, func() error {
		if err := s.reconcile(ctx, batches, apply, rep); err != nil {
			return err
		}
		if side {
			s.writeExtras(batches, rep)
		}
		return nil
	})
	return s.finish(ctx, rep, start, err)
}

// reconcile loads the document, applies the batches and commits the result
// when it differs from what is stored.
func (s *Syncer) reconcile(ctx context.Context, batches []ingest.Batch, apply applyFunc, rep *Report) error {
	doc, err := s.store.Load()
	if err != nil {
		return err
	}

	res := apply(doc.Main, batches, rep)
	res.Diagnostics.Extend(lint.Records(res.Built))

	rep.Changed = res.Changed
	rep.Rows = res.Rows
	rep.Filter = res.Filter
	rep.Diagnostics = res.Diagnostics
	rep.Stats = tree.Measure(res.Tree)
	if !res.Changed {
		return nil
	}

	next := &api.Document{Main: res.Tree}
	if same(doc, next) {
		s.logger.Debug("content unchanged, not writing", zap.String("run_id", rep.RunID))
		rep.Changed = false
		return nil
	}
	info, err := s.store.Commit(ctx, next)
	if err != nil {
		return err
	}
	rep.Backup = info.Backup
	s.committed(next)
	return nil
}

func (s *Syncer) locked(ctx context.Context, rep *Report, fn func() error) error {
	held, err := s.locker.Lock(ctx, s.owner+":"+rep.RunID)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release lock", zap.String("run_id", rep.RunID), zap.Error(err))
		}
	}()
	return fn()
}

func (s *Syncer) newReport(kind, target string) *Report {
	return &Report{RunID: uuid.NewString(), Kind: kind, Target: target, Diagnostics: tree.Diagnostics{}}
}

func (s *Syncer) finish(ctx context.Context, rep *Report, start time.Time, runErr error) (*Report, error) {
	end := time.Now()
	rep.Duration = end.Sub(start)

	if s.journal != nil {
		run := journal.Run{
			ID: rep.RunID, Kind: rep.Kind, Target: rep.Target,
			StartedAt: start, FinishedAt: end,
			Changed: rep.Changed, Roots: rep.Stats.Roots, Nodes: rep.Stats.Nodes,
			Backup: rep.Backup, Diagnostics: rep.Diagnostics,
		}
		if runErr != nil {
			run.Err = runErr.Error()
		}
		if err := s.journal.Record(context.WithoutCancel(ctx), run); err != nil {
			s.logger.Warn("journal run", zap.String("run_id", rep.RunID), zap.Error(err))
		}
	}

	if runErr != nil {
		s.logger.Error("sync failed", zap.String("run_id", rep.RunID), zap.String("kind", rep.Kind), zap.Error(runErr))
		return rep, runErr
	}
	fields := []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.String("kind", rep.Kind),
		zap.Bool("changed", rep.Changed),
		zap.Int("roots", rep.Stats.Roots),
		zap.Int("nodes", rep.Stats.Nodes),
		zap.Duration("took", rep.Duration),
	}
	if rep.Target != "" {
		fields = append(fields, zap.String("target", rep.Target))
	}
	if rep.Backup != "" {
		fields = append(fields, zap.String("backup", rep.Backup))
	}
	for code, n := range rep.Diagnostics.Summary() {
		fields = append(fields, zap.Int(string(code), n))
	}
	s.logger.Info("sync finished", fields...)
	return rep, nil
}

func (s *Syncer) committed(doc *api.Document) {
	if s.onCommit != nil {
		s.onCommit(doc)
	}
}

// writeExtras writes settings and slides batches to their side files.
// Failures are logged and recorded as skipped; they never fail the run.
func (s *Syncer) writeExtras(batches []ingest.Batch, rep *Report) {
	if s.extrasFS == nil {
		return
	}
	for _, b := range batches {
		var (
			out string
			v   any
			err error
		)
		switch b.Kind {
		case ingest.KindSettings:
			out = s.settingsOut
			v, err = extras.Settings(b)
		case ingest.KindSlides:
			out = s.slidesOut
			slides, skipped := extras.Slides(b)
			s.logger.Debug("slides filtered", zap.Int("kept", len(slides)), zap.Int("inactive", skipped))
			v = slides
		default:
			continue
		}
		if out == "" {
			continue
		}
		if err == nil {
			err = extras.WriteJSON(s.extrasFS, out, v)
		}
		if err != nil {
			s.logger.Warn("side file not written", zap.String("sheet", b.Name), zap.String("file", out), zap.Error(err))
			rep.Skipped = append(rep.Skipped, b.Name)
			continue
		}
		rep.Files = append(rep.Files, out)
	}
}

// same reports whether both documents serialize identically.
func same(a, b *api.Document) bool {
	ab, err := api.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := api.Marshal(b)
	return err == nil && bytes.Equal(ab, bb)
}

func joinTitles(titles []string) string { return strings.Join(titles, ",") }

// listed matches titles with or without a .csv extension.
func listed(known []string, title string) bool {
	return slices.ContainsFunc(known, func(k string) bool {
		return k == title || strings.TrimSuffix(k, ".csv") == title
	})
}
