package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/journal"
	"github.com/agentic-research/contentsync/internal/store"
	"github.com/agentic-research/contentsync/internal/tree"
)

var header = []string{"ID", "Родитель", "Название", "Значение", "Полное описание"}

// fakeSource serves fixed batches.
type fakeSource struct {
	batches []ingest.Batch
	err     error
}

func (f *fakeSource) Sheets(context.Context) ([]string, error) {
	var names []string
	for _, b := range f.batches {
		names = append(names, b.Name)
	}
	return names, f.err
}

func (f *fakeSource) Fetch(_ context.Context, names ...string) ([]ingest.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(names) == 0 {
		return f.batches, nil
	}
	var out []ingest.Batch
	for _, n := range names {
		for _, b := range f.batches {
			if b.Name == n {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func sheetSource() *fakeSource {
	return &fakeSource{batches: []ingest.Batch{
		{Name: "00_НАСТРОЙКИ", Kind: ingest.KindSettings, Header: []string{"Ключ", "Значение"}, Rows: [][]string{{"phone", "123"}}},
		{Name: "01_СЛАЙДЫ", Kind: ingest.KindSlides, Header: []string{"Номер", "Активен"}, Rows: [][]string{{"1", "TRUE"}, {"2", "FALSE"}}},
		{Name: "02_GYM", Kind: ingest.KindCategory, Header: header, Rows: [][]string{
			{"gym", "", "Gym", "gym", ""},
			{"gym_1", "gym", "Pool", "pool", "open</i>"},
		}},
		{Name: "03_SPA", Kind: ingest.KindCategory, Header: header, Rows: [][]string{{"spa", "", "Spa", "spa", ""}}},
		{Name: "05_СОБЫТИЯ", Kind: ingest.KindEvents, Header: []string{"ID", "Родитель", "Название", "Значение", "Активен"}, Rows: [][]string{
			{"events", "", "Events", "events", "TRUE"},
			{"ev1", "events", "Concert", "concert", "FALSE"},
		}},
	}}
}

type fixture struct {
	fs      billy.Filesystem
	store   *store.Store
	journal *journal.Journal
	commits []*api.Document
}

func newFixture(t *testing.T, src ingest.Source) (*Syncer, *fixture) {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	fs := memfs.New()
	fx := &fixture{fs: fs, store: store.New(fs, "site/form.json"), journal: j}
	s := New(src, fx.store, store.NopLock{},
		WithJournal(j),
		WithExtras(fs, "site/settings.json", "site/slides.json"),
		WithCommitHook(func(d *api.Document) { fx.commits = append(fx.commits, d) }),
	)
	return s, fx
}

func values(nodes []api.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Value)
	}
	return out
}

func TestSyncAll(t *testing.T) {
	s, fx := newFixture(t, sheetSource())
	ctx := context.Background()

	rep, err := s.SyncAll(ctx)
	require.NoError(t, err)

	assert.True(t, rep.Changed)
	assert.Empty(t, rep.Backup)
	assert.Equal(t, tree.Stats{Roots: 2, Nodes: 3, Leaves: 2, MaxDepth: 1}, rep.Stats)
	assert.ElementsMatch(t, []string{"site/settings.json", "site/slides.json"}, rep.Files)
	assert.Equal(t, 1, rep.Diagnostics.Count(tree.CodeMarkupWarning))

	doc, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"gym", "spa"}, values(doc.Main))
	require.Len(t, fx.commits, 1)

	settings, err := util.ReadFile(fx.fs, "site/settings.json")
	require.NoError(t, err)
	assert.Contains(t, string(settings), `"phone": "123"`)

	runs, err := fx.journal.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)
	assert.Equal(t, KindAll, runs[0].Kind)
	assert.Equal(t, 3, runs[0].Nodes)
}

func TestSyncAll_SecondRunIsNoOp(t *testing.T) {
	s, fx := newFixture(t, sheetSource())
	ctx := context.Background()

	_, err := s.SyncAll(ctx)
	require.NoError(t, err)
	rep, err := s.SyncAll(ctx)
	require.NoError(t, err)

	assert.False(t, rep.Changed)
	assert.Len(t, fx.commits, 1)
	backups, err := fx.store.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestSyncSheets_MergesByKind(t *testing.T) {
	s, fx := newFixture(t, sheetSource())
	ctx := context.Background()
	_, err := fx.store.Commit(ctx, &api.Document{Main: []api.Node{
		{Label: "Spa", Value: "spa"},
		{Label: "Gym", Value: "gym"},
		{Label: "Events", Value: "events"},
	}})
	require.NoError(t, err)

	rep, err := s.SyncSheets(ctx, "02_GYM", "05_СОБЫТИЯ", "01_СЛАЙДЫ")
	require.NoError(t, err)

	assert.True(t, rep.Changed)
	assert.NotEmpty(t, rep.Backup)
	assert.Equal(t, []string{"site/slides.json"}, rep.Files)
	assert.Equal(t, 1, rep.Filter.Inactive)

	doc, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"spa", "gym", "events"}, values(doc.Main))
	assert.Equal(t, []string{"pool"}, values(doc.Main[1].Children))
	assert.Empty(t, doc.Main[2].Children)
}

func TestSyncSheets_UnknownTitle(t *testing.T) {
	s, fx := newFixture(t, sheetSource())

	_, err := s.SyncSheets(context.Background(), "99_NOPE")
	require.ErrorIs(t, err, ErrNoSuchSheet)

	runs, jerr := fx.journal.Recent(context.Background(), 5)
	require.NoError(t, jerr)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Err, "99_NOPE")
}

func TestSyncEvents(t *testing.T) {
	s, fx := newFixture(t, sheetSource())

	rep, err := s.SyncEvents(context.Background(), "05_СОБЫТИЯ")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Filter.Kept)

	doc, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, values(doc.Main))
}

func TestSyncGroup(t *testing.T) {
	s, fx := newFixture(t, sheetSource())

	rep, err := s.SyncGroup(context.Background(), "03_SPA", "02_GYM")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Diagnostics.Count(tree.CodeDiscardedRoot))

	doc, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"spa"}, values(doc.Main))
}

func TestSync_FetchErrorLeavesDocument(t *testing.T) {
	s, fx := newFixture(t, &fakeSource{err: errors.New("quota exceeded")})

	_, err := s.SyncAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, serr := fx.fs.Stat("site/form.json")
	assert.ErrorIs(t, serr, os.ErrNotExist)
}

// busyLock is always held by someone else.
type busyLock struct{}

func (busyLock) Lock(context.Context, string) (store.Unlocker, error) {
	return nil, store.ErrLocked
}

func TestSync_LockedIsReported(t *testing.T) {
	fs := memfs.New()
	s := New(sheetSource(), store.New(fs, "form.json"), busyLock{})

	_, err := s.SyncAll(context.Background())
	assert.ErrorIs(t, err, store.ErrLocked)
}

func TestImportAndRestore(t *testing.T) {
	s, fx := newFixture(t, nil)
	ctx := context.Background()

	csvFS := memfs.New()
	forest := []api.Node{{Label: "Gym", Value: "gym", Children: []api.Node{{Label: "Pool", Value: "pool"}}}}
	for _, b := range ingest.ExportBatches(forest) {
		_, err := ingest.WriteBatch(csvFS, "csv", b)
		require.NoError(t, err)
	}

	_, err := fx.store.Commit(ctx, &api.Document{Main: []api.Node{{Label: "Old", Value: "old"}}})
	require.NoError(t, err)

	rep, err := s.Import(ctx, &ingest.CSVSource{FS: csvFS, Dir: "csv"}, "csv")
	require.NoError(t, err)
	require.True(t, rep.Changed)
	doc, err := fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, forest, doc.Main)

	rep, err = s.Restore(ctx, rep.Backup)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Stats.Roots)
	doc, err = fx.store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, values(doc.Main))
}

// renameFails fails every rename, so no commit can complete.
type renameFails struct{ billy.Filesystem }

func (renameFails) Rename(string, string) error { return errors.New("disk full") }

func TestSyncAll_FailedCommitWritesNoSideFiles(t *testing.T) {
	fs := memfs.New()
	st := store.New(renameFails{fs}, "site/form.json")
	s := New(sheetSource(), st, store.NopLock{}, WithExtras(fs, "site/settings.json", "site/slides.json"))

	rep, err := s.SyncAll(context.Background())

	var perr *store.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, rep.Files)
	for _, p := range []string{"site/form.json", "site/settings.json", "site/slides.json"} {
		_, err := fs.Stat(p)
		assert.ErrorIs(t, err, os.ErrNotExist, p)
	}
}

func TestSyncSheets_LintsOnlyBuiltRows(t *testing.T) {
	src := &fakeSource{batches: []ingest.Batch{
		{Name: "02_GYM", Kind: ingest.KindCategory, Header: header, Rows: [][]string{
			{"gym", "", "Gym", "gym", "<b>ok</b>"},
			{"lost", "nowhere", "Lost", "lost", "broken</i>"},
		}},
		{Name: "05_СОБЫТИЯ", Kind: ingest.KindEvents, Header: []string{"ID", "Родитель", "Название", "Значение", "Полное описание", "Активен"}, Rows: [][]string{
			{"events", "", "Events", "events", "", "TRUE"},
			{"ev1", "events", "Old", "old", "hidden</i>", "FALSE"},
			{"ev2", "events", "New", "new", "shown</i>", "TRUE"},
		}},
	}}
	s, _ := newFixture(t, src)

	rep, err := s.SyncSheets(context.Background(), "02_GYM", "05_СОБЫТИЯ")
	require.NoError(t, err)

	warnings := rep.Diagnostics.Filter(tree.CodeMarkupWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "ev2", warnings[0].RecordID)
	assert.Equal(t, 1, rep.Diagnostics.Count(tree.CodeOrphanRecord))
	assert.Equal(t, 1, rep.Filter.Inactive)
}
