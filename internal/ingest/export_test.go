package ingest

import (
	"context"
	"path"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/tree"
)

func exportForest() []api.Node {
	return []api.Node{
		{Label: "Gym", Value: "gym", Children: []api.Node{
			{Label: "Pool", Value: "pool", Price: "500", FullDesc: "two\nlines"},
		}},
		{Label: "Spa", Value: "spa"},
	}
}

func TestExportBatches(t *testing.T) {
	batches := ExportBatches(exportForest())

	require.Len(t, batches, 3)
	assert.Equal(t, "gym", batches[0].Name)
	assert.Len(t, batches[0].Rows, 2)
	assert.Equal(t, "spa", batches[1].Name)
	assert.Equal(t, "ВСЕ_ДАННЫЕ", batches[2].Name)
	assert.Len(t, batches[2].Rows, 3)
	assert.Equal(t, LocalHeader(), batches[0].Header)
}

func TestExportBatches_Empty(t *testing.T) {
	batches := ExportBatches(nil)
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0].Rows)
}

func TestExport_ImportRoundTrip(t *testing.T) {
	fs := memfs.New()
	for _, b := range ExportBatches(exportForest()) {
		_, err := WriteBatch(fs, "out", b)
		require.NoError(t, err)
	}

	src := &CSVSource{FS: fs, Dir: "out"}
	batches, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1, "combined file wins")

	rows, diags := Normalizer{}.NormalizeAll(batches)
	require.Empty(t, diags)
	roots, bdiags := tree.Build(Records(rows), tree.DefaultBuildOptions())
	require.Empty(t, bdiags)
	assert.Equal(t, exportForest(), roots)
}

func TestSubtreeBatch(t *testing.T) {
	b, ok := SubtreeBatch(exportForest(), "gym")
	require.True(t, ok)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "gym", b.Name)

	_, ok = SubtreeBatch(exportForest(), "gym/sauna")
	assert.False(t, ok)
}

func TestExport_ImportRoundTripKeepsBytes(t *testing.T) {
	doc := &api.Document{Main: []api.Node{
		{Label: "Hall", Value: " hall ", FullDesc: `path C:\new\readme`, Children: []api.Node{
			{Label: "Mat", Value: "mat", ShortDesc: "a\\\nb", Timetable: "9:00\r\n21:00"},
		}},
	}}
	fs := memfs.New()
	for _, b := range ExportBatches(doc.Main) {
		_, err := WriteBatch(fs, "out", b)
		require.NoError(t, err)
	}

	batches, err := (&CSVSource{FS: fs, Dir: "out"}).Fetch(context.Background())
	require.NoError(t, err)
	rows, diags := Normalizer{}.NormalizeAll(batches)
	require.Empty(t, diags)
	roots, bdiags := tree.Build(Records(rows), tree.DefaultBuildOptions())
	require.Empty(t, bdiags)

	want, err := api.Marshal(doc)
	require.NoError(t, err)
	got, err := api.Marshal(&api.Document{Main: roots})
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestExportBatches_SafeUniqueNames(t *testing.T) {
	batches := ExportBatches([]api.Node{
		{Label: "Evil", Value: "../../etc/evil"},
		{Label: "Dots", Value: ".."},
		{Label: "All", Value: "ВСЕ_ДАННЫЕ"},
		{Label: "Gym", Value: "gym"},
		{Label: "Gym again", Value: "gym"},
	})

	names := make([]string, 0, len(batches))
	for _, b := range batches {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{".._.._etc_evil", "_", "ВСЕ_ДАННЫЕ~2", "gym", "gym~2", "ВСЕ_ДАННЫЕ"}, names)

	fs := memfs.New()
	for _, b := range batches {
		p, err := WriteBatch(fs, "/out/csv", b)
		require.NoError(t, err)
		assert.Equal(t, "/out/csv", path.Dir(p))
	}
	_, err := fs.Stat("/etc/evil.csv")
	assert.Error(t, err)
}

func TestWriteBatch_RejectsPathNames(t *testing.T) {
	fs := memfs.New()
	for _, name := range []string{"../evil", "a/b", "..", ""} {
		_, err := WriteBatch(fs, "/out", Batch{Name: name, Header: []string{"ID"}})
		assert.Error(t, err, name)
	}
}
