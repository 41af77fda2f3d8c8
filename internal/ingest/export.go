package ingest

import (
	"strings"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/tree"
)

// ExportBatches flattens roots into one batch per top-level node, named after
// its value, followed by the combined AllDataFile batch holding every row.
// Names are safe file names, unique within the export.
func ExportBatches(roots []api.Node) []Batch {
	header := LocalHeader()
	all := Batch{Name: strings.TrimSuffix(AllDataFile, ".csv"), Kind: KindCategory, Header: header}
	used := map[string]bool{all.Name: true}

	out := make([]Batch, 0, len(roots)+1)
	for _, rec := range tree.Flatten(roots) {
		if rec.ParentPath == "" {
			out = append(out, Batch{Name: tree.UniqueName(used, rec.Value), Kind: KindCategory, Header: header})
		}
		row := Values(rec)
		cur := &out[len(out)-1]
		cur.Rows = append(cur.Rows, row)
		all.Rows = append(all.Rows, row)
	}
	return append(out, all)
}

// SubtreeBatch flattens the node at path and everything below it.
func SubtreeBatch(roots []api.Node, path string) (Batch, bool) {
	n, ok := tree.Find(roots, path)
	if !ok {
		return Batch{}, false
	}
	b := Batch{Name: tree.SafeName(n.Value), Kind: KindCategory, Header: LocalHeader()}
	for _, rec := range tree.FlattenSubtree(n) {
		b.Rows = append(b.Rows, Values(rec))
	}
	return b, true
}
