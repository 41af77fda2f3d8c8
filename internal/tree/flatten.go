package tree

import (
	"strconv"
	"strings"

	"github.com/agentic-research/contentsync/api"
)

// Flatten serializes a forest back into records, pre-order.
//
// A root's ID is its full path with "/" replaced by "_"; a child's ID is its
// parent's ID followed by "_" and its 1-based position. ParentPath is the
// parent's full path and Level is the depth, roots being 0.
func Flatten(roots []api.Node) []Record {
	var out []Record
	for _, r := range roots {
		out = flattenNode(out, r, "", "", 0, 0)
	}
	return out
}

// FlattenSubtree flattens n as if it were a root. Its descendants keep paths
// relative to n.
func FlattenSubtree(n api.Node) []Record {
	return flattenNode(nil, n, "", "", 0, 0)
}

func flattenNode(out []Record, n api.Node, parentID, parentPath string, pos, depth int) []Record {
	rec := recordFromNode(n)
	rec.ParentPath = parentPath
	rec.Level = depth
	full := rec.FullPath()
	if parentID == "" {
		rec.ID = strings.ReplaceAll(full, "/", "_")
	} else {
		rec.ID = parentID + "_" + strconv.Itoa(pos)
	}
	rec.Row = len(out) + 1
	out = append(out, rec)
	for i, c := range n.Children {
		out = flattenNode(out, c, rec.ID, full, i+1, depth+1)
	}
	return out
}
