package graph

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/tree"
)

// DocumentFile is the root file holding the whole document as stored.
const DocumentFile = "_document.json"

// FieldOrder is the order field files are listed in a node directory.
var FieldOrder = []string{"label", "value", "sub", "image", "fimage", "desc", "fulldesc", "timetable", "price"}

// Project lays doc out as a read-only tree: every content node becomes a
// directory named after its value, holding one file per set field and one
// subdirectory per child. Values are made safe path elements and a name
// already taken in a directory gets a "~N" suffix, so duplicate siblings and
// values that collide with field names stay reachable.
func Project(doc *api.Document, modTime time.Time) (*MemoryStore, error) {
	data, err := api.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("project document: %w", err)
	}
	s := NewMemoryStore()
	s.AddRoot(&Node{ID: DocumentFile, ModTime: modTime, Data: data})

	used := map[string]bool{DocumentFile: true}
	for _, n := range doc.Main {
		id := tree.UniqueName(used, n.Value)
		s.AddRoot(project(s, n, id, modTime))
	}
	return s, nil
}

func project(s *MemoryStore, n api.Node, dirID string, modTime time.Time) *Node {
	used := make(map[string]bool)
	var children []string

	fields := n.Fields()
	for _, key := range FieldOrder {
		v, ok := fields[key]
		if !ok {
			continue
		}
		used[key] = true
		id := dirID + "/" + key
		s.AddNode(&Node{ID: id, ModTime: modTime, Data: []byte(v + "\n")})
		s.IndexField(key, dirID)
		children = append(children, id)
	}
	for _, c := range n.Children {
		id := dirID + "/" + tree.UniqueName(used, c.Value)
		children = append(children, id)
		project(s, c, id, modTime)
	}

	dir := &Node{ID: dirID, Mode: fs.ModeDir, ModTime: modTime, Children: children}
	s.AddNode(dir)
	return dir
}
