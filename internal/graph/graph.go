package graph

import (
	"errors"
	"io/fs"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
)

var ErrNotFound = errors.New("node not found")

// Node is the universal primitive.
// The Mode field explicitly declares whether this is a file or directory.
type Node struct {
	ID       string
	Mode     fs.FileMode // fs.ModeDir for directories, 0 for regular files
	ModTime  time.Time
	Data     []byte   // file content
	Children []string // child node IDs (directories only)
}

// ContentSize returns the byte length of this node's content.
func (n *Node) ContentSize() int64 {
	return int64(len(n.Data))
}

// Graph is the read interface the mount layers serve from.
type Graph interface {
	GetNode(id string) (*Node, error)
	ListChildren(id string) ([]string, error)
	ReadContent(id string, buf []byte, offset int64) (int, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	roots []string

	// Roaring bitmap index: field name → set of directory internal IDs that
	// carry that field as a file.
	fieldToDirs map[string]*roaring.Bitmap
	nodeIntID   map[string]uint32
	intToNodeID []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:       make(map[string]*Node),
		roots:       []string{},
		fieldToDirs: make(map[string]*roaring.Bitmap),
		nodeIntID:   make(map[string]uint32),
	}
}

// AddRoot registers a node as a top-level root and adds it to the store.
func (s *MemoryStore) AddRoot(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
	for _, r := range s.roots {
		if r == n.ID {
			return
		}
	}
	s.roots = append(s.roots, n.ID)
}

// AddNode adds a non-root node to the store.
func (s *MemoryStore) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[n.ID] = n
}

// IndexField records that directory dirID exposes field as a file.
func (s *MemoryStore) IndexField(field, dirID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intID, ok := s.nodeIntID[dirID]
	if !ok {
		intID = uint32(len(s.intToNodeID))
		s.nodeIntID[dirID] = intID
		s.intToNodeID = append(s.intToNodeID, dirID)
	}
	bm, ok := s.fieldToDirs[field]
	if !ok {
		bm = roaring.New()
		s.fieldToDirs[field] = bm
	}
	bm.Add(intID)
}

// WithField returns the directories carrying field, in projection order.
func (s *MemoryStore) WithField(field string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bm, ok := s.fieldToDirs[field]
	if !ok {
		return nil
	}
	out := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, s.intToNodeID[it.Next()])
	}
	return out
}

// WithoutField returns the indexed directories lacking field.
func (s *MemoryStore) WithoutField(field string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := roaring.New()
	all.AddRange(0, uint64(len(s.intToNodeID)))
	if bm, ok := s.fieldToDirs[field]; ok {
		all.AndNot(bm)
	}
	out := make([]string, 0, all.GetCardinality())
	it := all.Iterator()
	for it.HasNext() {
		out = append(out, s.intToNodeID[it.Next()])
	}
	return out
}

// GetNode implements Graph.
func (s *MemoryStore) GetNode(id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Normalize path: remove leading slash
	if len(id) > 0 && id[0] == '/' {
		id = id[1:]
	}

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// ListChildren implements Graph.
func (s *MemoryStore) ListChildren(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == "" || id == "/" {
		return s.roots, nil
	}
	if id[0] == '/' {
		id = id[1:]
	}

	n, ok := s.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Children, nil
}

// ReadContent implements Graph.
func (s *MemoryStore) ReadContent(id string, buf []byte, offset int64) (int, error) {
	node, err := s.GetNode(id)
	if err != nil {
		return 0, err
	}
	data := node.Data
	if offset >= int64(len(data)) {
		return 0, nil
	}
	end := offset + int64(len(buf))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return copy(buf, data[offset:end]), nil
}
