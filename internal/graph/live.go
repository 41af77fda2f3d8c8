package graph

import (
	"sync/atomic"
	"time"

	"github.com/agentic-research/contentsync/api"
)

// Live serves the projection of the last published document. Every read
// sees one whole projection, never a mix of two.
type Live struct {
	cur       atomic.Pointer[MemoryStore]
	published atomic.Uint64
}

// NewLive projects doc and starts serving it.
func NewLive(doc *api.Document, modTime time.Time) (*Live, error) {
	l := &Live{}
	if err := l.Publish(doc, modTime); err != nil {
		return nil, err
	}
	return l, nil
}

// Publish projects doc and serves it from now on. If projecting fails the
// previous projection stays in place.
func (l *Live) Publish(doc *api.Document, modTime time.Time) error {
	s, err := Project(doc, modTime)
	if err != nil {
		return err
	}
	l.cur.Store(s)
	l.published.Add(1)
	return nil
}

// Current returns the projection being served.
func (l *Live) Current() *MemoryStore { return l.cur.Load() }

// Generation counts the documents published so far.
func (l *Live) Generation() uint64 { return l.published.Load() }

func (l *Live) GetNode(id string) (*Node, error) { return l.Current().GetNode(id) }

func (l *Live) ListChildren(id string) ([]string, error) { return l.Current().ListChildren(id) }

func (l *Live) ReadContent(id string, buf []byte, offset int64) (int, error) {
	return l.Current().ReadContent(id, buf, offset)
}
