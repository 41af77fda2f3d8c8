package tree

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/contentsync/api"
)

// BuildOptions tunes Build.
type BuildOptions struct {
	// MaxDepth bounds the depth of the built tree. Subtrees below it are
	// skipped with CyclicParent.
	MaxDepth int
	// Strict orphans every record whose parent path matches more than one
	// candidate instead of picking the first.
	Strict bool
}

// DefaultBuildOptions returns the options used by the sync entry points.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{MaxDepth: 64}
}

type resolveState uint8

const (
	unresolved resolveState = iota
	resolving
	attached
	dropped
)

// entry is one indexed record and its resolution state.
type entry struct {
	rec      Record
	state    resolveState
	parent   int // ordinal of the chosen parent, -1 for roots
	children []int
}

// builder carries the state of a single Build call.
type builder struct {
	opts    BuildOptions
	entries []*entry
	// byPath maps a record's would-be full path to the ordinals of every
	// record producing it. First match wins: the lowest live ordinal.
	byPath    map[string]*roaring.Bitmap
	ambiguous map[string]bool
	diags     Diagnostics
}

// Build assembles records into an ordered forest.
//
// Records are indexed by ID in input order; the first occurrence of an ID
// wins and later ones are reported as DuplicateId. A record attaches to the
// first indexed record whose full path equals its ParentPath. Records whose
// parent cannot be resolved, or whose parent was itself dropped, are reported
// as OrphanRecord and left out of the result.
func Build(records []Record, opts BuildOptions) ([]api.Node, Diagnostics) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultBuildOptions().MaxDepth
	}
	b := &builder{
		opts:      opts,
		byPath:    make(map[string]*roaring.Bitmap),
		ambiguous: make(map[string]bool),
	}
	b.index(records)

	for i := range b.entries {
		b.resolve(i)
	}

	var roots []int
	for i, e := range b.entries {
		if e.state != attached {
			continue
		}
		if e.parent < 0 {
			roots = append(roots, i)
			continue
		}
		p := b.entries[e.parent]
		p.children = append(p.children, i)
	}

	visited := roaring.New()
	out := make([]api.Node, 0, len(roots))
	for _, i := range roots {
		if n, ok := b.finalize(i, visited, 0); ok {
			out = append(out, n)
		}
	}
	b.checkSiblings(out, "")
	return out, b.diags
}

// index validates records and keeps the first occurrence of each ID.
func (b *builder) index(records []Record) {
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			b.diags.Add(NewDiagnostic(CodeValidationError, rec, "missing id (value %q)", rec.Value))
			continue
		}
		if rec.Value == "" {
			b.diags.Add(NewDiagnostic(CodeValidationError, rec, "missing value"))
			continue
		}
		if first, ok := seen[rec.ID]; ok {
			prev := b.entries[first].rec
			b.diags.Add(NewDiagnostic(CodeDuplicateID, rec,
				"id already used by row %d (value %q); discarded", prev.Row, prev.Value))
			continue
		}
		ord := len(b.entries)
		seen[rec.ID] = ord
		b.entries = append(b.entries, &entry{rec: rec, parent: -1})

		path := rec.FullPath()
		bm, ok := b.byPath[path]
		if !ok {
			bm = roaring.New()
			b.byPath[path] = bm
		}
		bm.Add(uint32(ord))
	}
}

// resolve decides whether entry i attaches and to which parent. A parent's
// full path is strictly shorter than the child's, so the recursion ends
// after at most as many steps as ParentPath has segments.
func (b *builder) resolve(i int) resolveState {
	e := b.entries[i]
	switch e.state {
	case attached, dropped:
		return e.state
	case resolving:
		return resolving
	}

	if e.rec.ParentPath == "" {
		e.state = attached
		return attached
	}

	candidates, ok := b.byPath[e.rec.ParentPath]
	if !ok {
		b.drop(i, CodeOrphanRecord, "no record with full path %q", e.rec.ParentPath)
		return dropped
	}
	if candidates.GetCardinality() > 1 {
		b.reportAmbiguous(e.rec.ParentPath, candidates)
		if b.opts.Strict {
			b.drop(i, CodeAmbiguousPath, "parent path %q matches %d records", e.rec.ParentPath, candidates.GetCardinality())
			return dropped
		}
	}

	e.state = resolving
	it := candidates.Iterator()
	for it.HasNext() {
		c := int(it.Next())
		if c == i {
			continue
		}
		switch b.resolve(c) {
		case attached:
			e.state = attached
			e.parent = c
			return attached
		case resolving:
			// c is still being resolved further up the stack: i would be its own ancestor.
			b.drop(i, CodeCyclicParent, "parent %q is a descendant of %q", e.rec.ParentPath, e.rec.FullPath())
			return dropped
		}
	}
	b.drop(i, CodeOrphanRecord, "every record at parent path %q was dropped", e.rec.ParentPath)
	return dropped
}

func (b *builder) drop(i int, code Code, format string, args ...any) {
	e := b.entries[i]
	e.state = dropped
	b.diags.Add(NewDiagnostic(code, e.rec, format, args...))
}

func (b *builder) reportAmbiguous(path string, candidates *roaring.Bitmap) {
	if b.ambiguous[path] {
		return
	}
	b.ambiguous[path] = true
	ids := make([]string, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		ids = append(ids, b.entries[it.Next()].rec.ID)
	}
	first := b.entries[candidates.Minimum()].rec
	d := NewDiagnostic(CodeAmbiguousPath, first, "full path %q is produced by records %v; first match wins", path, ids)
	b.diags.Add(d)
}

// finalize materializes entry i and its attached descendants depth-first.
func (b *builder) finalize(i int, visited *roaring.Bitmap, depth int) (api.Node, bool) {
	e := b.entries[i]
	if visited.Contains(uint32(i)) {
		b.diags.Add(NewDiagnostic(CodeCyclicParent, e.rec, "record reached twice while finalizing; subtree skipped"))
		return api.Node{}, false
	}
	if depth > b.opts.MaxDepth {
		b.diags.Add(NewDiagnostic(CodeCyclicParent, e.rec, "tree deeper than %d; subtree skipped", b.opts.MaxDepth))
		return api.Node{}, false
	}
	visited.Add(uint32(i))

	n := e.rec.node()
	for _, c := range e.children {
		if child, ok := b.finalize(c, visited, depth+1); ok {
			n.Children = append(n.Children, child)
		}
	}
	b.checkSiblings(n.Children, e.rec.FullPath())
	return n, true
}

// checkSiblings reports sibling nodes sharing a value. Both are kept.
func (b *builder) checkSiblings(nodes []api.Node, parentPath string) {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.Value] {
			b.diags.Add(Diagnostic{
				Code:     CodeDuplicateSibling,
				Severity: CodeDuplicateSibling.Severity(),
				Detail:   "value " + quote(n.Value) + " appears more than once under " + quote(displayPath(parentPath)),
			})
			continue
		}
		seen[n.Value] = true
	}
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func quote(s string) string {
	return `"` + s + `"`
}
