// Package tree holds the reconciliation core: it turns flat records into an
// ordered content forest, splices rebuilt subtrees into a persisted forest,
// and flattens a forest back into records.
//
// Nothing in this package performs I/O. Every operation is a pure function of
// its inputs and returns the diagnostics it collected alongside its result.
package tree

import (
	"strings"

	"github.com/agentic-research/contentsync/api"
)

// Optional is a display field that is either present with a non-blank value
// or absent. The zero value is absent.
type Optional struct {
	value string
	set   bool
}

// Some returns a present Optional. Use OptionalOf for source values that may be blank.
func Some(v string) Optional {
	return Optional{value: v, set: true}
}

// OptionalOf returns an absent Optional when v is blank, else Some(v).
func OptionalOf(v string) Optional {
	if strings.TrimSpace(v) == "" {
		return Optional{}
	}
	return Some(v)
}

// Get returns the value and whether it is present.
func (o Optional) Get() (string, bool) { return o.value, o.set }

// IsSet reports whether the field is present.
func (o Optional) IsSet() bool { return o.set }

// String returns the value, or "" when absent.
func (o Optional) String() string { return o.value }

// Record is one flat source row after normalization.
type Record struct {
	ID         string
	ParentPath string // empty for roots
	Level      int    // advisory depth hint
	Label      string
	Value      string

	Sub       Optional
	Image     Optional
	FullImage Optional
	ShortDesc Optional
	FullDesc  Optional
	Timetable Optional
	Price     Optional

	// Row is the 1-based source row number (header excluded), 0 if unknown.
	Row int
	// Batch names the source tab the record came from.
	Batch string
}

// FullPath returns the path the record would have once attached:
// ParentPath/Value, or Value for roots.
func (r Record) FullPath() string {
	return JoinPath(r.ParentPath, r.Value)
}

// node materializes the record's own fields; children are attached by the caller.
func (r Record) node() api.Node {
	return api.Node{
		Label:     r.Label,
		Value:     r.Value,
		Sub:       r.Sub.String(),
		Image:     r.Image.String(),
		FullImage: r.FullImage.String(),
		ShortDesc: r.ShortDesc.String(),
		FullDesc:  r.FullDesc.String(),
		Timetable: r.Timetable.String(),
		Price:     r.Price.String(),
	}
}

// recordFromNode is the inverse of node for the display fields.
func recordFromNode(n api.Node) Record {
	return Record{
		Label:     n.Label,
		Value:     n.Value,
		Sub:       OptionalOf(n.Sub),
		Image:     OptionalOf(n.Image),
		FullImage: OptionalOf(n.FullImage),
		ShortDesc: OptionalOf(n.ShortDesc),
		FullDesc:  OptionalOf(n.FullDesc),
		Timetable: OptionalOf(n.Timetable),
		Price:     OptionalOf(n.Price),
	}
}

// JoinPath appends value to a full path.
func JoinPath(parent, value string) string {
	if parent == "" {
		return value
	}
	return parent + "/" + value
}
