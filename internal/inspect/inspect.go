// Package inspect answers read-only questions about a content document:
// JSONPath queries, shape statistics and field coverage.
package inspect

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/graph"
	"github.com/agentic-research/contentsync/internal/tree"
)

// Query evaluates a JSONPath expression against the document as stored,
// e.g. $.main[*].children[?(@.price)].label.
func Query(doc *api.Document, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	data, err := api.Marshal(doc)
	if err != nil {
		return nil, err
	}
	root, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("reparse document: %w", err)
	}
	return x.Get(root), nil
}

// Format renders query results as indented JSON.
func Format(results []any) string {
	if results == nil {
		results = []any{}
	}
	return oj.JSON(results, &oj.Options{Indent: 2, Sort: true})
}

// Report summarizes a document.
type Report struct {
	tree.Stats
	// Coverage counts the nodes carrying each display field.
	Coverage map[string]int `json:"coverage"`
}

// Inspect measures doc, or the subtree at path when path is non-empty.
func Inspect(doc *api.Document, path string) (*Report, error) {
	roots, err := scope(doc, path)
	if err != nil {
		return nil, err
	}
	g, err := graph.Project(&api.Document{Main: roots}, time.Time{})
	if err != nil {
		return nil, err
	}
	rep := &Report{Stats: tree.Measure(roots), Coverage: make(map[string]int)}
	for _, field := range graph.FieldOrder {
		if n := len(g.WithField(field)); n > 0 {
			rep.Coverage[field] = n
		}
	}
	return rep, nil
}

// Missing lists the slash-separated value paths of nodes lacking field.
// Duplicate sibling values show with a "~N" suffix.
func Missing(doc *api.Document, field, path string) ([]string, error) {
	if !slices.Contains(graph.FieldOrder, field) {
		return nil, fmt.Errorf("unknown field %q (want one of %s)", field, strings.Join(graph.FieldOrder, ", "))
	}
	roots, err := scope(doc, path)
	if err != nil {
		return nil, err
	}
	g, err := graph.Project(&api.Document{Main: roots}, time.Time{})
	if err != nil {
		return nil, err
	}
	return g.WithoutField(field), nil
}

func scope(doc *api.Document, path string) ([]api.Node, error) {
	if path == "" {
		return doc.Main, nil
	}
	n, ok := tree.Find(doc.Main, path)
	if !ok {
		return nil, fmt.Errorf("no node at %q", path)
	}
	return []api.Node{n}, nil
}
