package tree

import (
	"strings"

	"github.com/agentic-research/contentsync/api"
)

// Stats summarizes a forest.
type Stats struct {
	Roots    int `json:"roots"`
	Nodes    int `json:"nodes"`
	Leaves   int `json:"leaves"`
	MaxDepth int `json:"max_depth"`
}

// Measure walks roots and counts them.
func Measure(roots []api.Node) Stats {
	s := Stats{Roots: len(roots)}
	var walk func(nodes []api.Node, depth int)
	walk = func(nodes []api.Node, depth int) {
		for _, n := range nodes {
			s.Nodes++
			if depth > s.MaxDepth {
				s.MaxDepth = depth
			}
			if len(n.Children) == 0 {
				s.Leaves++
				continue
			}
			walk(n.Children, depth+1)
		}
	}
	walk(roots, 0)
	return s
}

// Find returns the node at full path p.
func Find(roots []api.Node, p string) (api.Node, bool) {
	nodes := roots
	var cur api.Node
	for _, seg := range splitPath(p) {
		found := false
		for _, n := range nodes {
			if n.Value == seg {
				cur, nodes, found = n, n.Children, true
				break
			}
		}
		if !found {
			return api.Node{}, false
		}
	}
	return cur, p != ""
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
