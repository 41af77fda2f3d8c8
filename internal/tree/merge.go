package tree

import (
	"github.com/agentic-research/contentsync/api"
)

// MatchPolicy decides how freshly built roots are spliced into an existing
// top-level sequence.
type MatchPolicy interface {
	merge(existing, roots []api.Node, diags *Diagnostics) []api.Node
	// pick returns the indexes of the roots that are spliced in.
	pick(roots []api.Node) []int
	String() string
}

type replaceByKey struct {
	key string
}

// ReplaceByKey merges a single rebuilt root. The root whose value equals key
// (or the first root, when none does or key is empty) replaces the existing
// top-level node with that value in place, or is appended when there is none.
func ReplaceByKey(key string) MatchPolicy {
	return replaceByKey{key: key}
}

func (p replaceByKey) String() string { return "replace-by-key(" + p.key + ")" }

func (p replaceByKey) pick(roots []api.Node) []int {
	if p.key != "" {
		for i, r := range roots {
			if r.Value == p.key {
				return []int{i}
			}
		}
	}
	return []int{0}
}

func (p replaceByKey) merge(existing, roots []api.Node, diags *Diagnostics) []api.Node {
	pick := p.pick(roots)[0]
	for i, r := range roots {
		if i != pick {
			diags.Add(discarded(r, "only the root matching "+quote(p.key)+" is merged"))
		}
	}
	return splice(existing, roots[pick], p.key)
}

type firstRootOnly struct{}

// FirstRootOnly merges the first rebuilt root by its own value and discards
// the rest. It reproduces how combined category tabs have always been
// merged: several tabs are built as one batch, and only the first category
// survives.
func FirstRootOnly() MatchPolicy { return firstRootOnly{} }

func (firstRootOnly) String() string { return "first-root-only" }

func (firstRootOnly) pick([]api.Node) []int { return []int{0} }

func (firstRootOnly) merge(existing, roots []api.Node, diags *Diagnostics) []api.Node {
	for _, r := range roots[1:] {
		diags.Add(discarded(r, "combined batches merge their first root only"))
	}
	return splice(existing, roots[0], "")
}

type replaceAll struct{}

// ReplaceAll drops the existing top-level sequence and uses the new forest.
func ReplaceAll() MatchPolicy { return replaceAll{} }

func (replaceAll) String() string { return "replace-all" }

func (replaceAll) pick(roots []api.Node) []int {
	all := make([]int, len(roots))
	for i := range all {
		all[i] = i
	}
	return all
}

func (replaceAll) merge(_, roots []api.Node, _ *Diagnostics) []api.Node {
	return api.CloneNodes(roots)
}

// Merge splices newRoots into existing according to policy and reports
// whether the result differs from a no-op. existing is never modified.
//
// With zero new roots the existing tree is returned unchanged, a MergeNoOp
// diagnostic is emitted, and changed is false: callers must not write.
func Merge(existing, newRoots []api.Node, policy MatchPolicy) (result []api.Node, diags Diagnostics, changed bool) {
	if len(newRoots) == 0 {
		diags.Add(Diagnostic{
			Code:     CodeMergeNoOp,
			Severity: SeverityInfo,
			Detail:   "rebuild produced no roots; " + policy.String() + " skipped",
		})
		return existing, diags, false
	}
	return policy.merge(existing, newRoots, &diags), diags, true
}

// Picked returns the roots of newRoots that Merge would splice in under
// policy; the others are discarded.
func Picked(newRoots []api.Node, policy MatchPolicy) []api.Node {
	if len(newRoots) == 0 {
		return nil
	}
	idx := policy.pick(newRoots)
	out := make([]api.Node, 0, len(idx))
	for _, i := range idx {
		out = append(out, newRoots[i])
	}
	return out
}

// splice replaces the slot for root in place, or appends root. The slot is
// the first node whose value equals key, falling back to root's own value.
func splice(existing []api.Node, root api.Node, key string) []api.Node {
	out := api.CloneNodes(existing)
	slot := indexOf(out, key)
	if slot < 0 {
		slot = indexOf(out, root.Value)
	}
	if slot < 0 {
		return append(out, root.Clone())
	}
	out[slot] = root.Clone()
	return out
}

func indexOf(nodes []api.Node, value string) int {
	if value == "" {
		return -1
	}
	for i, n := range nodes {
		if n.Value == value {
			return i
		}
	}
	return -1
}

func discarded(n api.Node, why string) Diagnostic {
	return Diagnostic{
		Code:     CodeDiscardedRoot,
		Severity: SeverityInfo,
		Detail:   "root " + quote(n.Value) + " discarded: " + why,
	}
}
