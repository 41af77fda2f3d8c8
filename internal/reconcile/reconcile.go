// Package reconcile holds the synchronization entry points. Each is a pure
// function of the existing tree and freshly fetched batches; fetching,
// locking, backups and writes belong to the caller.
package reconcile

import (
	"time"

	"github.com/agentic-research/contentsync/api"
	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/tree"
)

// DefaultEventsKey is the top-level value the events tab is merged under.
const DefaultEventsKey = "events"

// Options configures the entry points. It is passed by value and never
// mutated.
type Options struct {
	Build     tree.BuildOptions
	EventsKey string
	// Now is the clock the event filter reads. Defaults to time.Now.
	Now func() time.Time
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Build: tree.DefaultBuildOptions(), EventsKey: DefaultEventsKey}
}

// Result is the outcome of one entry point.
type Result struct {
	Tree        []api.Node
	Diagnostics tree.Diagnostics
	// Changed is false when the merge was a no-op; the caller must not write.
	Changed bool
	// Rows is the number of rows that reached the builder.
	Rows   int
	// Built holds the records that ended up in Tree: rows removed by the
	// event filter, dropped by the builder or discarded by the merge are not
	// in it.
	Built  []tree.Record
	Filter ingest.FilterStats
	Policy string
}

func (o Options) eventsKey() string {
	if o.EventsKey == "" {
		return DefaultEventsKey
	}
	return o.EventsKey
}

// build assembles rows into roots, collecting diagnostics into res.
func build(o Options, rows []ingest.Row, res *Result) []api.Node {
	res.Rows = len(rows)
	res.Built = ingest.Records(rows)
	roots, diags := tree.Build(res.Built, o.Build)
	res.Diagnostics.Extend(diags)
	return roots
}

func merge(existing, roots []api.Node, policy tree.MatchPolicy, res *Result) {
	merged, diags, changed := tree.Merge(existing, roots, policy)
	res.Tree = merged
	res.Diagnostics.Extend(diags)
	res.Changed = changed
	res.Policy = policy.String()

	picked := tree.Picked(roots, policy)
	kept := res.Built[:0]
	for _, r := range res.Built {
		if _, ok := tree.Find(picked, r.FullPath()); ok {
			kept = append(kept, r)
		}
	}
	res.Built = kept
}

// SyncAll rebuilds the whole tree from every category batch combined and
// replaces the existing top level. Batches of other kinds are ignored.
func SyncAll(o Options, existing []api.Node, batches []ingest.Batch) Result {
	var res Result
	rows, diags := ingest.Normalizer{}.NormalizeAll(ingest.OfKind(batches, ingest.KindCategory))
	res.Diagnostics.Extend(diags)
	roots := build(o, rows, &res)
	merge(existing, roots, tree.ReplaceAll(), &res)
	return res
}

// Import rebuilds the whole tree from exported files. Every batch is read
// as category rows whatever its name; with more than one batch, rows
// repeating an earlier ID are skipped before building.
func Import(o Options, existing []api.Node, batches []ingest.Batch) Result {
	var res Result
	rows, diags := ingest.Normalizer{}.NormalizeAll(batches)
	res.Diagnostics.Extend(diags)
	if len(batches) > 1 {
		rows, _ = ingest.DedupeByID(rows)
	}
	roots := build(o, rows, &res)
	merge(existing, roots, tree.ReplaceAll(), &res)
	return res
}

// MergeCategory rebuilds one category tab and replaces the top-level node
// whose value is key, appending it if there is none. An empty key defaults
// to the Value of the tab's first row.
func MergeCategory(o Options, existing []api.Node, batch ingest.Batch, key string) Result {
	var res Result
	rows, diags := ingest.Normalizer{}.Normalize(batch)
	res.Diagnostics.Extend(diags)
	if key == "" && len(rows) > 0 {
		key = rows[0].Value
	}
	roots := build(o, rows, &res)
	merge(existing, roots, tree.ReplaceByKey(key), &res)
	return res
}

// MergeCategoryGroup builds several tabs as a single batch and merges only
// the first resulting root. Further roots are discarded with a diagnostic;
// call MergeCategory per tab to merge each of them.
func MergeCategoryGroup(o Options, existing []api.Node, batches []ingest.Batch) Result {
	var res Result
	rows, diags := ingest.Normalizer{}.NormalizeAll(batches)
	res.Diagnostics.Extend(diags)
	roots := build(o, rows, &res)
	merge(existing, roots, tree.FirstRootOnly(), &res)
	return res
}

// MergeEvents filters the events tab by Active and ShowUntil, rebuilds it,
// and replaces the events node.
func MergeEvents(o Options, existing []api.Node, batch ingest.Batch) Result {
	var res Result
	rows, diags := ingest.Normalizer{}.Normalize(batch)
	res.Diagnostics.Extend(diags)

	kept, stats, fdiags := ingest.EventFilter{Now: o.Now}.Apply(rows)
	res.Filter = stats
	res.Diagnostics.Extend(fdiags)

	roots := build(o, kept, &res)
	merge(existing, roots, tree.ReplaceByKey(o.eventsKey()), &res)
	return res
}

// Dispatch routes a batch to the entry point for its kind. Category batches
// use MergeCategory with the default key; events batches use MergeEvents.
// ok is false for kinds that do not feed the tree.
func Dispatch(o Options, existing []api.Node, batch ingest.Batch) (res Result, ok bool) {
	switch batch.Kind {
	case ingest.KindCategory:
		return MergeCategory(o, existing, batch, ""), true
	case ingest.KindEvents:
		return MergeEvents(o, existing, batch), true
	default:
		return Result{Tree: existing}, false
	}
}
