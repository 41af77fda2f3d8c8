package tree

import (
	"testing"

	"github.com/agentic-research/contentsync/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(value string, children ...api.Node) api.Node {
	return api.Node{Label: value, Value: value, Children: children}
}

func values(nodes []api.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Value)
	}
	return out
}

func TestMerge_ReplacesInPlace(t *testing.T) {
	existing := []api.Node{node("gym"), node("spa", node("old")), node("events")}
	fresh := node("spa", node("sauna"), node("pool"))

	got, diags, changed := Merge(existing, []api.Node{fresh}, ReplaceByKey("spa"))

	require.True(t, changed)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"gym", "spa", "events"}, values(got))
	assert.Equal(t, []string{"sauna", "pool"}, values(got[1].Children))
	assert.Equal(t, existing[0], got[0])
	assert.Equal(t, existing[2], got[2])
	// existing is untouched
	assert.Equal(t, []string{"old"}, values(existing[1].Children))
}

func TestMerge_AppendsWhenKeyMissing(t *testing.T) {
	existing := []api.Node{node("gym"), node("spa")}

	got, _, changed := Merge(existing, []api.Node{node("kids")}, ReplaceByKey("kids"))

	require.True(t, changed)
	assert.Equal(t, []string{"gym", "spa", "kids"}, values(got))
}

func TestMerge_EmptyKeyUsesFirstRootValue(t *testing.T) {
	existing := []api.Node{node("gym"), node("spa")}

	got, _, _ := Merge(existing, []api.Node{node("gym", node("hall2"))}, ReplaceByKey(""))

	assert.Equal(t, []string{"gym", "spa"}, values(got))
	assert.Equal(t, []string{"hall2"}, values(got[0].Children))
}

func TestMerge_KeyDiffersFromRootValue(t *testing.T) {
	// The tab was renamed: the old slot is found by key, and the new root takes it.
	existing := []api.Node{node("gym"), node("spa")}

	got, _, _ := Merge(existing, []api.Node{node("wellness")}, ReplaceByKey("spa"))
	assert.Equal(t, []string{"gym", "wellness"}, values(got))

	again, _, _ := Merge(got, []api.Node{node("wellness")}, ReplaceByKey("spa"))
	assert.Equal(t, got, again)
}

func TestMerge_Idempotent(t *testing.T) {
	existing := []api.Node{node("gym"), node("spa")}
	fresh := []api.Node{node("events", node("concert"))}

	once, _, _ := Merge(existing, fresh, ReplaceByKey("events"))
	twice, _, _ := Merge(once, fresh, ReplaceByKey("events"))

	assert.Equal(t, once, twice)
}

func TestMerge_NoRootsIsNoOp(t *testing.T) {
	existing := []api.Node{node("gym")}

	got, diags, changed := Merge(existing, nil, ReplaceByKey("events"))

	assert.False(t, changed)
	assert.Equal(t, existing, got)
	assert.Equal(t, 1, diags.Count(CodeMergeNoOp))
}

func TestMerge_FirstRootOnlyDiscardsRest(t *testing.T) {
	existing := []api.Node{node("gym"), node("spa")}

	got, diags, changed := Merge(existing, []api.Node{node("spa", node("a")), node("kids")}, FirstRootOnly())

	require.True(t, changed)
	assert.Equal(t, []string{"gym", "spa"}, values(got))
	assert.Equal(t, []string{"a"}, values(got[1].Children))
	discarded := diags.Filter(CodeDiscardedRoot)
	require.Len(t, discarded, 1)
	assert.Contains(t, discarded[0].Detail, "kids")
}

func TestMerge_ReplaceByKeyPicksMatchingRoot(t *testing.T) {
	got, diags, _ := Merge([]api.Node{node("gym")}, []api.Node{node("other"), node("gym", node("x"))}, ReplaceByKey("gym"))

	assert.Equal(t, []string{"gym"}, values(got))
	assert.Equal(t, []string{"x"}, values(got[0].Children))
	assert.Equal(t, 1, diags.Count(CodeDiscardedRoot))
}

func TestMerge_ReplaceAll(t *testing.T) {
	existing := []api.Node{node("gym"), node("spa")}

	got, diags, changed := Merge(existing, []api.Node{node("kids"), node("gym")}, ReplaceAll())

	require.True(t, changed)
	assert.Empty(t, diags)
	assert.Equal(t, []string{"kids", "gym"}, values(got))
}

func TestMerge_ReplacesOnlyFirstDuplicateSlot(t *testing.T) {
	existing := []api.Node{node("spa", node("a")), node("spa", node("b"))}

	got, _, _ := Merge(existing, []api.Node{node("spa", node("c"))}, ReplaceByKey("spa"))

	require.Len(t, got, 2)
	assert.Equal(t, []string{"c"}, values(got[0].Children))
	assert.Equal(t, []string{"b"}, values(got[1].Children))
}

func TestPicked(t *testing.T) {
	roots := []api.Node{node("other"), node("gym"), node("spa")}

	assert.Equal(t, []string{"gym"}, values(Picked(roots, ReplaceByKey("gym"))))
	assert.Equal(t, []string{"other"}, values(Picked(roots, ReplaceByKey("kids"))))
	assert.Equal(t, []string{"other"}, values(Picked(roots, FirstRootOnly())))
	assert.Equal(t, []string{"other", "gym", "spa"}, values(Picked(roots, ReplaceAll())))
	assert.Empty(t, Picked(nil, ReplaceAll()))
}
