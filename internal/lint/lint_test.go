package lint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/contentsync/internal/tree"
)

func TestFragment_Clean(t *testing.T) {
	for _, in := range []string{
		"",
		"plain text",
		"<b>bold</b> and <i>italic</i>",
		"line<br>break",
		"<p>one</p><p>two</p>",
	} {
		findings, err := Fragment(in)
		require.NoError(t, err)
		assert.Empty(t, findings, in)
	}
}

func TestFragment_UnmatchedEndTag(t *testing.T) {
	findings, err := Fragment("text</i> more")
	require.NoError(t, err)
	require.NotEmpty(t, findings)
	assert.Contains(t, findings[0].Message, "unmatched end tag </i>")
	assert.Equal(t, uint32(0), findings[0].Line)
	assert.Equal(t, uint32(4), findings[0].Column)
}

func TestFragment_MismatchedNesting(t *testing.T) {
	findings, err := Fragment("<b>bold</i>")
	require.NoError(t, err)
	require.NotEmpty(t, findings)

	var msgs []string
	for _, f := range findings {
		msgs = append(msgs, f.Message)
	}
	assert.Contains(t, msgs, "unmatched end tag </i>")
}

func TestFragment_UnclosedInline(t *testing.T) {
	findings, err := Fragment("<strong>Пн-Пт 9:00")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "unclosed <strong>", findings[0].Message)
}

func TestRecords(t *testing.T) {
	recs := []tree.Record{
		{ID: "1", Value: "spa", Row: 3, Batch: "02_SPA", FullDesc: tree.Some("<b>ok</b>")},
		{ID: "2", Value: "gym", Row: 4, Batch: "02_SPA", ShortDesc: tree.Some("oops</b>"), Timetable: tree.Some("<em>9-18")},
		{ID: "3", Value: "pool", Row: 5, Batch: "02_SPA"},
	}

	diags := Records(recs)

	require.Len(t, diags, 2)
	for _, d := range diags {
		assert.Equal(t, tree.CodeMarkupWarning, d.Code)
		assert.Equal(t, tree.SeverityWarning, d.Severity)
		assert.Equal(t, "2", d.RecordID)
		assert.Equal(t, 4, d.Row)
	}
	assert.Contains(t, diags[0].Detail, "desc: ")
	assert.Contains(t, diags[1].Detail, "timetable: ")
}
