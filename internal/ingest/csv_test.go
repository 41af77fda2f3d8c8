package ingest

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTSV_RoundTrip(t *testing.T) {
	header := []string{"ID", "Значение", "Полное описание"}
	rows := [][]string{
		{"a", "gym", "line1\nline2\r\nline3"},
		{"b", "spa", "has \"quotes\"\tand tab"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, header, rows))
	assert.True(t, strings.HasPrefix(buf.String(), "\ufeff"))
	assert.Contains(t, buf.String(), `line1\nline2\r\nline3`)

	gotHeader, gotRows, err := ReadTSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, rows, gotRows)
}

func TestEscapeCell(t *testing.T) {
	tests := []struct {
		name, in, escaped string
	}{
		{"plain", "gym", "gym"},
		{"line breaks", "a\nb\r\nc", `a\nb\r\nc`},
		{"literal backslash n", `C:\new\readme`, `C:\\new\\readme`},
		{"trailing backslash", `dir\`, `dir\\`},
		{"mixed", "x\\\ny", `x\\\ny`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.escaped, EscapeCell(tt.in))
			assert.Equal(t, tt.in, UnescapeCell(EscapeCell(tt.in)))
		})
	}
}

func TestUnescapeCell_KeepsUnknownEscapes(t *testing.T) {
	assert.Equal(t, `a\tb`, UnescapeCell(`a\tb`))
	assert.Equal(t, `end\`, UnescapeCell(`end\`))
}

func TestReadTSV_Empty(t *testing.T) {
	_, _, err := ReadTSV(strings.NewReader(""))
	assert.Error(t, err)
}

func TestCSVSource_ListsAndFetches(t *testing.T) {
	fs := memfs.New()
	_, err := WriteBatch(fs, "export", Batch{Name: "spa", Header: []string{"ID", "Значение"}, Rows: [][]string{{"s", "spa"}}})
	require.NoError(t, err)
	_, err = WriteBatch(fs, "export", Batch{Name: "02_GYM", Header: []string{"ID", "Значение"}, Rows: [][]string{{"g", "gym"}}})
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(fs, "export/README.md", []byte("x"), 0o644))

	src := &CSVSource{FS: fs, Dir: "export"}
	names, err := src.Sheets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"02_GYM.csv", "spa.csv"}, names)

	batches, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "02_GYM", batches[0].Name)
	assert.Equal(t, KindCategory, batches[0].Kind)
	assert.Equal(t, [][]string{{"g", "gym"}}, batches[0].Rows)

	one, err := src.Fetch(context.Background(), "spa")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "spa", one[0].Name)
}

func TestCSVSource_PrefersAllDataFile(t *testing.T) {
	fs := memfs.New()
	for _, name := range []string{"gym", "ВСЕ_ДАННЫЕ"} {
		_, err := WriteBatch(fs, "in", Batch{Name: name, Header: []string{"ID"}})
		require.NoError(t, err)
	}

	names, err := (&CSVSource{FS: fs, Dir: "in"}).Sheets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{AllDataFile}, names)
}

func TestCSVSource_MissingDir(t *testing.T) {
	_, err := (&CSVSource{FS: memfs.New(), Dir: "nope"}).Sheets(context.Background())
	assert.Error(t, err)
}
