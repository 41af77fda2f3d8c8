package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/agentic-research/contentsync/internal/tree"
)

// AllDataFile is the combined export every category is also written to.
// When present in an import directory it is the only file read.
const AllDataFile = "ВСЕ_ДАННЫЕ.csv"

const bom = "\ufeff"

// EscapeCell replaces line breaks with their two-character escapes so a
// cell survives a spreadsheet paste. Backslashes are doubled so literal
// "\n" text is told apart from an escaped line break.
func EscapeCell(s string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`).Replace(s)
}

// UnescapeCell is the inverse of EscapeCell. A backslash before anything
// other than n, r or another backslash is kept as is.
func UnescapeCell(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(s[i])
			continue
		}
		i++
	}
	return b.String()
}

// ReadTSV reads a tab-delimited table with a header row. A leading BOM is
// dropped and cells are unescaped.
func ReadTSV(r io.Reader) (header []string, rows [][]string, err error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(bom)); err == nil && string(b) == bom {
		_, _ = br.Discard(len(bom))
	}
	cr := csv.NewReader(br)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tsv: %w", err)
		}
		for i := range rec {
			rec[i] = UnescapeCell(rec[i])
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	if header == nil {
		return nil, nil, errors.New("read tsv: missing header row")
	}
	return header, rows, nil
}

// WriteTSV writes a BOM, the header, and the escaped rows.
func WriteTSV(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return fmt.Errorf("write tsv: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write tsv header: %w", err)
	}
	for _, row := range rows {
		escaped := make([]string, len(row))
		for i, c := range row {
			escaped[i] = EscapeCell(c)
		}
		if err := cw.Write(escaped); err != nil {
			return fmt.Errorf("write tsv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVSource reads one batch per .csv file of a directory.
type CSVSource struct {
	FS         billy.Filesystem
	Dir        string
	Classifier Classifier
}

// Sheets lists the directory's .csv files by name. If AllDataFile exists it
// is returned alone.
func (s *CSVSource) Sheets(_ context.Context) ([]string, error) {
	infos, err := s.FS.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Dir, err)
	}
	var names []string
	for _, fi := range infos {
		if fi.IsDir() || !strings.EqualFold(path.Ext(fi.Name()), ".csv") {
			continue
		}
		if fi.Name() == AllDataFile {
			return []string{AllDataFile}, nil
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Fetch reads the named files, or every file Sheets lists.
func (s *CSVSource) Fetch(ctx context.Context, names ...string) ([]Batch, error) {
	if len(names) == 0 {
		all, err := s.Sheets(ctx)
		if err != nil {
			return nil, err
		}
		names = all
	}
	batches := make([]Batch, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := s.read(name)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (s *CSVSource) read(name string) (Batch, error) {
	if path.Ext(name) == "" {
		name += ".csv"
	}
	p := path.Join(s.Dir, name)
	f, err := s.FS.Open(p)
	if err != nil {
		return Batch{}, fmt.Errorf("open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }() // safe to ignore

	header, rows, err := ReadTSV(f)
	if err != nil {
		return Batch{}, fmt.Errorf("%s: %w", p, err)
	}
	title := strings.TrimSuffix(name, path.Ext(name))
	return Batch{Name: title, Kind: s.Classifier.Classify(name), Header: header, Rows: rows}, nil
}

// WriteBatch writes b into dir on fs as <b.Name>.csv. The name must be a
// single path element.
func WriteBatch(fs billy.Filesystem, dir string, b Batch) (string, error) {
	if b.Name != tree.SafeName(b.Name) {
		return "", fmt.Errorf("batch name %q is not a file name", b.Name)
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	p := path.Join(dir, b.Name+".csv")
	f, err := fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", p, err)
	}
	if err := WriteTSV(f, b.Header, b.Rows); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("%s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", p, err)
	}
	return p, nil
}
