// Package extras produces the side files the site reads next to the content
// document: settings.json, slides.json, and cache-busted asset references.
package extras

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/agentic-research/contentsync/internal/ingest"
	"github.com/agentic-research/contentsync/internal/tree"
)

// Entries is a JSON object that keeps source column or row order.
type Entries = orderedmap.OrderedMap[string, string]

// Settings reads a Key/Value tab. Rows with a blank key are skipped; a
// repeated key keeps its first position and takes the last value.
func Settings(b ingest.Batch) (*Entries, error) {
	cols := ingest.ColumnsOf(b.Header)
	if !cols.Has(ingest.FieldKey) || !cols.Has(ingest.FieldValue) {
		return nil, fmt.Errorf("%s: settings need %s and %s columns", b.Name,
			ingest.LocalHeaders[ingest.FieldKey], ingest.LocalHeaders[ingest.FieldValue])
	}
	out := orderedmap.New[string, string]()
	for _, row := range b.Rows {
		key := strings.TrimSpace(cols.Get(row, ingest.FieldKey))
		if key == "" {
			continue
		}
		out.Set(key, strings.TrimSpace(cols.Get(row, ingest.FieldValue)))
	}
	return out, nil
}

// Slides turns each row of a slides tab into an object keyed by header, in
// header order. Rows whose Active cell is FALSE are left out.
func Slides(b ingest.Batch) (slides []*Entries, skipped int) {
	cols := ingest.ColumnsOf(b.Header)
	for _, row := range b.Rows {
		if cols.Has(ingest.FieldActive) && !ingest.IsActive(tree.Some(cols.Get(row, ingest.FieldActive))) {
			skipped++
			continue
		}
		slide := orderedmap.New[string, string]()
		for i, h := range b.Header {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			slide.Set(h, v)
		}
		slides = append(slides, slide)
	}
	if slides == nil {
		slides = []*Entries{}
	}
	return slides, skipped
}

// WriteJSON writes v to p on fs, indented by two spaces with non-ASCII text
// left as is.
func WriteJSON(fs billy.Filesystem, p string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	if dir := path.Dir(p); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(fs, p, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

// BustCache stamps ?v=<version> onto every src= or href= reference to one of
// assets, replacing an existing stamp. It returns the rewritten page and the
// number of references touched.
func BustCache(page []byte, assets []string, version int64) ([]byte, int) {
	stamp := "?v=" + strconv.FormatInt(version, 10)
	total := 0
	for _, a := range assets {
		re := regexp.MustCompile(`((?:src|href)=["'])` + regexp.QuoteMeta(a) + `(?:\?v=\d+)?(["'])`)
		page = re.ReplaceAllFunc(page, func(m []byte) []byte {
			total++
			sub := re.FindSubmatch(m)
			return []byte(string(sub[1]) + a + stamp + string(sub[2]))
		})
	}
	return page, total
}
