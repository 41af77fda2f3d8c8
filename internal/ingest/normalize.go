package ingest

import (
	"strconv"
	"strings"

	"github.com/agentic-research/contentsync/internal/tree"
)

// Field is a canonical column name of the row schema.
type Field string

const (
	FieldID         Field = "ID"
	FieldParentPath Field = "ParentPath"
	FieldLevel      Field = "Level"
	FieldLabel      Field = "Label"
	FieldValue      Field = "Value"
	FieldSub        Field = "Sub"
	FieldImage      Field = "Image"
	FieldFullImage  Field = "FullImage"
	FieldShortDesc  Field = "ShortDesc"
	FieldFullDesc   Field = "FullDesc"
	FieldTimetable  Field = "Timetable"
	FieldPrice      Field = "Price"
	FieldActive     Field = "Active"
	FieldShowUntil  Field = "ShowUntil"
	FieldKey        Field = "Key"
)

// RecordFields is the column order used when writing records back out.
var RecordFields = []Field{
	FieldID, FieldParentPath, FieldLevel, FieldLabel, FieldValue, FieldSub,
	FieldImage, FieldFullImage, FieldShortDesc, FieldFullDesc, FieldTimetable, FieldPrice,
}

// LocalHeaders are the column titles the content editors use in the
// spreadsheet. Exports write these so a file can be pasted straight back.
var LocalHeaders = map[Field]string{
	FieldID:         "ID",
	FieldParentPath: "Родитель",
	FieldLevel:      "Уровень",
	FieldLabel:      "Название",
	FieldValue:      "Значение",
	FieldSub:        "Подпись",
	FieldImage:      "Иконка",
	FieldFullImage:  "Обложка",
	FieldShortDesc:  "Краткое описание",
	FieldFullDesc:   "Полное описание",
	FieldTimetable:  "Расписание",
	FieldPrice:      "Цена",
	FieldActive:     "Активен",
	FieldShowUntil:  "Показывать ДО",
	FieldKey:        "Ключ",
}

var headerAliases = func() map[string]Field {
	m := make(map[string]Field)
	for f, local := range LocalHeaders {
		m[foldHeader(string(f))] = f
		m[foldHeader(local)] = f
	}
	m[foldHeader("Parent")] = FieldParentPath
	m[foldHeader("Parent Path")] = FieldParentPath
	m[foldHeader("Show Until")] = FieldShowUntil
	m[foldHeader("Показывать до")] = FieldShowUntil
	return m
}()

func foldHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.Join(strings.Fields(h), " ")
	return strings.ToLower(h)
}

// Columns maps canonical fields to column positions in a header list.
// Unknown headers are ignored; the first column wins on repeats.
type Columns map[Field]int

// ColumnsOf resolves a header list.
func ColumnsOf(header []string) Columns {
	cols := make(Columns, len(header))
	for i, h := range header {
		f, ok := headerAliases[foldHeader(h)]
		if !ok {
			continue
		}
		if _, dup := cols[f]; !dup {
			cols[f] = i
		}
	}
	return cols
}

// Get returns the cell for f in values, "" when the column is missing or the
// row is short.
func (c Columns) Get(values []string, f Field) string {
	i, ok := c[f]
	if !ok || i >= len(values) {
		return ""
	}
	return values[i]
}

// Has reports whether the header carried f.
func (c Columns) Has(f Field) bool {
	_, ok := c[f]
	return ok
}

// Row is a normalized record plus the lifecycle fields the EventFilter reads.
type Row struct {
	tree.Record
	Active    tree.Optional
	ShowUntil tree.Optional
}

// Normalizer turns raw batches into rows.
type Normalizer struct{}

// Normalize converts every non-blank row of b. Rows missing an ID or Value
// are reported as ValidationError and skipped; fully blank rows are skipped
// silently.
func (Normalizer) Normalize(b Batch) ([]Row, tree.Diagnostics) {
	cols := ColumnsOf(b.Header)
	var (
		out   []Row
		diags tree.Diagnostics
	)
	for i, values := range b.Rows {
		if blank(values) {
			continue
		}
		row := normalizeRow(cols, values)
		row.Row = i + 1
		row.Batch = b.Name
		switch {
		case row.ID == "":
			diags.Add(tree.NewDiagnostic(tree.CodeValidationError, row.Record, "missing %s (value %q)", FieldID, row.Value))
			continue
		case row.Value == "":
			diags.Add(tree.NewDiagnostic(tree.CodeValidationError, row.Record, "missing %s", FieldValue))
			continue
		}
		out = append(out, row)
	}
	return out, diags
}

func normalizeRow(cols Columns, values []string) Row {
	get := func(f Field) string { return cols.Get(values, f) }
	level, err := strconv.Atoi(strings.TrimSpace(get(FieldLevel)))
	if err != nil {
		level = 0
	}
	return Row{
		Record: tree.Record{
			ID:         strings.TrimSpace(get(FieldID)),
			ParentPath: get(FieldParentPath),
			Level:      level,
			Label:      get(FieldLabel),
			Value:      get(FieldValue),
			Sub:        tree.OptionalOf(get(FieldSub)),
			Image:      tree.OptionalOf(get(FieldImage)),
			FullImage:  tree.OptionalOf(get(FieldFullImage)),
			ShortDesc:  tree.OptionalOf(get(FieldShortDesc)),
			FullDesc:   tree.OptionalOf(get(FieldFullDesc)),
			Timetable:  tree.OptionalOf(get(FieldTimetable)),
			Price:      tree.OptionalOf(get(FieldPrice)),
		},
		Active:    tree.OptionalOf(strings.TrimSpace(get(FieldActive))),
		ShowUntil: tree.OptionalOf(strings.TrimSpace(get(FieldShowUntil))),
	}
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Records strips lifecycle fields.
func Records(rows []Row) []tree.Record {
	out := make([]tree.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out
}

// Values renders a record in RecordFields order, the inverse of Normalize.
func Values(r tree.Record) []string {
	return []string{
		r.ID, r.ParentPath, strconv.Itoa(r.Level), r.Label, r.Value,
		r.Sub.String(), r.Image.String(), r.FullImage.String(), r.ShortDesc.String(),
		r.FullDesc.String(), r.Timetable.String(), r.Price.String(),
	}
}

// LocalHeader returns RecordFields as editor-facing column titles.
func LocalHeader() []string {
	out := make([]string, len(RecordFields))
	for i, f := range RecordFields {
		out[i] = LocalHeaders[f]
	}
	return out
}

// NormalizeAll normalizes every batch and concatenates the rows in batch
// order. Each batch is keyed by its own header.
func (n Normalizer) NormalizeAll(batches []Batch) ([]Row, tree.Diagnostics) {
	var (
		out   []Row
		diags tree.Diagnostics
	)
	for _, b := range batches {
		rows, d := n.Normalize(b)
		out = append(out, rows...)
		diags.Extend(d)
	}
	return out, diags
}

// DedupeByID keeps the first row for each ID. It is used when the same
// rows are expected in several exported files.
func DedupeByID(rows []Row) (kept []Row, dropped int) {
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.ID] {
			dropped++
			continue
		}
		seen[r.ID] = true
		kept = append(kept, r)
	}
	return kept, dropped
}
