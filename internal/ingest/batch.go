// Package ingest turns tabular sources into normalized records.
//
// A Source yields Batches: one per spreadsheet tab or CSV file, each an
// ordered header list paired with ordered value lists. The Normalizer turns a
// Batch into typed rows; EventFilter gates rows that carry lifecycle fields.
// Nothing past the Normalizer sees raw header/value pairs.
package ingest

import (
	"context"
	"regexp"
	"strings"
)

// Kind classifies a batch by the content it carries.
type Kind string

const (
	KindCategory Kind = "category"
	KindEvents   Kind = "events"
	KindSettings Kind = "settings"
	KindSlides   Kind = "slides"
	KindPromo    Kind = "promo"
	KindNews     Kind = "news"
	KindUnknown  Kind = "unknown"
)

// ParseKind maps a configured kind name to a Kind, KindUnknown if unrecognized.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCategory, KindEvents, KindSettings, KindSlides, KindPromo, KindNews:
		return k
	default:
		return KindUnknown
	}
}

// Batch is one named tab of raw rows.
type Batch struct {
	Name   string
	Kind   Kind
	Header []string
	Rows   [][]string
}

// Source yields batches from a tabular backend.
type Source interface {
	// Sheets lists the available batch names in source order.
	Sheets(ctx context.Context) ([]string, error)
	// Fetch returns the named batches, in the order requested. With no names
	// it returns every batch.
	Fetch(ctx context.Context, names ...string) ([]Batch, error)
}

// Classifier assigns a Kind to a batch name.
type Classifier struct {
	// Overrides maps exact batch names to kinds and wins over every rule.
	Overrides map[string]Kind
}

var numberedTab = regexp.MustCompile(`^\d{2}_`)

var kindMarkers = []struct {
	kind    Kind
	markers []string
}{
	{KindSettings, []string{"НАСТРОЙКИ", "SETTINGS"}},
	{KindSlides, []string{"СЛАЙДЫ", "SLIDES"}},
	{KindEvents, []string{"СОБЫТИЯ", "EVENTS"}},
	{KindPromo, []string{"АКЦИИ", "PROMO"}},
	{KindNews, []string{"НОВОСТИ", "NEWS"}},
}

// Classify returns the kind for name. Unlisted names are matched by marker
// words in the title; remaining numbered tabs ("02_GYM") are categories.
func (c Classifier) Classify(name string) Kind {
	if k, ok := c.Overrides[name]; ok {
		return k
	}
	upper := strings.ToUpper(strings.TrimSuffix(name, ".csv"))
	for _, km := range kindMarkers {
		for _, m := range km.markers {
			if strings.Contains(upper, m) {
				return km.kind
			}
		}
	}
	if numberedTab.MatchString(upper) {
		return KindCategory
	}
	return KindUnknown
}

// OfKind returns the batches whose Kind is k, preserving order.
func OfKind(batches []Batch, k Kind) []Batch {
	var out []Batch
	for _, b := range batches {
		if b.Kind == k {
			out = append(out, b)
		}
	}
	return out
}
