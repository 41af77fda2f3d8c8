package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/contentsync/internal/tree"
)

// FilterStats counts what an EventFilter removed.
type FilterStats struct {
	Kept     int `json:"kept"`
	Inactive int `json:"inactive"`
	Expired  int `json:"expired"`
}

// EventFilter gates rows on their Active and ShowUntil fields.
// A row is kept only if both predicates pass.
type EventFilter struct {
	// Now returns the current time; its local date is "today". Defaults to time.Now.
	Now func() time.Time
}

// Apply filters rows, preserving order.
func (f EventFilter) Apply(rows []Row) ([]Row, FilterStats, tree.Diagnostics) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	t := now()
	today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())

	var (
		out   []Row
		stats FilterStats
		diags tree.Diagnostics
	)
	for _, r := range rows {
		if !IsActive(r.Active) {
			stats.Inactive++
			continue
		}
		if raw, ok := r.ShowUntil.Get(); ok {
			until, err := ParseDate(raw, t.Location())
			if err != nil {
				diags.Add(tree.NewDiagnostic(tree.CodeDateParseWarning, r.Record, "%s %q kept: %v", FieldShowUntil, raw, err))
			} else if until.Before(today) {
				stats.Expired++
				continue
			}
		}
		out = append(out, r)
	}
	stats.Kept = len(out)
	return out, stats, diags
}

// IsActive reports whether an Active cell lets a row through: anything but
// a case-insensitive "FALSE".
func IsActive(active tree.Optional) bool {
	v, ok := active.Get()
	return !ok || !strings.EqualFold(strings.TrimSpace(v), "FALSE")
}

// ParseDate parses DD.MM.YYYY or YYYY-MM-DD into midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	var y, m, d string
	switch {
	case strings.Count(s, ".") == 2:
		parts := strings.Split(s, ".")
		d, m, y = parts[0], parts[1], parts[2]
	case strings.Count(s, "-") == 2:
		parts := strings.Split(s, "-")
		y, m, d = parts[0], parts[1], parts[2]
	default:
		return time.Time{}, errors.New("unrecognized date format")
	}
	if len(y) != 4 {
		return time.Time{}, fmt.Errorf("year %q is not four digits", y)
	}
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, errors.New("non-numeric date component")
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if date.Year() != year || int(date.Month()) != month || date.Day() != day {
		return time.Time{}, errors.New("date out of range")
	}
	return date, nil
}
