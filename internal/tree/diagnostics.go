package tree

import (
	"fmt"
	"strings"
)

// Code identifies the kind of a Diagnostic.
type Code string

const (
	CodeOrphanRecord     Code = "OrphanRecord"
	CodeDuplicateID      Code = "DuplicateId"
	CodeCyclicParent     Code = "CyclicParent"
	CodeDateParseWarning Code = "DateParseWarning"
	CodeValidationError  Code = "ValidationError"
	CodeMergeNoOp        Code = "MergeNoOp"
	CodeAmbiguousPath    Code = "AmbiguousPath"
	CodeDuplicateSibling Code = "DuplicateSibling"
	CodeDiscardedRoot    Code = "DiscardedRoot"
	CodeMarkupWarning    Code = "MarkupWarning"
)

// Severity orders diagnostics for reporting. None of them abort a run.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Severity returns the default severity for the code.
func (c Code) Severity() Severity {
	switch c {
	case CodeMergeNoOp, CodeDiscardedRoot:
		return SeverityInfo
	case CodeOrphanRecord, CodeCyclicParent, CodeValidationError:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// Diagnostic is a non-fatal finding collected during a run.
type Diagnostic struct {
	Code     Code     `json:"code"`
	Severity Severity `json:"-"`
	RecordID string   `json:"record_id,omitempty"`
	Row      int      `json:"row,omitempty"`
	Batch    string   `json:"batch,omitempty"`
	Detail   string   `json:"detail"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", d.Severity, d.Code)
	if d.Batch != "" {
		fmt.Fprintf(&b, " [%s", d.Batch)
		if d.Row > 0 {
			fmt.Fprintf(&b, ":%d", d.Row)
		}
		b.WriteString("]")
	}
	if d.RecordID != "" {
		fmt.Fprintf(&b, " %s", d.RecordID)
	}
	if d.Detail != "" {
		fmt.Fprintf(&b, ": %s", d.Detail)
	}
	return b.String()
}

// NewDiagnostic builds a Diagnostic with the code's default severity.
func NewDiagnostic(code Code, rec Record, format string, args ...any) Diagnostic {
	return Diagnostic{
		Code:     code,
		Severity: code.Severity(),
		RecordID: rec.ID,
		Row:      rec.Row,
		Batch:    rec.Batch,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// Diagnostics accumulates findings in the order they were produced.
type Diagnostics []Diagnostic

// Add appends d.
func (ds *Diagnostics) Add(d Diagnostic) {
	if d.Severity == 0 && d.Code.Severity() != SeverityInfo {
		d.Severity = d.Code.Severity()
	}
	*ds = append(*ds, d)
}

// Extend appends all of other.
func (ds *Diagnostics) Extend(other Diagnostics) {
	*ds = append(*ds, other...)
}

// Count returns how many diagnostics carry code.
func (ds Diagnostics) Count(code Code) int {
	n := 0
	for _, d := range ds {
		if d.Code == code {
			n++
		}
	}
	return n
}

// Filter returns the diagnostics carrying code.
func (ds Diagnostics) Filter(code Code) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}

// Summary returns per-code counts, for log lines and API responses.
func (ds Diagnostics) Summary() map[Code]int {
	out := make(map[Code]int)
	for _, d := range ds {
		out[d.Code]++
	}
	return out
}
