// Package lint checks the HTML fragments carried by record display fields.
package lint

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/html"

	"github.com/agentic-research/contentsync/internal/tree"
)

// Finding is one markup problem inside a fragment.
type Finding struct {
	Message string
	Line    uint32
	Column  uint32
}

func (f Finding) String() string {
	return fmt.Sprintf("line %d col %d: %s", f.Line+1, f.Column+1, f.Message)
}

// inlineTags must be closed explicitly; an unclosed one bleeds styling into
// the rest of the page.
var inlineTags = map[string]bool{
	"a": true, "b": true, "i": true, "u": true, "s": true,
	"em": true, "strong": true, "span": true, "small": true, "sup": true, "sub": true,
}

// Fragment parses content as HTML and reports broken markup.
// Plain text without tags is never parsed.
func Fragment(content string) ([]Finding, error) {
	if !strings.ContainsAny(content, "<>&") {
		return nil, nil
	}
	src := []byte(content)

	parser := sitter.NewParser()
	parser.SetLanguage(html.GetLanguage())
	t, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	var out []Finding
	walk(t.RootNode(), src, &out)
	return out, nil
}

func walk(n *sitter.Node, src []byte, out *[]Finding) {
	switch {
	case n.IsMissing():
		*out = append(*out, at(n, fmt.Sprintf("missing %s", n.Type())))
		return
	case n.IsError():
		*out = append(*out, at(n, fmt.Sprintf("unparseable markup %q", snippet(n.Content(src)))))
		return
	}

	switch n.Type() {
	case "erroneous_end_tag":
		*out = append(*out, at(n, fmt.Sprintf("unmatched end tag %s", n.Content(src))))
		return
	case "element":
		if name := startTagName(n, src); inlineTags[name] && !hasChild(n, "end_tag") {
			*out = append(*out, at(n, fmt.Sprintf("unclosed <%s>", name)))
		}
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), src, out)
	}
}

func startTagName(element *sitter.Node, src []byte) string {
	for i := 0; i < int(element.NamedChildCount()); i++ {
		c := element.NamedChild(i)
		if c.Type() != "start_tag" {
			continue
		}
		for j := 0; j < int(c.NamedChildCount()); j++ {
			if name := c.NamedChild(j); name.Type() == "tag_name" {
				return strings.ToLower(name.Content(src))
			}
		}
	}
	return ""
}

func hasChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if n.NamedChild(i).Type() == typ {
			return true
		}
	}
	return false
}

func at(n *sitter.Node, msg string) Finding {
	p := n.StartPoint()
	return Finding{Message: msg, Line: p.Row, Column: p.Column}
}

func snippet(s string) string {
	const max = 24
	r := []rune(s)
	if len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

// Records lints the HTML-bearing fields of each record and returns one
// MarkupWarning per finding. Parse failures are reported the same way.
func Records(records []tree.Record) tree.Diagnostics {
	var diags tree.Diagnostics
	for _, rec := range records {
		for _, f := range []struct {
			name string
			val  tree.Optional
		}{
			{"desc", rec.ShortDesc},
			{"fulldesc", rec.FullDesc},
			{"timetable", rec.Timetable},
		} {
			content, ok := f.val.Get()
			if !ok {
				continue
			}
			findings, err := Fragment(content)
			if err != nil {
				diags.Add(tree.NewDiagnostic(tree.CodeMarkupWarning, rec, "%s: %v", f.name, err))
				continue
			}
			for _, fd := range findings {
				diags.Add(tree.NewDiagnostic(tree.CodeMarkupWarning, rec, "%s: %s", f.name, fd))
			}
		}
	}
	return diags
}
