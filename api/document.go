package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Document is the persisted content tree consumed by the site renderer.
// It is stored as {"main": [...]}.
type Document struct {
	// Main holds the top-level categories in display order.
	Main []Node `json:"main"`
}

// Node is one entry of the content tree.
// Optional display fields are omitted from the JSON when empty; the
// renderer treats absence as "do not show".
type Node struct {
	Label     string `json:"label"`
	Value     string `json:"value"`
	Sub       string `json:"sub,omitempty"`
	Image     string `json:"image,omitempty"`
	FullImage string `json:"fimage,omitempty"`
	ShortDesc string `json:"desc,omitempty"`
	FullDesc  string `json:"fulldesc,omitempty"`
	Timetable string `json:"timetable,omitempty"`
	Price     string `json:"price,omitempty"`
	// Children is omitted entirely when the node is a leaf.
	Children []Node `json:"children,omitempty"`
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	c := n
	if len(n.Children) > 0 {
		c.Children = make([]Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// Fields returns the display fields that are set, keyed by their JSON name.
// Label and value are always included.
func (n Node) Fields() map[string]string {
	out := map[string]string{
		"label": n.Label,
		"value": n.Value,
	}
	for k, v := range map[string]string{
		"sub":       n.Sub,
		"image":     n.Image,
		"fimage":    n.FullImage,
		"desc":      n.ShortDesc,
		"fulldesc":  n.FullDesc,
		"timetable": n.Timetable,
		"price":     n.Price,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// CloneNodes deep-copies a node sequence.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// Decode reads a document. A document without "main" decodes to an empty tree.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// Encode writes the document as two-space indented JSON. Non-ASCII text and
// HTML inside description fields are written verbatim.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	main := doc.Main
	if main == nil {
		main = []Node{}
	}
	if err := enc.Encode(Document{Main: main}); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// Marshal is Encode into a byte slice.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
