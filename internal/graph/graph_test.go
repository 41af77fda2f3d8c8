package graph

import (
	"errors"
	"io/fs"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/agentic-research/contentsync/api"
)

func TestMemoryStore_AddRootAndGetNode(t *testing.T) {
	store := NewMemoryStore()
	store.AddRoot(&Node{
		ID:       "gym",
		Mode:     fs.ModeDir,
		Children: []string{"gym/label"},
	})

	node, err := store.GetNode("gym")
	if err != nil {
		t.Fatalf("GetNode(gym) returned error: %v", err)
	}
	if !node.Mode.IsDir() {
		t.Error("gym should be a directory")
	}
	if len(node.Children) != 1 {
		t.Errorf("gym children = %d, want 1", len(node.Children))
	}

	roots, err := store.ListChildren("/")
	if err != nil {
		t.Fatalf("ListChildren(/): %v", err)
	}
	if !reflect.DeepEqual(roots, []string{"gym"}) {
		t.Errorf("roots = %v", roots)
	}
}

func TestMemoryStore_GetNodeNormalizesLeadingSlash(t *testing.T) {
	store := NewMemoryStore()
	store.AddNode(&Node{ID: "foo", Mode: fs.ModeDir})

	node, err := store.GetNode("/foo")
	if err != nil {
		t.Fatalf("GetNode(/foo) should resolve to foo: %v", err)
	}
	if node.ID != "foo" {
		t.Errorf("ID = %q, want %q", node.ID, "foo")
	}

	if _, err := store.GetNode("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNode(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ReadContentOffsets(t *testing.T) {
	store := NewMemoryStore()
	store.AddNode(&Node{ID: "gym/desc", Data: []byte("hello world")})

	buf := make([]byte, 5)
	n, err := store.ReadContent("gym/desc", buf, 6)
	if err != nil {
		t.Fatalf("ReadContent: %v", err)
	}
	if got := string(buf[:n]); got != "world" {
		t.Errorf("ReadContent at 6 = %q, want world", got)
	}

	n, err = store.ReadContent("gym/desc", buf, 100)
	if err != nil || n != 0 {
		t.Errorf("ReadContent past end = (%d, %v), want (0, nil)", n, err)
	}
}

func sampleDocument() *api.Document {
	return &api.Document{Main: []api.Node{
		{Label: "Gym", Value: "gym", ShortDesc: "<b>Open</b> daily", Children: []api.Node{
			{Label: "Pool", Value: "pool", Price: "500"},
			{Label: "Pool again", Value: "pool"},
			{Label: "Odd", Value: "price"},
		}},
		{Label: "Spa", Value: "spa"},
	}}
}

func TestProject_Layout(t *testing.T) {
	mod := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	g, err := Project(sampleDocument(), mod)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	roots, _ := g.ListChildren("")
	if want := []string{DocumentFile, "gym", "spa"}; !reflect.DeepEqual(roots, want) {
		t.Fatalf("roots = %v, want %v", roots, want)
	}

	gym, err := g.GetNode("/gym")
	if err != nil {
		t.Fatalf("GetNode(gym): %v", err)
	}
	want := []string{"gym/label", "gym/value", "gym/desc", "gym/pool", "gym/pool~2", "gym/price"}
	if !reflect.DeepEqual(gym.Children, want) {
		t.Errorf("gym children = %v, want %v", gym.Children, want)
	}
	if !gym.ModTime.Equal(mod) {
		t.Errorf("ModTime = %v", gym.ModTime)
	}

	desc, _ := g.GetNode("gym/desc")
	if string(desc.Data) != "<b>Open</b> daily\n" {
		t.Errorf("desc = %q", desc.Data)
	}
	if desc.Mode.IsDir() {
		t.Error("field files must not be directories")
	}

	price, _ := g.GetNode("gym/pool/price")
	if string(price.Data) != "500\n" {
		t.Errorf("price = %q", price.Data)
	}

	odd, err := g.GetNode("gym/price")
	if err != nil || !odd.Mode.IsDir() {
		t.Errorf("child valued like a field should stay a directory, got %+v %v", odd, err)
	}
}

func TestProject_DocumentFile(t *testing.T) {
	doc := sampleDocument()
	g, err := Project(doc, time.Time{})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	want, _ := api.Marshal(doc)
	n, _ := g.GetNode(DocumentFile)
	if string(n.Data) != string(want) {
		t.Errorf("document file differs from stored encoding")
	}
	if !strings.Contains(string(n.Data), `"main"`) {
		t.Errorf("document file missing main: %s", n.Data)
	}
}

func TestProject_FieldIndex(t *testing.T) {
	g, err := Project(sampleDocument(), time.Time{})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if got, want := g.WithField("price"), []string{"gym/pool"}; !reflect.DeepEqual(got, want) {
		t.Errorf("WithField(price) = %v, want %v", got, want)
	}
	want := []string{"gym", "gym/pool~2", "gym/price", "spa"}
	if got := g.WithoutField("price"); !reflect.DeepEqual(got, want) {
		t.Errorf("WithoutField(price) = %v, want %v", got, want)
	}
	if got := g.WithField("timetable"); got != nil {
		t.Errorf("WithField(timetable) = %v, want nil", got)
	}
}

func TestLive_Publish(t *testing.T) {
	l, err := NewLive(&api.Document{Main: []api.Node{{Label: "A", Value: "a"}}}, time.Time{})
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	if _, err := l.GetNode("a"); err != nil {
		t.Fatalf("before publish: %v", err)
	}
	before := l.Current()

	if err := l.Publish(&api.Document{Main: []api.Node{{Label: "B", Value: "b"}}}, time.Time{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := l.GetNode("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("a should be gone after publish, err = %v", err)
	}
	buf := make([]byte, 8)
	n, err := l.ReadContent("b/label", buf, 0)
	if err != nil || string(buf[:n]) != "B\n" {
		t.Errorf("ReadContent(b/label) = %q, %v", buf[:n], err)
	}
	if _, err := before.GetNode("a"); err != nil {
		t.Errorf("earlier projection should be untouched: %v", err)
	}
	if got := l.Generation(); got != 2 {
		t.Errorf("Generation() = %d, want 2", got)
	}
}

func TestProject_UnsafeValues(t *testing.T) {
	doc := &api.Document{Main: []api.Node{
		{Label: "Up", Value: "../up"},
		{Label: "Dot", Value: "."},
		{Label: "Slash", Value: "a/b", Children: []api.Node{{Label: "C", Value: "c"}}},
	}}
	g, err := Project(doc, time.Time{})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	roots, _ := g.ListChildren("")
	want := []string{DocumentFile, ".._up", "_", "a_b"}
	if !reflect.DeepEqual(roots, want) {
		t.Errorf("roots = %v, want %v", roots, want)
	}
	if _, err := g.GetNode("a_b/c/label"); err != nil {
		t.Errorf("nested node under a sanitized name: %v", err)
	}
}
