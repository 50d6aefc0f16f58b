package shadow

import (
	"errors"
	"testing"

	"github.com/hazyhaar/domtrack/mutation"
)

func testSnapshot() *mutation.Snapshot {
	return &mutation.Snapshot{
		ID:        "snap-1",
		SessionID: "sess-1",
		Root: &mutation.Node{
			Tag: "html",
			Children: []*mutation.Node{
				{Tag: "body", Children: []*mutation.Node{
					{Tag: "div", Children: []*mutation.Node{
						{Tag: "button", Text: "Register Now", Attrs: map[string]string{"class": "cta"}},
						{Tag: "p", Text: "Limited offer"},
					}},
					{Tag: "div", Children: []*mutation.Node{
						{Tag: "a", Text: "Docs", Attrs: map[string]string{"href": "/docs"}},
					}},
				}},
			},
		},
	}
}

func loadTest(t *testing.T) *Tree {
	t.Helper()
	tr := New()
	tr.Load(testSnapshot())
	return tr
}

func TestLoad_Count(t *testing.T) {
	tr := loadTest(t)
	if tr.Len() != 7 {
		t.Errorf("Len: got %d, want 7", tr.Len())
	}
}

func TestFlatten_TrackableOnly(t *testing.T) {
	tr := loadTest(t)
	entries := tr.Flatten()
	if len(entries) != 2 {
		t.Fatalf("Flatten: got %d entries, want 2 (button, a)", len(entries))
	}

	btn := entries[0]
	if btn.Node.Tag != "button" {
		t.Errorf("entry[0]: got %q, want button", btn.Node.Tag)
	}
	if btn.XPath != "/html/body/div[1]/button" {
		t.Errorf("button XPath: got %q", btn.XPath)
	}
	wantPath := []string{"html", "body", "div"}
	if len(btn.Path) != len(wantPath) {
		t.Fatalf("button Path: got %v", btn.Path)
	}
	for i := range wantPath {
		if btn.Path[i] != wantPath[i] {
			t.Errorf("button Path[%d]: got %q, want %q", i, btn.Path[i], wantPath[i])
		}
	}
	if btn.SiblingIndex != 0 {
		t.Errorf("button SiblingIndex: got %d", btn.SiblingIndex)
	}
	if btn.NearbyText != "Limited offer" {
		t.Errorf("button NearbyText: got %q", btn.NearbyText)
	}

	if entries[1].Node.Tag != "a" || entries[1].XPath != "/html/body/div[2]/a" {
		t.Errorf("entry[1]: got %q at %q", entries[1].Node.Tag, entries[1].XPath)
	}
}

func TestApply_AttrAndText(t *testing.T) {
	tr := loadTest(t)

	if err := tr.Apply(mutation.Record{
		Op: mutation.OpAttr, XPath: "/html/body/div[1]/button", Name: "class", Value: "cta-v2",
	}); err != nil {
		t.Fatalf("attr: %v", err)
	}
	if err := tr.Apply(mutation.Record{
		Op: mutation.OpText, XPath: "/html/body/div[1]/button", Value: "Join Now",
	}); err != nil {
		t.Fatalf("text: %v", err)
	}

	entries := tr.Flatten()
	if entries[0].Node.Text != "Join Now" {
		t.Errorf("text after patch: got %q", entries[0].Node.Text)
	}
	if entries[0].Node.Attrs["class"] != "cta-v2" {
		t.Errorf("class after patch: got %q", entries[0].Node.Attrs["class"])
	}
}

func TestApply_TextNodeXPath(t *testing.T) {
	tr := loadTest(t)
	err := tr.Apply(mutation.Record{
		Op: mutation.OpText, XPath: "/html/body/div[1]/button/text()", Value: "Click",
	})
	if err != nil {
		t.Fatalf("text() suffix: %v", err)
	}
	if got := tr.Flatten()[0].Node.Text; got != "Click" {
		t.Errorf("got %q, want %q", got, "Click")
	}
}

func TestApply_InsertParsesHTML(t *testing.T) {
	tr := loadTest(t)
	err := tr.Apply(mutation.Record{
		Op:    mutation.OpInsert,
		XPath: "/html/body/div[1]/button[2]",
		Tag:   "button",
		HTML:  `<button id="buy" onclick="buy()">Buy <b>now</b></button>`,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	entries := tr.Flatten()
	if len(entries) != 3 {
		t.Fatalf("after insert: got %d entries, want 3", len(entries))
	}

	var inserted *Entry
	for i := range entries {
		if entries[i].Node.Attrs["id"] == "buy" {
			inserted = &entries[i]
		}
	}
	if inserted == nil {
		t.Fatal("inserted button not found")
	}
	if inserted.Node.Text != "Buy" {
		t.Errorf("inserted text: got %q", inserted.Node.Text)
	}
	if inserted.Node.HasHandler == nil || !*inserted.Node.HasHandler {
		t.Error("onclick attribute should mark handler evidence")
	}
	if inserted.SiblingIndex != 1 {
		t.Errorf("inserted SiblingIndex: got %d, want 1", inserted.SiblingIndex)
	}
}

func TestApply_Remove(t *testing.T) {
	tr := loadTest(t)
	if err := tr.Apply(mutation.Record{Op: mutation.OpRemove, XPath: "/html/body/div[1]"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries := tr.Flatten()
	if len(entries) != 1 || entries[0].Node.Tag != "a" {
		t.Fatalf("after remove: got %d entries", len(entries))
	}
	if tr.Len() != 4 {
		t.Errorf("Len after remove: got %d, want 4", tr.Len())
	}
}

func TestApply_Move(t *testing.T) {
	tr := loadTest(t)
	err := tr.Apply(mutation.Record{
		Op:        mutation.OpMove,
		XPath:     "/html/body/div[1]/button",
		NewParent: "/html/body/div[2]",
		NewIndex:  0,
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	entries := tr.Flatten()
	if entries[0].XPath != "/html/body/div[2]/button" {
		t.Errorf("moved button XPath: got %q", entries[0].XPath)
	}
	if tr.Len() != 7 {
		t.Errorf("Len after move: got %d, want 7", tr.Len())
	}
}

func TestApply_UnknownNode(t *testing.T) {
	tr := loadTest(t)
	err := tr.Apply(mutation.Record{Op: mutation.OpText, XPath: "/html/body/section/h1", Value: "x"})
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestApply_DocReset(t *testing.T) {
	tr := loadTest(t)
	err := tr.Apply(mutation.Record{Op: mutation.OpDocReset})
	if !errors.Is(err, ErrDocReset) {
		t.Fatalf("got %v, want ErrDocReset", err)
	}
}

func TestResolve_SiblingIndexing(t *testing.T) {
	tr := loadTest(t)
	n := tr.resolve("/html/body/div[2]/a")
	if n == nil || n.tag != "a" {
		t.Fatal("resolve div[2]/a failed")
	}
	if tr.resolve("/html/body/div[3]") != nil {
		t.Error("div[3]: expected nil")
	}
	if tr.resolve("/html/body/div") == nil {
		t.Error("bare segment should default to first same-tag sibling")
	}
}
