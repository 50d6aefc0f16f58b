package mutation

import "testing"

func TestBatchRoundTrip(t *testing.T) {
	b := &Batch{
		ID:        "batch-1",
		SessionID: "sess-1",
		Seq:       7,
		Records: []Record{
			{Op: OpAttr, XPath: "/html/body/div", Name: "class", Value: "new", OldValue: "old"},
			{Op: OpInsert, XPath: "/html/body/div/button", Tag: "button", HTML: `<button>Go</button>`},
			{Op: OpMove, XPath: "/html/body/div/span", NewParent: "/html/body", NewIndex: 2},
		},
		Timestamp: 1234,
	}

	data, err := MarshalBatch(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalBatch(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Seq != 7 || len(got.Records) != 3 {
		t.Fatalf("round-trip: got seq=%d records=%d", got.Seq, len(got.Records))
	}
	if got.Records[2].NewParent != "/html/body" || got.Records[2].NewIndex != 2 {
		t.Errorf("move record: got %+v", got.Records[2])
	}
}

func TestNodeAttr(t *testing.T) {
	n := &Node{Tag: "input", Attrs: map[string]string{"name": "email"}}
	if v, ok := n.Attr("name"); !ok || v != "email" {
		t.Errorf("Attr(name): got %q, %v", v, ok)
	}
	if _, ok := n.Attr("placeholder"); ok {
		t.Error("Attr(placeholder): expected absent")
	}
	empty := &Node{Tag: "div"}
	if _, ok := empty.Attr("id"); ok {
		t.Error("Attr on nil map: expected absent")
	}
}

func TestCount(t *testing.T) {
	root := &Node{Tag: "html", Children: []*Node{
		{Tag: "body", Children: []*Node{
			{Tag: "div", Children: []*Node{{Tag: "button"}}},
			{Tag: "div"},
		}},
	}}

	nodes, depth := Count(root)
	if nodes != 5 {
		t.Errorf("nodes: got %d, want 5", nodes)
	}
	if depth != 3 {
		t.Errorf("maxDepth: got %d, want 3", depth)
	}
}

func TestWalk_Order(t *testing.T) {
	root := &Node{Tag: "a", Children: []*Node{
		{Tag: "b"},
		{Tag: "c", Children: []*Node{{Tag: "d"}}},
	}}

	var tags []string
	Walk(root, func(n *Node, _ int) { tags = append(tags, n.Tag) })

	want := []string{"a", "b", "c", "d"}
	if len(tags) != len(want) {
		t.Fatalf("visited %d nodes, want %d", len(tags), len(want))
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("visit[%d]: got %q, want %q", i, tags[i], want[i])
		}
	}
}
