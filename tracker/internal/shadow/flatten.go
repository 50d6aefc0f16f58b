package shadow

import (
	"strings"

	"github.com/hazyhaar/domtrack/mutation"
)

// nearbyTextMax caps the sibling-text hint so one verbose neighbour cannot
// dominate a fingerprint.
const nearbyTextMax = 120

// interactiveTags are tracked unconditionally.
var interactiveTags = map[string]bool{
	"a": true, "button": true, "input": true, "select": true,
	"textarea": true, "summary": true, "option": true,
}

// Entry is one trackable node flattened out of the tree, with the
// tree-derived context the fingerprint extractor needs.
type Entry struct {
	XPath        string
	Node         *mutation.Node
	Path         []string // ancestor tags, root → parent
	SiblingIndex int      // among same-tag siblings
	NearbyText   string
}

// Flatten walks the tree in document order and returns every trackable
// node. A node is trackable when it is an interactive element, carries an
// ARIA role, or shows handler evidence.
func (t *Tree) Flatten() []Entry {
	var entries []Entry
	var path []string

	var walk func(n *node)
	walk = func(n *node) {
		for _, c := range n.children {
			if trackable(c) {
				entries = append(entries, t.entryFor(c, path))
			}
			path = append(path, c.tag)
			walk(c)
			path = path[:len(path)-1]
		}
	}
	walk(t.root)
	return entries
}

func trackable(n *node) bool {
	if interactiveTags[n.tag] {
		return true
	}
	if n.attrs != nil {
		if _, ok := n.attrs["role"]; ok {
			return true
		}
		if _, ok := n.attrs["contenteditable"]; ok {
			return true
		}
	}
	return n.hasHandler != nil && *n.hasHandler
}

func (t *Tree) entryFor(n *node, ancestors []string) Entry {
	path := make([]string, len(ancestors))
	copy(path, ancestors)

	return Entry{
		XPath:        xpathOf(n),
		Node:         n.toMutation(),
		Path:         path,
		SiblingIndex: siblingIndex(n),
		NearbyText:   nearbyText(n),
	}
}

// toMutation exports a node (without children) in the wire shape the
// fingerprint extractor consumes.
func (n *node) toMutation() *mutation.Node {
	m := &mutation.Node{
		Tag:        n.tag,
		Text:       n.text,
		Rect:       n.rect,
		HasHandler: n.hasHandler,
	}
	if len(n.attrs) > 0 {
		m.Attrs = make(map[string]string, len(n.attrs))
		for k, v := range n.attrs {
			m.Attrs[k] = v
		}
	}
	return m
}

// siblingIndex counts same-tag siblings before n (0-based).
func siblingIndex(n *node) int {
	if n.parent == nil {
		return 0
	}
	idx := 0
	for _, sib := range n.parent.children {
		if sib == n {
			break
		}
		if sib.tag == n.tag {
			idx++
		}
	}
	return idx
}

// nearbyText joins the text of the immediately previous and next siblings.
func nearbyText(n *node) string {
	if n.parent == nil {
		return ""
	}

	pos := -1
	for i, sib := range n.parent.children {
		if sib == n {
			pos = i
			break
		}
	}
	if pos < 0 {
		return ""
	}

	var parts []string
	if pos > 0 {
		if s := strings.TrimSpace(n.parent.children[pos-1].text); s != "" {
			parts = append(parts, s)
		}
	}
	if pos+1 < len(n.parent.children) {
		if s := strings.TrimSpace(n.parent.children[pos+1].text); s != "" {
			parts = append(parts, s)
		}
	}

	joined := strings.Join(parts, " ")
	if len(joined) > nearbyTextMax {
		joined = joined[:nearbyTextMax]
	}
	return joined
}
