// Package shadow maintains the engine's materialised view of the observed
// DOM. A Tree is loaded from a full snapshot and patched record-by-record;
// between passes it is the only notion of "current page" the engine has.
// The tree never talks to a live browser; hosts feed it observations.
package shadow

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/domtrack/mutation"
)

// node is one element of the shadow tree.
type node struct {
	tag        string
	attrs      map[string]string
	text       string
	rect       *mutation.Rect
	hasHandler *bool
	parent     *node
	children   []*node
}

// Tree is the patchable shadow DOM for one session. Not safe for concurrent
// use; the tracker's single update goroutine is the only writer.
type Tree struct {
	root  *node // synthetic document node; children hold <html>
	count int
}

// New returns an empty tree. Loading a snapshot replaces its contents.
func New() *Tree {
	return &Tree{root: &node{tag: "#document"}}
}

// Load replaces the tree with a snapshot's contents.
func (t *Tree) Load(snap *mutation.Snapshot) {
	t.root = &node{tag: "#document"}
	t.count = 0
	if snap.Root != nil {
		t.attach(t.root, len(t.root.children), convert(snap.Root))
	}
}

// Len returns the number of element nodes in the tree.
func (t *Tree) Len() int { return t.count }

func convert(m *mutation.Node) *node {
	n := &node{
		tag:        strings.ToLower(m.Tag),
		text:       m.Text,
		rect:       m.Rect,
		hasHandler: m.HasHandler,
	}
	if len(m.Attrs) > 0 {
		n.attrs = make(map[string]string, len(m.Attrs))
		for k, v := range m.Attrs {
			n.attrs[k] = v
		}
	}
	for _, c := range m.Children {
		child := convert(c)
		child.parent = n
		n.children = append(n.children, child)
	}
	return n
}

// attach inserts child under parent at position (clamped) and updates the
// element count for the whole subtree.
func (t *Tree) attach(parent *node, pos int, child *node) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(parent.children) {
		pos = len(parent.children)
	}
	child.parent = parent
	parent.children = append(parent.children, nil)
	copy(parent.children[pos+1:], parent.children[pos:])
	parent.children[pos] = child
	t.count += subtreeSize(child)
}

// detach removes n from its parent and updates the count. The node keeps
// its subtree so a move can re-attach it.
func (t *Tree) detach(n *node) {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
	t.count -= subtreeSize(n)
}

func subtreeSize(n *node) int {
	size := 1
	for _, c := range n.children {
		size += subtreeSize(c)
	}
	return size
}

// resolve walks an XPath of the form /html/body/div[2]/button down the
// tree. Returns nil when any segment does not resolve.
func (t *Tree) resolve(xpath string) *node {
	if xpath == "" || xpath == "/" {
		return t.root
	}

	cur := t.root
	for _, seg := range strings.Split(strings.TrimPrefix(xpath, "/"), "/") {
		tag, idx, err := parseSegment(seg)
		if err != nil {
			return nil
		}
		cur = childByTagIndex(cur, tag, idx)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// parseSegment splits "div[2]" into ("div", 2). Bare segments default to
// index 1 (XPath indexes are 1-based among same-tag siblings).
func parseSegment(seg string) (string, int, error) {
	if seg == "" {
		return "", 0, fmt.Errorf("shadow: empty xpath segment")
	}
	open := strings.IndexByte(seg, '[')
	if open < 0 {
		return strings.ToLower(seg), 1, nil
	}
	close := strings.IndexByte(seg, ']')
	if close < open {
		return "", 0, fmt.Errorf("shadow: malformed xpath segment %q", seg)
	}
	idx, err := strconv.Atoi(seg[open+1 : close])
	if err != nil || idx < 1 {
		return "", 0, fmt.Errorf("shadow: bad index in segment %q", seg)
	}
	return strings.ToLower(seg[:open]), idx, nil
}

func childByTagIndex(parent *node, tag string, idx int) *node {
	seen := 0
	for _, c := range parent.children {
		if c.tag == tag {
			seen++
			if seen == idx {
				return c
			}
		}
	}
	return nil
}

// xpathOf rebuilds the canonical XPath for a node by walking up to the
// document, numbering each step among its same-tag siblings.
func xpathOf(n *node) string {
	var parts []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		idx := 1
		total := 0
		for _, sib := range cur.parent.children {
			if sib.tag != cur.tag {
				continue
			}
			total++
			if sib == cur {
				idx = total
			}
		}
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", cur.tag, idx))
		} else {
			parts = append(parts, cur.tag)
		}
	}

	// parts were collected leaf-first.
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(parts[i])
	}
	return b.String()
}
