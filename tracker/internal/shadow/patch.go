package shadow

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domtrack/mutation"
)

// ErrDocReset signals that the host replaced the whole document; the tree
// cannot be patched incrementally and the caller must resync from a fresh
// snapshot.
var ErrDocReset = fmt.Errorf("shadow: document reset, resync required")

// Apply patches the tree with one mutation record. Records addressing nodes
// the tree does not know are reported as errors so the caller can count the
// skip; they are never fatal.
func (t *Tree) Apply(rec mutation.Record) error {
	switch rec.Op {
	case mutation.OpDocReset:
		return ErrDocReset

	case mutation.OpInsert:
		return t.applyInsert(rec)

	case mutation.OpRemove:
		n := t.resolveElement(rec.XPath)
		if n == nil {
			return fmt.Errorf("shadow: remove: unknown node %s", rec.XPath)
		}
		t.detach(n)
		return nil

	case mutation.OpText:
		n := t.resolveElement(rec.XPath)
		if n == nil {
			return fmt.Errorf("shadow: text: unknown node %s", rec.XPath)
		}
		n.text = rec.Value
		return nil

	case mutation.OpAttr:
		n := t.resolveElement(rec.XPath)
		if n == nil {
			return fmt.Errorf("shadow: attr: unknown node %s", rec.XPath)
		}
		if n.attrs == nil {
			n.attrs = make(map[string]string, 1)
		}
		n.attrs[rec.Name] = rec.Value
		return nil

	case mutation.OpAttrDel:
		n := t.resolveElement(rec.XPath)
		if n == nil {
			return fmt.Errorf("shadow: attr_del: unknown node %s", rec.XPath)
		}
		delete(n.attrs, rec.Name)
		return nil

	case mutation.OpMove:
		n := t.resolveElement(rec.XPath)
		if n == nil {
			return fmt.Errorf("shadow: move: unknown node %s", rec.XPath)
		}
		dest := t.resolve(rec.NewParent)
		if dest == nil {
			return fmt.Errorf("shadow: move: unknown parent %s", rec.NewParent)
		}
		t.detach(n)
		t.attach(dest, rec.NewIndex, n)
		return nil

	default:
		return fmt.Errorf("shadow: unknown op %q", rec.Op)
	}
}

// resolveElement resolves an XPath, tolerating a trailing /text() step by
// addressing the owning element instead.
func (t *Tree) resolveElement(xpath string) *node {
	xpath = strings.TrimSuffix(xpath, "/text()")
	return t.resolve(xpath)
}

// applyInsert attaches a parsed subtree at the position named by the
// record's own XPath (parent path + final positional segment).
func (t *Tree) applyInsert(rec mutation.Record) error {
	parentPath, seg := splitLast(rec.XPath)
	parent := t.resolve(parentPath)
	if parent == nil {
		return fmt.Errorf("shadow: insert: unknown parent %s", parentPath)
	}

	tag, idx, err := parseSegment(seg)
	if err != nil {
		return err
	}

	child, err := parseSubtree(rec.HTML, tag)
	if err != nil {
		return fmt.Errorf("shadow: insert %s: %w", rec.XPath, err)
	}

	// Translate "n-th same-tag sibling" into a raw child position: insert
	// before the current n-th occupant, or append.
	pos := len(parent.children)
	seen := 0
	for i, c := range parent.children {
		if c.tag == tag {
			seen++
			if seen == idx {
				pos = i
				break
			}
		}
	}
	t.attach(parent, pos, child)
	return nil
}

func splitLast(xpath string) (parent, last string) {
	i := strings.LastIndexByte(xpath, '/')
	if i < 0 {
		return "", xpath
	}
	return xpath[:i], xpath[i+1:]
}

// parseSubtree parses serialised subtree HTML into a shadow node. When the
// fragment is empty or unparseable, a bare element of the expected tag is
// produced so structure stays consistent with the host's view.
func parseSubtree(rawHTML, tag string) (*node, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return &node{tag: tag}, nil
	}

	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	frags, err := html.ParseFragment(strings.NewReader(rawHTML), ctx)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}

	for _, f := range frags {
		if f.Type == html.ElementNode {
			return fromHTML(f), nil
		}
	}
	return &node{tag: tag}, nil
}

// fromHTML converts a parsed html.Node subtree. Text children are folded
// into the owning element's text; an onclick-style attribute marks the node
// as carrying an interaction handler, the only handler evidence available
// without the host probe.
func fromHTML(h *html.Node) *node {
	n := &node{tag: strings.ToLower(h.Data)}
	for _, a := range h.Attr {
		if n.attrs == nil {
			n.attrs = make(map[string]string, len(h.Attr))
		}
		n.attrs[a.Key] = a.Val
		if strings.HasPrefix(a.Key, "on") {
			yes := true
			n.hasHandler = &yes
		}
	}

	var text strings.Builder
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text.WriteString(c.Data)
		case html.ElementNode:
			child := fromHTML(c)
			child.parent = n
			n.children = append(n.children, child)
		}
	}
	n.text = strings.TrimSpace(text.String())
	return n
}
