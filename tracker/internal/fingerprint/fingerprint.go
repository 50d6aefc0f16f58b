// Package fingerprint computes structural/semantic signatures for observed
// DOM nodes and scores the similarity between two signatures.
//
// A Fingerprint is a pure function of one node at one instant. It is never
// mutated: a changed node produces a new fingerprint that replaces the old
// one under the same logical ID once matched.
package fingerprint

import (
	"strings"

	"github.com/hazyhaar/domtrack/mutation"
)

// Attributes treated as explicit test identifiers, in lookup order.
var testIDAttrs = []string{"data-testid", "data-test", "data-cy"}

// Fingerprint is an immutable signature of one node at observation time.
// Zero-value fields mean "not observed", which the scorer treats as no
// evidence rather than evidence of mismatch.
type Fingerprint struct {
	// Identity hints: authored to be stable, near-exact signals.
	TestID string `json:"test_id,omitempty"`
	DOMID  string `json:"dom_id,omitempty"`

	// Structural hints.
	Tag          string   `json:"tag"`
	Path         []string `json:"path,omitempty"` // ancestor tags, root → parent
	SiblingIndex int      `json:"sibling_index"`  // among same-tag siblings

	// Geometric hint.
	Rect *mutation.Rect `json:"rect,omitempty"`

	// Semantic hints.
	Role  string `json:"role,omitempty"`
	Label string `json:"label,omitempty"` // accessible label
	Name  string `json:"name,omitempty"`  // form-control name

	// Content hints.
	Text        string `json:"text,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	AltText     string `json:"alt_text,omitempty"`
	Href        string `json:"href,omitempty"`
	NearbyText  string `json:"nearby_text,omitempty"`

	// Low-signal hint: cosmetic class list.
	Classes []string `json:"classes,omitempty"`

	// Host-injected capability: does the node carry an interaction handler.
	HasHandler *bool `json:"has_handler,omitempty"`
}

// Context carries the tree-derived inputs the node itself cannot supply.
type Context struct {
	Path         []string // ancestor tag names, root → parent
	SiblingIndex int      // index among same-tag siblings
	NearbyText   string   // text of adjacent siblings
}

// Extract computes the fingerprint of one observed node. Deterministic and
// side-effect-free; it never fails, absent attributes yield absent fields.
func Extract(n *mutation.Node, c Context) Fingerprint {
	fp := Fingerprint{
		Tag:          strings.ToLower(n.Tag),
		Path:         c.Path,
		SiblingIndex: c.SiblingIndex,
		Rect:         n.Rect,
		NearbyText:   VisibleText(c.NearbyText),
		HasHandler:   n.HasHandler,
	}

	for _, attr := range testIDAttrs {
		if v, ok := n.Attr(attr); ok && v != "" {
			fp.TestID = v
			break
		}
	}
	if v, ok := n.Attr("id"); ok {
		fp.DOMID = v
	}
	if v, ok := n.Attr("role"); ok {
		fp.Role = v
	}
	if v, ok := n.Attr("aria-label"); ok {
		fp.Label = VisibleText(v)
	}
	if v, ok := n.Attr("name"); ok {
		fp.Name = v
	}
	if v, ok := n.Attr("placeholder"); ok {
		fp.Placeholder = v
	}
	if v, ok := n.Attr("alt"); ok {
		fp.AltText = VisibleText(v)
	}
	if v, ok := n.Attr("href"); ok {
		fp.Href = v
	}
	if v, ok := n.Attr("class"); ok {
		fp.Classes = strings.Fields(v)
	}

	fp.Text = VisibleText(n.Text)

	return fp
}

// DisplayLabel picks the best human-readable label for consumers, in
// preference order: accessible label, visible text, placeholder, alt text,
// form-control name.
func (fp *Fingerprint) DisplayLabel() string {
	for _, s := range []string{fp.Label, fp.Text, fp.Placeholder, fp.AltText, fp.Name} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Kind classifies the node for consumers: "button", "link", "input",
// "select", "textarea", or the raw tag.
func (fp *Fingerprint) Kind() string {
	switch fp.Tag {
	case "a":
		return "link"
	case "button", "input", "select", "textarea":
		if fp.Tag == "input" {
			return "input"
		}
		return fp.Tag
	}
	if fp.Role == "button" || fp.Role == "link" {
		return fp.Role
	}
	return fp.Tag
}
