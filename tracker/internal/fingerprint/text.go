package fingerprint

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips every tag. Hosts sometimes hand over innerHTML in text
// hints; whatever reaches the fingerprint must be plain text, both for
// scoring and because labels end up in LLM prompts downstream.
var strict = bluemonday.StrictPolicy()

var multiSpaceRe = regexp.MustCompile(`\s+`)

// VisibleText normalises a text hint: strips any markup, unescapes
// entities, collapses whitespace, trims.
func VisibleText(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<>") {
		s = strict.Sanitize(s)
	}
	s = html.UnescapeString(s)
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
