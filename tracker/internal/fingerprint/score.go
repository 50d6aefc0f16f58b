package fingerprint

import (
	"math"

	"github.com/hazyhaar/domtrack/mutation"
)

// identityClamp is the ceiling applied when both sides carry an explicit
// identifier and they disagree. An authored identifier is strong
// counter-evidence no matter how much else agrees.
const identityClamp = 0.1

// rectDistanceCap is the centre distance (CSS pixels) at which geometric
// similarity bottoms out.
const rectDistanceCap = 200.0

// Weights is the per-hint weight table. Read-only during a session.
type Weights struct {
	TestID       float64 `yaml:"test_id" json:"test_id"`
	DOMID        float64 `yaml:"dom_id" json:"dom_id"`
	Tag          float64 `yaml:"tag" json:"tag"`
	Path         float64 `yaml:"path" json:"path"`
	SiblingIndex float64 `yaml:"sibling_index" json:"sibling_index"`
	Rect         float64 `yaml:"rect" json:"rect"`
	Role         float64 `yaml:"role" json:"role"`
	Label        float64 `yaml:"label" json:"label"`
	Name         float64 `yaml:"name" json:"name"`
	Text         float64 `yaml:"text" json:"text"`
	Placeholder  float64 `yaml:"placeholder" json:"placeholder"`
	AltText      float64 `yaml:"alt_text" json:"alt_text"`
	Href         float64 `yaml:"href" json:"href"`
	NearbyText   float64 `yaml:"nearby_text" json:"nearby_text"`
	Classes      float64 `yaml:"classes" json:"classes"`
	HasHandler   float64 `yaml:"has_handler" json:"has_handler"`
}

// DefaultWeights favours structure (tag, path, index) over volatile content
// (labels, classes), so a relabelled button at the same position still
// re-matches.
func DefaultWeights() Weights {
	return Weights{
		TestID:       3.0,
		DOMID:        2.5,
		Tag:          1.5,
		Path:         1.5,
		SiblingIndex: 1.0,
		Rect:         0.8,
		Role:         1.0,
		Label:        0.6,
		Name:         1.2,
		Text:         0.5,
		Placeholder:  0.8,
		AltText:      0.5,
		Href:         1.0,
		NearbyText:   0.3,
		Classes:      0.2,
		HasHandler:   0.4,
	}
}

// Score computes the weighted similarity between two fingerprints in [0,1].
//
// Identity hints dominate: equal explicit identifiers short-circuit to 1.0,
// unequal ones clamp the result low. For everything else, a hint category
// contributes only when present in both fingerprints; absence is no
// evidence, not a mismatch.
func Score(a, b *Fingerprint, w Weights) float64 {
	if a.TestID != "" && b.TestID != "" {
		if a.TestID == b.TestID {
			return 1.0
		}
		return math.Min(weightedScore(a, b, w), identityClamp)
	}
	if a.DOMID != "" && b.DOMID != "" {
		if a.DOMID == b.DOMID {
			return 1.0
		}
		return math.Min(weightedScore(a, b, w), identityClamp)
	}
	return weightedScore(a, b, w)
}

func weightedScore(a, b *Fingerprint, w Weights) float64 {
	var num, den float64
	add := func(sim, weight float64) {
		num += sim * weight
		den += weight
	}

	// Tag and sibling index are always observed.
	add(binary(a.Tag == b.Tag), w.Tag)
	add(binary(a.SiblingIndex == b.SiblingIndex), w.SiblingIndex)

	if len(a.Path) > 0 && len(b.Path) > 0 {
		add(pathSimilarity(a.Path, b.Path), w.Path)
	}
	if a.Rect != nil && b.Rect != nil {
		add(rectSimilarity(a.Rect, b.Rect), w.Rect)
	}
	if a.Role != "" && b.Role != "" {
		add(binary(a.Role == b.Role), w.Role)
	}
	if a.Label != "" && b.Label != "" {
		add(stringSimilarity(a.Label, b.Label), w.Label)
	}
	if a.Name != "" && b.Name != "" {
		add(binary(a.Name == b.Name), w.Name)
	}
	if a.Text != "" && b.Text != "" {
		add(stringSimilarity(a.Text, b.Text), w.Text)
	}
	if a.Placeholder != "" && b.Placeholder != "" {
		add(binary(a.Placeholder == b.Placeholder), w.Placeholder)
	}
	if a.AltText != "" && b.AltText != "" {
		add(stringSimilarity(a.AltText, b.AltText), w.AltText)
	}
	if a.Href != "" && b.Href != "" {
		add(binary(a.Href == b.Href), w.Href)
	}
	if a.NearbyText != "" && b.NearbyText != "" {
		add(stringSimilarity(a.NearbyText, b.NearbyText), w.NearbyText)
	}
	if len(a.Classes) > 0 && len(b.Classes) > 0 {
		add(jaccard(a.Classes, b.Classes), w.Classes)
	}
	if a.HasHandler != nil && b.HasHandler != nil {
		add(binary(*a.HasHandler == *b.HasHandler), w.HasHandler)
	}

	if den == 0 {
		return 0
	}
	return num / den
}

func binary(equal bool) float64 {
	if equal {
		return 1
	}
	return 0
}

// pathSimilarity compares ancestor paths by common prefix (from the root)
// plus common suffix (nearest ancestors), normalised by the longer path.
func pathSimilarity(a, b []string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}

	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}

	prefix := 0
	for prefix < minLen && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < minLen-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	matched := prefix + suffix
	if matched > maxLen {
		matched = maxLen
	}
	return float64(matched) / float64(maxLen)
}

// rectSimilarity blends centre distance (capped and inverted) with size
// agreement.
func rectSimilarity(a, b *mutation.Rect) float64 {
	acx, acy := a.X+a.W/2, a.Y+a.H/2
	bcx, bcy := b.X+b.W/2, b.Y+b.H/2
	dist := math.Hypot(acx-bcx, acy-bcy)
	posSim := 1 - math.Min(dist/rectDistanceCap, 1)

	areaA, areaB := a.W*a.H, b.W*b.H
	sizeSim := 1.0
	if areaA > 0 || areaB > 0 {
		sizeSim = math.Min(areaA, areaB) / math.Max(areaA, areaB)
	}

	return 0.5*posSim + 0.5*sizeSim
}

// stringSimilarity is a normalised Levenshtein ratio in [0,1].
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// jaccard is set overlap over set union.
func jaccard(a, b []string) float64 {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
