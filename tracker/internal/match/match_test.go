package match

import (
	"testing"

	"github.com/hazyhaar/domtrack/tracker/internal/fingerprint"
)

func button(testID string, index int, text string) *fingerprint.Fingerprint {
	return &fingerprint.Fingerprint{
		TestID:       testID,
		Tag:          "button",
		Path:         []string{"html", "body", "div"},
		SiblingIndex: index,
		Text:         text,
	}
}

func TestAssign_ExactThresholdAccepted(t *testing.T) {
	// tag agrees, sibling index disagrees: score = 1.5 / 2.5 = 0.6 exactly.
	w := fingerprint.Weights{Tag: 1.5, SiblingIndex: 1.0}
	prev := []Candidate{{ID: "el_1", FP: &fingerprint.Fingerprint{Tag: "button", SiblingIndex: 0}}}
	next := []*fingerprint.Fingerprint{{Tag: "button", SiblingIndex: 3}}

	a := Assign(prev, next, w, 0.6)
	if len(a.Matched) != 1 {
		t.Fatalf("pair at exact threshold: got %d matches, want 1", len(a.Matched))
	}
	if a.Matched[0].ID != "el_1" {
		t.Errorf("matched ID: got %q", a.Matched[0].ID)
	}
}

func TestAssign_JustBelowThresholdRejected(t *testing.T) {
	w := fingerprint.Weights{Tag: 1.5, SiblingIndex: 1.0}
	prev := []Candidate{{ID: "el_1", FP: &fingerprint.Fingerprint{Tag: "button", SiblingIndex: 0}}}
	next := []*fingerprint.Fingerprint{{Tag: "button", SiblingIndex: 3}}

	a := Assign(prev, next, w, 0.601)
	if len(a.Matched) != 0 {
		t.Fatalf("pair below threshold: got %d matches, want 0", len(a.Matched))
	}
	if len(a.Fresh) != 1 || a.Fresh[0] != 0 {
		t.Errorf("Fresh: got %v, want [0]", a.Fresh)
	}
	if len(a.Unmatched) != 1 || a.Unmatched[0] != "el_1" {
		t.Errorf("Unmatched: got %v, want [el_1]", a.Unmatched)
	}
}

func TestAssign_Deterministic(t *testing.T) {
	prev := []Candidate{
		{ID: "el_a", FP: button("", 0, "Alpha")},
		{ID: "el_b", FP: button("", 1, "Beta")},
		{ID: "el_c", FP: button("", 2, "Gamma")},
	}
	next := []*fingerprint.Fingerprint{
		button("", 0, "Alpha"),
		button("", 1, "Beta"),
		button("", 2, "Gamma"),
	}

	w := fingerprint.DefaultWeights()
	first := Assign(prev, next, w, 0.7)
	for i := 0; i < 10; i++ {
		again := Assign(prev, next, w, 0.7)
		if len(again.Matched) != len(first.Matched) {
			t.Fatalf("run %d: match count changed", i)
		}
		for ni, m := range first.Matched {
			if again.Matched[ni].ID != m.ID {
				t.Fatalf("run %d: fingerprint %d got %q, want %q", i, ni, again.Matched[ni].ID, m.ID)
			}
		}
	}
}

func TestAssign_EqualScoreTieBrokenByID(t *testing.T) {
	// Two indistinguishable candidates, one new fingerprint: the lower ID
	// must win every time.
	fp := button("", 0, "Same")
	prev := []Candidate{
		{ID: "el_bbb", FP: button("", 0, "Same")},
		{ID: "el_aaa", FP: button("", 0, "Same")},
	}
	next := []*fingerprint.Fingerprint{fp}

	a := Assign(prev, next, fingerprint.DefaultWeights(), 0.7)
	if a.Matched[0].ID != "el_aaa" {
		t.Fatalf("tie-break: got %q, want el_aaa", a.Matched[0].ID)
	}
	if a.Ambiguous != 1 {
		t.Errorf("Ambiguous: got %d, want 1", a.Ambiguous)
	}
	if len(a.Unmatched) != 1 || a.Unmatched[0] != "el_bbb" {
		t.Errorf("Unmatched: got %v, want [el_bbb]", a.Unmatched)
	}
}

func TestAssign_GreedyPrefersHigherScore(t *testing.T) {
	// el_1 matches next[0] perfectly via test ID; el_2 weakly resembles
	// next[0] but must be pushed to next[1].
	prev := []Candidate{
		{ID: "el_1", FP: button("checkout", 0, "Checkout")},
		{ID: "el_2", FP: button("", 1, "Checkout")},
	}
	next := []*fingerprint.Fingerprint{
		button("checkout", 0, "Checkout"),
		button("", 1, "Checkout"),
	}

	a := Assign(prev, next, fingerprint.DefaultWeights(), 0.5)
	if a.Matched[0].ID != "el_1" || a.Matched[0].Score != 1.0 {
		t.Errorf("next[0]: got %+v, want el_1 at 1.0", a.Matched[0])
	}
	if a.Matched[1].ID != "el_2" {
		t.Errorf("next[1]: got %+v, want el_2", a.Matched[1])
	}
}

func TestAssign_ConflictingTestIDsNeverMatch(t *testing.T) {
	prev := []Candidate{{ID: "el_1", FP: button("one", 0, "Go")}}
	next := []*fingerprint.Fingerprint{button("two", 0, "Go")}

	a := Assign(prev, next, fingerprint.DefaultWeights(), 0.3)
	if len(a.Matched) != 0 {
		t.Fatal("conflicting explicit identifiers must never match")
	}
}

func TestAssign_EmptySides(t *testing.T) {
	a := Assign(nil, nil, fingerprint.DefaultWeights(), 0.7)
	if len(a.Matched) != 0 || len(a.Fresh) != 0 || len(a.Unmatched) != 0 {
		t.Fatalf("empty input: got %+v", a)
	}

	a = Assign(nil, []*fingerprint.Fingerprint{button("", 0, "New")}, fingerprint.DefaultWeights(), 0.7)
	if len(a.Fresh) != 1 {
		t.Errorf("no candidates: want 1 fresh, got %d", len(a.Fresh))
	}
}
