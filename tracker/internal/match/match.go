// Package match assigns new fingerprints to previously tracked elements by
// greedy maximum-weight pairing under a confidence threshold.
//
// Greedy descending-score matching is deliberately not an optimal bipartite
// assignment: it is linear-ish on typical page sizes and deterministic,
// which matters more here than provable optimality under adversarial
// rearrangement.
package match

import (
	"sort"

	"github.com/hazyhaar/domtrack/tracker/internal/fingerprint"
)

// Candidate is a previously tracked element eligible for re-identification
// (Active or Grace state).
type Candidate struct {
	ID string
	FP *fingerprint.Fingerprint
}

// Match is an accepted pairing.
type Match struct {
	ID    string // previous element's logical ID
	Score float64
}

// Assignment is the result of one matching pass.
type Assignment struct {
	// Matched maps new-fingerprint index → accepted match.
	Matched map[int]Match
	// Unmatched holds previous IDs no new fingerprint claimed.
	Unmatched []string
	// Fresh holds new-fingerprint indexes that need newly allocated IDs.
	Fresh []int
	// Ambiguous counts threshold-passing pairs that lost their new
	// fingerprint to a higher-scored candidate. Diagnostic only; the
	// conflict is already resolved deterministically.
	Ambiguous int
}

type pair struct {
	prevIdx int
	nextIdx int
	score   float64
}

// Assign pairs each new fingerprint with at most one candidate. Pairs are
// processed in descending score order; equal scores break ties by the
// previous element's ID, then by new-fingerprint index, so repeated runs on
// an unchanged snapshot are idempotent. A pair is accepted only when its
// score is at or above threshold and neither side is already consumed.
func Assign(prev []Candidate, next []*fingerprint.Fingerprint, w fingerprint.Weights, threshold float64) Assignment {
	pairs := make([]pair, 0, len(prev)*len(next)/2)
	for pi, c := range prev {
		for ni, fp := range next {
			s := fingerprint.Score(c.FP, fp, w)
			if s >= threshold {
				pairs = append(pairs, pair{prevIdx: pi, nextIdx: ni, score: s})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		if a, b := prev[pairs[i].prevIdx].ID, prev[pairs[j].prevIdx].ID; a != b {
			return a < b
		}
		return pairs[i].nextIdx < pairs[j].nextIdx
	})

	a := Assignment{Matched: make(map[int]Match, len(next))}
	prevTaken := make([]bool, len(prev))
	nextTaken := make([]bool, len(next))

	for _, p := range pairs {
		if prevTaken[p.prevIdx] {
			continue
		}
		if nextTaken[p.nextIdx] {
			// A second candidate above threshold for an already claimed
			// fingerprint: resolved by score order, recorded for diagnostics.
			a.Ambiguous++
			continue
		}
		prevTaken[p.prevIdx] = true
		nextTaken[p.nextIdx] = true
		a.Matched[p.nextIdx] = Match{ID: prev[p.prevIdx].ID, Score: p.score}
	}

	for pi, c := range prev {
		if !prevTaken[pi] {
			a.Unmatched = append(a.Unmatched, c.ID)
		}
	}
	for ni := range next {
		if !nextTaken[ni] {
			a.Fresh = append(a.Fresh, ni)
		}
	}

	return a
}
