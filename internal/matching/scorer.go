package matching

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Outcome classifies a canonical lookup for one free text reference.
type Outcome string

const (
	// OutcomeExact means exactly one canonical identity matches with certainty.
	OutcomeExact Outcome = "exact"
	// OutcomeAmbiguous means plausible but uncertain candidates exist.
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeNew means no canonical counterpart exists.
	OutcomeNew Outcome = "new"
)

// Candidate is a scored canonical record.
type Candidate struct {
	ID         string
	Name       string
	Similarity float64
	Reason     string
}

// SimilarityThreshold is the floor below which a canonical name is not
// considered a plausible counterpart.
const SimilarityThreshold = 0.55

// Normalize folds a free text reference for comparison: lower case, trimmed,
// runs of whitespace collapsed.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
}

// Similarity computes a deterministic edit-distance score in [0, 1] between a
// reference and a canonical name, both normalized. 1 means identical.
func Similarity(text, name string) float64 {
	a := Normalize(text)
	b := Normalize(name)
	if a == b {
		return 1.0
	}

	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}

	dist := fuzzy.LevenshteinDistance(a, b)
	score := 1.0 - float64(dist)/float64(maxLen)
	if score < 0 {
		return 0
	}
	return score
}

// Score ranks canonical names against a free text reference and classifies the
// lookup. names maps canonical id to display name.
func Score(text string, names map[string]string) (Outcome, []Candidate) {
	normalized := Normalize(text)
	if normalized == "" {
		return OutcomeNew, nil
	}

	var exact []Candidate
	var plausible []Candidate

	for id, name := range names {
		score := Similarity(text, name)
		switch {
		case score == 1.0:
			exact = append(exact, Candidate{ID: id, Name: name, Similarity: score, Reason: "exact name match"})
		case score >= SimilarityThreshold:
			reason := "edit distance"
			if fuzzy.MatchNormalizedFold(normalized, Normalize(name)) {
				reason = "subsequence match"
			}
			plausible = append(plausible, Candidate{ID: id, Name: name, Similarity: score, Reason: reason})
		}
	}

	sortCandidates(exact)
	sortCandidates(plausible)

	switch {
	case len(exact) == 1:
		return OutcomeExact, exact
	case len(exact) > 1:
		// Several canonical records share the name; a human has to pick one.
		return OutcomeAmbiguous, append(exact, plausible...)
	case len(plausible) > 0:
		return OutcomeAmbiguous, plausible
	default:
		return OutcomeNew, nil
	}
}

func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].Name < candidates[j].Name
	})
}
