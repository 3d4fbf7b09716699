package resolver

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// Scorer returns a similarity in [0, 1] between two folded strings.
type Scorer interface {
	Score(a, b string) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(a, b string) float64

func (f ScorerFunc) Score(a, b string) float64 { return f(a, b) }

// Scorer names accepted in configuration.
const (
	ScorerTokenSort   = "token_sort"
	ScorerJaroWinkler = "jaro_winkler"
	ScorerBlended     = "blended"
)

// TokenSortRatio is the edit-distance ratio of both strings after sorting
// their tokens, so word order does not matter.
func TokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

// JaroWinkler favours strings sharing a prefix.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

// Blended is the mean of TokenSortRatio and JaroWinkler. The prefix boost
// alone would accept any name that starts another one ("Charents" for
// Charentsavan), so the edit distance keeps a full say.
func Blended(a, b string) float64 {
	return (TokenSortRatio(a, b) + JaroWinkler(a, b)) / 2
}

// ScorerByName resolves a configured scorer name.
func ScorerByName(name string) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ScorerTokenSort:
		return ScorerFunc(TokenSortRatio), nil
	case ScorerJaroWinkler:
		return ScorerFunc(JaroWinkler), nil
	case ScorerBlended:
		return ScorerFunc(Blended), nil
	}
	return nil, fmt.Errorf("unknown scorer %q", name)
}

func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
