package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/address-normalizer/internal/normalizer"
	"github.com/address-normalizer/internal/taxonomy"
)

// scores within epsilon of the threshold count as reaching it
const epsilon = 1e-9

// Config tunes acceptance.
type Config struct {
	Threshold     float64 // minimum score to accept a fuzzy candidate
	MinMargin     float64 // lead the best candidate needs over the runner-up
	ReviewFloor   float64 // rejected candidates at or above it are review-worthy
	MaxCandidates int     // candidates kept on a Match
	WordMatch     bool    // try exact matches on word runs before fuzzy scoring
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.90,
		MinMargin:     0.02,
		ReviewFloor:   0.50,
		MaxCandidates: 5,
		WordMatch:     true,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold %v out of (0, 1]", c.Threshold)
	}
	if c.MinMargin < 0 || c.MinMargin >= 1 {
		return fmt.Errorf("min margin %v out of [0, 1)", c.MinMargin)
	}
	if c.ReviewFloor < 0 || c.ReviewFloor > c.Threshold {
		return fmt.Errorf("review floor %v out of [0, threshold]", c.ReviewFloor)
	}
	return nil
}

// Candidate is one scored taxonomy node.
type Candidate struct {
	Node  *taxonomy.Node
	Score float64
}

// Match is the outcome of one Resolve call. Node is nil when nothing was
// accepted; Score then holds the best score seen.
type Match struct {
	Node           *taxonomy.Node
	Score          float64
	Exact          bool
	CrossHierarchy bool
	Ambiguous      bool
	Candidates     []Candidate
}

// Accepted reports whether a node was chosen.
func (m Match) Accepted() bool { return m.Node != nil }

// Resolver matches noisy fragments against one taxonomy. It holds no
// mutable state and is safe for concurrent use.
type Resolver struct {
	tx     *taxonomy.Taxonomy
	scorer Scorer
	cfg    Config
}

// New builds a Resolver. A nil scorer means TokenSortRatio.
func New(tx *taxonomy.Taxonomy, scorer Scorer, cfg Config) *Resolver {
	if scorer == nil {
		scorer = ScorerFunc(TokenSortRatio)
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	return &Resolver{tx: tx, scorer: scorer, cfg: cfg}
}

// Taxonomy returns the taxonomy this resolver reads.
func (r *Resolver) Taxonomy() *taxonomy.Taxonomy { return r.tx }

// Config returns the acceptance settings.
func (r *Resolver) Config() Config { return r.cfg }

// WithTaxonomy returns a resolver with the same scorer and settings over tx.
func (r *Resolver) WithTaxonomy(tx *taxonomy.Taxonomy) *Resolver {
	return &Resolver{tx: tx, scorer: r.scorer, cfg: r.cfg}
}

// Resolve finds the node at level best matching fragment. With a parent the
// search is first restricted to its descendants; if that accepts nothing it
// runs once more over the whole level and tags a hit as cross-hierarchy.
func (r *Resolver) Resolve(fragment string, level taxonomy.Level, parent *taxonomy.Node) Match {
	key := normalizer.Fold(fragment)
	if key == "" {
		return Match{}
	}

	m := r.phase(fragment, key, level, parent)
	if m.Accepted() || parent == nil {
		return m
	}

	wide := r.phase(fragment, key, level, nil)
	if wide.Accepted() {
		wide.CrossHierarchy = !parent.IsAncestorOf(wide.Node)
		return wide
	}
	if m.Score > wide.Score {
		wide.Score = m.Score
	}
	wide.Ambiguous = wide.Score+epsilon >= r.cfg.ReviewFloor
	return wide
}

// ResolveWithin is Resolve without the cross-hierarchy retry: only
// descendants of parent are candidates.
func (r *Resolver) ResolveWithin(fragment string, level taxonomy.Level, parent *taxonomy.Node) Match {
	key := normalizer.Fold(fragment)
	if key == "" {
		return Match{}
	}
	return r.phase(fragment, key, level, parent)
}

func (r *Resolver) phase(fragment, key string, level taxonomy.Level, parent *taxonomy.Node) Match {
	if m, ok := r.exact(fragment, level, parent); ok {
		return m
	}
	if r.cfg.WordMatch {
		if m, ok := r.words(key, level, parent); ok {
			return m
		}
	}
	return r.fuzzy(key, level, parent)
}

func (r *Resolver) exact(name string, level taxonomy.Level, parent *taxonomy.Node) (Match, bool) {
	hits := r.tx.LookupAll(name, level, parent)
	switch len(hits) {
	case 0:
		return Match{}, false
	case 1:
		return Match{Node: hits[0], Score: 1, Exact: true, Candidates: []Candidate{{hits[0], 1}}}, true
	}
	// the same name under several parents: no margin, so not accepted
	m := Match{Score: 1, Ambiguous: true}
	for _, h := range hits {
		m.Candidates = append(m.Candidates, Candidate{h, 1})
	}
	m.Candidates = r.trim(m.Candidates)
	return m, true
}

// words tries exact lookups on runs of consecutive words, longest first
// ("nor nork district" finds "Nor Nork"). A run size only wins when it
// yields a single distinct node.
func (r *Resolver) words(key string, level taxonomy.Level, parent *taxonomy.Node) (Match, bool) {
	tokens := strings.Fields(key)
	for size := len(tokens) - 1; size >= 1; size-- {
		var found *taxonomy.Node
		distinct := make(map[*taxonomy.Node]bool)
		for i := 0; i+size <= len(tokens); i++ {
			for _, h := range r.tx.LookupAll(strings.Join(tokens[i:i+size], " "), level, parent) {
				found = h
				distinct[h] = true
			}
		}
		switch len(distinct) {
		case 0:
			continue
		case 1:
			return Match{Node: found, Score: 1, Exact: true, Candidates: []Candidate{{found, 1}}}, true
		default:
			return Match{}, false
		}
	}
	return Match{}, false
}

func (r *Resolver) fuzzy(key string, level taxonomy.Level, parent *taxonomy.Node) Match {
	nodes := r.tx.Descendants(parent, level)
	cands := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		best := 0.0
		for _, name := range n.Names() {
			if s := r.scorer.Score(key, normalizer.Fold(name)); s > best {
				best = s
			}
		}
		cands = append(cands, Candidate{n, best})
	}
	if len(cands) == 0 {
		return Match{}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })

	best := cands[0]
	margin := best.Score
	if len(cands) > 1 {
		margin = best.Score - cands[1].Score
	}
	m := Match{Score: best.Score, Candidates: r.trim(cands)}
	if best.Score+epsilon >= r.cfg.Threshold && margin+epsilon >= r.cfg.MinMargin {
		m.Node = best.Node
		return m
	}
	m.Ambiguous = best.Score+epsilon >= r.cfg.ReviewFloor
	return m
}

func (r *Resolver) trim(c []Candidate) []Candidate {
	if len(c) > r.cfg.MaxCandidates {
		c = c[:r.cfg.MaxCandidates]
	}
	return append([]Candidate(nil), c...)
}
