package fusion

import (
	"regexp"
	"sort"

	"github.com/address-normalizer/app/models"
	"github.com/address-normalizer/internal/normalizer"
	"github.com/address-normalizer/internal/resolver"
	"github.com/address-normalizer/internal/taxonomy"
)

// reStreetPhrase is one name word, a street word and an optional number.
var reStreetPhrase = regexp.MustCompile(`(?i)[\p{L}\d'-]+\s+(?:street|avenue|highway|road|ave|str?)\b\.?(?:\s+\d+\S*)?`)

// fragment is one piece of text offered to the resolver.
type fragment struct {
	text       string
	key        string // folded text
	confidence float64 // geocoder confidence, 0 for text parts
	order      int
}

// fragments holds the resolver inputs per level, geocoder labels first.
type fragments map[taxonomy.Level][]fragment

var levelComponents = map[taxonomy.Level][]models.Component{
	taxonomy.LevelProvince:           {models.ComponentProvince, models.ComponentTown},
	taxonomy.LevelAdministrativeUnit: {models.ComponentAdministrativeUnit},
	taxonomy.LevelSettlement:         {models.ComponentTown, models.ComponentVillage, models.ComponentNeighbourhood},
}

// collectFragments gathers geocoder labels per level, then the
// comma-separated parts of the texts, which are offered at every level.
// Street phrases are cut from the parts first: streets are often named after
// towns.
func collectFragments(geocodes []models.GeocodeResult, texts ...string) fragments {
	out := make(fragments)
	seen := make(map[taxonomy.Level]map[string]bool)
	add := func(level taxonomy.Level, text string, conf float64) {
		key := normalizer.Fold(text)
		if key == "" {
			return
		}
		if seen[level] == nil {
			seen[level] = make(map[string]bool)
		}
		if seen[level][key] {
			return
		}
		seen[level][key] = true
		out[level] = append(out[level], fragment{text: text, key: key, confidence: conf, order: len(out[level])})
	}

	for _, g := range geocodes {
		conf := 0.0
		if g.Confidence != nil {
			conf = *g.Confidence
		}
		for level, comps := range levelComponents {
			for _, c := range comps {
				add(level, g.Components[c], conf)
			}
		}
	}
	for _, t := range texts {
		for _, part := range normalizer.SplitOnDelimiters(t, 16) {
			part = normalizer.CollapseWhitespace(reStreetPhrase.ReplaceAllString(part, " "))
			for level := range levelComponents {
				add(level, part, 0)
			}
		}
	}
	return out
}

// levelOutcome is what resolving one level produced.
type levelOutcome struct {
	node      *taxonomy.Node
	score     float64
	key       string // folded fragment that won
	cross     bool   // node sits outside the resolved parent
	ambiguous bool   // a review-worthy candidate was rejected

	// best review-worthy rejection, kept for reviewers
	rejected         []resolver.Candidate
	rejectedFragment string
	rejectedScore    float64
}

// resolveLevel offers every fragment and keeps the best accepted match.
// A match consistent with parent beats any cross-hierarchy one; then the
// higher score wins, then the higher geocoder confidence, then fragment order.
// Fragments in used already named an upper level; they may still match here
// but their rejections are not review-worthy. With within set only
// descendants of parent are candidates.
func resolveLevel(r *resolver.Resolver, frags []fragment, level taxonomy.Level, parent *taxonomy.Node, used map[string]bool, within bool) levelOutcome {
	type pick struct {
		m resolver.Match
		f fragment
	}
	var (
		out   levelOutcome
		picks []pick
	)
	for _, f := range frags {
		var m resolver.Match
		if within {
			m = r.ResolveWithin(f.text, level, parent)
		} else {
			m = r.Resolve(f.text, level, parent)
		}
		if !m.Accepted() {
			if m.Ambiguous && !used[f.key] {
				out.ambiguous = true
				if out.rejected == nil || m.Score > out.rejectedScore {
					out.rejected = m.Candidates
					out.rejectedFragment = f.text
					out.rejectedScore = m.Score
				}
			}
			continue
		}
		picks = append(picks, pick{m: m, f: f})
	}
	if len(picks) == 0 {
		return out
	}
	sort.SliceStable(picks, func(i, j int) bool {
		a, b := picks[i], picks[j]
		if a.m.CrossHierarchy != b.m.CrossHierarchy {
			return !a.m.CrossHierarchy
		}
		if a.m.Score != b.m.Score {
			return a.m.Score > b.m.Score
		}
		if a.f.confidence != b.f.confidence {
			return a.f.confidence > b.f.confidence
		}
		return a.f.order < b.f.order
	})
	best := picks[0]
	out.node = best.m.Node
	out.score = best.m.Score
	out.key = best.f.key
	out.cross = best.m.CrossHierarchy
	return out
}

// hierarchy is the resolved administrative chain of one address.
type hierarchy struct {
	province   levelOutcome
	admin      levelOutcome
	settlement levelOutcome
}

func resolveHierarchy(r *resolver.Resolver, frags fragments) hierarchy {
	var h hierarchy
	used := make(map[string]bool)

	h.province = resolveLevel(r, frags[taxonomy.LevelProvince], taxonomy.LevelProvince, nil, used, false)
	if h.province.node != nil {
		used[h.province.key] = true
	}
	h.admin = resolveLevel(r, frags[taxonomy.LevelAdministrativeUnit], taxonomy.LevelAdministrativeUnit, h.province.node, used, false)
	if h.admin.node != nil {
		used[h.admin.key] = true
	}

	if city := h.cityProvince(); city != nil {
		// a city province is its own town; below its districts only
		// neighbourhoods are looked for
		parent := h.admin.node
		if parent == nil {
			parent = city
		}
		h.settlement = resolveLevel(r, frags[taxonomy.LevelSettlement], taxonomy.LevelSettlement, parent, used, true)
		return h
	}

	parent := h.admin.node
	if parent == nil || h.admin.cross {
		parent = h.province.node
	}
	h.settlement = resolveLevel(r, frags[taxonomy.LevelSettlement], taxonomy.LevelSettlement, parent, used, false)
	return h
}

// apply writes the chain into na, filling missing upper levels from the
// deepest consistent node.
func (h hierarchy) apply(na *models.NormalizedAddress) {
	set := func(c models.Component, n *taxonomy.Node, score float64, cross bool) {
		if n == nil || na.Has(c) {
			return
		}
		na.Set(c, models.Field{Value: n.Name, Source: models.SourceTaxonomy, Confidence: score, CrossHierarchy: cross})
	}

	// walk from the deepest level up so that chain fills carry the child's score
	levels := []levelOutcome{h.settlement, h.admin, h.province}
	for _, lo := range levels {
		if lo.node == nil {
			continue
		}
		if lo.cross {
			setNode(set, lo.node, lo.score, true)
			continue
		}
		for n := lo.node; n != nil && n.Level != taxonomy.LevelCountry; n = n.Parent {
			setNode(set, n, lo.score, false)
		}
	}

	if p := h.cityProvince(); p != nil && !na.Has(models.ComponentTown) && !na.Has(models.ComponentVillage) {
		score := h.province.score
		switch {
		case h.province.node != nil:
		case h.admin.node != nil:
			score = h.admin.score
		default:
			score = h.settlement.score
		}
		set(models.ComponentTown, p, score, false)
	}
}

// cityProvince returns the resolved province when it is a city, reached
// directly or through one of its districts or neighbourhoods.
func (h hierarchy) cityProvince() *taxonomy.Node {
	if h.admin.cross {
		return nil
	}
	p := h.province.node
	if p == nil && h.admin.node != nil {
		p = h.admin.node.Ancestor(taxonomy.LevelProvince)
	}
	if p == nil && h.settlement.node != nil && !h.settlement.cross {
		p = h.settlement.node.Ancestor(taxonomy.LevelProvince)
	}
	if p != nil && p.City {
		return p
	}
	return nil
}

func setNode(set func(models.Component, *taxonomy.Node, float64, bool), n *taxonomy.Node, score float64, cross bool) {
	switch n.Level {
	case taxonomy.LevelProvince:
		set(models.ComponentProvince, n, score, cross)
	case taxonomy.LevelAdministrativeUnit:
		set(models.ComponentAdministrativeUnit, n, score, cross)
	case taxonomy.LevelSettlement:
		switch n.Kind {
		case models.KindTown:
			set(models.ComponentTown, n, score, cross)
		case models.KindNeighbourhood:
			set(models.ComponentNeighbourhood, n, score, cross)
		default:
			set(models.ComponentVillage, n, score, cross)
		}
	}
}

func (h hierarchy) resolved() bool {
	return h.province.node != nil || h.admin.node != nil || h.settlement.node != nil
}

func (h hierarchy) anyCross() bool {
	return h.province.cross || h.admin.cross || h.settlement.cross
}

// reviewCandidates lists the rejected candidates of levels na left unset.
func (h hierarchy) reviewCandidates(na *models.NormalizedAddress) []models.ReviewCandidate {
	var out []models.ReviewCandidate
	levels := []struct {
		lo levelOutcome
		c  models.Component
	}{
		{h.province, models.ComponentProvince},
		{h.admin, models.ComponentAdministrativeUnit},
		{h.settlement, models.ComponentVillage},
	}
	for _, l := range levels {
		if !l.lo.ambiguous || na.Has(l.c) {
			continue
		}
		if l.c == models.ComponentVillage && na.Has(models.ComponentTown) {
			continue
		}
		for _, cand := range l.lo.rejected {
			c := l.c
			switch cand.Node.Kind {
			case models.KindTown:
				c = models.ComponentTown
			case models.KindNeighbourhood:
				c = models.ComponentNeighbourhood
			}
			out = append(out, models.ReviewCandidate{
				Component: c,
				Fragment:  l.lo.rejectedFragment,
				NodeID:    cand.Node.ID,
				Name:      cand.Node.Name,
				Score:     cand.Score,
			})
		}
	}
	return out
}
