package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/address-normalizer/app/models"
)

// Rule is one ordered pattern for one component.
type Rule struct {
	Name      string
	Component models.Component
	Pattern   *regexp.Regexp
	// Last selects the final match instead of the first one.
	Last bool
	// Normalize turns submatches into the stored value; ok=false skips the match.
	Normalize func(m []string) (value string, ok bool)
}

// Segments is the syntactic part of an address pulled out by the extractor.
type Segments struct {
	Values   map[models.Component]string `json:"values"`
	Rules    map[models.Component]string `json:"rules,omitempty"`
	Residual string                      `json:"residual"`
}

// Get returns the extracted value for c.
func (s Segments) Get(c models.Component) string {
	return s.Values[c]
}

// ExtractionOrder is the fixed order in which components are pulled out.
var ExtractionOrder = []models.Component{
	models.ComponentBlock,
	models.ComponentLane,
	models.ComponentBuildingCode,
	models.ComponentNeighbourhood,
	models.ComponentStreetNumber,
}

// numberedStreets are street names carrying digits that must never become
// building codes.
var numberedStreets = []struct {
	pattern  *regexp.Regexp
	expanded string
}{
	{regexp.MustCompile(`(?i)\b(?:23\s+)?August(?:\s+23)?(?:\s+(?:Street|St\.?|Str))?\b`), "August 23 Street"},
	{regexp.MustCompile(`(?i)\b(?:26\s+)?Commissars(?:\s+26)?(?:\s+(?:Street|St\.?|Str))?\b`), "26 Commissars Street"},
}

var (
	reOrdinalTail    = regexp.MustCompile(`(?i)^-?(st|nd|rd|th)\b`)
	reLeadingZeros   = regexp.MustCompile(`^0+(\d)`)
	reResidualTrim   = regexp.MustCompile(`\s*,(\s*,)+`)
	nameStopWords    = map[string]bool{"street": true, "avenue": true, "highway": true, "lane": true, "the": true, "of": true, "and": true, "block": true, "blok": true, "st": true, "str": true}
	canonicalSuffix  = map[string]string{"district": "District", "micro": "Micro", "quarter": "Quarter", "neighborhood": "Neighbourhood", "neighbourhood": "Neighbourhood"}
	laneKinds        = map[string]string{"lane": "Lane", "alley": "Alley", "line": "Line", "deadlock": "Deadlock"}
	reMicroDistrict  = regexp.MustCompile(`(?i)^micro[-\s]?district$`)
	reOrdinalNumber  = regexp.MustCompile(`(?i)^(\d+)(st|nd|rd|th)?$`)
	reNeighbourAfter = `(micro[-\s]?district|district|micro|neighbou?rhood|quarter)`
)

// DefaultRules returns the built-in rule set, ordered per component.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "named-block",
			Component: models.ComponentBlock,
			Pattern:   regexp.MustCompile(`(?i)\b([A-Za-z]+(?:-[A-Za-z]+)?)\s+(\d+(?:st|nd|rd|th)?)\s*(?:Block|Blok)\b`),
			Normalize: func(m []string) (string, bool) {
				if nameStopWords[strings.ToLower(m[1])] {
					return "", false
				}
				return TitleCase(m[1]) + " " + ordinalize(m[2]) + " Block", true
			},
		},
		{
			Name:      "numbered-block",
			Component: models.ComponentBlock,
			Pattern:   regexp.MustCompile(`(?i)\b(\d+(?:st|nd|rd|th)?)\s*(?:Block|Blok)\b`),
			Normalize: func(m []string) (string, bool) {
				return ordinalize(m[1]) + " Block", true
			},
		},
		{
			Name:      "ordinal-lane",
			Component: models.ComponentLane,
			Pattern:   regexp.MustCompile(`(?i)\b(\d+)-?(st|nd|rd|th)\s+(Lane|Alley|Line|Deadlock)\b`),
			Normalize: func(m []string) (string, bool) {
				return m[1] + strings.ToLower(m[2]) + " " + laneKinds[strings.ToLower(m[3])], true
			},
		},
		{
			Name:      "lane-number",
			Component: models.ComponentLane,
			Pattern:   regexp.MustCompile(`(?i)\b(Lane|Alley|Deadlock)\s+(\d+)\b`),
			Normalize: func(m []string) (string, bool) {
				return ordinalize(m[2]) + " " + laneKinds[strings.ToLower(m[1])], true
			},
		},
		{
			Name:      "prefixed-building",
			Component: models.ComponentBuildingCode,
			Pattern:   regexp.MustCompile(`(?i)\b(?:house|bldg|building|no\.?)\s*(\d{1,4}(?:[-/]\d+)?[A-Za-z]?)\b`),
			Normalize: func(m []string) (string, bool) {
				return normalizeBuildingCode(m[1]), true
			},
		},
		{
			Name:      "trailing-building",
			Component: models.ComponentBuildingCode,
			Pattern:   regexp.MustCompile(`\b(\d{1,3}(?:[-/]\d+)?[a-zA-Z]?)\b`),
			Last:      true,
			Normalize: func(m []string) (string, bool) {
				return normalizeBuildingCode(m[1]), true
			},
		},
		{
			Name:      "numbered-neighbourhood",
			Component: models.ComponentNeighbourhood,
			Pattern:   regexp.MustCompile(`(?i)\b(\d+)(?:st|nd|rd|th)?[\s-]*` + reNeighbourAfter + `\b(?:\s+(North|South|East|West))?`),
			Normalize: func(m []string) (string, bool) {
				n, err := strconv.Atoi(m[1])
				if err != nil {
					return "", false
				}
				v := IntegerToOrdinal(n) + " " + neighbourhoodSuffixName(m[2])
				if m[3] != "" {
					v += " " + TitleCase(m[3])
				}
				return v, true
			},
		},
		{
			Name:      "named-neighbourhood",
			Component: models.ComponentNeighbourhood,
			Pattern:   regexp.MustCompile(`(?i)\b([A-Za-z]+(?:-[A-Za-z]+)?)\s+` + reNeighbourAfter + `\b`),
			Normalize: func(m []string) (string, bool) {
				if nameStopWords[strings.ToLower(m[1])] {
					return "", false
				}
				return TitleCase(m[1]) + " " + neighbourhoodSuffixName(m[2]), true
			},
		},
		{
			Name:      "street-number",
			Component: models.ComponentStreetNumber,
			Pattern:   regexp.MustCompile(`(?i)\b(\d+)-?(st|nd|rd|th)\b`),
			Normalize: func(m []string) (string, bool) {
				return m[1] + strings.ToLower(m[2]), true
			},
		},
	}
}

// SegmentExtractor pulls syntactically recognizable components out of raw
// text. It is pure: the same input always yields the same Segments.
type SegmentExtractor struct {
	rules map[models.Component][]Rule
}

// NewSegmentExtractor builds an extractor over rules; nil means DefaultRules.
func NewSegmentExtractor(rules []Rule) *SegmentExtractor {
	if rules == nil {
		rules = DefaultRules()
	}
	se := &SegmentExtractor{rules: make(map[models.Component][]Rule)}
	for _, r := range rules {
		se.rules[r.Component] = append(se.rules[r.Component], r)
	}
	return se
}

// Extract runs every component's rules in ExtractionOrder. Matched text is
// cut from the working string so that no two components share a span.
func (se *SegmentExtractor) Extract(text string) Segments {
	seg := Segments{
		Values: make(map[models.Component]string),
		Rules:  make(map[models.Component]string),
	}
	work := CollapseWhitespace(FixNeighbourhoodPrefixes(FixOrdinals(FixAlphanumericCodes(text))))
	if work == "" {
		return seg
	}

	var protected string
	for _, ns := range numberedStreets {
		if loc := ns.pattern.FindStringIndex(work); loc != nil {
			protected = ns.expanded
			work = cut(work, loc)
			break
		}
	}
	if protected != "" {
		seg.Values[models.ComponentStreet] = protected
		seg.Rules[models.ComponentStreet] = "numbered-street"
	}

	for _, c := range ExtractionOrder {
		for _, r := range se.rules[c] {
			value, loc := r.apply(work)
			if loc == nil {
				continue
			}
			seg.Values[c] = value
			seg.Rules[c] = r.Name
			work = cut(work, loc)
			break
		}
	}

	seg.Residual = cleanResidual(work)
	return seg
}

// apply returns the normalized value and span of the rule's chosen match.
func (r Rule) apply(s string) (string, []int) {
	all := r.Pattern.FindAllStringSubmatchIndex(s, -1)
	if r.Last {
		for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
			all[i], all[j] = all[j], all[i]
		}
	}
	for _, idx := range all {
		if r.Component == models.ComponentBuildingCode && reOrdinalTail.MatchString(s[idx[1]:]) {
			continue
		}
		m := make([]string, len(idx)/2)
		for g := range m {
			if idx[2*g] >= 0 {
				m[g] = s[idx[2*g]:idx[2*g+1]]
			}
		}
		value, ok := r.Normalize(m)
		if !ok || value == "" {
			continue
		}
		return value, idx[:2]
	}
	return "", nil
}

func cut(s string, loc []int) string {
	return strings.TrimSpace(s[:loc[0]] + " " + s[loc[1]:])
}

func cleanResidual(s string) string {
	s = reResidualTrim.ReplaceAllString(s, ",")
	s = reSpaces.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " ,", ",")
	return strings.Trim(s, " ,-/")
}

func normalizeBuildingCode(code string) string {
	code = reLeadingZeros.ReplaceAllString(code, "$1")
	return strings.ToUpper(code)
}

func ordinalize(token string) string {
	m := reOrdinalNumber.FindStringSubmatch(token)
	if m == nil {
		return token
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return token
	}
	return IntegerToOrdinal(n)
}

func neighbourhoodSuffixName(suffix string) string {
	if reMicroDistrict.MatchString(suffix) {
		return "Microdistrict"
	}
	if name, ok := canonicalSuffix[strings.ToLower(suffix)]; ok {
		return name
	}
	return TitleCase(suffix)
}
