package normalizer

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	ordinalSuffix       = `(st|nd|rd|th)`
	neighbourhoodSuffix = `(?:district|micro[-\s]?district|micro|neighbou?rhood|quarter)`

	// DelimiterArrow separates reverse-ordered address parts ("Town › Street").
	DelimiterArrow = "›"
)

var (
	reWhitespace       = regexp.MustCompile(`(?i)_|\bnone\b|\s+`)
	reSpaces           = regexp.MustCompile(`\s+`)
	reOrdinal          = regexp.MustCompile(`(?i)(\d+)-?` + ordinalSuffix + `\b`)
	reOrdinalWord      = regexp.MustCompile(`(?i)^\d+` + ordinalSuffix + `$`)
	reCodeWord         = regexp.MustCompile(`^\d+(?:[-/]\d+)?[A-Za-z]$`)
	reAlphanumericCode = regexp.MustCompile(`\b(\d{1,5})\s+([A-Za-z])\b`)
	reDigitNeighbour   = regexp.MustCompile(`(?i)\b(\d+)[\s-]*(` + neighbourhoodSuffix + `)\b`)
	reStreet           = regexp.MustCompile(`(?i)\b(?:st|street|str|srteet|stret)\b\.?`)
	reHighway          = regexp.MustCompile(`(?i)\b(hwy|highway)\b`)
	reAvenue           = regexp.MustCompile(`(?i)\b(ave|avenue|avenu)\b`)
	reBlok             = regexp.MustCompile(`(?i)\bblok\b`)
)

// TextNormalizer cleans English address fragments before extraction.
type TextNormalizer struct{}

// NewTextNormalizer creates a TextNormalizer
func NewTextNormalizer() *TextNormalizer {
	return &TextNormalizer{}
}

// CollapseWhitespace replaces underscores, "none" and runs of whitespace by
// single spaces.
func CollapseWhitespace(s string) string {
	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// CacheKey is the normalized form of a raw address used as cache key:
// lower case with whitespace collapsed.
func CacheKey(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// IsNonEnglish reports whether s needs translation: it is not pure ASCII and
// does not already carry the "›" delimiter of geocoded English text.
func IsNonEnglish(s string) bool {
	return !strings.Contains(s, DelimiterArrow) && !IsASCII(s)
}

// FixOrdinals removes the dash inside ordinals ("2-nd" → "2nd").
func FixOrdinals(s string) string {
	return reOrdinal.ReplaceAllStringFunc(s, func(m string) string {
		sub := reOrdinal.FindStringSubmatch(m)
		return sub[1] + strings.ToLower(sub[2])
	})
}

// FixAlphanumericCodes joins digits with a trailing letter ("123 A" → "123A").
func FixAlphanumericCodes(s string) string {
	return reAlphanumericCode.ReplaceAllString(s, "$1$2")
}

// IntegerToOrdinal renders n in ordinal form (1 → "1st", 12 → "12th").
func IntegerToOrdinal(n int) string {
	suffix := "th"
	if m := n % 100; m < 10 || m > 20 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// FixNeighbourhoodPrefixes ordinalizes numbered neighbourhoods
// ("1 Quarter" → "1st Quarter").
func FixNeighbourhoodPrefixes(s string) string {
	return reDigitNeighbour.ReplaceAllStringFunc(s, func(m string) string {
		sub := reDigitNeighbour.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return m
		}
		return IntegerToOrdinal(n) + " " + sub[2]
	})
}

// ExpandAbbreviations expands street type abbreviations.
func ExpandAbbreviations(s string) string {
	s = reStreet.ReplaceAllString(s, "Street")
	s = reHighway.ReplaceAllString(s, "Highway")
	s = reAvenue.ReplaceAllString(s, "Avenue")
	return reBlok.ReplaceAllString(s, "Block")
}

// TitleCase capitalizes every word except ordinals, which stay lower case.
// Building codes like "12a" get an upper case letter.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if reOrdinalWord.MatchString(w) {
			words[i] = strings.ToLower(w)
			continue
		}
		if reCodeWord.MatchString(w) {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	rs := []rune(strings.ToLower(w))
	if len(rs) == 0 {
		return w
	}
	rs[0] = []rune(strings.ToUpper(string(rs[0])))[0]
	// keep hyphenated names capitalized on both sides: Kanaker-Zeytun
	for i := 1; i < len(rs); i++ {
		if rs[i-1] == '-' {
			rs[i] = []rune(strings.ToUpper(string(rs[i])))[0]
		}
	}
	return string(rs)
}

// NormalizeAddressParts runs the full cleanup chain over one English
// fragment. Non-English input yields "".
func (tn *TextNormalizer) NormalizeAddressParts(s string) string {
	s = CollapseWhitespace(s)
	if s == "" || IsNonEnglish(s) {
		return ""
	}
	s = FixOrdinals(s)
	s = FixNeighbourhoodPrefixes(s)
	s = FixAlphanumericCodes(s)
	s = ExpandAbbreviations(s)
	return TitleCase(s)
}

// SplitOnDelimiters splits a translated address into at most n parts on ","
// or, failing that, on "›" (whose parts are reversed). Parts shorter than
// three characters are blanked.
func SplitOnDelimiters(s string, n int) []string {
	for _, delim := range []string{",", DelimiterArrow} {
		if !strings.Contains(s, delim) {
			continue
		}
		parts := strings.SplitN(s, delim, n)
		for i, p := range parts {
			p = strings.TrimSpace(p)
			if len([]rune(p)) < 3 {
				p = ""
			}
			parts[i] = p
		}
		if delim == DelimiterArrow {
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
		}
		return parts
	}
	return []string{strings.TrimSpace(s)}
}

// FixGenericStreet drops a street equal to any regional value and turns a
// bare "Street" into "<region> Street" using the first non-empty region.
func FixGenericStreet(street string, regions ...string) string {
	street = CollapseWhitespace(street)
	if street == "" {
		return ""
	}
	for _, r := range regions {
		if strings.EqualFold(street, strings.TrimSpace(r)) {
			return ""
		}
	}
	if strings.EqualFold(street, "Street") {
		for _, r := range regions {
			if r = strings.TrimSpace(r); r != "" {
				return r + " Street"
			}
		}
	}
	return street
}
