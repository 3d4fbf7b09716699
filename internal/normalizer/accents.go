package normalizer

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripDiacritics removes combining marks (NFD, drop Mn, NFC).
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn), norm.NFC)
	out, _, _ := transform.String(t, s)
	return out
}

// isMn reports whether r is a nonspacing mark
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// RemoveAccentsAndLowercase strips diacritics and lowercases.
func RemoveAccentsAndLowercase(s string) string {
	return strings.ToLower(StripDiacritics(s))
}

// Transliterate converts Armenian or Cyrillic script to its Latin approximation.
func Transliterate(s string) string {
	return unidecode.Unidecode(s)
}

// Fold is the matching form of a name: no diacritics, Latin script, lower
// case, punctuation turned into spaces, whitespace collapsed.
// "Kanaker-Zeytun", "KANAKER zeytun" and "Kanakér Zeytun" all fold alike.
func Fold(s string) string {
	s = strings.ToLower(Transliterate(StripDiacritics(s)))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// IsASCII reports whether s only holds ASCII characters.
func IsASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}
