package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// corporateSuffixes lists entity suffixes stripped during owner-name
// normalization. Site exports mix full legal names with short forms.
var corporateSuffixes = []string{
	" S.A.", " S.A", " SA", " S/A",
	" LTDA.", " LTDA", " LIMITADA",
	" SPA", " S.P.A.",
	" EIRELI",
	" INC", " INC.",
	" LLC", " L.L.C.",
	" LTD", " LTD.", " LIMITED",
	" CORP", " CORP.", " CORPORATION",
}

// foldDiacritics decomposes to NFD, drops combining marks, and recomposes,
// so accented and plain spellings of the same name compare equal.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// Fold strips diacritics so "Antofagasta" and "Antofagastá" compare equal.
// Returns the input unchanged if the transform fails.
func Fold(s string) string {
	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		return folded
	}
	return s
}

// NormalizeName standardizes a site, owner, or template name for matching by:
//  1. Trimming whitespace
//  2. Folding diacritics
//  3. Converting to uppercase
//  4. Removing common corporate suffixes
//  5. Stripping punctuation
//  6. Collapsing multiple spaces into single spaces
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = Fold(name)
	name = strings.ToUpper(name)

	for _, suffix := range corporateSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " ",
		"-", " ",
		"/", " ",
		"_", " ",
		"(", " ",
		")", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	return name
}
