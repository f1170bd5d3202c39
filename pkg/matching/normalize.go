package matching

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

var (
	apostrophes  = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "")
	separators   = strings.NewReplacer("-", " ", "_", " ", "/", " ", "&", " and ", "+", " and ")
	abvPattern   = regexp.MustCompile(`\b\d+(\.\d+)?\s*%\s*(abv|alc(\.|ohol)?(\s*(by|/)?\s*vol(\.|ume)?)?)?|\b\d+(\.\d+)?\s*proof\b`)
	sizePattern  = regexp.MustCompile(`\b\d+(\.\d+)?\s*(ml|cl|l|ltr|liter|litre|liters|litres|oz|fl\s*oz|pk|pack|ct|count|can|cans|btl|bottle|bottles)\b`)
	multiPattern = regexp.MustCompile(`\b\d+\s*x\s*\b`)
	nonWord      = regexp.MustCompile(`[^\p{L}\p{N}]+`)

	displayABV  = regexp.MustCompile(`(?i)` + abvPattern.String())
	displaySize = regexp.MustCompile(`(?i)` + sizePattern.String())
)

// stripMarks removes combining diacritics so "Añejo" and "Anejo" agree.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName lowercases a product name and removes punctuation, container
// sizes and ABV/proof suffixes, leaving single-space separated words.
func NormalizeName(name string) string {
	s := strings.ToLower(stripMarks(name))
	s = apostrophes.Replace(s)
	s = separators.Replace(s)
	s = abvPattern.ReplaceAllString(s, " ")
	s = sizePattern.ReplaceAllString(s, " ")
	s = multiPattern.ReplaceAllString(s, " ")
	s = nonWord.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the distinct words of a normalized string in sorted order.
func Tokens(normalized string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range strings.Fields(normalized) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// MatchString combines brand and name for fuzzy comparison, adding the brand
// only when the name does not already carry it.
func MatchString(brand *string, name string) string {
	normalizedName := NormalizeName(name)
	if brand == nil {
		return normalizedName
	}
	normalizedBrand := NormalizeName(*brand)
	if normalizedBrand == "" || strings.Contains(" "+normalizedName+" ", " "+normalizedBrand+" ") {
		return normalizedName
	}
	return strings.TrimSpace(normalizedBrand + " " + normalizedName)
}

// ExternalKey is the alias key for a signal: the source's own id when present,
// otherwise its normalized name.
func ExternalKey(signal models.RawSignal) string {
	if signal.ExternalID != nil && strings.TrimSpace(*signal.ExternalID) != "" {
		return strings.TrimSpace(*signal.ExternalID)
	}
	return "name:" + MatchString(signal.Brand, signal.ProductName)
}
