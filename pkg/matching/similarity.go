package matching

import "strings"

// softTokenThreshold is the Jaro-Winkler similarity at which two tokens count as the same word.
const softTokenThreshold = 0.92

// Similarity scores two normalized strings in [0,1]: a soft token-set Dice
// coefficient blended with the Levenshtein ratio of the sorted token strings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	used := make([]bool, len(tb))
	matched := 0
	for _, x := range ta {
		best, bestIdx := 0.0, -1
		for j, y := range tb {
			if used[j] {
				continue
			}
			if sim := JaroWinkler(x, y); sim > best {
				best, bestIdx = sim, j
			}
		}
		if bestIdx >= 0 && best >= softTokenThreshold {
			used[bestIdx] = true
			matched++
		}
	}
	dice := 2 * float64(matched) / float64(len(ta)+len(tb))
	lev := LevenshteinRatio(strings.Join(ta, " "), strings.Join(tb, " "))

	return 0.6*dice + 0.4*lev
}

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0,1].
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	prefix := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))
	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)
		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i], bMatches[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3
}

// LevenshteinRatio is 1 - editDistance/maxLen, computed over runes.
func LevenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	row := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[j] = min(row[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, row = row, prev
	}
	return prev[len(b)]
}

// brandsCompatible is true when either brand is unknown or both name the same producer.
func brandsCompatible(a, b *string) bool {
	if a == nil || b == nil {
		return true
	}
	na, nb := NormalizeName(*a), NormalizeName(*b)
	if na == "" || nb == "" || na == nb {
		return true
	}
	return JaroWinkler(na, nb) >= softTokenThreshold
}
