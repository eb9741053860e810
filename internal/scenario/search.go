package scenario

import (
	"cmp"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity between a query term
// and a title word for the word to count as a match.
const fuzzyThreshold = 0.88

// Search returns the scenarios matching query, best match first. Exact
// substring hits in the id, title, category or description rank above fuzzy
// title matches, which tolerate typos such as "tootbrush". An empty query
// returns the full list.
func (l *Library) Search(query string) []Scenario {
	query = strings.ToLower(strings.TrimSpace(query))
	all := l.List()
	if query == "" {
		return all
	}

	type hit struct {
		s     Scenario
		score float64
		pos   int
	}
	var hits []hit
	terms := strings.Fields(query)
	for i, s := range all {
		if score := relevance(s, query, terms); score > 0 {
			hits = append(hits, hit{s: s, score: score, pos: i})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	out := make([]Scenario, len(hits))
	for i, h := range hits {
		out[i] = h.s
	}
	return out
}

// relevance scores s against query. Zero means no match.
func relevance(s Scenario, query string, terms []string) float64 {
	haystack := strings.ToLower(strings.Join([]string{s.ID, s.Title, string(s.Category), s.Description}, " "))
	if strings.Contains(haystack, query) {
		return 2
	}

	words := titleWords(s.Title + " " + s.Description)
	var total float64
	for _, term := range terms {
		best := 0.0
		if strings.Contains(haystack, term) {
			best = 1
		} else {
			for _, w := range words {
				best = max(best, matchr.JaroWinkler(term, w, false))
			}
		}
		if best < fuzzyThreshold {
			return 0
		}
		total += best
	}
	return total / float64(len(terms))
}

// titleWords splits text into lower-case words on anything that is not a
// letter or digit.
func titleWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
