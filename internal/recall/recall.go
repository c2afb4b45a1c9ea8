// Package recall finds stored keys that are close to a query, to spot
// near-duplicates and recover from typos.
package recall

import (
	"context"
	"iter"
	"slices"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

// KeySource yields every stored key.
type KeySource interface {
	Keys(ctx context.Context) iter.Seq2[string, error]
}

// Searcher answers substring queries over stored keys.
type Searcher interface {
	SearchKeys(ctx context.Context, fragment string, limit int) ([]string, error)
}

// FindSimilar lazily yields every key whose edit distance to query is at most
// maxDistance, or which is an anagram of query. Results are unordered and are
// recomputed on every range over the returned sequence.
func FindSimilar(ctx context.Context, src KeySource, query string, maxDistance int) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for key, err := range src.Keys(ctx) {
			if err != nil {
				yield("", err)
				return
			}
			if !matches(key, query, maxDistance) {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

func matches(key, query string, maxDistance int) bool {
	return isAnagram(key, query) || levenshtein.ComputeDistance(key, query) <= maxDistance
}

// isAnagram reports whether a and b consist of the same multiset of characters.
func isAnagram(a, b string) bool {
	return len(a) == len(b) && slices.Equal(sortedRunes(a), sortedRunes(b))
}

func sortedRunes(s string) []rune {
	r := []rune(s)
	slices.Sort(r)
	return r
}

// Suggest returns up to limit keys containing fragment, best fuzzy match first.
func Suggest(ctx context.Context, s Searcher, fragment string, limit int) ([]string, error) {
	candidates, err := s.SearchKeys(ctx, fragment, limit)
	if err != nil {
		return nil, err
	}
	matches := fuzzy.Find(fragment, candidates)
	ranked := make([]string, 0, len(candidates))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		ranked = append(ranked, m.Str)
		seen[m.Index] = true
	}
	// Keys the fuzzy matcher skips (case folding differences) keep index order.
	for i, c := range candidates {
		if !seen[i] {
			ranked = append(ranked, c)
		}
	}
	return ranked, nil
}
