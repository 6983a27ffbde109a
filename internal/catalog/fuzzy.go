package catalog

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/ordovox/ordovox/pkg/types"
)

// jaroWinklerFloor is the minimum Jaro-Winkler similarity for a fuzzy hit.
const jaroWinklerFloor = 0.85

// fuzzyMatch runs the lexical fallback stage over the full product list.
// A product matches when the lowercased query and display name contain one
// another or their Jaro-Winkler similarity reaches jaroWinklerFloor. Every
// hit gets the fixed FuzzyScore; ordering among equal scores is by product
// key so results are stable across calls.
func fuzzyMatch(query string, products []types.Product, k int) []types.Candidate {
	q := normalize(query)
	if q == "" {
		return nil
	}

	var out []types.Candidate
	for _, p := range products {
		name := normalize(p.DisplayName)
		if name == "" {
			continue
		}
		if strings.Contains(name, q) || strings.Contains(q, name) ||
			matchr.JaroWinkler(q, name, false) >= jaroWinklerFloor {
			out = append(out, types.Candidate{
				Product:   p,
				Score:     FuzzyScore,
				MatchType: MatchFuzzy,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Product.Key < out[j].Product.Key
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// normalize lowercases and trims a name for lexical comparison. Accented
// characters are kept as-is; French accents are stable between the catalog
// and the transcriber so folding them buys nothing.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
