// Package catalog provides semantic product search over the pharmacy catalog.
//
// Spoken product names arrive mangled: "doliprane mille" for "Doliprane 1000",
// brand names with missing accents, partial names. The catalog resolves them
// in two stages. The primary stage embeds the query and runs a cosine
// similarity search against pre-embedded product names in PostgreSQL
// (pgvector). When the semantic stage returns nothing above the score floor,
// a fuzzy lexical stage (substring and Jaro-Winkler) catches near-misses at a
// fixed, lower score so the dialogue layer can still offer a clarification.
package catalog

import (
	"context"
	"errors"

	"github.com/ordovox/ordovox/pkg/types"
)

const (
	// DefaultTopK is the number of candidates returned by Search.
	DefaultTopK = 3

	// MinScore is the similarity floor for semantic matches. Candidates
	// scoring below it are discarded.
	MinScore = 0.5

	// FuzzyScore is the fixed score assigned to fuzzy-stage candidates.
	// It sits above MinScore but below a confident semantic hit, which
	// pushes the dialogue toward clarification rather than silent acceptance.
	FuzzyScore = 0.7

	// MatchSemantic and MatchFuzzy are the Candidate.MatchType values.
	MatchSemantic = "semantic"
	MatchFuzzy    = "fuzzy"
)

// ErrUnavailable is returned when the catalog backend cannot be reached.
var ErrUnavailable = errors.New("catalog unavailable")

// Index is the product search surface used by the dialogue layer.
type Index interface {
	// Search returns up to k candidate products for a spoken query, best
	// first. An empty result means nothing matched at any stage; it is not
	// an error.
	Search(ctx context.Context, query string, k int) ([]types.Candidate, error)

	// Upsert inserts or replaces products, re-embedding their names.
	Upsert(ctx context.Context, products []types.Product) error
}
