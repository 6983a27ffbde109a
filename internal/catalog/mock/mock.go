// Package mock provides a test double for the catalog Index interface.
package mock

import (
	"context"
	"sync"

	"github.com/ordovox/ordovox/internal/catalog"
	"github.com/ordovox/ordovox/pkg/types"
)

// SearchCall records a single invocation of Index.Search.
type SearchCall struct {
	Query string
	K     int
}

// UpsertCall records a single invocation of Index.Upsert.
type UpsertCall struct {
	Products []types.Product
}

// Index is a mock implementation of catalog.Index. Results are looked up by
// lowercased query; queries without an entry return no candidates.
type Index struct {
	mu sync.Mutex

	// Results maps a query string to the candidates Search returns for it.
	Results map[string][]types.Candidate

	// SearchErr, if non-nil, is returned by every Search call.
	SearchErr error

	// UpsertErr, if non-nil, is returned by every Upsert call.
	UpsertErr error

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall

	// UpsertCalls records every call to Upsert in order.
	UpsertCalls []UpsertCall
}

// Search records the call and returns the scripted candidates.
func (m *Index) Search(_ context.Context, query string, k int) ([]types.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls = append(m.SearchCalls, SearchCall{Query: query, K: k})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	cands := m.Results[query]
	if k > 0 && len(cands) > k {
		cands = cands[:k]
	}
	out := make([]types.Candidate, len(cands))
	copy(out, cands)
	return out, nil
}

// Upsert records the call.
func (m *Index) Upsert(_ context.Context, products []types.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls = append(m.UpsertCalls, UpsertCall{Products: products})
	return m.UpsertErr
}

// Ensure Index implements catalog.Index at compile time.
var _ catalog.Index = (*Index)(nil)
