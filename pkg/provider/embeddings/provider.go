// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text strings to dense float32 vectors (e.g.,
// OpenAI text-embedding-3 or a local sentence-transformer behind Ollama).
// The catalog index embeds product names and categories at ingestion time
// and caller utterances at query time, then ranks candidates by cosine
// similarity in pgvector.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share
// the same dimensionality (returned by Dimensions). Vectors from different
// models must never be mixed in one similarity computation, so the catalog
// stores the model ID alongside the index and refuses to query across
// models.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	// Returns a float32 slice of length Dimensions() or an error if the
	// request fails or ctx is cancelled.
	//
	// Text is passed to the model verbatim; any model-specific prefixes
	// ("query: ", "passage: ") are the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings in
	// a single provider call. The returned slice has the same length as
	// texts and the i-th element corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is
	// cancelled. Partial results are not returned; on error the entire
	// slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector
	// produced by this provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier (e.g.,
	// "text-embedding-3-small"). Stored with the catalog index to guard
	// against cross-model queries.
	ModelID() string
}
