// Package mock provides a test double for the embeddings package interface.
//
// By default the mock derives a deterministic vector from the input text, so
// identical texts embed identically and different texts (almost always)
// differ, which is enough for ranking tests without a live model.
package mock

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/ordovox/ordovox/pkg/provider/embeddings"
)

// defaultDims is the vector length used when Dims is zero.
const defaultDims = 8

// EmbedCall records a single invocation of Provider.Embed or one element of
// an EmbedBatch call.
type EmbedCall struct {
	// Text is the input passed to the provider.
	Text string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps input text to a fixed vector. Texts not present fall
	// back to a deterministic hash-derived vector.
	Vectors map[string][]float32

	// Dims is the reported dimensionality. Defaults to 8.
	Dims int

	// Model is returned by ModelID. Defaults to "mock-embed".
	Model string

	// EmbedErr, if non-nil, is returned by Embed and EmbedBatch.
	EmbedErr error

	// EmbedCalls records every embedded text in order.
	EmbedCalls []EmbedCall
}

// Embed records the call and returns the configured or derived vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: text})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vectorFor(text), nil
}

// EmbedBatch records the calls and returns one vector per text.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		for _, t := range texts {
			p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: t})
		}
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Text: t})
		out[i] = p.vectorFor(t)
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return defaultDims
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-embed"
	}
	return p.Model
}

// vectorFor returns the configured vector or a normalised hash-derived one.
// Callers must hold p.mu.
func (p *Provider) vectorFor(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		cp := make([]float32, len(v))
		copy(cp, v)
		return cp
	}
	dims := p.Dims
	if dims <= 0 {
		dims = defaultDims
	}
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)])/255.0 - 0.5
	}
	return vec
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
