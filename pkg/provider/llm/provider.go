// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, or any
// backend reachable through any-llm-go) and exposes a uniform completion
// interface. The order extractor is the only hot-path consumer: it sends a
// short conversation window and expects a strict JSON reply, so the contract
// is a single blocking Complete call rather than a token stream.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
package llm

import (
	"context"
	"errors"

	"github.com/ordovox/ordovox/pkg/types"
)

// ErrUpstreamUnavailable is returned when the model API cannot be reached
// or rejects the request for transient reasons.
var ErrUpstreamUnavailable = errors.New("llm: upstream unavailable")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction injected
	// before the conversation history.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Extraction runs at 0 for determinism.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may
	// generate. Zero means the provider default.
	MaxTokens int

	// ForceJSON asks the model to emit a single valid JSON object.
	// Providers that support a native JSON response mode should enable it;
	// others rely on the prompt alone.
	ForceJSON bool
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend in logs and fallback decisions.
	Name() string
}
