// Package extract pulls structured order lines out of free-form French
// utterances using an LLM with a strict JSON response contract.
//
// Extraction is best-effort on purpose: a model outage or malformed reply
// yields zero items, which the dialogue layer answers with a reprompt. The
// call never fails because the parser did.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ordovox/ordovox/pkg/provider/llm"
	"github.com/ordovox/ordovox/pkg/types"
)

const (
	// DefaultTimeout bounds one extraction round trip.
	DefaultTimeout = 8 * time.Second

	// DefaultUnit is assumed when the caller names no packaging unit.
	DefaultUnit = "boites"

	// maxContextTurns caps how much recent conversation is replayed to the
	// model. Older turns add tokens, not accuracy.
	maxContextTurns = 5

	// extractionTemperature keeps the parser deterministic.
	extractionTemperature = 0.0

	// maxResponseTokens is generous for a JSON list of order lines.
	maxResponseTokens = 512
)

// Item is one extracted order line, before catalog resolution.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

// response is the JSON envelope the model must produce.
type response struct {
	Items []Item `json:"items"`
}

// Extractor runs LLM-backed order-line extraction.
type Extractor struct {
	provider llm.Provider
	log      *slog.Logger
	timeout  time.Duration
}

// Option is a functional option for Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

// WithTimeout overrides the per-extraction deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		e.timeout = d
	}
}

// New builds an Extractor on top of an LLM provider. Wrap the provider in a
// resilience.LLMFallback to get multi-backend failover.
func New(provider llm.Provider, opts ...Option) *Extractor {
	e := &Extractor{
		provider: provider,
		log:      slog.Default(),
		timeout:  DefaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract parses order lines from utterance, given the recent conversation
// for context. It never returns an error: provider failures and unparseable
// replies come back as zero items and a log line.
func (e *Extractor) Extract(ctx context.Context, utterance string, history []types.Message) []Item {
	if strings.TrimSpace(utterance) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     buildMessages(utterance, history),
		Temperature:  extractionTemperature,
		MaxTokens:    maxResponseTokens,
		ForceJSON:    true,
	})
	if err != nil {
		e.log.Warn("extraction failed, returning no items",
			"provider", e.provider.Name(), "error", err)
		return nil
	}

	items, err := parseItems(resp.Content)
	if err != nil {
		e.log.Warn("extraction reply unparseable, returning no items",
			"provider", e.provider.Name(), "error", err)
		return nil
	}
	return items
}

// buildMessages replays up to maxContextTurns of history followed by the
// utterance to parse.
func buildMessages(utterance string, history []types.Message) []types.Message {
	if len(history) > maxContextTurns {
		history = history[len(history)-maxContextTurns:]
	}
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, types.Message{
		Role:    "user",
		Content: userPromptPrefix + utterance,
	})
	return msgs
}

// parseItems decodes the model reply and applies the quantity and unit
// defaults. Items with a blank name are dropped.
func parseItems(content string) ([]Item, error) {
	var r response
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &r); err != nil {
		return nil, err
	}

	out := r.Items[:0]
	for _, it := range r.Items {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			continue
		}
		if it.Quantity == 0 {
			it.Quantity = 1
		}
		if strings.TrimSpace(it.Unit) == "" {
			it.Unit = DefaultUnit
		}
		out = append(out, it)
	}
	return out, nil
}
