package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ordovox/ordovox/pkg/types"
)

// Synthesizer is the utterance-level synthesis API consumed by the call
// orchestrator: one complete text in, a stream of PCM chunks out.
type Synthesizer interface {
	// Synthesize returns a channel of PCM chunks for the given text. The
	// channel is closed when the utterance is complete or ctx is
	// cancelled. Implementations never fail outright; on upstream failure
	// they emit whatever degraded audio they can (possibly nothing).
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) <-chan []byte
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithFallbackAudio sets the PCM chunk emitted when the upstream provider
// fails. Typically a pre-recorded "one moment please" clip.
func WithFallbackAudio(pcm []byte) CacheOption {
	return func(c *Cache) {
		c.fallback = pcm
	}
}

// WithCacheLogger sets the logger. Defaults to slog.Default.
func WithCacheLogger(log *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.log = log
	}
}

// Cache is a synthesis cache in front of a Provider. Fixed dialogue
// utterances (greetings, confirmations, error prompts) repeat on every call,
// so caching them removes the provider round trip from the hot path.
//
// Entries are keyed by sha256 of the text and voice ID and expire after the
// configured TTL; a cache hit replays byte-identical audio. Cache is safe
// for concurrent use.
type Cache struct {
	provider Provider
	lru      *expirable.LRU[string, [][]byte]
	fallback []byte
	log      *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache wraps provider with an utterance cache of at most maxEntries
// entries, each valid for ttl.
func NewCache(provider Provider, maxEntries int, ttl time.Duration, opts ...CacheOption) *Cache {
	c := &Cache{
		provider: provider,
		lru:      expirable.NewLRU[string, [][]byte](maxEntries, nil, ttl),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Synthesize implements [Synthesizer]. Cache hits replay the stored chunks;
// misses stream from the provider while accumulating the chunks for next
// time. A provider failure emits the fallback chunk instead.
func (c *Cache) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) <-chan []byte {
	out := make(chan []byte, 16)
	key := cacheKey(text, voice.ID)

	if chunks, ok := c.lru.Get(key); ok {
		c.hits.Add(1)
		go replay(ctx, out, chunks)
		return out
	}
	c.misses.Add(1)

	go c.fill(ctx, out, key, text, voice)
	return out
}

// Hits returns the number of cache hits since creation.
func (c *Cache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of cache misses since creation.
func (c *Cache) Misses() uint64 { return c.misses.Load() }

// replay copies cached chunks to the consumer.
func replay(ctx context.Context, out chan<- []byte, chunks [][]byte) {
	defer close(out)
	for _, chunk := range chunks {
		cp := make([]byte, len(chunk))
		copy(cp, chunk)
		select {
		case out <- cp:
		case <-ctx.Done():
			return
		}
	}
}

// fill streams one utterance from the provider, forwarding chunks to the
// consumer. Only a stream that ended without a terminal error is stored;
// caching a truncated utterance would replay the truncation for the whole
// TTL.
func (c *Cache) fill(ctx context.Context, out chan<- []byte, key, text string, voice types.VoiceProfile) {
	defer close(out)

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	stream, err := c.provider.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		c.log.Warn("synthesis start failed, using fallback audio", "error", err)
		c.emitFallback(ctx, out)
		return
	}

	var chunks [][]byte
	for chunk := range stream.Chunks() {
		stored := make([]byte, len(chunk))
		copy(stored, chunk)
		chunks = append(chunks, stored)
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}

	if err := stream.Err(); err != nil {
		c.log.Warn("synthesis ended early, not caching",
			"chunks", len(chunks), "error", err)
		if len(chunks) == 0 && ctx.Err() == nil {
			c.emitFallback(ctx, out)
		}
		return
	}
	if len(chunks) == 0 {
		if ctx.Err() == nil {
			c.log.Warn("synthesis produced no audio, using fallback audio")
			c.emitFallback(ctx, out)
		}
		return
	}
	c.lru.Add(key, chunks)
}

func (c *Cache) emitFallback(ctx context.Context, out chan<- []byte) {
	if len(c.fallback) == 0 {
		return
	}
	cp := make([]byte, len(c.fallback))
	copy(cp, c.fallback)
	select {
	case out <- cp:
	case <-ctx.Done():
	}
}

// cacheKey derives the LRU key from the utterance text and voice.
func cacheKey(text, voiceID string) string {
	sum := sha256.Sum256([]byte(text + "|" + voiceID))
	return hex.EncodeToString(sum[:])
}

// Ensure the cache satisfies the orchestrator contract.
var _ Synthesizer = (*Cache)(nil)
