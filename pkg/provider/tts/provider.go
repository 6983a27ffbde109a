// Package tts defines the Provider interface for Text-to-Speech backends,
// plus a synthesis cache that sits between the dialogue engine and a
// provider.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// channel of raw PCM audio bytes as they become available, so playback can
// start before the full utterance is synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
	"sync"

	"github.com/ordovox/ordovox/pkg/types"
)

// ErrUpstreamUnavailable is returned when the synthesis backend cannot be
// reached or fails mid-stream.
var ErrUpstreamUnavailable = errors.New("tts: upstream unavailable")

// Stream is one synthesis run: a channel of PCM chunks plus the terminal
// error, in the bufio.Scanner style. Consumers drain Chunks and then check
// Err to learn whether the audio is complete or was cut short.
type Stream struct {
	ch chan []byte

	mu  sync.Mutex
	err error
}

// NewStream creates a Stream with the given channel buffer. Producers push
// with Send and finish with Close; consumers range over Chunks.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan []byte, buffer)}
}

// Chunks returns the PCM chunk channel. It is closed by the producer when
// synthesis ends, cleanly or not.
func (s *Stream) Chunks() <-chan []byte { return s.ch }

// Err reports why the stream ended. It is nil for a complete utterance and
// must only be read after Chunks is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send delivers one chunk, giving up when ctx ends. Reports whether the
// chunk was accepted.
func (s *Stream) Send(ctx context.Context, chunk []byte) bool {
	select {
	case s.ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close records the terminal error (nil for a clean end) and closes the
// chunk channel. It must be called exactly once, by the producer.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.ch)
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per active call).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a Stream that emits raw PCM audio byte slices as they are
	// synthesised.
	//
	// The stream's chunk channel is closed by the implementation when all
	// text has been synthesised, when ctx is cancelled, or when the backend
	// fails mid-utterance; Stream.Err then reports the terminal error, nil
	// only for a complete utterance. The caller must drain the chunk
	// channel to avoid blocking the provider's internal goroutines.
	//
	// voice specifies the voice profile to use for synthesis. Providers
	// should return an error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (*Stream, error)

	// ListVoices returns all voice profiles available from this provider.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
