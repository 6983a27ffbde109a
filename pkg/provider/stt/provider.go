// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and
// emits two streams of Transcript values, low-latency partials for barge-in
// detection and authoritative finals for the dialogue engine.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"

	"github.com/ordovox/ordovox/pkg/types"
)

// ErrUpstreamUnavailable is returned by SendAudio once the provider
// connection is lost and in-adapter reconnection attempts are exhausted.
var ErrUpstreamUnavailable = errors.New("stt: upstream unavailable")

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephone audio is 8000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "fr").
	// An empty string uses the provider default.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as drug brand names.
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session. It is an
// interface so that test code can provide mock implementations without a
// live provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider
	// for transcription. The chunk must match the SampleRate, Channels,
	// and bit-depth agreed in StreamConfig. Returns ErrSessionClosed after
	// Close and ErrUpstreamUnavailable once the connection is lost for
	// good.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel of low-latency interim
	// transcripts. Suitable for detecting that the caller started
	// speaking; never written to the conversation log. Closed when the
	// session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel of committed transcripts, in the
	// order the audio was spoken. These drive the dialogue engine. Closed
	// when the session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session, flushes pending audio, and releases
	// all associated resources. After Close returns, the Partials and
	// Finals channels will be closed. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; one session is opened
// per active call.
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session. The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
